// Package notify forwards cache changes to consumers outside the process.
//
// The reconcile engine emits a reconcile.Change after every committed unit. Inside the process
// those changes are fanned out by reconcile.Bus; this package adds a Redis pub/sub publisher so
// other processes (UI shells, workers) can invalidate their views, and Multi to combine both.
//
// # Wire format
//
// Each change is published as one JSON message:
//
//	{"entity":"transactions","scope":"transactions[account_id=12]","at":"2024-05-01T10:00:00Z"}
//
// Delivery is fire-and-forget. A consumer that misses a message must re-query the collection.
package notify
