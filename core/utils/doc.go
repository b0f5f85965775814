// Package utils holds small conversion helpers shared by the cache backends
// and the reconciliation engine for normalizing keys scanned from storage.
package utils
