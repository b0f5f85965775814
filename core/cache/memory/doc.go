// Package memory provides an in-memory reconcile.Store.
//
// Atomic units operate on a copy-on-write snapshot of the tables, so a failed unit leaves the
// live state exactly as it was. FailOn injects storage failures for tests.
package memory
