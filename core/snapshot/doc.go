// Package snapshot archives the local cache to object storage and restores it.
//
// An export writes one JSON document per registered collection plus a manifest under
// snapshots/<id>/. Collections are read under the reconcile read locks, so no reconcile
// interleaves with the export and the archive is a consistent cut.
//
// An import replaces every collection named in the manifest inside a single atomic unit and
// publishes one change per restored collection. Collections not named in the manifest are
// left as they are.
package snapshot
