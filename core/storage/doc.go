// Package storage connects to the S3-compatible object store that holds cache snapshots.
//
// It wraps the MinIO Go client behind the Client interface so the snapshot archiver can be
// tested against core/storage/mocks. Both AWS S3 and self-hosted MinIO work.
//
// # Usage
//
//	client, err := storage.NewClient(cfg.Storage)
//	if err := storage.EnsureBucket(ctx, client, cfg.Storage.Bucket, cfg.Storage.Region); err != nil {
//		return err
//	}
//
// NewClient returns ErrDisabled when no endpoint is configured.
package storage
