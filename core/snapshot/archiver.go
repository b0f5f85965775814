package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"finsync/core/cache"
	"finsync/core/reconcile"
	"finsync/core/storage"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

const (
	prefix       = "snapshots/"
	manifestName = "manifest.json"
)

// ErrNotFound is returned when a snapshot id has no manifest.
var ErrNotFound = errors.New("snapshot not found")

// Collection describes one archived collection.
type Collection struct {
	Entity reconcile.EntityType `json:"entity"`
	Object string               `json:"object"`
	Rows   int                  `json:"rows"`
}

// Manifest lists the collections of one snapshot.
type Manifest struct {
	ID          string       `json:"id"`
	CreatedAt   time.Time    `json:"created_at"`
	Collections []Collection `json:"collections"`
}

// Archiver moves cache contents between a cache.Store and a bucket.
type Archiver struct {
	client   storage.Client
	bucket   string
	store    *cache.Store
	locks    *reconcile.Locker
	notifier reconcile.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewArchiver creates an archiver. locks must be the locker shared with the reconcile engines.
func NewArchiver(client storage.Client, bucket string, store *cache.Store, locks *reconcile.Locker, notifier reconcile.Notifier, logger *zap.Logger) *Archiver {
	if locks == nil {
		locks = reconcile.NewLocker()
	}
	if notifier == nil {
		notifier = reconcile.NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		client:   client,
		bucket:   bucket,
		store:    store,
		locks:    locks,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Export writes every registered collection and returns the manifest.
func (a *Archiver) Export(ctx context.Context) (*Manifest, error) {
	entities := a.store.Entities()
	release := a.locks.RLock(entities...)
	defer release()

	m := &Manifest{ID: a.now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8], CreatedAt: a.now().UTC()}
	for _, entity := range entities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dest, err := a.store.NewSlice(entity)
		if err != nil {
			return nil, err
		}
		if err := a.store.Find(ctx, reconcile.ScopeAll(entity), dest); err != nil {
			return nil, err
		}
		body, err := json.Marshal(dest)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", entity, err)
		}

		object := objectName(m.ID, string(entity)+".json")
		if err := a.put(ctx, object, body); err != nil {
			return nil, err
		}

		rows, err := a.store.Rows(ctx, entity, dest)
		if err != nil {
			return nil, err
		}
		m.Collections = append(m.Collections, Collection{Entity: entity, Object: object, Rows: len(rows)})
	}

	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := a.put(ctx, objectName(m.ID, manifestName), body); err != nil {
		return nil, err
	}

	a.logger.Info("Exported cache snapshot", zap.String("snapshot", m.ID), zap.Int("collections", len(m.Collections)))
	return m, nil
}

// Import replaces the cached collections with the contents of snapshot id.
func (a *Archiver) Import(ctx context.Context, id string) (*Manifest, error) {
	m, err := a.Manifest(ctx, id)
	if err != nil {
		return nil, err
	}

	// Decode everything before taking locks so a corrupt object leaves the cache untouched
	data := make(map[reconcile.EntityType][]reconcile.Row, len(m.Collections))
	entities := make([]reconcile.EntityType, 0, len(m.Collections))
	for _, c := range m.Collections {
		dest, err := a.store.NewSlice(c.Entity)
		if err != nil {
			return nil, err
		}
		if err := a.get(ctx, c.Object, dest); err != nil {
			return nil, err
		}
		rows, err := a.store.Rows(ctx, c.Entity, dest)
		if err != nil {
			return nil, err
		}
		data[c.Entity] = rows
		entities = append(entities, c.Entity)
	}

	release := a.locks.Lock(entities...)
	defer release()

	err = a.store.Atomic(ctx, func(tx reconcile.Tx) error {
		for _, entity := range entities {
			if err := tx.Clear(ctx, entity); err != nil {
				return err
			}
			if err := tx.Upsert(ctx, entity, data[entity]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: restore snapshot %s: %w", reconcile.ErrStorage, id, err)
	}

	at := a.now().UTC()
	for _, entity := range entities {
		if err := a.notifier.Notify(ctx, reconcile.Change{Entity: entity, Scope: string(entity), At: at}); err != nil {
			a.logger.Warn("Failed to publish cache change", zap.String("changed", string(entity)), zap.Error(err))
		}
	}

	a.logger.Info("Imported cache snapshot", zap.String("snapshot", id), zap.Int("collections", len(entities)))
	return m, nil
}

// Manifest loads the manifest of snapshot id.
func (a *Archiver) Manifest(ctx context.Context, id string) (*Manifest, error) {
	if id == "" || strings.Contains(id, "/") {
		return nil, fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	var m Manifest
	if err := a.get(ctx, objectName(id, manifestName), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns the ids of the stored snapshots, newest first.
func (a *Archiver) List(ctx context.Context) ([]string, error) {
	var ids []string
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", obj.Err)
		}
		if path.Base(obj.Key) != manifestName {
			continue
		}
		ids = append(ids, path.Base(path.Dir(obj.Key)))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// Delete removes every object of snapshot id.
func (a *Archiver) Delete(ctx context.Context, id string) error {
	if _, err := a.Manifest(ctx, id); err != nil {
		return err
	}

	objects := a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: prefix + id + "/", Recursive: true})
	for rerr := range a.client.RemoveObjects(ctx, a.bucket, objects, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			return fmt.Errorf("failed to remove %s: %w", rerr.ObjectName, rerr.Err)
		}
	}
	return nil
}

func (a *Archiver) put(ctx context.Context, object string, body []byte) error {
	_, err := a.client.PutObject(ctx, a.bucket, object, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", object, err)
	}
	return nil
}

func (a *Archiver) get(ctx context.Context, object string, dest any) error {
	r, err := a.client.GetObject(ctx, a.bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", object, err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("%w: %s", ErrNotFound, object)
		}
		return fmt.Errorf("failed to read %s: %w", object, err)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("failed to decode %s: %w", object, err)
	}
	return nil
}

func objectName(id, name string) string {
	return prefix + id + "/" + name
}
