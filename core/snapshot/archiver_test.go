package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"finsync/core/cache"
	"finsync/core/database"
	"finsync/core/reconcile"
	"finsync/core/storage/mocks"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type account struct {
	ID   int64  `gorm:"primaryKey" json:"id"`
	Name string `json:"name"`
}

type tag struct {
	Name string `gorm:"primaryKey" json:"name"`
}

var fixedNow = time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)

func newStore(t *testing.T, accounts ...account) *cache.Store {
	t.Helper()
	db, err := database.Connect(database.Config{Driver: database.DriverSQLite, Name: ":memory:"})
	require.NoError(t, err)

	store := cache.New(db)
	require.NoError(t, store.Register("accounts", &account{}))
	require.NoError(t, store.Register("tags", &tag{}))
	require.NoError(t, store.Migrate(context.Background()))

	ctx := context.Background()
	rows, err := store.Rows(ctx, "accounts", accounts)
	require.NoError(t, err)
	require.NoError(t, store.Atomic(ctx, func(tx reconcile.Tx) error {
		return tx.Upsert(ctx, "accounts", rows)
	}))
	return store
}

func newArchiver(client *mocks.Client, store *cache.Store, bus *reconcile.Bus) *Archiver {
	var notifier reconcile.Notifier
	if bus != nil {
		notifier = bus
	}
	a := NewArchiver(client, "snapshots", store, nil, notifier, nil)
	a.now = func() time.Time { return fixedNow }
	return a
}

func TestArchiver_ExportImport(t *testing.T) {
	ctx := context.Background()
	client := new(mocks.Client)
	client.On("PutObject", ctx, "snapshots", mock.Anything, mock.Anything, minio.PutObjectOptions{ContentType: "application/json"}).
		Return(nil)

	src := newStore(t, account{ID: 1, Name: "checking"}, account{ID: 2, Name: "savings"})
	m, err := newArchiver(client, src, nil).Export(ctx)
	require.NoError(t, err)

	assert.Contains(t, m.ID, "20240601T083000Z-")
	assert.Equal(t, []Collection{
		{Entity: "accounts", Object: "snapshots/" + m.ID + "/accounts.json", Rows: 2},
		{Entity: "tags", Object: "snapshots/" + m.ID + "/tags.json", Rows: 0},
	}, m.Collections)
	objects := client.Uploaded()
	require.Len(t, objects, 3)
	assert.JSONEq(t, `[{"id":1,"name":"checking"},{"id":2,"name":"savings"}]`, string(objects["snapshots/"+m.ID+"/accounts.json"]))

	for name, body := range objects {
		client.On("GetObject", ctx, "snapshots", name, minio.GetObjectOptions{}).Return(body, nil)
	}

	dst := newStore(t, account{ID: 9, Name: "stale"})
	bus := reconcile.NewBus(4)
	changes, cancel := bus.Subscribe()
	defer cancel()

	_, err = newArchiver(client, dst, bus).Import(ctx, m.ID)
	require.NoError(t, err)

	var restored []account
	require.NoError(t, dst.Find(ctx, reconcile.ScopeAll("accounts"), &restored))
	assert.Equal(t, []account{{ID: 1, Name: "checking"}, {ID: 2, Name: "savings"}}, restored)

	assert.Equal(t, reconcile.EntityType("accounts"), (<-changes).Entity)
	assert.Equal(t, reconcile.EntityType("tags"), (<-changes).Entity)
}

func TestArchiver_ImportCorruptObjectLeavesCache(t *testing.T) {
	ctx := context.Background()
	manifest := []byte(`{"id":"s1","collections":[{"entity":"accounts","object":"snapshots/s1/accounts.json","rows":1}]}`)

	client := new(mocks.Client)
	client.On("GetObject", ctx, "snapshots", "snapshots/s1/manifest.json", minio.GetObjectOptions{}).Return(manifest, nil)
	client.On("GetObject", ctx, "snapshots", "snapshots/s1/accounts.json", minio.GetObjectOptions{}).Return(`[{"id":`, nil)

	store := newStore(t, account{ID: 9, Name: "kept"})
	_, err := newArchiver(client, store, nil).Import(ctx, "s1")
	assert.ErrorContains(t, err, "failed to decode snapshots/s1/accounts.json")

	n, err := store.Count(ctx, "accounts")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestArchiver_ManifestInvalidID(t *testing.T) {
	a := newArchiver(new(mocks.Client), newStore(t), nil)
	for _, id := range []string{"", "../etc"} {
		_, err := a.Manifest(context.Background(), id)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestArchiver_List(t *testing.T) {
	ctx := context.Background()
	client := new(mocks.Client)
	client.On("ListObjects", ctx, "snapshots", minio.ListObjectsOptions{Prefix: "snapshots/", Recursive: true}).
		Return([]string{
			"snapshots/20240101T000000Z-aaaa/manifest.json",
			"snapshots/20240101T000000Z-aaaa/accounts.json",
			"snapshots/20240301T000000Z-bbbb/manifest.json",
		})

	ids, err := newArchiver(client, newStore(t), nil).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"20240301T000000Z-bbbb", "20240101T000000Z-aaaa"}, ids)
}

func TestArchiver_Delete(t *testing.T) {
	ctx := context.Background()
	keys := []string{"snapshots/s1/manifest.json", "snapshots/s1/accounts.json"}

	client := new(mocks.Client)
	client.On("GetObject", ctx, "snapshots", "snapshots/s1/manifest.json", minio.GetObjectOptions{}).Return(`{"id":"s1"}`, nil)
	client.On("ListObjects", ctx, "snapshots", minio.ListObjectsOptions{Prefix: "snapshots/s1/", Recursive: true}).Return(keys)
	client.On("RemoveObjects", ctx, "snapshots", keys).Return(nil).Once()

	a := newArchiver(client, newStore(t), nil)
	require.NoError(t, a.Delete(ctx, "s1"))
	client.AssertExpectations(t)

	client.On("RemoveObjects", ctx, "snapshots", keys).Return(errors.New("access denied"))
	assert.ErrorContains(t, a.Delete(ctx, "s1"), "access denied")
}
