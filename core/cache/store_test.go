package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"finsync/core/auth"
	"finsync/core/cache"
	"finsync/core/database"
	"finsync/core/reconcile"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

type account struct {
	ID                int64 `gorm:"primaryKey"`
	ProviderAccountID int64 `gorm:"index"`
	Name              string
}

type txn struct {
	ID        int64 `gorm:"primaryKey"`
	AccountID int64 `gorm:"index"`
	Date      string
}

type tag struct {
	Name string `gorm:"primaryKey"`
}

var policy = reconcile.MustPolicy(
	reconcile.Edge{Parent: "accounts", Child: "transactions", ParentField: "account_id"},
)

func setupStore(t *testing.T) *cache.Store {
	t.Helper()
	db, err := database.Connect(database.Config{Driver: database.DriverSQLite, Name: ":memory:"})
	require.NoError(t, err)

	store := cache.New(db, cache.WithBatchSize(2))
	require.NoError(t, store.Register("accounts", &account{}))
	require.NoError(t, store.Register("transactions", &txn{}))
	require.NoError(t, store.Register("tags", &tag{}))
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to open mock sql db: %v", err)
	}

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open gorm db: %v", err)
	}

	return gormDB, mock
}

func engines(t *testing.T, store reconcile.Store) (*reconcile.Engine[int64, account], *reconcile.Engine[int64, txn]) {
	t.Helper()
	deps := reconcile.Deps{Store: store, Policy: policy, Locks: reconcile.NewLocker()}
	acc, err := reconcile.NewEngine(reconcile.Collection[int64, account]{
		Entity:      "accounts",
		Key:         func(a account) int64 { return a.ID },
		ScopeFields: []string{"provider_account_id"},
	}, deps)
	require.NoError(t, err)
	tx, err := reconcile.NewEngine(reconcile.Collection[int64, txn]{
		Entity:      "transactions",
		Key:         func(x txn) int64 { return x.ID },
		ScopeFields: []string{"account_id", "date"},
	}, deps)
	require.NoError(t, err)
	return acc, tx
}

func loadIDs[V any](t *testing.T, store *cache.Store, scope reconcile.Scope, key func(V) int64) []int64 {
	t.Helper()
	var rows []V
	require.NoError(t, store.Find(context.Background(), scope, &rows))
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		out = append(out, key(r))
	}
	return out
}

func TestStore_ReconcileWithCascade(t *testing.T) {
	store := setupStore(t)
	accounts, txns := engines(t, store)
	ctx := context.Background()

	_, err := accounts.Upsert(ctx,
		account{ID: 1, ProviderAccountID: 50},
		account{ID: 2, ProviderAccountID: 50},
		account{ID: 3, ProviderAccountID: 50},
		account{ID: 9, ProviderAccountID: 60},
	)
	require.NoError(t, err)
	_, err = txns.Upsert(ctx, txn{ID: 100, AccountID: 1}, txn{ID: 101, AccountID: 1}, txn{ID: 102, AccountID: 2})
	require.NoError(t, err)

	res, err := accounts.Reconcile(ctx, accounts.Scope().Where("provider_account_id", int64(50)), []account{
		{ID: 2, ProviderAccountID: 50, Name: "renamed"},
		{ID: 3, ProviderAccountID: 50},
		{ID: 4, ProviderAccountID: 50},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, map[reconcile.EntityType]int{"transactions": 2}, res.Cascaded)

	accKey := func(a account) int64 { return a.ID }
	assert.Equal(t, []int64{2, 3, 4, 9}, loadIDs(t, store, reconcile.ScopeAll("accounts"), accKey))
	assert.Equal(t, []int64{102}, loadIDs(t, store, reconcile.ScopeAll("transactions"), func(x txn) int64 { return x.ID }))

	var renamed []account
	require.NoError(t, store.Find(ctx, reconcile.ScopeIDs("accounts", int64(2)), &renamed))
	require.Len(t, renamed, 1)
	assert.Equal(t, "renamed", renamed[0].Name)
}

func TestStore_DateRangeScope(t *testing.T) {
	store := setupStore(t)
	_, txns := engines(t, store)
	ctx := context.Background()

	_, err := txns.Upsert(ctx,
		txn{ID: 1, Date: "2024-01-31"},
		txn{ID: 2, Date: "2024-02-01"},
		txn{ID: 3, Date: "2024-02-29"},
		txn{ID: 4, Date: "2024-03-01"},
	)
	require.NoError(t, err)

	scope := txns.Scope().Between("date", "2024-02-01", "2024-02-29")
	res, err := txns.Reconcile(ctx, scope, []txn{{ID: 5, Date: "2024-02-10"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, []int64{1, 4, 5}, loadIDs(t, store, reconcile.ScopeAll("transactions"), func(x txn) int64 { return x.ID }))
}

func TestStore_ChunkedDeletes(t *testing.T) {
	store := setupStore(t)
	accounts, txns := engines(t, store)
	ctx := context.Background()

	var accs []account
	var tx []txn
	for i := int64(1); i <= 7; i++ {
		accs = append(accs, account{ID: i})
		tx = append(tx, txn{ID: 100 + i, AccountID: i})
	}
	_, err := accounts.Upsert(ctx, accs...)
	require.NoError(t, err)
	_, err = txns.Upsert(ctx, tx...)
	require.NoError(t, err)

	res, err := accounts.Reconcile(ctx, accounts.Scope(), nil)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Deleted)
	assert.Equal(t, 7, res.Cascaded["transactions"])

	n, err := store.Count(ctx, "transactions")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_StringKeys(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Atomic(ctx, func(tx reconcile.Tx) error {
		return tx.Upsert(ctx, "tags", []reconcile.Row{{Key: "a", Value: tag{Name: "a"}}, {Key: "B", Value: &tag{Name: "B"}}})
	}))

	require.NoError(t, store.View(ctx, func(tx reconcile.Tx) error {
		ids, err := tx.IDsInScope(ctx, reconcile.ScopeAll("tags"))
		require.NoError(t, err)
		assert.Equal(t, []any{"B", "a"}, ids)

		assert.ErrorIs(t, tx.Delete(ctx, "tags", []any{"a"}), cache.ErrReadOnly)
		return nil
	}))
}

func TestStore_ValuesAndClear(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Atomic(ctx, func(tx reconcile.Tx) error {
		return tx.Upsert(ctx, "transactions", []reconcile.Row{
			{Key: int64(1), Value: txn{ID: 1, AccountID: 7}},
			{Key: int64(2), Value: txn{ID: 2, AccountID: 7}},
			{Key: int64(3), Value: txn{ID: 3, AccountID: 8}},
			{Key: int64(4), Value: txn{ID: 4}},
		})
	}))

	require.NoError(t, store.View(ctx, func(tx reconcile.Tx) error {
		vals, err := tx.Values(ctx, reconcile.ScopeAll("transactions"), "account_id")
		require.NoError(t, err)
		assert.ElementsMatch(t, []any{int64(7), int64(8)}, vals)
		return nil
	}))

	require.NoError(t, store.Atomic(ctx, func(tx reconcile.Tx) error {
		return tx.Clear(ctx, "transactions")
	}))
	n, err := store.Count(ctx, "transactions")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_Errors(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.Atomic(ctx, func(tx reconcile.Tx) error {
		_, err := tx.IDsInScope(ctx, reconcile.ScopeAll("budgets"))
		return err
	})
	assert.ErrorIs(t, err, reconcile.ErrUnknownEntity)

	err = store.View(ctx, func(tx reconcile.Tx) error {
		_, err := tx.IDsInScope(ctx, reconcile.ScopeAll("accounts").Where("colour", "red"))
		return err
	})
	assert.ErrorIs(t, err, reconcile.ErrInvalidScope)

	err = store.Atomic(ctx, func(tx reconcile.Tx) error {
		return tx.Upsert(ctx, "accounts", []reconcile.Row{{Key: int64(1), Value: txn{ID: 1}}})
	})
	assert.ErrorContains(t, err, "want")
}

func TestStore_RollbackOnError(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.Atomic(ctx, func(tx reconcile.Tx) error {
		if err := tx.Upsert(ctx, "accounts", []reconcile.Row{{Key: int64(1), Value: account{ID: 1}}}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := store.Count(ctx, "accounts")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_VerifyEdges(t *testing.T) {
	store := setupStore(t)
	assert.NoError(t, store.VerifyEdges(policy))

	broken := reconcile.MustPolicy(reconcile.Edge{Parent: "accounts", Child: "transactions", ParentField: "card_id"})
	err := store.VerifyEdges(broken)
	assert.ErrorContains(t, err, "transactions.card_id")
}

// TestStore_StorageFailureRollsBack runs a reconcile against a mocked MySQL connection whose
// INSERT fails.
func TestStore_StorageFailureRollsBack(t *testing.T) {
	db, mock := setupMockDB(t)
	store := cache.New(db)
	require.NoError(t, store.Register("accounts", &account{}))
	require.NoError(t, store.Register("transactions", &txn{}))
	accounts, _ := engines(t, store)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `id` FROM `accounts`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow([]byte("1")).AddRow([]byte("2")))
	mock.ExpectExec("INSERT INTO `accounts`").WillReturnError(errors.New("Error 1021: Disk full"))
	mock.ExpectRollback()

	_, err := accounts.Reconcile(context.Background(), accounts.Scope(), []account{{ID: 2}, {ID: 3}})
	require.Error(t, err)
	assert.ErrorIs(t, err, reconcile.ErrStorage)
	assert.Contains(t, err.Error(), "Disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialStore(t *testing.T) {
	db, err := database.Connect(database.Config{Driver: database.DriverSQLite, Name: ":memory:"})
	require.NoError(t, err)
	creds := cache.NewCredentialStore(db)
	ctx := context.Background()
	require.NoError(t, creds.Migrate(ctx))

	loaded, err := creds.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	exp := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, creds.Save(ctx, auth.Credentials{AccessToken: "at", RefreshToken: "rt", ExpiresAt: exp}))
	require.NoError(t, creds.Save(ctx, auth.Credentials{AccessToken: "at-2", RefreshToken: "rt", ExpiresAt: exp}))

	loaded, err = creds.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "at-2", loaded.AccessToken)
	assert.Equal(t, "rt", loaded.RefreshToken)
	assert.True(t, exp.Equal(loaded.ExpiresAt))

	require.NoError(t, creds.Clear(ctx))
	loaded, err = creds.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
