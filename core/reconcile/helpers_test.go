package reconcile_test

import (
	"context"
	"testing"

	"finsync/core/cache/memory"
	"finsync/core/reconcile"

	"github.com/stretchr/testify/require"
)

const (
	accounts     reconcile.EntityType = "accounts"
	transactions reconcile.EntityType = "transactions"
	cards        reconcile.EntityType = "cards"
	tags         reconcile.EntityType = "tags"
)

type account struct {
	ID                int64 `gorm:"primaryKey"`
	ProviderAccountID int64
	Name              string
}

type txn struct {
	ID        int64 `gorm:"primaryKey"`
	AccountID int64
	Date      string
	Amount    string
}

type card struct {
	ID        int64 `gorm:"primaryKey"`
	AccountID int64
}

type tag struct {
	Name  string `gorm:"primaryKey"`
	Color string
}

type fixture struct {
	store    *memory.Store
	bus      *reconcile.Bus
	accounts *reconcile.Engine[int64, account]
	txns     *reconcile.Engine[int64, txn]
	cards    *reconcile.Engine[int64, card]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	require.NoError(t, store.Register(accounts, &account{}))
	require.NoError(t, store.Register(transactions, &txn{}))
	require.NoError(t, store.Register(cards, &card{}))

	policy := reconcile.MustPolicy(
		reconcile.Edge{Parent: accounts, Child: transactions, ParentField: "account_id"},
		reconcile.Edge{Parent: accounts, Child: cards, ParentField: "account_id"},
	)
	bus := reconcile.NewBus(32)
	deps := reconcile.Deps{Store: store, Policy: policy, Locks: reconcile.NewLocker(), Notifier: bus}

	acc, err := reconcile.NewEngine(reconcile.Collection[int64, account]{
		Entity:      accounts,
		Key:         func(a account) int64 { return a.ID },
		ScopeFields: []string{"provider_account_id"},
	}, deps)
	require.NoError(t, err)

	tx, err := reconcile.NewEngine(reconcile.Collection[int64, txn]{
		Entity:      transactions,
		Key:         func(x txn) int64 { return x.ID },
		ScopeFields: []string{"account_id", "date"},
	}, deps)
	require.NoError(t, err)

	cd, err := reconcile.NewEngine(reconcile.Collection[int64, card]{
		Entity:      cards,
		Key:         func(c card) int64 { return c.ID },
		ScopeFields: []string{"account_id"},
	}, deps)
	require.NoError(t, err)

	return &fixture{store: store, bus: bus, accounts: acc, txns: tx, cards: cd}
}

// seed writes rows directly, bypassing reconcile semantics.
func (f *fixture) seed(t *testing.T, accs []account, txns []txn, cs []card) {
	t.Helper()
	ctx := context.Background()
	_, err := f.accounts.Upsert(ctx, accs...)
	require.NoError(t, err)
	_, err = f.txns.Upsert(ctx, txns...)
	require.NoError(t, err)
	_, err = f.cards.Upsert(ctx, cs...)
	require.NoError(t, err)
}

func ids(vals ...int64) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}
