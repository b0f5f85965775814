package aggregation_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"finsync/core/cache"
	"finsync/core/database"
	"finsync/core/reconcile"
	"finsync/core/remote"
	"finsync/core/remote/mocks"
	"finsync/feature/aggregation"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *cache.Store
	api      *mocks.API
	engines  *aggregation.Engines
	enricher *aggregation.Enricher
	service  *aggregation.Service
	bus      *reconcile.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Connect(database.Config{Driver: database.DriverSQLite, Name: ":memory:"})
	require.NoError(t, err)

	store := cache.New(db)
	require.NoError(t, aggregation.Register(store))
	require.NoError(t, store.Migrate(context.Background()))

	policy, err := aggregation.NewPolicy()
	require.NoError(t, err)
	require.NoError(t, store.VerifyEdges(policy))

	bus := reconcile.NewBus(64)
	engines, err := aggregation.NewEngines(reconcile.Deps{Store: store, Policy: policy, Notifier: bus})
	require.NoError(t, err)

	api := new(mocks.API)
	enricher := aggregation.NewEnricher(api, store, engines, nil,
		aggregation.WithMaxTries(3),
		aggregation.WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }),
	)
	service := aggregation.NewService(api, engines, store, enricher, nil, aggregation.Options{PageSize: 2})

	return &fixture{store: store, api: api, engines: engines, enricher: enricher, service: service, bus: bus}
}

// seed writes rows straight into the cache.
func (f *fixture) seed(t *testing.T, entity reconcile.EntityType, records any) {
	t.Helper()
	ctx := context.Background()
	rows, err := f.store.Rows(ctx, entity, records)
	require.NoError(t, err)
	require.NoError(t, f.store.Atomic(ctx, func(tx reconcile.Tx) error {
		return tx.Upsert(ctx, entity, rows)
	}))
}

func (f *fixture) ids(t *testing.T, entity reconcile.EntityType) []int64 {
	t.Helper()
	var out []int64
	require.NoError(t, f.store.View(context.Background(), func(tx reconcile.Tx) error {
		raw, err := tx.IDsInScope(context.Background(), reconcile.ScopeAll(entity))
		for _, r := range raw {
			out = append(out, r.(int64))
		}
		return err
	}))
	return out
}

// expectPage registers one cursor page of path for the given query.
func (f *fixture) expectPage(path string, query url.Values, data, after string) *mock.Call {
	return f.api.On("FetchPage", mock.Anything, path, query).Return(mocks.PageOf(data, after), nil).Once()
}

func mocksPage(data string) *remote.Page {
	return mocks.PageOf(data, "")
}
