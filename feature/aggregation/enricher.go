package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"finsync/core/auth"
	"finsync/core/reconcile"
	"finsync/core/remote"
	"finsync/core/utils"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Enricher fetches parents that cached rows reference but the cache does not hold, such as
// the provider of a freshly synced provider account. Every fetch is retried with exponential
// backoff; records that still fail are skipped and picked up by the next pass.
type Enricher struct {
	api      remote.Getter
	store    reconcile.Store
	engines  *Engines
	logger   *zap.Logger
	maxTries uint
	backoff  func() backoff.BackOff
}

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher)

// WithMaxTries bounds the attempts per missing record.
func WithMaxTries(n uint) EnricherOption {
	return func(e *Enricher) {
		if n > 0 {
			e.maxTries = n
		}
	}
}

// WithBackOff replaces the retry schedule.
func WithBackOff(newBackOff func() backoff.BackOff) EnricherOption {
	return func(e *Enricher) { e.backoff = newBackOff }
}

// NewEnricher creates an enricher reading missing keys from store.
func NewEnricher(api remote.Getter, store reconcile.Store, engines *Engines, logger *zap.Logger, opts ...EnricherOption) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Enricher{
		api:      api,
		store:    store,
		engines:  engines,
		logger:   logger,
		maxTries: 4,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Providers fetches providers referenced by cached provider accounts.
func (e *Enricher) Providers(ctx context.Context) (int, error) {
	return enrich(ctx, e, e.engines.Providers, ProviderAccounts, "provider_id", pathProviders)
}

// Accounts fetches accounts referenced by cached transactions.
func (e *Enricher) Accounts(ctx context.Context) (int, error) {
	return enrich(ctx, e, e.engines.Accounts, Transactions, "account_id", pathAccounts)
}

// Missing returns the values of child.field that have no cached parent row, sorted.
func (e *Enricher) Missing(ctx context.Context, child reconcile.EntityType, field string, parent reconcile.EntityType) ([]int64, error) {
	var missing []int64
	err := e.store.View(ctx, func(tx reconcile.Tx) error {
		refs, err := tx.Values(ctx, reconcile.ScopeAll(child), field)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			return nil
		}
		known, err := tx.IDsInScope(ctx, reconcile.ScopeAll(parent))
		if err != nil {
			return err
		}

		have := make(map[string]struct{}, len(known))
		for _, k := range known {
			have[utils.ToString(k)] = struct{}{}
		}
		seen := make(map[int64]struct{}, len(refs))
		for _, r := range refs {
			if _, ok := have[utils.ToString(r)]; ok {
				continue
			}
			id := utils.ToInt64(r)
			if _, dup := seen[id]; dup || id == 0 {
				continue
			}
			seen[id] = struct{}{}
			missing = append(missing, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find missing %s of %s: %w", parent, child, err)
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing, nil
}

func enrich[V any](ctx context.Context, e *Enricher, engine *reconcile.Engine[int64, V], child reconcile.EntityType, field, path string) (int, error) {
	parent := engine.Entity()
	missing, err := e.Missing(ctx, child, field, parent)
	if err != nil {
		return 0, err
	}

	fetched := 0
	for _, id := range missing {
		if err := ctx.Err(); err != nil {
			return fetched, err
		}

		rec, err := backoff.Retry(ctx, func() (V, error) {
			var v V
			err := e.api.Get(ctx, fmt.Sprintf("%s/%d", path, id), nil, &v)
			if err != nil && !retryable(err) {
				return v, backoff.Permanent(err)
			}
			return v, err
		}, backoff.WithBackOff(e.backoff()), backoff.WithMaxTries(e.maxTries))
		if err != nil {
			if errors.Is(err, auth.ErrAuthInvalid) || errors.Is(err, auth.ErrLoggedOut) {
				return fetched, err
			}
			e.logger.Warn("Skipping missing related record",
				zap.String("entity", string(parent)),
				zap.Int64("id", id),
				zap.Error(err))
			continue
		}

		if _, err := engine.Reconcile(ctx, reconcile.ScopeIDs(parent, id), []V{rec}); err != nil {
			return fetched, err
		}
		fetched++
	}
	return fetched, nil
}

// retryable reports whether a failed fetch may succeed when repeated.
func retryable(err error) bool {
	var se *remote.StatusError
	switch {
	case errors.As(err, &se):
		return false
	case errors.Is(err, auth.ErrAuthInvalid), errors.Is(err, auth.ErrLoggedOut):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
