package aggregation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"finsync/core/auth"
	"finsync/core/reconcile"
	"finsync/core/remote"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Remote collection paths.
const (
	pathProviders        = "providers"
	pathProviderAccounts = "providerAccounts"
	pathAccounts         = "accounts"
	pathTransactions     = "transactions"
	pathCards            = "cards"
	pathBills            = "bills"
	pathBillPayments     = "billPayments"
	pathBudgets          = "budgets"
	pathBudgetPeriods    = "budgetPeriods"
	pathGoals            = "goals"
	pathGoalPeriods      = "goalPeriods"
	pathConsents         = "consents"
	pathTags             = "tags"
)

const dateLayout = "2006-01-02"

// Open bounds for one-sided date ranges.
const (
	minDate = "0001-01-01"
	maxDate = "9999-12-31"
)

// ErrInvalidQuery is returned for malformed refresh parameters.
var ErrInvalidQuery = errors.New("invalid refresh query")

// Summary reports one refresh of one collection.
type Summary struct {
	Entity     reconcile.EntityType         `json:"entity"`
	Scope      string                       `json:"scope"`
	Inserted   int                          `json:"inserted"`
	Updated    int                          `json:"updated"`
	Deleted    int                          `json:"deleted"`
	Cascaded   map[reconcile.EntityType]int `json:"cascaded,omitempty"`
	Records    int                          `json:"records"`
	Shared     bool                         `json:"shared,omitempty"`
	FinishedAt time.Time                    `json:"finished_at"`
	Error      string                       `json:"error,omitempty"`
}

func summarize[K comparable](res *reconcile.Result[K]) Summary {
	return Summary{
		Entity:   res.Entity,
		Scope:    res.Scope,
		Inserted: res.Inserted,
		Updated:  res.Updated,
		Deleted:  res.Deleted,
		Cascaded: res.Cascaded,
		Records:  len(res.IDs),
	}
}

// TransactionQuery narrows a transaction refresh. Zero values mean unbounded.
type TransactionQuery struct {
	AccountID int64
	From      string
	To        string
}

// Options tunes remote paging.
type Options struct {
	PageSize    int
	PageTimeout time.Duration
	// RefreshTimeout bounds one shared refresh. It runs detached from any single caller.
	RefreshTimeout time.Duration
	// EnrichTimeout bounds one background enrichment pass.
	EnrichTimeout time.Duration
}

// Service runs the per-collection refreshes.
type Service struct {
	api      remote.API
	engines  *Engines
	reader   reconcile.Reader
	enricher *Enricher
	logger   *zap.Logger
	opts     Options

	group singleflight.Group
	bg    sync.WaitGroup

	mu     sync.RWMutex
	status map[reconcile.EntityType]Summary
}

// NewService wires the refresh call sites. reader serves cached rows to the admin API.
func NewService(api remote.API, engines *Engines, reader reconcile.Reader, enricher *Enricher, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 5 * time.Minute
	}
	if opts.EnrichTimeout <= 0 {
		opts.EnrichTimeout = 2 * time.Minute
	}
	return &Service{
		api:      api,
		engines:  engines,
		reader:   reader,
		enricher: enricher,
		logger:   logger,
		opts:     opts,
		status:   make(map[reconcile.EntityType]Summary),
	}
}

func (s *Service) pagerOpts() []reconcile.PagerOption {
	if s.opts.PageTimeout <= 0 {
		return nil
	}
	return []reconcile.PagerOption{reconcile.WithPageTimeout(s.opts.PageTimeout)}
}

func cursor[V any](s *Service, path string, params url.Values) reconcile.Pager[V] {
	return remote.Cursor[V](s.api, path, params, s.opts.PageSize, s.pagerOpts()...)
}

func byParent(name string, id int64) url.Values {
	if id == 0 {
		return nil
	}
	return url.Values{name: {strconv.FormatInt(id, 10)}}
}

func parentScope(scope reconcile.Scope, field string, id int64) reconcile.Scope {
	if id == 0 {
		return scope
	}
	return scope.Where(field, id)
}

// flightKey identifies a refresh for deduplication. Scope.String only counts ids, so the ids
// themselves are appended.
func flightKey(scope reconcile.Scope) string {
	if scope.IDs == nil {
		return scope.String()
	}
	return fmt.Sprintf("%s%v", scope, scope.IDs)
}

// refresh fetches every page of pager and reconciles the union against scope. Identical
// concurrent refreshes share one fetch and one reconcile.
func refresh[V any](ctx context.Context, s *Service, engine *reconcile.Engine[int64, V], scope reconcile.Scope, pager reconcile.Pager[V]) (Summary, error) {
	key := flightKey(scope)
	return s.share(ctx, engine.Entity(), scope.String(), key, func(ctx context.Context) (Summary, error) {
		// Pages must all arrive before the diff; a partial union would delete live rows
		fetched, err := reconcile.CollectAll(ctx, pager)
		if err != nil {
			return Summary{}, fmt.Errorf("fetch %s: %w", key, err)
		}
		res, err := engine.Reconcile(ctx, scope, fetched)
		if err != nil {
			return Summary{}, err
		}
		return summarize(res), nil
	})
}

// share runs fn once per key. The shared run is detached from the caller that started it
// and bounded by RefreshTimeout; each caller stops waiting when its own ctx is done.
func (s *Service) share(ctx context.Context, entity reconcile.EntityType, scope, key string, fn func(context.Context) (Summary, error)) (Summary, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RefreshTimeout)
		defer cancel()
		return fn(ctx)
	})
	select {
	case r := <-ch:
		return s.record(entity, scope, r.Val, r.Err, r.Shared)
	case <-ctx.Done():
		return s.record(entity, scope, nil, ctx.Err(), false)
	}
}

func (s *Service) record(entity reconcile.EntityType, scope string, v any, err error, shared bool) (Summary, error) {
	sum := Summary{Entity: entity, Scope: scope}
	if err == nil {
		sum = v.(Summary)
		sum.Shared = shared
	} else {
		sum.Error = err.Error()
	}
	sum.FinishedAt = time.Now().UTC()

	s.mu.Lock()
	s.status[entity] = sum
	s.mu.Unlock()

	log := s.logger.With(zap.String("entity", string(entity)), zap.String("scope", scope))
	if err != nil {
		log.Warn("Refresh failed", zap.Error(err))
		return sum, err
	}
	log.Info("Refresh completed",
		zap.Int("inserted", sum.Inserted),
		zap.Int("updated", sum.Updated),
		zap.Int("deleted", sum.Deleted),
		zap.Bool("shared", shared))
	return sum, nil
}

// RefreshProviders replaces the whole provider catalogue.
func (s *Service) RefreshProviders(ctx context.Context) (Summary, error) {
	e := s.engines.Providers
	return refresh(ctx, s, e, e.Scope(), cursor[Provider](s, pathProviders, nil))
}

// RefreshProviderAccounts replaces every provider account, then fetches providers they
// reference that are not cached yet.
func (s *Service) RefreshProviderAccounts(ctx context.Context) (Summary, error) {
	e := s.engines.ProviderAccounts
	sum, err := refresh(ctx, s, e, e.Scope(), cursor[ProviderAccount](s, pathProviderAccounts, nil))
	if err == nil {
		s.enrich(ctx, "providers", s.enricher.Providers)
	}
	return sum, err
}

// RefreshAccounts refreshes the accounts of one provider account, or all accounts for id 0.
func (s *Service) RefreshAccounts(ctx context.Context, providerAccountID int64) (Summary, error) {
	e := s.engines.Accounts
	scope := parentScope(e.Scope(), "provider_account_id", providerAccountID)
	return refresh(ctx, s, e, scope, cursor[Account](s, pathAccounts, byParent("providerAccountId", providerAccountID)))
}

// RefreshTransactions refreshes the transactions matching q. Transactions are paged by offset.
func (s *Service) RefreshTransactions(ctx context.Context, q TransactionQuery) (Summary, error) {
	e := s.engines.Transactions
	scope := parentScope(e.Scope(), "account_id", q.AccountID)
	params := byParent("accountId", q.AccountID)
	if params == nil {
		params = url.Values{}
	}

	if q.From != "" || q.To != "" {
		from, to := q.From, q.To
		for _, d := range []string{from, to} {
			if d == "" {
				continue
			}
			if _, err := time.Parse(dateLayout, d); err != nil {
				return Summary{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidQuery, d)
			}
		}
		if from != "" {
			params.Set("fromDate", from)
		} else {
			from = minDate
		}
		if to != "" {
			params.Set("toDate", to)
		} else {
			to = maxDate
		}
		if from > to {
			return Summary{}, fmt.Errorf("%w: from %s is after to %s", ErrInvalidQuery, from, to)
		}
		scope = scope.Between("date", from, to)
	}

	pager := remote.Offset[Transaction](s.api, pathTransactions, params, s.opts.PageSize, s.pagerOpts()...)
	sum, err := refresh[Transaction](ctx, s, e, scope, pager)
	if err == nil {
		s.enrich(ctx, "accounts", s.enricher.Accounts)
	}
	return sum, err
}

// RefreshTransactionsByID refreshes specific transactions. Each page of ids is its own atomic
// unit, so ids the remote no longer returns are removed and earlier pages stay committed when a
// later one fails.
func (s *Service) RefreshTransactionsByID(ctx context.Context, ids []int64) ([]Summary, error) {
	e := s.engines.Transactions
	var out []Summary
	for start := 0; start < len(ids); start += s.opts.PageSize {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		end := min(start+s.opts.PageSize, len(ids))
		chunk := ids[start:end]

		keys := make([]any, len(chunk))
		strs := make([]string, len(chunk))
		for i, id := range chunk {
			keys[i] = id
			strs[i] = strconv.FormatInt(id, 10)
		}

		params := url.Values{"ids": {strings.Join(strs, ",")}}
		sum, err := refresh(ctx, s, e, e.Scope().WithIDs(keys...), cursor[Transaction](s, pathTransactions, params))
		if err != nil {
			return out, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// RefreshCards refreshes the cards of one account, or all cards for id 0.
func (s *Service) RefreshCards(ctx context.Context, accountID int64) (Summary, error) {
	e := s.engines.Cards
	scope := parentScope(e.Scope(), "account_id", accountID)
	return refresh(ctx, s, e, scope, cursor[Card](s, pathCards, byParent("accountId", accountID)))
}

// RefreshBills replaces every bill.
func (s *Service) RefreshBills(ctx context.Context) (Summary, error) {
	e := s.engines.Bills
	return refresh(ctx, s, e, e.Scope(), cursor[Bill](s, pathBills, nil))
}

// RefreshBillPayments refreshes the payments of one bill, or all payments for id 0.
func (s *Service) RefreshBillPayments(ctx context.Context, billID int64) (Summary, error) {
	e := s.engines.BillPayments
	scope := parentScope(e.Scope(), "bill_id", billID)
	return refresh(ctx, s, e, scope, cursor[BillPayment](s, pathBillPayments, byParent("billId", billID)))
}

// RefreshBudgets replaces every budget.
func (s *Service) RefreshBudgets(ctx context.Context) (Summary, error) {
	e := s.engines.Budgets
	return refresh(ctx, s, e, e.Scope(), cursor[Budget](s, pathBudgets, nil))
}

// RefreshBudgetPeriods refreshes the periods of one budget, or all periods for id 0.
func (s *Service) RefreshBudgetPeriods(ctx context.Context, budgetID int64) (Summary, error) {
	e := s.engines.BudgetPeriods
	scope := parentScope(e.Scope(), "budget_id", budgetID)
	return refresh(ctx, s, e, scope, cursor[BudgetPeriod](s, pathBudgetPeriods, byParent("budgetId", budgetID)))
}

// RefreshGoals replaces every goal.
func (s *Service) RefreshGoals(ctx context.Context) (Summary, error) {
	e := s.engines.Goals
	return refresh(ctx, s, e, e.Scope(), cursor[Goal](s, pathGoals, nil))
}

// RefreshGoalPeriods refreshes the periods of one goal, or all periods for id 0.
func (s *Service) RefreshGoalPeriods(ctx context.Context, goalID int64) (Summary, error) {
	e := s.engines.GoalPeriods
	scope := parentScope(e.Scope(), "goal_id", goalID)
	return refresh(ctx, s, e, scope, cursor[GoalPeriod](s, pathGoalPeriods, byParent("goalId", goalID)))
}

// RefreshConsents refreshes the consents of one provider account, or all consents for id 0.
func (s *Service) RefreshConsents(ctx context.Context, providerAccountID int64) (Summary, error) {
	e := s.engines.Consents
	scope := parentScope(e.Scope(), "provider_account_id", providerAccountID)
	return refresh(ctx, s, e, scope, cursor[Consent](s, pathConsents, byParent("providerAccountId", providerAccountID)))
}

// RefreshUserTags makes the cached tag names equal to the remote tag list.
func (s *Service) RefreshUserTags(ctx context.Context) (Summary, error) {
	set := s.engines.UserTags
	scope := set.Engine().Scope()
	key := scope.String()
	return s.share(ctx, UserTags, key, key, func(ctx context.Context) (Summary, error) {
		names, err := reconcile.CollectAll(ctx, cursor[string](s, pathTags, nil))
		if err != nil {
			return Summary{}, fmt.Errorf("fetch %s: %w", key, err)
		}
		res, err := set.Reconcile(ctx, scope, names)
		if err != nil {
			return Summary{}, err
		}
		return summarize(res), nil
	})
}

// RefreshAll refreshes every collection, parents first. It stops early when the session is
// gone; any other failure is recorded and the remaining collections still run.
func (s *Service) RefreshAll(ctx context.Context) ([]Summary, error) {
	steps := []func(context.Context) (Summary, error){
		s.RefreshProviders,
		s.RefreshProviderAccounts,
		func(ctx context.Context) (Summary, error) { return s.RefreshAccounts(ctx, 0) },
		func(ctx context.Context) (Summary, error) { return s.RefreshTransactions(ctx, TransactionQuery{}) },
		func(ctx context.Context) (Summary, error) { return s.RefreshCards(ctx, 0) },
		s.RefreshBills,
		func(ctx context.Context) (Summary, error) { return s.RefreshBillPayments(ctx, 0) },
		s.RefreshBudgets,
		func(ctx context.Context) (Summary, error) { return s.RefreshBudgetPeriods(ctx, 0) },
		s.RefreshGoals,
		func(ctx context.Context) (Summary, error) { return s.RefreshGoalPeriods(ctx, 0) },
		func(ctx context.Context) (Summary, error) { return s.RefreshConsents(ctx, 0) },
		s.RefreshUserTags,
	}

	var (
		out  []Summary
		errs []error
	)
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		sum, err := step(ctx)
		out = append(out, sum)
		if err == nil {
			continue
		}
		if errors.Is(err, auth.ErrAuthInvalid) || errors.Is(err, auth.ErrLoggedOut) {
			return out, err
		}
		errs = append(errs, err)
	}
	return out, errors.Join(errs...)
}

// Refresh dispatches a refresh by collection name. parent is the parent key for child
// collections and is ignored by top-level ones.
func (s *Service) Refresh(ctx context.Context, entity reconcile.EntityType, parent int64, q TransactionQuery) (Summary, error) {
	switch entity {
	case Providers:
		return s.RefreshProviders(ctx)
	case ProviderAccounts:
		return s.RefreshProviderAccounts(ctx)
	case Accounts:
		return s.RefreshAccounts(ctx, parent)
	case Transactions:
		if q.AccountID == 0 {
			q.AccountID = parent
		}
		return s.RefreshTransactions(ctx, q)
	case Cards:
		return s.RefreshCards(ctx, parent)
	case Bills:
		return s.RefreshBills(ctx)
	case BillPayments:
		return s.RefreshBillPayments(ctx, parent)
	case Budgets:
		return s.RefreshBudgets(ctx)
	case BudgetPeriods:
		return s.RefreshBudgetPeriods(ctx, parent)
	case Goals:
		return s.RefreshGoals(ctx)
	case GoalPeriods:
		return s.RefreshGoalPeriods(ctx, parent)
	case Consents:
		return s.RefreshConsents(ctx, parent)
	case UserTags:
		return s.RefreshUserTags(ctx)
	}
	return Summary{}, fmt.Errorf("%w: %s", reconcile.ErrUnknownEntity, entity)
}

// UpdateTransaction writes a locally edited transaction without touching its siblings.
func (s *Service) UpdateTransaction(ctx context.Context, t Transaction) (Summary, error) {
	if t.ID == 0 {
		return Summary{}, fmt.Errorf("%w: transaction has no id", ErrInvalidQuery)
	}
	res, err := s.engines.Transactions.Upsert(ctx, t)
	if err != nil {
		return Summary{}, err
	}
	return summarize(res), nil
}

// Forget removes one cached record and its dependents, after the remote deleted it.
func (s *Service) Forget(ctx context.Context, entity reconcile.EntityType, id string) (Summary, error) {
	if entity == UserTags {
		res, err := s.engines.UserTags.Engine().Delete(ctx, id)
		if err != nil {
			return Summary{}, err
		}
		return summarize(res), nil
	}

	key, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: id %q is not numeric", ErrInvalidQuery, id)
	}

	var res *reconcile.Result[int64]
	switch entity {
	case Providers:
		res, err = s.engines.Providers.Delete(ctx, key)
	case ProviderAccounts:
		res, err = s.engines.ProviderAccounts.Delete(ctx, key)
	case Accounts:
		res, err = s.engines.Accounts.Delete(ctx, key)
	case Transactions:
		res, err = s.engines.Transactions.Delete(ctx, key)
	case Cards:
		res, err = s.engines.Cards.Delete(ctx, key)
	case Bills:
		res, err = s.engines.Bills.Delete(ctx, key)
	case BillPayments:
		res, err = s.engines.BillPayments.Delete(ctx, key)
	case Budgets:
		res, err = s.engines.Budgets.Delete(ctx, key)
	case BudgetPeriods:
		res, err = s.engines.BudgetPeriods.Delete(ctx, key)
	case Goals:
		res, err = s.engines.Goals.Delete(ctx, key)
	case GoalPeriods:
		res, err = s.engines.GoalPeriods.Delete(ctx, key)
	case Consents:
		res, err = s.engines.Consents.Delete(ctx, key)
	default:
		return Summary{}, fmt.Errorf("%w: %s", reconcile.ErrUnknownEntity, entity)
	}
	if err != nil {
		return Summary{}, err
	}
	return summarize(res), nil
}

// Cached loads the cached rows of a collection into dest, a pointer to a slice of its model.
func (s *Service) Cached(ctx context.Context, scope reconcile.Scope, dest any) error {
	return s.reader.Find(ctx, scope, dest)
}

// Status returns the last refresh of every collection, sorted by name.
func (s *Service) Status() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.status))
	for _, sum := range s.status {
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out
}

// enrich runs a best-effort enrichment pass in the background. Its errors are logged only.
func (s *Service) enrich(ctx context.Context, what string, pass func(context.Context) (int, error)) {
	if s.enricher == nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.EnrichTimeout)
		defer cancel()

		n, err := pass(ctx)
		if err != nil {
			s.logger.Warn("Enrichment failed", zap.String("missing", what), zap.Error(err))
			return
		}
		if n > 0 {
			s.logger.Info("Fetched missing related records", zap.String("missing", what), zap.Int("count", n))
		}
	}()
}

// Wait blocks until background enrichment passes have finished.
func (s *Service) Wait() {
	s.bg.Wait()
}
