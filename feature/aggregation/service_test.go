package aggregation_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"finsync/core/auth"
	"finsync/core/reconcile"
	"finsync/core/remote"
	"finsync/feature/aggregation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRefreshAccounts_ProviderAccountScope(t *testing.T) {
	f := newFixture(t)
	f.seed(t, aggregation.Accounts, []aggregation.Account{
		{ID: 1, ProviderAccountID: 50},
		{ID: 2, ProviderAccountID: 50},
		{ID: 3, ProviderAccountID: 50},
		{ID: 8, ProviderAccountID: 60},
	})
	f.seed(t, aggregation.Transactions, []aggregation.Transaction{
		{ID: 100, AccountID: 1, Date: "2024-01-02"},
		{ID: 101, AccountID: 3, Date: "2024-01-02"},
	})
	f.seed(t, aggregation.Cards, []aggregation.Card{{ID: 900, AccountID: 1}})

	q := url.Values{"providerAccountId": {"50"}, "limit": {"2"}}
	f.expectPage("accounts", q, `[{"id":2,"providerAccountId":50},{"id":3,"providerAccountId":50}]`, "c1")
	q2 := url.Values{"providerAccountId": {"50"}, "limit": {"2"}, "after": {"c1"}}
	f.expectPage("accounts", q2, `[{"id":4,"providerAccountId":50,"accountName":"new"}]`, "")

	sum, err := f.service.RefreshAccounts(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Inserted)
	assert.Equal(t, 2, sum.Updated)
	assert.Equal(t, 1, sum.Deleted)
	assert.Equal(t, map[reconcile.EntityType]int{aggregation.Transactions: 1, aggregation.Cards: 1}, sum.Cascaded)

	assert.Equal(t, []int64{2, 3, 4, 8}, f.ids(t, aggregation.Accounts))
	assert.Equal(t, []int64{101}, f.ids(t, aggregation.Transactions))
	assert.Empty(t, f.ids(t, aggregation.Cards))
	f.api.AssertExpectations(t)
}

func TestRefreshProviders_FetchFailureKeepsCache(t *testing.T) {
	f := newFixture(t)
	f.seed(t, aggregation.Providers, []aggregation.Provider{{ID: 1}, {ID: 2}})

	f.expectPage("providers", url.Values{"limit": {"2"}}, `[{"id":1},{"id":3}]`, "c1")
	f.api.On("FetchPage", mock.Anything, "providers", url.Values{"limit": {"2"}, "after": {"c1"}}).
		Return(nil, auth.ErrNetwork).Once()

	_, err := f.service.RefreshProviders(context.Background())
	assert.ErrorIs(t, err, auth.ErrNetwork)
	assert.Equal(t, []int64{1, 2}, f.ids(t, aggregation.Providers))

	status := f.service.Status()
	require.Len(t, status, 1)
	assert.Equal(t, aggregation.Providers, status[0].Entity)
	assert.NotEmpty(t, status[0].Error)
}

func TestRefreshTransactions_DateRange(t *testing.T) {
	f := newFixture(t)
	f.seed(t, aggregation.Transactions, []aggregation.Transaction{
		{ID: 1, AccountID: 7, Date: "2024-01-31"},
		{ID: 2, AccountID: 7, Date: "2024-02-05"},
		{ID: 3, AccountID: 7, Date: "2024-02-20"},
		{ID: 4, AccountID: 8, Date: "2024-02-10"},
	})
	f.seed(t, aggregation.Accounts, []aggregation.Account{{ID: 7}, {ID: 8}})

	q := url.Values{"accountId": {"7"}, "fromDate": {"2024-02-01"}, "toDate": {"2024-02-29"}, "skip": {"0"}, "top": {"2"}}
	f.expectPage("transactions", q, `[{"id":3,"accountId":7,"date":"2024-02-20","amount":-12.5}]`, "")

	sum, err := f.service.RefreshTransactions(context.Background(), aggregation.TransactionQuery{AccountID: 7, From: "2024-02-01", To: "2024-02-29"})
	require.NoError(t, err)
	f.service.Wait()

	assert.Equal(t, 1, sum.Deleted)
	assert.Equal(t, []int64{1, 3, 4}, f.ids(t, aggregation.Transactions))
	f.api.AssertExpectations(t)
}

func TestRefreshTransactions_InvalidQuery(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		q    aggregation.TransactionQuery
	}{
		{"BadDate", aggregation.TransactionQuery{From: "02/01/2024"}},
		{"Reversed", aggregation.TransactionQuery{From: "2024-03-01", To: "2024-02-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.RefreshTransactions(context.Background(), tt.q)
			assert.ErrorIs(t, err, aggregation.ErrInvalidQuery)
		})
	}
	f.api.AssertNotCalled(t, "FetchPage", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefreshTransactionsByID_PageLocalScopes(t *testing.T) {
	f := newFixture(t)
	f.seed(t, aggregation.Transactions, []aggregation.Transaction{
		{ID: 1, AccountID: 7}, {ID: 2, AccountID: 7}, {ID: 3, AccountID: 7}, {ID: 9, AccountID: 7},
	})

	f.expectPage("transactions", url.Values{"ids": {"1,2"}, "limit": {"2"}}, `[{"id":1,"accountId":7}]`, "")
	f.api.On("FetchPage", mock.Anything, "transactions", url.Values{"ids": {"3"}, "limit": {"2"}}).
		Return(nil, auth.ErrNetwork).Once()

	sums, err := f.service.RefreshTransactionsByID(context.Background(), []int64{1, 2, 3})
	assert.ErrorIs(t, err, auth.ErrNetwork)
	require.Len(t, sums, 1)
	assert.Equal(t, 1, sums[0].Deleted)

	// The first page committed; id 3 and the unrelated id 9 are untouched.
	assert.Equal(t, []int64{1, 3, 9}, f.ids(t, aggregation.Transactions))
}

func TestRefreshUserTags(t *testing.T) {
	f := newFixture(t)
	f.seed(t, aggregation.UserTags, []aggregation.UserTag{{Name: "travel"}, {Name: "Food"}})

	f.expectPage("tags", url.Values{"limit": {"2"}}, `["food","travel"]`, "")

	sum, err := f.service.RefreshUserTags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Inserted)
	assert.Equal(t, 1, sum.Deleted)

	var tags []aggregation.UserTag
	require.NoError(t, f.service.Cached(context.Background(), reconcile.ScopeAll(aggregation.UserTags), &tags))
	names := make([]string, len(tags))
	for i, tg := range tags {
		names[i] = tg.Name
	}
	assert.Equal(t, []string{"food", "travel"}, names)
}

func TestRefreshProviderAccounts_EnrichesMissingProviders(t *testing.T) {
	f := newFixture(t)
	f.seed(t, aggregation.Providers, []aggregation.Provider{{ID: 1, Name: "Known"}})

	f.expectPage("providerAccounts", url.Values{"limit": {"2"}},
		`[{"id":10,"providerId":1},{"id":11,"providerId":2}]`, "c1")
	f.expectPage("providerAccounts", url.Values{"limit": {"2"}, "after": {"c1"}},
		`[{"id":12,"providerId":3}]`, "")

	// Provider 2 fails once then succeeds; provider 3 is gone upstream.
	f.api.On("Get", mock.Anything, "providers/2", url.Values(nil)).Return("", auth.ErrNetwork).Once()
	f.api.On("Get", mock.Anything, "providers/2", url.Values(nil)).Return(`{"id":2,"name":"Dag Site"}`, nil).Once()
	f.api.On("Get", mock.Anything, "providers/3", url.Values(nil)).
		Return("", &remote.StatusError{Method: "GET", Path: "providers/3", Code: 404}).Once()

	_, err := f.service.RefreshProviderAccounts(context.Background())
	require.NoError(t, err)
	f.service.Wait()

	assert.Equal(t, []int64{1, 2}, f.ids(t, aggregation.Providers))
	assert.Equal(t, []int64{10, 11, 12}, f.ids(t, aggregation.ProviderAccounts))
	f.api.AssertExpectations(t)

	missing, err := f.enricher.Missing(context.Background(), aggregation.ProviderAccounts, "provider_id", aggregation.Providers)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, missing)
}

func TestRefresh_ConcurrentCallsShareOneFetch(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	f.api.On("FetchPage", mock.Anything, "bills", url.Values{"limit": {"2"}}).
		Run(func(mock.Arguments) { <-release }).
		Return(mocksPage(`[{"id":1,"name":"rent"}]`), nil).Once()

	var wg sync.WaitGroup
	sums := make([]aggregation.Summary, 4)
	errs := make([]error, 4)
	for i := range sums {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sums[i], errs[i] = f.service.RefreshBills(context.Background())
		}(i)
	}
	// Let every caller reach the singleflight group before the fetch returns
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range sums {
		require.NoError(t, errs[i])
		assert.Equal(t, 1, sums[i].Records)
	}
	f.api.AssertNumberOfCalls(t, "FetchPage", 1)
}

func TestRefresh_CancelledCallerDoesNotFailSharedCall(t *testing.T) {
	f := newFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f.api.On("FetchPage", mock.Anything, "bills", url.Values{"limit": {"2"}}).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(mocksPage(`[{"id":1,"name":"rent"}]`), nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.service.RefreshBills(ctx)
		first <- err
	}()
	<-started

	var sum aggregation.Summary
	second := make(chan error, 1)
	go func() {
		var err error
		sum, err = f.service.RefreshBills(context.Background())
		second <- err
	}()
	// Let the second caller join the running fetch
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(release)
	require.NoError(t, <-second)
	assert.Equal(t, 1, sum.Records)
	assert.True(t, sum.Shared)
	assert.Equal(t, []int64{1}, f.ids(t, aggregation.Bills))
	f.api.AssertNumberOfCalls(t, "FetchPage", 1)
}

func TestRefreshProviderAccounts_CascadesConsents(t *testing.T) {
	f := newFixture(t)
	f.seed(t, aggregation.Providers, []aggregation.Provider{{ID: 1, Name: "Known"}})
	f.seed(t, aggregation.ProviderAccounts, []aggregation.ProviderAccount{
		{ID: 50, ProviderID: 1},
		{ID: 51, ProviderID: 1},
	})
	f.seed(t, aggregation.Consents, []aggregation.Consent{
		{ID: 7, ProviderAccountID: 50},
		{ID: 8, ProviderAccountID: 51},
	})

	f.expectPage("providerAccounts", url.Values{"limit": {"2"}}, `[{"id":51,"providerId":1}]`, "")

	sum, err := f.service.RefreshProviderAccounts(context.Background())
	require.NoError(t, err)
	f.service.Wait()

	assert.Equal(t, 1, sum.Deleted)
	assert.Equal(t, 1, sum.Cascaded[aggregation.Consents])
	assert.Equal(t, []int64{51}, f.ids(t, aggregation.ProviderAccounts))
	assert.Equal(t, []int64{8}, f.ids(t, aggregation.Consents))
	f.api.AssertExpectations(t)
}

func TestRefreshAll_StopsWhenLoggedOut(t *testing.T) {
	f := newFixture(t)
	f.expectPage("providers", url.Values{"limit": {"2"}}, `[{"id":1}]`, "")
	f.api.On("FetchPage", mock.Anything, "providerAccounts", mock.Anything).Return(nil, auth.ErrLoggedOut).Once()

	sums, err := f.service.RefreshAll(context.Background())
	assert.ErrorIs(t, err, auth.ErrLoggedOut)
	require.Len(t, sums, 2)
	assert.Empty(t, sums[0].Error)
	assert.NotEmpty(t, sums[1].Error)
	f.api.AssertExpectations(t)
}

func TestRefreshAll_ContinuesAfterFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	f.api.On("FetchPage", mock.Anything, "providers", mock.Anything).Return(nil, boom).Once()
	f.api.On("FetchPage", mock.Anything, mock.Anything, mock.Anything).Return(mocksPage(`[]`), nil)

	sums, err := f.service.RefreshAll(context.Background())
	f.service.Wait()
	assert.ErrorIs(t, err, boom)
	assert.Len(t, sums, 13)
}

func TestForget(t *testing.T) {
	f := newFixture(t)
	f.seed(t, aggregation.Bills, []aggregation.Bill{{ID: 1}, {ID: 2}})
	f.seed(t, aggregation.BillPayments, []aggregation.BillPayment{{ID: 10, BillID: 1}, {ID: 11, BillID: 1}, {ID: 12, BillID: 2}})
	f.seed(t, aggregation.UserTags, []aggregation.UserTag{{Name: "a"}})

	sum, err := f.service.Forget(context.Background(), aggregation.Bills, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Deleted)
	assert.Equal(t, 2, sum.Cascaded[aggregation.BillPayments])
	assert.Equal(t, []int64{12}, f.ids(t, aggregation.BillPayments))

	_, err = f.service.Forget(context.Background(), aggregation.UserTags, "a")
	require.NoError(t, err)

	_, err = f.service.Forget(context.Background(), aggregation.Bills, "x")
	assert.ErrorIs(t, err, aggregation.ErrInvalidQuery)

	_, err = f.service.Forget(context.Background(), "budgetz", "1")
	assert.ErrorIs(t, err, reconcile.ErrUnknownEntity)
}

func TestUpdateTransaction(t *testing.T) {
	f := newFixture(t)
	f.seed(t, aggregation.Transactions, []aggregation.Transaction{{ID: 1, AccountID: 7, Category: "misc"}, {ID: 2, AccountID: 7}})

	sum, err := f.service.UpdateTransaction(context.Background(), aggregation.Transaction{ID: 1, AccountID: 7, Category: "groceries"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Updated)

	var rows []aggregation.Transaction
	require.NoError(t, f.service.Cached(context.Background(), reconcile.ScopeIDs(aggregation.Transactions, int64(1)), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "groceries", rows[0].Category)
	assert.Equal(t, []int64{1, 2}, f.ids(t, aggregation.Transactions))

	_, err = f.service.UpdateTransaction(context.Background(), aggregation.Transaction{})
	assert.ErrorIs(t, err, aggregation.ErrInvalidQuery)
}

func TestRefresh_PublishesChanges(t *testing.T) {
	f := newFixture(t)
	changes, cancel := f.bus.Subscribe()
	defer cancel()

	f.expectPage("goals", url.Values{"limit": {"2"}}, `[{"id":5,"name":"car"}]`, "")
	_, err := f.service.Refresh(context.Background(), aggregation.Goals, 0, aggregation.TransactionQuery{})
	require.NoError(t, err)

	c := <-changes
	assert.Equal(t, aggregation.Goals, c.Entity)
	assert.Equal(t, "goals", c.Scope)
}
