package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"finsync/core/reconcile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rangeFetch(total int) (reconcile.OffsetFetch[int], *[]int) {
	var calls []int
	return func(_ context.Context, skip, count int) ([]int, error) {
		calls = append(calls, skip)
		var out []int
		for i := skip; i < total && i < skip+count; i++ {
			out = append(out, i)
		}
		return out, nil
	}, &calls
}

func TestOffsetPager(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		count     int
		wantItems int
		wantCalls []int
	}{
		{"ShortLastPage", 5, 2, 5, []int{0, 2, 4}},
		{"ExactMultiple", 4, 2, 4, []int{0, 2, 4}},
		{"Empty", 0, 3, 0, []int{0}},
		{"SinglePage", 2, 10, 2, []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetch, calls := rangeFetch(tt.total)
			pager := reconcile.NewOffsetPager(tt.count, fetch)

			items, err := reconcile.CollectAll[int](context.Background(), pager)
			require.NoError(t, err)
			assert.Len(t, items, tt.wantItems)
			assert.Equal(t, tt.wantCalls, *calls)

			_, err = pager.NextPage(context.Background())
			assert.ErrorIs(t, err, reconcile.ErrPagesDone)
		})
	}
}

func TestCursorPager_TerminatesOnEmptyPage(t *testing.T) {
	calls := 0
	pager := reconcile.NewCursorPager[string](func(_ context.Context, after string) ([]string, string, error) {
		calls++
		if after == "" {
			return []string{"a"}, "next", nil
		}
		return nil, "dangling", nil
	})

	items, err := reconcile.CollectAll[string](context.Background(), pager)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, items)
	assert.Equal(t, 2, calls)
}

func TestCursorPager_RepeatedCursor(t *testing.T) {
	tests := []struct {
		name  string
		next  map[string]string
		calls int
	}{
		{"SameToken", map[string]string{"": "c1", "c1": "c1"}, 2},
		{"Cycle", map[string]string{"": "c1", "c1": "c2", "c2": "c1"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			pager := reconcile.NewCursorPager[string](func(_ context.Context, after string) ([]string, string, error) {
				calls++
				require.LessOrEqual(t, calls, tt.calls)
				return []string{after}, tt.next[after], nil
			})

			items, err := reconcile.CollectAll[string](context.Background(), pager)
			assert.ErrorIs(t, err, reconcile.ErrCursorLoop)
			assert.Nil(t, items)
			assert.Equal(t, tt.calls, calls)
		})
	}
}

func TestCollectAll_DiscardsPartialOnFailure(t *testing.T) {
	boom := errors.New("connection reset")
	attempt := 0
	pager := reconcile.NewCursorPager[int](func(_ context.Context, after string) ([]int, string, error) {
		switch after {
		case "":
			return []int{1, 2}, "c1", nil
		case "c1":
			attempt++
			if attempt == 1 {
				return nil, "", boom
			}
			return []int{3}, "", nil
		}
		return nil, "", nil
	})

	items, err := reconcile.CollectAll[int](context.Background(), pager)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, items)

	// The failure is sticky until the sequence restarts
	_, err = pager.NextPage(context.Background())
	assert.ErrorIs(t, err, boom)

	items, err = reconcile.CollectAll[int](context.Background(), pager)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, items)
}

func TestCollectAll_CancelledBetweenPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pager := reconcile.NewOffsetPager[int](2, func(_ context.Context, skip, count int) ([]int, error) {
		if skip > 0 {
			cancel()
		}
		return []int{skip, skip + 1}, nil
	})

	items, err := reconcile.CollectAll[int](ctx, pager)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, items)
}

func TestPager_PageTimeout(t *testing.T) {
	pager := reconcile.NewCursorPager[int](func(ctx context.Context, _ string) ([]int, string, error) {
		<-ctx.Done()
		return nil, "", ctx.Err()
	}, reconcile.WithPageTimeout(10*time.Millisecond))

	start := time.Now()
	_, err := reconcile.CollectAll[int](context.Background(), pager)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestForEachPage(t *testing.T) {
	fetch, _ := rangeFetch(5)
	pager := reconcile.NewOffsetPager(2, fetch)

	var seen [][]int
	pages, err := reconcile.ForEachPage[int](context.Background(), pager, func(_ context.Context, p reconcile.Page[int]) error {
		seen = append(seen, p.Items)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, pages)
	assert.Equal(t, [][]int{{0, 1}, {2, 3}, {4}}, seen)

	stop := errors.New("stop")
	pages, err = reconcile.ForEachPage[int](context.Background(), pager, func(_ context.Context, p reconcile.Page[int]) error {
		if p.Items[0] == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, pages)
}
