package remote

import (
	"context"
	"net/url"
	"strconv"

	"finsync/core/reconcile"
)

// Query parameter names understood by the collection API.
const (
	ParamAfter = "after"
	ParamLimit = "limit"
	ParamSkip  = "skip"
	ParamTop   = "top"
)

// Cursor walks path with after tokens. limit is sent on every request when positive.
func Cursor[V any](f Fetcher, path string, params url.Values, limit int, opts ...reconcile.PagerOption) *reconcile.CursorPager[V] {
	return reconcile.NewCursorPager[V](func(ctx context.Context, after string) ([]V, string, error) {
		q := clone(params)
		if limit > 0 {
			q.Set(ParamLimit, strconv.Itoa(limit))
		}
		if after != "" {
			q.Set(ParamAfter, after)
		}
		page, err := f.FetchPage(ctx, path, q)
		if err != nil {
			return nil, "", err
		}
		items, err := Items[V](page)
		if err != nil {
			return nil, "", err
		}
		return items, page.After(), nil
	}, opts...)
}

// Offset walks path with skip/top parameters, count records per page.
func Offset[V any](f Fetcher, path string, params url.Values, count int, opts ...reconcile.PagerOption) *reconcile.OffsetPager[V] {
	return reconcile.NewOffsetPager[V](count, func(ctx context.Context, skip, count int) ([]V, error) {
		q := clone(params)
		q.Set(ParamSkip, strconv.Itoa(skip))
		q.Set(ParamTop, strconv.Itoa(count))
		page, err := f.FetchPage(ctx, path, q)
		if err != nil {
			return nil, err
		}
		return Items[V](page)
	}, opts...)
}

func clone(params url.Values) url.Values {
	out := make(url.Values, len(params)+2)
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}
	return out
}
