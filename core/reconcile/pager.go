package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Page is one batch of a remote collection.
type Page[V any] struct {
	Items []V

	// Offset is the skip value of the next page for offset pagination.
	Offset int

	// Cursor is the continuation token for cursor pagination; empty when absent.
	Cursor string

	// Exhausted is true when no page follows this one.
	Exhausted bool
}

// Pager produces the pages of a remote collection lazily. NextPage returns ErrPagesDone
// once the sequence is exhausted. After any other error the pager stays failed until Reset.
type Pager[V any] interface {
	NextPage(ctx context.Context) (Page[V], error)
	Reset()
}

// OffsetFetch requests count items starting at skip.
type OffsetFetch[V any] func(ctx context.Context, skip, count int) ([]V, error)

// CursorFetch requests the page following after; an empty after asks for the first page.
// It returns the items and the next token, empty when the server sent none.
type CursorFetch[V any] func(ctx context.Context, after string) ([]V, string, error)

// PagerOption tunes a pager.
type PagerOption func(*pagerOptions)

type pagerOptions struct {
	timeout time.Duration
}

// WithPageTimeout bounds every page fetch.
func WithPageTimeout(d time.Duration) PagerOption {
	return func(o *pagerOptions) { o.timeout = d }
}

func buildOptions(opts []PagerOption) pagerOptions {
	var o pagerOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o pagerOptions) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.timeout)
}

// OffsetPager walks a collection by (skip, count). A page shorter than count is the last one.
type OffsetPager[V any] struct {
	fetch OffsetFetch[V]
	count int
	opts  pagerOptions

	skip int
	done bool
	err  error
}

// NewOffsetPager creates an offset pager requesting count items per page.
func NewOffsetPager[V any](count int, fetch OffsetFetch[V], opts ...PagerOption) *OffsetPager[V] {
	if count <= 0 {
		count = 100
	}
	return &OffsetPager[V]{fetch: fetch, count: count, opts: buildOptions(opts)}
}

// NextPage implements Pager.
func (p *OffsetPager[V]) NextPage(ctx context.Context) (Page[V], error) {
	if p.err != nil {
		return Page[V]{}, p.err
	}
	if p.done {
		return Page[V]{}, ErrPagesDone
	}

	fctx, cancel := p.opts.bound(ctx)
	defer cancel()
	items, err := p.fetch(fctx, p.skip, p.count)
	if err != nil {
		p.err = fmt.Errorf("fetch page at offset %d: %w", p.skip, err)
		return Page[V]{}, p.err
	}

	p.skip += len(items)
	p.done = len(items) < p.count
	return Page[V]{Items: items, Offset: p.skip, Exhausted: p.done}, nil
}

// Reset restarts the sequence from the first page.
func (p *OffsetPager[V]) Reset() {
	p.skip, p.done, p.err = 0, false, nil
}

// CursorPager walks a collection by opaque continuation tokens.
type CursorPager[V any] struct {
	fetch CursorFetch[V]
	opts  pagerOptions

	after string
	seen  map[string]struct{}
	done  bool
	err   error
}

// NewCursorPager creates a cursor pager.
func NewCursorPager[V any](fetch CursorFetch[V], opts ...PagerOption) *CursorPager[V] {
	return &CursorPager[V]{fetch: fetch, opts: buildOptions(opts)}
}

// NextPage implements Pager.
func (p *CursorPager[V]) NextPage(ctx context.Context) (Page[V], error) {
	if p.err != nil {
		return Page[V]{}, p.err
	}
	if p.done {
		return Page[V]{}, ErrPagesDone
	}

	fctx, cancel := p.opts.bound(ctx)
	defer cancel()
	items, next, err := p.fetch(fctx, p.after)
	if err != nil {
		p.err = fmt.Errorf("fetch page after %q: %w", p.after, err)
		return Page[V]{}, p.err
	}

	if next != "" && len(items) > 0 {
		if _, ok := p.seen[next]; ok {
			p.err = fmt.Errorf("page after %q: %w: %q", p.after, ErrCursorLoop, next)
			return Page[V]{}, p.err
		}
		if p.seen == nil {
			p.seen = make(map[string]struct{})
		}
		p.seen[next] = struct{}{}
	}

	p.after = next
	p.done = next == "" || len(items) == 0
	return Page[V]{Items: items, Cursor: next, Exhausted: p.done}, nil
}

// Reset restarts the sequence from the first page.
func (p *CursorPager[V]) Reset() {
	p.after, p.seen, p.done, p.err = "", nil, false, nil
}

// CollectAll restarts the pager and accumulates every page. It returns nothing but the error
// if any page fails or ctx is cancelled between pages, so a full-scope reconcile never runs on
// a partial view of the remote collection.
func CollectAll[V any](ctx context.Context, pager Pager[V]) ([]V, error) {
	pager.Reset()
	var all []V
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := pager.NextPage(ctx)
		if errors.Is(err, ErrPagesDone) {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.Exhausted {
			return all, nil
		}
	}
}

// ForEachPage restarts the pager and hands each page to fn, stopping at the first error.
// It suits page-local scopes where each page is reconciled on its own; pages handled before
// a failure stay committed.
func ForEachPage[V any](ctx context.Context, pager Pager[V], fn func(ctx context.Context, page Page[V]) error) (int, error) {
	pager.Reset()
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		page, err := pager.NextPage(ctx)
		if errors.Is(err, ErrPagesDone) {
			return pages, nil
		}
		if err != nil {
			return pages, err
		}
		if len(page.Items) > 0 {
			if err := fn(ctx, page); err != nil {
				return pages, err
			}
			pages++
		}
		if page.Exhausted {
			return pages, nil
		}
	}
}
