package mocks

import (
	"context"
	"encoding/json"
	"net/url"

	"finsync/core/remote"

	"github.com/stretchr/testify/mock"
)

// API is a mock implementation of remote.API
type API struct {
	mock.Mock
}

func (m *API) FetchPage(ctx context.Context, path string, params url.Values) (*remote.Page, error) {
	args := m.Called(ctx, path, params)
	if page, ok := args.Get(0).(*remote.Page); ok {
		return page, args.Error(1)
	}
	return nil, args.Error(1)
}

// Get decodes the first return argument, a JSON string, into dest when the error is nil.
func (m *API) Get(ctx context.Context, path string, params url.Values, dest any) error {
	args := m.Called(ctx, path, params)
	if err := args.Error(1); err != nil {
		return err
	}
	return json.Unmarshal([]byte(args.String(0)), dest)
}

// PageOf builds a response page from a JSON array and an after token.
func PageOf(data, after string) *remote.Page {
	p := &remote.Page{Data: json.RawMessage(data)}
	p.Paging.Cursors.After = after
	return p
}
