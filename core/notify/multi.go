package notify

import (
	"context"
	"errors"

	"finsync/core/reconcile"
)

// Multi delivers every change to each notifier in order. All notifiers are tried; their
// errors are joined.
type Multi []reconcile.Notifier

// Notify implements reconcile.Notifier.
func (m Multi) Notify(ctx context.Context, change reconcile.Change) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
