package reconcile

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStorage marks a failed storage operation. The reconcile that hit it was rolled back.
	ErrStorage = errors.New("storage failure")

	// ErrInvalidScope marks a scope that cannot be applied safely. It is a programmer error
	// and is never silently widened.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrUnknownEntity is returned by stores asked about an entity type they never registered.
	ErrUnknownEntity = errors.New("unknown entity type")

	// ErrPagesDone is returned by a Pager once the remote sequence is exhausted.
	ErrPagesDone = errors.New("no more pages")

	// ErrCursorLoop is returned by a CursorPager when the remote hands back a continuation
	// token it already returned.
	ErrCursorLoop = errors.New("cursor repeated")
)

// storageError classifies err as a storage failure unless it already carries a
// more specific kind or is a context cancellation.
func storageError(entity EntityType, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStorage),
		errors.Is(err, ErrInvalidScope),
		errors.Is(err, ErrUnknownEntity),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", ErrStorage, entity, err)
	}
}
