package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/cobuilders/inbox/internal/models"
)

// Error taxonomy surfaced to callers. NotFound, AccessDenied, EmptyMessage
// and NotStarted are terminal; TransientStore may be retried by the caller.
var (
	ErrNotFound       = models.ErrNotFound
	ErrAccessDenied   = models.ErrAccessDenied
	ErrEmptyMessage   = models.ErrEmptyMessage
	ErrTransientStore = models.ErrTransientStore
	ErrNotStarted     = models.ErrNotStarted

	// ErrHandleClosed is returned by a closed or superseded handle.
	ErrHandleClosed = errors.New("conversation handle closed")
)

func isTerminal(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrNotStarted) ||
		errors.Is(err, ErrHandleClosed)
}

// classify maps collaborator failures onto the taxonomy: known errors pass
// through, anything else becomes ErrTransientStore.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case isTerminal(err), errors.Is(err, ErrTransientStore):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrTransientStore, err)
	}
}
