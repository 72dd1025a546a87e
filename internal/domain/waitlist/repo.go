package waitlist

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists waitlist entries. MarkOffered and Withdraw are
// compare-and-set from waiting; the boolean result says whether this
// caller won the transition.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
	// ListWaiting returns waiting entries for a scale ordered by
	// priority descending, then request age.
	ListWaiting(ctx context.Context, scaleID string) ([]*Entry, error)
	MarkOffered(ctx context.Context, id uuid.UUID) (bool, error)
	Withdraw(ctx context.Context, id uuid.UUID) (bool, error)
}
