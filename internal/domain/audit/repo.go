package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is append-only. There is intentionally no update or delete.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	ListByInvitation(ctx context.Context, invitationID uuid.UUID) ([]*Entry, error)
	ListRange(ctx context.Context, from, to time.Time) ([]*Entry, error)
}
