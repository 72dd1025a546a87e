package invitation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists invitations and progress snapshots. Every state
// transition is a compare-and-set: the WHERE clause carries the allowed
// source states and the boolean result says whether this caller won the
// transition. Callers must treat false as "someone else got there first",
// re-read, and derive the outcome from the persisted row.
type Store interface {
	Create(ctx context.Context, inv *Invitation) error
	GetByToken(ctx context.Context, token string) (*Invitation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Invitation, error)
	// ListByAdministrator returns one page of the administrator's
	// invitations, newest first, plus the unpaged total.
	ListByAdministrator(ctx context.Context, administratorID uuid.UUID, limit, offset int) ([]*Invitation, int, error)
	// ListActive returns every invitation in a non-terminal state,
	// including those whose deadline has already passed but which the
	// scheduler has not yet expired.
	ListActive(ctx context.Context) ([]*Invitation, error)

	// pending → accessed
	MarkAccessed(ctx context.Context, id uuid.UUID) (bool, error)
	// accessed → in_progress
	MarkInProgress(ctx context.Context, id uuid.UUID) (bool, error)
	// accessed|in_progress → completed, only while unexpired
	Complete(ctx context.Context, id uuid.UUID, summary ResultSummary, at time.Time) (bool, error)
	// any non-terminal → expired
	Expire(ctx context.Context, id uuid.UUID) (bool, error)
	// any non-terminal → cancelled
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	// Flips the stage flag false→true and increments reminder_count in
	// one statement; at most one caller per stage ever gets true.
	ClaimReminder(ctx context.Context, id uuid.UUID, stage ReminderStage) (bool, error)

	SaveProgress(ctx context.Context, snap *ProgressSnapshot) error
	GetProgress(ctx context.Context, invitationID uuid.UUID) (*ProgressSnapshot, error)
	DeleteProgress(ctx context.Context, invitationID uuid.UUID) error
}
