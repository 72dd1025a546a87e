// Package audit records every access to a remote assessment as an
// append-only trail. Entries are never updated or deleted; the repository
// deliberately exposes no mutation beyond Append.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action is what happened to the invitation.
type Action string

const (
	ActionView         Action = "view"
	ActionStart        Action = "start"
	ActionSaveProgress Action = "save_progress"
	ActionComplete     Action = "complete"
	ActionExpire       Action = "expire"
	ActionCancel       Action = "cancel"
	ActionRemind       Action = "remind"
)

// ActorKind identifies who triggered the action.
type ActorKind string

const (
	ActorPatient       ActorKind = "patient"
	ActorAdministrator ActorKind = "administrator"
	ActorScheduler     ActorKind = "scheduler"
)

// Entry is one immutable audit record.
type Entry struct {
	ID           uuid.UUID `json:"id"`
	InvitationID uuid.UUID `json:"invitation_id"`
	Action       Action    `json:"action"`
	Actor        ActorKind `json:"actor"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
