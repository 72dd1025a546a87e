// Package invitation implements tokenized remote assessment delivery: a
// persisted invitation per patient and scale version, a strict state
// machine over its lifecycle, and resumable progress snapshots. Every
// decision the scheduler or handlers make derives from persisted fields,
// never from in-process state.
package invitation

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/psicore/psicore/internal/domain/scoring"
)

// Status is the invitation lifecycle state. completed, expired and
// cancelled are terminal; no code path leaves a terminal state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAccessed   Status = "accessed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusCancelled
}

// DeliveryMethod is how the invitation link reaches the patient.
// copy_link performs no delivery; the link is handed back to the
// administrator instead.
type DeliveryMethod string

const (
	DeliveryEmail    DeliveryMethod = "email"
	DeliverySMS      DeliveryMethod = "sms"
	DeliveryWhatsApp DeliveryMethod = "whatsapp"
	DeliveryCopyLink DeliveryMethod = "copy_link"
)

var validDeliveryMethods = map[DeliveryMethod]bool{
	DeliveryEmail: true, DeliverySMS: true, DeliveryWhatsApp: true, DeliveryCopyLink: true,
}

// ReminderStage identifies one of the staged deadline reminders.
type ReminderStage string

const (
	Stage6h  ReminderStage = "6h"
	Stage2h  ReminderStage = "2h"
	Stage30m ReminderStage = "30m"
)

// Remaining returns the stage's time-to-deadline threshold.
func (s ReminderStage) Remaining() time.Duration {
	switch s {
	case Stage6h:
		return 6 * time.Hour
	case Stage2h:
		return 2 * time.Hour
	case Stage30m:
		return 30 * time.Minute
	}
	return 0
}

// Invitation is one tokenized remote assessment. The scale version is
// pinned at creation; later republications never affect an in-flight
// invitation.
type Invitation struct {
	ID              uuid.UUID      `json:"id"`
	Token           string         `json:"token"`
	ScaleID         string         `json:"scale_id"`
	ScaleVersion    int            `json:"scale_version"`
	PatientID       uuid.UUID      `json:"patient_id"`
	AdministratorID uuid.UUID      `json:"administrator_id"`
	Recipient       string         `json:"recipient,omitempty"`
	Status          Status         `json:"status"`
	DeliveryMethod  DeliveryMethod `json:"delivery_method"`
	CustomMessage   string         `json:"custom_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ExpiresAt       time.Time      `json:"expires_at"`
	Reminder6hSent  bool           `json:"reminder_6h_sent"`
	Reminder2hSent  bool           `json:"reminder_2h_sent"`
	Reminder30mSent bool           `json:"reminder_30m_sent"`
	ReminderCount   int            `json:"reminder_count"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	ScoreRaw        *int           `json:"score_raw,omitempty"`
	ScoreMax        *int           `json:"score_max,omitempty"`
	Interpretation  string         `json:"interpretation,omitempty"`
	SlotID          *uuid.UUID     `json:"slot_id,omitempty"`
}

// ReminderSent reports whether the given stage already fired.
func (inv *Invitation) ReminderSent(stage ReminderStage) bool {
	switch stage {
	case Stage6h:
		return inv.Reminder6hSent
	case Stage2h:
		return inv.Reminder2hSent
	case Stage30m:
		return inv.Reminder30mSent
	}
	return false
}

// ResultSummary is the persisted outcome of a completed assessment.
type ResultSummary struct {
	Raw            int    `json:"raw"`
	Max            int    `json:"max"`
	Interpretation string `json:"interpretation"`
}

// ProgressSnapshot is the single resumable save point per invitation,
// overwritten in place on every save.
type ProgressSnapshot struct {
	InvitationID       uuid.UUID              `json:"invitation_id"`
	Responses          []scoring.ItemResponse `json:"responses"`
	CurrentItemIndex   int                    `json:"currentItemIndex"`
	PercentageComplete float64                `json:"percentageComplete"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

const tokenBytes = 32

// NewToken returns a 64-character hex token from 256 bits of randomness.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// wellFormedToken screens token input before it reaches storage. Anything
// that fails this check is reported exactly like an absent token.
func wellFormedToken(token string) bool {
	if len(token) != tokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
