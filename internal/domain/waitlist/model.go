// Package waitlist keeps patients waiting for an assessment appointment
// and hands freed slots to the best matching entry. Matching is by
// priority, then request age, filtered by the patient's preferred time
// windows.
package waitlist

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEntryNotFound = errors.New("waitlist entry not found")
	ErrNotWaiting    = errors.New("waitlist entry is not waiting")
)

// Priority orders entries when a slot frees up.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var validPriorities = map[Priority]bool{
	PriorityHigh: true, PriorityMedium: true, PriorityLow: true,
}

// rank gives high the largest value so ordering is priority descending.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Status tracks the entry lifecycle. offered and withdrawn entries never
// return to waiting.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusOffered   Status = "offered"
	StatusWithdrawn Status = "withdrawn"
)

// Window is a weekly recurring availability window in the patient's
// schedule, with times in "15:04" form.
type Window struct {
	Weekday time.Weekday `json:"weekday"`
	Start   string       `json:"start"`
	End     string       `json:"end"`
}

// Contains reports whether the given instant falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if t.Weekday() != w.Weekday {
		return false
	}
	start, err := time.Parse("15:04", w.Start)
	if err != nil {
		return false
	}
	end, err := time.Parse("15:04", w.End)
	if err != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= start.Hour()*60+start.Minute() && minute < end.Hour()*60+end.Minute()
}

func (w Window) validate() error {
	if _, err := time.Parse("15:04", w.Start); err != nil {
		return fmt.Errorf("invalid window start %q", w.Start)
	}
	if _, err := time.Parse("15:04", w.End); err != nil {
		return fmt.Errorf("invalid window end %q", w.End)
	}
	return nil
}

// Entry is one patient waiting for a slot to run a given scale.
type Entry struct {
	ID               uuid.UUID `json:"id"`
	PatientID        uuid.UUID `json:"patient_id"`
	AdministratorID  uuid.UUID `json:"administrator_id"`
	ScaleID          string    `json:"scale_id"`
	Recipient        string    `json:"recipient"`
	Priority         Priority  `json:"priority"`
	PreferredWindows []Window  `json:"preferred_windows,omitempty"`
	Status           Status    `json:"status"`
	RequestedAt      time.Time `json:"requested_at"`
	OfferedAt        *time.Time `json:"offered_at,omitempty"`
}

// Matches reports whether the entry accepts a slot starting at the given
// time. An entry with no preferred windows accepts anything.
func (e *Entry) Matches(slotStart time.Time) bool {
	if len(e.PreferredWindows) == 0 {
		return true
	}
	for _, w := range e.PreferredWindows {
		if w.Contains(slotStart) {
			return true
		}
	}
	return false
}
