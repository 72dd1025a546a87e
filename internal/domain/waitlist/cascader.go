package waitlist

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/psicore/psicore/internal/domain/invitation"
	"github.com/psicore/psicore/internal/platform/metrics"
)

// InvitationCreator issues fresh invitations for the winning entry.
// Implemented by the invitation service.
type InvitationCreator interface {
	Create(ctx context.Context, p invitation.CreateParams) (*invitation.Invitation, string, error)
}

// Cascader watches invitations whose slot frees up and offers the slot to
// the best waiting entry: priority descending, oldest request first,
// filtered by the entry's preferred windows against the slot's start time.
type Cascader struct {
	repo       Repository
	slots      SlotDirectory
	creator    InvitationCreator
	expiryDays int
	log        zerolog.Logger
}

func NewCascader(repo Repository, slots SlotDirectory, creator InvitationCreator, expiryDays int, log zerolog.Logger) *Cascader {
	if expiryDays < 1 {
		expiryDays = 3
	}
	return &Cascader{
		repo:       repo,
		slots:      slots,
		creator:    creator,
		expiryDays: expiryDays,
		log:        log.With().Str("component", "waitlist").Logger(),
	}
}

// SlotFreed implements invitation.Cascader. No matching entry means the
// slot is released silently; a freed slot never errors the caller's
// transition.
func (c *Cascader) SlotFreed(ctx context.Context, freed *invitation.Invitation) error {
	if freed.SlotID == nil {
		return nil
	}
	slot, err := c.slots.GetSlot(ctx, *freed.SlotID)
	if err != nil {
		return fmt.Errorf("resolve freed slot %s: %w", freed.SlotID, err)
	}

	winner, err := c.nextMatch(ctx, freed.ScaleID, slot)
	if err != nil {
		return err
	}
	if winner == nil {
		metrics.RecordCascadeOutcome("released")
		c.log.Info().Str("slot_id", slot.ID.String()).Str("scale_id", freed.ScaleID).
			Msg("no waiting entry matches freed slot")
		return nil
	}

	inv, _, err := c.creator.Create(ctx, invitation.CreateParams{
		ScaleID:         winner.ScaleID,
		PatientID:       winner.PatientID,
		AdministratorID: winner.AdministratorID,
		Recipient:       winner.Recipient,
		ExpiryDays:      c.expiryDays,
		DeliveryMethod:  invitation.DeliveryEmail,
		SlotID:          &slot.ID,
	})
	if err != nil {
		return fmt.Errorf("create cascade invitation for entry %s: %w", winner.ID, err)
	}
	metrics.RecordCascadeOutcome("offered")

	c.log.Info().
		Str("slot_id", slot.ID.String()).
		Str("entry_id", winner.ID.String()).
		Str("invitation_id", inv.ID.String()).
		Msg("freed slot offered to waitlist entry")
	return nil
}

// nextMatch walks the ordered waiting entries and claims the first whose
// windows accept the slot. Claiming is a compare-and-set; losing it means
// another cascade took the entry and the walk continues.
func (c *Cascader) nextMatch(ctx context.Context, scaleID string, slot *Slot) (*Entry, error) {
	entries, err := c.repo.ListWaiting(ctx, scaleID)
	if err != nil {
		return nil, fmt.Errorf("list waiting entries: %w", err)
	}
	for _, e := range entries {
		if !e.Matches(slot.Start) {
			continue
		}
		claimed, err := c.repo.MarkOffered(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("mark entry %s offered: %w", e.ID, err)
		}
		if claimed {
			return e, nil
		}
	}
	return nil, nil
}
