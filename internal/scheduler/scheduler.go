// Package scheduler drives invitation deadlines: staged reminders as the
// deadline approaches and expiration plus waitlist cascade once it
// passes. Every decision derives from persisted fields, so ticks are
// stateless and replayable after a restart, and concurrent schedulers
// settle each transition through the store's compare-and-set operations.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/psicore/psicore/internal/domain/audit"
	"github.com/psicore/psicore/internal/domain/catalog"
	"github.com/psicore/psicore/internal/domain/invitation"
	"github.com/psicore/psicore/internal/platform/metrics"
	"github.com/psicore/psicore/internal/platform/notification"
)

// DefaultTickInterval is used when Options carries none.
const DefaultTickInterval = 5 * time.Minute

// stages in descending threshold order; each fires at most once per
// invitation, claimed through the store's reminder flags.
var stages = []invitation.ReminderStage{
	invitation.Stage6h,
	invitation.Stage2h,
	invitation.Stage30m,
}

// Options tune the scheduler.
type Options struct {
	TickInterval time.Duration
	// BaseURL prefixes assessment links placed in reminder messages.
	BaseURL string
}

// Scheduler is explicitly constructed and dependency-injected; there is
// exactly one way to build it and nothing global.
type Scheduler struct {
	store      invitation.Store
	registry   *catalog.Registry
	auditLog   audit.Repository
	dispatcher notification.Dispatcher
	templates  *notification.TemplateEngine
	cascader   invitation.Cascader

	log      zerolog.Logger
	interval time.Duration
	baseURL  string
	inFlight atomic.Bool
	now      func() time.Time
}

// New builds a Scheduler. cascader may be nil when no waiting list is
// configured.
func New(store invitation.Store, registry *catalog.Registry, auditLog audit.Repository,
	dispatcher notification.Dispatcher, templates *notification.TemplateEngine,
	cascader invitation.Cascader, log zerolog.Logger, opts Options) *Scheduler {
	interval := opts.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{
		store:      store,
		registry:   registry,
		auditLog:   auditLog,
		dispatcher: dispatcher,
		templates:  templates,
		cascader:   cascader,
		log:        log.With().Str("component", "scheduler").Logger(),
		interval:   interval,
		baseURL:    opts.BaseURL,
		now:        time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick processes every active invitation once. A tick that fires while
// the previous one is still running is skipped, never queued; the next
// tick picks up whatever is still pending from persisted state.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.RecordTickSkipped()
		s.log.Warn().Msg("previous tick still running, skipping")
		return
	}
	defer s.inFlight.Store(false)

	start := s.now()
	defer func() { metrics.ObserveTickDuration(s.now().Sub(start)) }()

	active, err := s.store.ListActive(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list active invitations failed")
		return
	}

	for _, inv := range active {
		now := s.now()
		if !now.Before(inv.ExpiresAt) {
			s.expire(ctx, inv)
			continue
		}
		remaining := inv.ExpiresAt.Sub(now)
		for _, stage := range stages {
			if remaining >= stage.Remaining() || inv.ReminderSent(stage) {
				continue
			}
			s.remind(ctx, inv, stage, remaining)
		}
	}
}

func (s *Scheduler) expire(ctx context.Context, inv *invitation.Invitation) {
	claimed, err := s.store.Expire(ctx, inv.ID)
	if err != nil {
		s.log.Error().Err(err).Str("invitation_id", inv.ID.String()).Msg("expire failed")
		return
	}
	if !claimed {
		// Completed or cancelled between listing and here, or another
		// scheduler expired it. Either way there is nothing left to do.
		return
	}
	metrics.RecordInvitationExpired()
	if err := s.store.DeleteProgress(ctx, inv.ID); err != nil {
		s.log.Error().Err(err).Str("invitation_id", inv.ID.String()).Msg("delete progress failed")
	}
	s.appendAudit(ctx, inv, audit.ActionExpire, "")
	s.log.Info().Str("invitation_id", inv.ID.String()).Str("scale_id", inv.ScaleID).Msg("invitation expired")

	s.notify(ctx, inv, notification.TemplateExpired, map[string]string{
		"scale_name": s.scaleName(inv),
		"expires_at": inv.ExpiresAt.Format(time.RFC1123),
	})

	if inv.SlotID != nil && s.cascader != nil {
		if err := s.cascader.SlotFreed(ctx, inv); err != nil {
			metrics.RecordCascadeOutcome("failed")
			s.log.Error().Err(err).Str("invitation_id", inv.ID.String()).Msg("waitlist cascade failed")
		}
	}
}

func (s *Scheduler) remind(ctx context.Context, inv *invitation.Invitation, stage invitation.ReminderStage, remaining time.Duration) {
	claimed, err := s.store.ClaimReminder(ctx, inv.ID, stage)
	if err != nil {
		s.log.Error().Err(err).Str("invitation_id", inv.ID.String()).Str("stage", string(stage)).Msg("claim reminder failed")
		return
	}
	if !claimed {
		return
	}
	metrics.RecordReminderSent(string(stage))
	s.appendAudit(ctx, inv, audit.ActionRemind, fmt.Sprintf("stage=%s", stage))

	s.notify(ctx, inv, notification.TemplateReminder, map[string]string{
		"scale_name": s.scaleName(inv),
		"remaining":  remaining.Round(time.Minute).String(),
		"link":       s.baseURL + "/assessments/" + inv.Token,
	})
}

// notify renders and dispatches a message over the invitation's delivery
// channel. Failures are logged and counted, never propagated: a broken
// provider must not abort the tick or undo a claimed transition.
func (s *Scheduler) notify(ctx context.Context, inv *invitation.Invitation, templateID string, data map[string]string) {
	ch, deliverable := channelFor(inv.DeliveryMethod)
	if !deliverable || inv.Recipient == "" {
		return
	}
	msg, err := s.templates.Render(templateID, data)
	if err == nil {
		err = s.dispatcher.Send(ctx, ch, inv.Recipient, msg)
	}
	if err != nil {
		metrics.RecordNotificationFailure(string(ch))
		s.log.Error().Err(err).
			Str("invitation_id", inv.ID.String()).
			Str("template", templateID).
			Msg("notification delivery failed")
	}
}

func channelFor(m invitation.DeliveryMethod) (notification.Channel, bool) {
	switch m {
	case invitation.DeliveryEmail:
		return notification.ChannelEmail, true
	case invitation.DeliverySMS:
		return notification.ChannelSMS, true
	case invitation.DeliveryWhatsApp:
		return notification.ChannelWhatsApp, true
	}
	return "", false
}

func (s *Scheduler) scaleName(inv *invitation.Invitation) string {
	vs, err := s.registry.Get(inv.ScaleID, inv.ScaleVersion)
	if err != nil {
		return inv.ScaleID
	}
	return vs.Name
}

func (s *Scheduler) appendAudit(ctx context.Context, inv *invitation.Invitation, action audit.Action, detail string) {
	err := s.auditLog.Append(ctx, &audit.Entry{
		InvitationID: inv.ID,
		Action:       action,
		Actor:        audit.ActorScheduler,
		Detail:       detail,
	})
	if err != nil {
		s.log.Error().Err(err).Str("invitation_id", inv.ID.String()).Str("action", string(action)).Msg("audit append failed")
	}
}
