package invitation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/psicore/psicore/internal/domain/audit"
	"github.com/psicore/psicore/internal/domain/catalog"
	"github.com/psicore/psicore/internal/domain/scoring"
	"github.com/psicore/psicore/internal/platform/metrics"
	"github.com/psicore/psicore/internal/platform/notification"
)

// Cascader is notified when a cancelled invitation frees an appointment
// slot, so the waiting list can claim it. Implemented by the waitlist
// package; wired after construction to break the package cycle.
type Cascader interface {
	SlotFreed(ctx context.Context, freed *Invitation) error
}

// Options tune the service.
type Options struct {
	// BaseURL prefixes generated assessment links.
	BaseURL string
	// CompletionThreshold is the minimum completion percentage a
	// submission must reach to be accepted. Zero means 100.
	CompletionThreshold float64
	// DefaultExpiryDays applies when a create request omits
	// expiry_days. Zero means 7.
	DefaultExpiryDays int
}

// Service owns the invitation lifecycle. All patient-facing operations
// key on the token; administrator operations key on the id.
type Service struct {
	store      Store
	registry   *catalog.Registry
	auditLog   audit.Repository
	dispatcher notification.Dispatcher
	templates  *notification.TemplateEngine
	cascader   Cascader
	log        zerolog.Logger
	opts       Options
	now        func() time.Time
}

func NewService(store Store, registry *catalog.Registry, auditLog audit.Repository,
	dispatcher notification.Dispatcher, templates *notification.TemplateEngine,
	log zerolog.Logger, opts Options) *Service {
	return &Service{
		store:      store,
		registry:   registry,
		auditLog:   auditLog,
		dispatcher: dispatcher,
		templates:  templates,
		log:        log.With().Str("component", "invitation").Logger(),
		opts:       opts,
		now:        time.Now,
	}
}

// SetCascader wires the waiting-list cascader after construction.
func (s *Service) SetCascader(c Cascader) { s.cascader = c }

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) defaultExpiryDays() int {
	if s.opts.DefaultExpiryDays < 1 {
		return 7
	}
	return s.opts.DefaultExpiryDays
}

func (s *Service) threshold() float64 {
	if s.opts.CompletionThreshold <= 0 {
		return 100
	}
	return s.opts.CompletionThreshold
}

// AssessmentLink builds the patient-facing URL for a token.
func (s *Service) AssessmentLink(token string) string {
	return s.opts.BaseURL + "/assessments/" + token
}

// Meta carries request metadata into the audit trail.
type Meta struct {
	IPAddress string
	UserAgent string
}

// CreateParams are the administrator's inputs for a new invitation.
type CreateParams struct {
	ScaleID         string         `json:"scale_id"`
	ScaleVersion    int            `json:"scale_version,omitempty"`
	PatientID       uuid.UUID      `json:"patient_id"`
	AdministratorID uuid.UUID      `json:"administrator_id"`
	Recipient       string         `json:"recipient,omitempty"`
	ExpiryDays      int            `json:"expiry_days"`
	DeliveryMethod  DeliveryMethod `json:"delivery_method"`
	CustomMessage   string         `json:"custom_message,omitempty"`
	SlotID          *uuid.UUID     `json:"slot_id,omitempty"`
}

// Create issues a new invitation in pending state, pinned to the scale
// version current at creation, and dispatches the invitation notification.
// For copy_link no delivery happens; the caller receives the link.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Invitation, string, error) {
	if !validDeliveryMethods[p.DeliveryMethod] {
		return nil, "", fmt.Errorf("%w: unknown delivery method %q", ErrInvalidInput, p.DeliveryMethod)
	}
	if p.ExpiryDays == 0 {
		p.ExpiryDays = s.defaultExpiryDays()
	}
	if p.ExpiryDays < 1 {
		return nil, "", fmt.Errorf("%w: expiry_days must be at least 1", ErrInvalidInput)
	}
	if p.PatientID == uuid.Nil || p.AdministratorID == uuid.Nil {
		return nil, "", fmt.Errorf("%w: patient_id and administrator_id are required", ErrInvalidInput)
	}
	if p.DeliveryMethod != DeliveryCopyLink && p.Recipient == "" {
		return nil, "", fmt.Errorf("%w: recipient is required for %s delivery", ErrInvalidInput, p.DeliveryMethod)
	}

	var scale *catalog.ValidatedScale
	var err error
	if p.ScaleVersion > 0 {
		scale, err = s.registry.Get(p.ScaleID, p.ScaleVersion)
	} else {
		scale, err = s.registry.Latest(p.ScaleID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	token, err := NewToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}

	now := s.now().UTC()
	inv := &Invitation{
		ID:              uuid.New(),
		Token:           token,
		ScaleID:         scale.ID,
		ScaleVersion:    scale.Version,
		PatientID:       p.PatientID,
		AdministratorID: p.AdministratorID,
		Recipient:       p.Recipient,
		Status:          StatusPending,
		DeliveryMethod:  p.DeliveryMethod,
		CustomMessage:   p.CustomMessage,
		CreatedAt:       now,
		ExpiresAt:       now.AddDate(0, 0, p.ExpiryDays),
		SlotID:          p.SlotID,
	}
	if err := s.store.Create(ctx, inv); err != nil {
		return nil, "", fmt.Errorf("create invitation: %w", err)
	}
	metrics.RecordInvitationCreated(inv.ScaleID, string(inv.DeliveryMethod))

	link := s.AssessmentLink(token)
	if ch, deliverable := deliveryChannel(p.DeliveryMethod); deliverable {
		msg, err := s.templates.Render(notification.TemplateInvitation, map[string]string{
			"scale_name":     scale.Name,
			"link":           link,
			"expires_at":     inv.ExpiresAt.Format(time.RFC1123),
			"custom_message": p.CustomMessage,
		})
		if err == nil {
			err = s.dispatcher.Send(ctx, ch, p.Recipient, msg)
		}
		if err != nil {
			// Delivery problems never fail creation; the administrator
			// still gets the link back.
			s.log.Error().Err(err).Str("invitation_id", inv.ID.String()).Msg("invitation delivery failed")
		}
	}
	return inv, link, nil
}

func deliveryChannel(m DeliveryMethod) (notification.Channel, bool) {
	switch m {
	case DeliveryEmail:
		return notification.ChannelEmail, true
	case DeliverySMS:
		return notification.ChannelSMS, true
	case DeliveryWhatsApp:
		return notification.ChannelWhatsApp, true
	}
	return "", false
}

// resolveActive maps a raw token to a live invitation. Malformed tokens and
// unknown tokens return the identical ErrTokenNotFound. Cancelled
// invitations present to patients exactly like expired ones. A passed
// deadline is reported as expired without mutating the row; the scheduler
// owns the persisted transition.
func (s *Service) resolveActive(ctx context.Context, token string) (*Invitation, error) {
	if !wellFormedToken(token) {
		return nil, ErrTokenNotFound
	}
	inv, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case StatusCompleted:
		return nil, ErrAlreadyCompleted
	case StatusExpired, StatusCancelled:
		return nil, ErrTokenExpired
	}
	if !s.now().Before(inv.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return inv, nil
}

// AssessmentView is the patient-facing rendering payload: the pinned scale
// version's items and options, without interpretation ranges.
type AssessmentView struct {
	ScaleID        string                              `json:"scale_id"`
	ScaleVersion   int                                 `json:"scale_version"`
	Name           string                              `json:"name"`
	Abbreviation   string                              `json:"abbreviation,omitempty"`
	Mode           catalog.AdministrationMode          `json:"mode"`
	Items          []catalog.ScaleItem                 `json:"items"`
	GlobalOptions  []catalog.ResponseOption            `json:"global_options,omitempty"`
	ResponseGroups map[string][]catalog.ResponseOption `json:"response_groups,omitempty"`
	ExpiresAt      time.Time                           `json:"expires_at"`
	Progress       *ProgressSnapshot                   `json:"progress,omitempty"`
}

// Access handles a patient opening the link. The first view moves a
// pending invitation to accessed; repeat views only log.
func (s *Service) Access(ctx context.Context, token string, meta Meta) (*AssessmentView, error) {
	inv, err := s.resolveActive(ctx, token)
	if err != nil {
		return nil, err
	}
	scale, err := s.registry.Get(inv.ScaleID, inv.ScaleVersion)
	if err != nil {
		return nil, fmt.Errorf("load scale for invitation %s: %w", inv.ID, err)
	}

	if inv.Status == StatusPending {
		if _, err := s.store.MarkAccessed(ctx, inv.ID); err != nil {
			return nil, fmt.Errorf("mark accessed: %w", err)
		}
	}
	s.appendAudit(ctx, inv.ID, audit.ActionView, audit.ActorPatient, meta, "")

	progress, err := s.store.GetProgress(ctx, inv.ID)
	if err != nil {
		s.log.Error().Err(err).Str("invitation_id", inv.ID.String()).Msg("load progress failed")
	}
	return &AssessmentView{
		ScaleID:        scale.ID,
		ScaleVersion:   scale.Version,
		Name:           scale.Name,
		Abbreviation:   scale.Abbreviation,
		Mode:           scale.Mode,
		Items:          scale.Items,
		GlobalOptions:  scale.GlobalOptions,
		ResponseGroups: scale.ResponseGroups,
		ExpiresAt:      inv.ExpiresAt,
		Progress:       progress,
	}, nil
}

// SaveProgress stores the single resumable snapshot for the invitation,
// overwriting any previous one. It does not require a prior view: a
// pending invitation is moved through accessed into in_progress here.
func (s *Service) SaveProgress(ctx context.Context, token string, snap ProgressSnapshot, meta Meta) error {
	inv, err := s.resolveActive(ctx, token)
	if err != nil {
		return err
	}
	scale, err := s.registry.Get(inv.ScaleID, inv.ScaleVersion)
	if err != nil {
		return fmt.Errorf("load scale for invitation %s: %w", inv.ID, err)
	}
	if err := validateResponses(scale, snap.Responses); err != nil {
		return err
	}

	action := audit.ActionSaveProgress
	if inv.Status == StatusPending {
		if _, err := s.store.MarkAccessed(ctx, inv.ID); err != nil {
			return fmt.Errorf("mark accessed: %w", err)
		}
		inv.Status = StatusAccessed
	}
	if inv.Status == StatusAccessed {
		started, err := s.store.MarkInProgress(ctx, inv.ID)
		if err != nil {
			return fmt.Errorf("mark in progress: %w", err)
		}
		if started {
			action = audit.ActionStart
		}
	}

	snap.InvitationID = inv.ID
	snap.UpdatedAt = s.now().UTC()
	if err := s.store.SaveProgress(ctx, &snap); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	s.appendAudit(ctx, inv.ID, action, audit.ActorPatient, meta, "")
	return nil
}

// Complete scores the submission and finishes the invitation. Terminal
// invitations are rejected before the scoring engine ever runs. The
// transition is a compare-and-set; losing it means the state changed
// underneath and the persisted row decides the error.
func (s *Service) Complete(ctx context.Context, token string, responses []scoring.ItemResponse, meta Meta) (*scoring.Result, error) {
	inv, err := s.resolveActive(ctx, token)
	if err != nil {
		return nil, err
	}
	scale, err := s.registry.Get(inv.ScaleID, inv.ScaleVersion)
	if err != nil {
		return nil, fmt.Errorf("load scale for invitation %s: %w", inv.ID, err)
	}
	if err := validateResponses(scale, responses); err != nil {
		return nil, err
	}

	result, err := scoring.Score(responses, scale, scoring.Options{InterpretationThreshold: s.threshold()})
	if err != nil {
		if errors.Is(err, scoring.ErrValidation) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}
	if result.Interpretation == nil {
		return nil, fmt.Errorf("%w: %.0f%% answered, %.0f%% required to submit",
			ErrInvalidInput, result.Completion, s.threshold())
	}

	if inv.Status == StatusPending {
		if _, err := s.store.MarkAccessed(ctx, inv.ID); err != nil {
			return nil, fmt.Errorf("mark accessed: %w", err)
		}
	}

	summary := ResultSummary{
		Raw:            result.RawScore,
		Max:            result.ScoreMax,
		Interpretation: result.Interpretation.Severity,
	}
	claimed, err := s.store.Complete(ctx, inv.ID, summary, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("complete invitation: %w", err)
	}
	if !claimed {
		return nil, s.lostTransitionError(ctx, inv.ID)
	}
	metrics.RecordInvitationCompleted(inv.ScaleID, summary.Interpretation)

	if err := s.store.DeleteProgress(ctx, inv.ID); err != nil {
		s.log.Error().Err(err).Str("invitation_id", inv.ID.String()).Msg("delete progress failed")
	}
	s.appendAudit(ctx, inv.ID, audit.ActionComplete, audit.ActorPatient, meta,
		fmt.Sprintf("raw=%d interpretation=%s", summary.Raw, summary.Interpretation))
	return result, nil
}

// lostTransitionError re-reads the row after a lost compare-and-set and
// derives the caller-facing error from whatever state won.
func (s *Service) lostTransitionError(ctx context.Context, id uuid.UUID) error {
	inv, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch inv.Status {
	case StatusCompleted:
		return ErrAlreadyCompleted
	case StatusCancelled, StatusExpired:
		return ErrTokenExpired
	}
	return ErrTokenExpired
}

// Cancel is the administrator's explicit termination of a non-terminal
// invitation. Cancelling an invitation holding a slot hands the slot to
// the waiting list.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	claimed, err := s.store.Cancel(ctx, id)
	if err != nil {
		return fmt.Errorf("cancel invitation: %w", err)
	}
	if !claimed {
		inv, err := s.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		switch inv.Status {
		case StatusCompleted:
			return ErrAlreadyCompleted
		case StatusExpired:
			return ErrTokenExpired
		case StatusCancelled:
			return ErrCancelled
		}
		return ErrCancelled
	}

	if err := s.store.DeleteProgress(ctx, id); err != nil {
		s.log.Error().Err(err).Str("invitation_id", id.String()).Msg("delete progress failed")
	}
	s.appendAudit(ctx, id, audit.ActionCancel, audit.ActorAdministrator, Meta{}, "")

	inv, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil
	}
	if inv.SlotID != nil && s.cascader != nil {
		if err := s.cascader.SlotFreed(ctx, inv); err != nil {
			s.log.Error().Err(err).Str("invitation_id", id.String()).Msg("waitlist cascade failed")
		}
	}
	return nil
}

// Get returns an invitation by id for the administrator surface.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invitation, error) {
	return s.store.GetByID(ctx, id)
}

// List returns one page of the administrator's invitations, newest
// first, plus the unpaged total.
func (s *Service) List(ctx context.Context, administratorID uuid.UUID, limit, offset int) ([]*Invitation, int, error) {
	return s.store.ListByAdministrator(ctx, administratorID, limit, offset)
}

func (s *Service) appendAudit(ctx context.Context, id uuid.UUID, action audit.Action, actor audit.ActorKind, meta Meta, detail string) {
	err := s.auditLog.Append(ctx, &audit.Entry{
		InvitationID: id,
		Action:       action,
		Actor:        actor,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Detail:       detail,
	})
	if err != nil {
		s.log.Error().Err(err).Str("invitation_id", id.String()).Str("action", string(action)).Msg("audit append failed")
	}
}

// validateResponses checks each answer's shape against the item's declared
// question type before it is accepted into a snapshot or a submission.
func validateResponses(scale *catalog.ValidatedScale, responses []scoring.ItemResponse) error {
	seen := make(map[int]bool, len(responses))
	for _, r := range responses {
		item, ok := scale.Item(r.Item)
		if !ok {
			return fmt.Errorf("%w: unknown item number %d", ErrInvalidInput, r.Item)
		}
		if seen[r.Item] {
			return fmt.Errorf("%w: duplicate response for item %d", ErrInvalidInput, r.Item)
		}
		seen[r.Item] = true

		switch item.Type {
		case catalog.QuestionFreeText:
			if r.Value != "" || len(r.Values) > 0 {
				return fmt.Errorf("%w: item %d is free text and takes only a text answer", ErrInvalidInput, r.Item)
			}
		case catalog.QuestionChecklist, catalog.QuestionRanking:
			if r.Text != "" || r.Value != "" {
				return fmt.Errorf("%w: item %d takes a list of selected values", ErrInvalidInput, r.Item)
			}
			if len(r.Values) == 0 {
				return fmt.Errorf("%w: item %d has an empty answer", ErrInvalidInput, r.Item)
			}
			for _, v := range r.Values {
				if _, ok := scale.OptionScore(r.Item, v); !ok {
					return fmt.Errorf("%w: item %d: unknown option value %q", ErrInvalidInput, r.Item, v)
				}
			}
		default:
			if r.Text != "" || len(r.Values) > 0 {
				return fmt.Errorf("%w: item %d takes a single value answer", ErrInvalidInput, r.Item)
			}
			if r.Value == "" {
				return fmt.Errorf("%w: item %d has an empty answer", ErrInvalidInput, r.Item)
			}
			if _, ok := scale.OptionScore(r.Item, r.Value); !ok {
				return fmt.Errorf("%w: item %d: unknown option value %q", ErrInvalidInput, r.Item, r.Value)
			}
		}
	}
	return nil
}
