package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/psicore/psicore/internal/domain/audit"
	"github.com/psicore/psicore/internal/domain/catalog"
	"github.com/psicore/psicore/internal/domain/invitation"
	"github.com/psicore/psicore/internal/domain/scoring"
	"github.com/psicore/psicore/internal/platform/notification"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (r *recordingAudit) Append(_ context.Context, e *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *recordingAudit) ListByInvitation(_ context.Context, id uuid.UUID) ([]*audit.Entry, error) {
	return nil, nil
}

func (r *recordingAudit) ListRange(_ context.Context, from, to time.Time) ([]*audit.Entry, error) {
	return nil, nil
}

func (r *recordingAudit) count(action audit.Action) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

type recordingDispatcher struct {
	mu    sync.Mutex
	sends []notification.Message
}

func (r *recordingDispatcher) Send(_ context.Context, _ notification.Channel, _ string, msg notification.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, msg)
	return nil
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends)
}

type recordingCascader struct {
	mu    sync.Mutex
	freed []*invitation.Invitation
}

func (r *recordingCascader) SlotFreed(_ context.Context, inv *invitation.Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.freed = append(r.freed, inv)
	return nil
}

type harness struct {
	sched      *Scheduler
	store      *invitation.MemoryStore
	auditLog   *recordingAudit
	dispatcher *recordingDispatcher
	cascader   *recordingCascader
	clock      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := catalog.NewRegistry()
	for _, def := range catalog.SeedDefinitions() {
		vs, err := catalog.Load(def)
		if err != nil {
			t.Fatalf("load seed: %v", err)
		}
		if err := reg.Register(vs); err != nil {
			t.Fatalf("register seed: %v", err)
		}
	}

	h := &harness{
		store:      invitation.NewMemoryStore(),
		auditLog:   &recordingAudit{},
		dispatcher: &recordingDispatcher{},
		cascader:   &recordingCascader{},
		clock:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	h.sched = New(h.store, reg, h.auditLog, h.dispatcher, notification.NewTemplateEngine(),
		h.cascader, zerolog.Nop(), Options{BaseURL: "https://assess.example.org"})
	h.sched.SetClock(func() time.Time { return h.clock })
	return h
}

func (h *harness) createInvitation(t *testing.T, ttl time.Duration, slotID *uuid.UUID) *invitation.Invitation {
	t.Helper()
	token, err := invitation.NewToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	inv := &invitation.Invitation{
		ID:              uuid.New(),
		Token:           token,
		ScaleID:         "phq9",
		ScaleVersion:    1,
		PatientID:       uuid.New(),
		AdministratorID: uuid.New(),
		Recipient:       "patient@example.org",
		Status:          invitation.StatusPending,
		DeliveryMethod:  invitation.DeliveryEmail,
		CreatedAt:       h.clock,
		ExpiresAt:       h.clock.Add(ttl),
		SlotID:          slotID,
	}
	if err := h.store.Create(context.Background(), inv); err != nil {
		t.Fatalf("create: %v", err)
	}
	return inv
}

func (h *harness) advanceTo(offset time.Duration, created time.Time) {
	h.clock = created.Add(offset)
}

// The 24-hour reference timeline: a reminder at each threshold, exactly
// once, then expiry with a cascade for the slotted invitation.
func TestTick_Timeline(t *testing.T) {
	h := newHarness(t)
	slotID := uuid.New()
	inv := h.createInvitation(t, 24*time.Hour, &slotID)
	created := h.clock
	ctx := context.Background()

	// t = 12h: remaining 12h, nothing to do.
	h.advanceTo(12*time.Hour, created)
	h.sched.Tick(ctx)
	if got := h.dispatcher.count(); got != 0 {
		t.Fatalf("no reminder expected at 12h, got %d sends", got)
	}

	// t = 18h01: remaining < 6h, the 6h reminder fires once.
	h.advanceTo(18*time.Hour+time.Minute, created)
	h.sched.Tick(ctx)
	h.sched.Tick(ctx)
	if got := h.dispatcher.count(); got != 1 {
		t.Fatalf("6h reminder must fire exactly once, got %d sends", got)
	}

	// t = 22h01: the 2h reminder joins.
	h.advanceTo(22*time.Hour+time.Minute, created)
	h.sched.Tick(ctx)
	if got := h.dispatcher.count(); got != 2 {
		t.Fatalf("expected 2 sends after the 2h reminder, got %d", got)
	}

	// t = 23h31: the 30m reminder.
	h.advanceTo(23*time.Hour+31*time.Minute, created)
	h.sched.Tick(ctx)
	if got := h.dispatcher.count(); got != 3 {
		t.Fatalf("expected 3 sends after the 30m reminder, got %d", got)
	}
	if got := h.auditLog.count(audit.ActionRemind); got != 3 {
		t.Errorf("remind audit entries = %d, want 3", got)
	}

	// t = 24h01: expiry, expiry notice, cascade for the freed slot.
	h.advanceTo(24*time.Hour+time.Minute, created)
	h.sched.Tick(ctx)
	stored, _ := h.store.GetByID(ctx, inv.ID)
	if stored.Status != invitation.StatusExpired {
		t.Errorf("status = %s, want expired", stored.Status)
	}
	if got := h.auditLog.count(audit.ActionExpire); got != 1 {
		t.Errorf("expire audit entries = %d, want 1", got)
	}
	if got := h.dispatcher.count(); got != 4 {
		t.Errorf("expected an expiry notice as the 4th send, got %d", got)
	}
	if len(h.cascader.freed) != 1 || *h.cascader.freed[0].SlotID != slotID {
		t.Errorf("cascade not invoked with the freed slot: %+v", h.cascader.freed)
	}

	// Replay after expiry changes nothing.
	h.sched.Tick(ctx)
	if got := h.auditLog.count(audit.ActionExpire); got != 1 {
		t.Errorf("expire must not repeat, got %d entries", got)
	}
	if got := stored.ReminderCount; got != 3 {
		t.Errorf("reminder_count = %d, want 3", got)
	}
}

// Expiry is a terminal state: the saved progress snapshot is destroyed
// along with the transition.
func TestTick_ExpiryDestroysProgressSnapshot(t *testing.T) {
	h := newHarness(t)
	inv := h.createInvitation(t, 24*time.Hour, nil)
	created := h.clock
	ctx := context.Background()

	snap := &invitation.ProgressSnapshot{
		InvitationID: inv.ID,
		Responses: []scoring.ItemResponse{
			{Item: 1, Value: "1"},
			{Item: 2, Value: "2"},
		},
		CurrentItemIndex:   2,
		PercentageComplete: 22,
		UpdatedAt:          h.clock,
	}
	if err := h.store.SaveProgress(ctx, snap); err != nil {
		t.Fatalf("save progress: %v", err)
	}

	h.advanceTo(24*time.Hour+time.Minute, created)
	h.sched.Tick(ctx)

	stored, err := h.store.GetByID(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != invitation.StatusExpired {
		t.Fatalf("status = %s, want expired", stored.Status)
	}
	if got, _ := h.store.GetProgress(ctx, inv.ID); got != nil {
		t.Errorf("snapshot survived expiry: %+v", got)
	}
}

// A fresh scheduler against the same store derives everything from
// persisted flags and never re-fires a claimed reminder.
func TestTick_RestartSafe(t *testing.T) {
	h := newHarness(t)
	h.createInvitation(t, 24*time.Hour, nil)
	created := h.clock
	ctx := context.Background()

	h.advanceTo(19*time.Hour, created)
	h.sched.Tick(ctx)
	if got := h.dispatcher.count(); got != 1 {
		t.Fatalf("expected 1 send, got %d", got)
	}

	reg := catalog.NewRegistry()
	for _, def := range catalog.SeedDefinitions() {
		vs, _ := catalog.Load(def)
		reg.Register(vs)
	}
	replacement := New(h.store, reg, h.auditLog, h.dispatcher, notification.NewTemplateEngine(),
		nil, zerolog.Nop(), Options{})
	replacement.SetClock(func() time.Time { return h.clock })

	replacement.Tick(ctx)
	if got := h.dispatcher.count(); got != 1 {
		t.Errorf("restarted scheduler re-fired a claimed reminder: %d sends", got)
	}
}

func TestTick_CancelledSkipped(t *testing.T) {
	h := newHarness(t)
	slotID := uuid.New()
	inv := h.createInvitation(t, 24*time.Hour, &slotID)
	created := h.clock
	ctx := context.Background()

	if _, err := h.store.Cancel(ctx, inv.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	h.advanceTo(25*time.Hour, created)
	h.sched.Tick(ctx)

	stored, _ := h.store.GetByID(ctx, inv.ID)
	if stored.Status != invitation.StatusCancelled {
		t.Errorf("cancelled invitation mutated to %s", stored.Status)
	}
	if got := h.auditLog.count(audit.ActionExpire); got != 0 {
		t.Errorf("cancelled invitation must not expire, got %d entries", got)
	}
	if len(h.cascader.freed) != 0 {
		t.Error("scheduler must not cascade a cancelled invitation; the cancel path owns it")
	}
}

// blockingStore holds ListActive until released, so a second tick can be
// fired while the first is still inside.
type blockingStore struct {
	invitation.Store
	enter   chan struct{}
	release chan struct{}
}

func (b *blockingStore) ListActive(ctx context.Context) ([]*invitation.Invitation, error) {
	b.enter <- struct{}{}
	<-b.release
	return b.Store.ListActive(ctx)
}

func TestTick_OverlapSkipped(t *testing.T) {
	h := newHarness(t)
	h.createInvitation(t, 24*time.Hour, nil)
	created := h.clock
	h.advanceTo(19*time.Hour, created)

	bs := &blockingStore{Store: h.store, enter: make(chan struct{}), release: make(chan struct{})}
	reg := catalog.NewRegistry()
	for _, def := range catalog.SeedDefinitions() {
		vs, _ := catalog.Load(def)
		reg.Register(vs)
	}
	sched := New(bs, reg, h.auditLog, h.dispatcher, notification.NewTemplateEngine(),
		nil, zerolog.Nop(), Options{})
	sched.SetClock(func() time.Time { return h.clock })

	done := make(chan struct{})
	go func() {
		sched.Tick(context.Background())
		close(done)
	}()
	<-bs.enter // first tick is inside ListActive

	// The overlapping tick returns immediately without touching the store.
	sched.Tick(context.Background())

	close(bs.release)
	<-done

	if got := h.dispatcher.count(); got != 1 {
		t.Errorf("sends = %d, want 1: the skipped tick must not duplicate work", got)
	}
}
