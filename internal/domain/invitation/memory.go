package invitation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store with the same compare-and-set
// semantics as the SQL implementation. It backs the sandbox mode and the
// test suites of packages that depend on a Store.
type MemoryStore struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*Invitation
	byToken  map[string]uuid.UUID
	progress map[uuid.UUID]*ProgressSnapshot

	completeCalls int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[uuid.UUID]*Invitation),
		byToken:  make(map[string]uuid.UUID),
		progress: make(map[uuid.UUID]*ProgressSnapshot),
	}
}

func (m *MemoryStore) Create(_ context.Context, inv *Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	cp := *inv
	m.byID[inv.ID] = &cp
	m.byToken[inv.Token] = inv.ID
	return nil
}

func (m *MemoryStore) GetByToken(_ context.Context, token string) (*Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *MemoryStore) ListByAdministrator(_ context.Context, adminID uuid.UUID, limit, offset int) ([]*Invitation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Invitation
	for _, inv := range m.byID {
		if inv.AdministratorID == adminID {
			cp := *inv
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return []*Invitation{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]*Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Invitation
	for _, inv := range m.byID {
		if !inv.Status.Terminal() {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkAccessed(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[id]
	if !ok || inv.Status != StatusPending {
		return false, nil
	}
	inv.Status = StatusAccessed
	return true, nil
}

func (m *MemoryStore) MarkInProgress(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[id]
	if !ok || inv.Status != StatusAccessed {
		return false, nil
	}
	inv.Status = StatusInProgress
	return true, nil
}

func (m *MemoryStore) Complete(_ context.Context, id uuid.UUID, summary ResultSummary, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeCalls++
	inv, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	if inv.Status != StatusAccessed && inv.Status != StatusInProgress {
		return false, nil
	}
	if !inv.ExpiresAt.After(at) {
		return false, nil
	}
	inv.Status = StatusCompleted
	inv.CompletedAt = &at
	inv.ScoreRaw = &summary.Raw
	inv.ScoreMax = &summary.Max
	inv.Interpretation = summary.Interpretation
	return true, nil
}

func (m *MemoryStore) Expire(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[id]
	if !ok || inv.Status.Terminal() {
		return false, nil
	}
	inv.Status = StatusExpired
	return true, nil
}

func (m *MemoryStore) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[id]
	if !ok || inv.Status.Terminal() {
		return false, nil
	}
	inv.Status = StatusCancelled
	return true, nil
}

func (m *MemoryStore) ClaimReminder(_ context.Context, id uuid.UUID, stage ReminderStage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[id]
	if !ok || inv.Status.Terminal() {
		return false, nil
	}
	switch stage {
	case Stage6h:
		if inv.Reminder6hSent {
			return false, nil
		}
		inv.Reminder6hSent = true
	case Stage2h:
		if inv.Reminder2hSent {
			return false, nil
		}
		inv.Reminder2hSent = true
	case Stage30m:
		if inv.Reminder30mSent {
			return false, nil
		}
		inv.Reminder30mSent = true
	default:
		return false, nil
	}
	inv.ReminderCount++
	return true, nil
}

func (m *MemoryStore) SaveProgress(_ context.Context, snap *ProgressSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	m.progress[snap.InvitationID] = &cp
	return nil
}

func (m *MemoryStore) GetProgress(_ context.Context, id uuid.UUID) (*ProgressSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.progress[id]
	if !ok {
		return nil, nil
	}
	cp := *snap
	return &cp, nil
}

func (m *MemoryStore) DeleteProgress(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.progress, id)
	return nil
}
