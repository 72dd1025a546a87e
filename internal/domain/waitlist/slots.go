package waitlist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSlotNotFound = errors.New("slot not found")

// Slot is a reservable appointment time an invitation may hold.
type Slot struct {
	ID           uuid.UUID `json:"id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	ProviderName string    `json:"provider_name,omitempty"`
	LocationName string    `json:"location_name,omitempty"`
}

// SlotDirectory resolves slot ids to their scheduled times.
type SlotDirectory interface {
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
}

// SlotManager is an in-memory SlotDirectory, seeded at startup and by
// tests.
type SlotManager struct {
	mu    sync.RWMutex
	slots map[uuid.UUID]*Slot
}

func NewSlotManager() *SlotManager {
	return &SlotManager{slots: make(map[uuid.UUID]*Slot)}
}

// AddSlot registers a slot.
func (m *SlotManager) AddSlot(slot Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot.ID] = &slot
}

func (m *SlotManager) GetSlot(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *slot
	return &cp, nil
}
