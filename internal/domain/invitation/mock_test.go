package invitation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psicore/psicore/internal/domain/audit"
	"github.com/psicore/psicore/internal/platform/notification"
)

func (m *MemoryStore) status(id uuid.UUID) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Status
}

// mockAudit records appended entries.
type mockAudit struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (m *mockAudit) Append(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockAudit) ListByInvitation(_ context.Context, id uuid.UUID) ([]*audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*audit.Entry
	for _, e := range m.entries {
		if e.InvitationID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockAudit) ListRange(_ context.Context, from, to time.Time) ([]*audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*audit.Entry(nil), m.entries...), nil
}

func (m *mockAudit) actions(id uuid.UUID) []audit.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Action
	for _, e := range m.entries {
		if e.InvitationID == id {
			out = append(out, e.Action)
		}
	}
	return out
}

// mockDispatcher records sends.
type mockDispatcher struct {
	mu    sync.Mutex
	sends []sendCall
	err   error
}

type sendCall struct {
	Channel   notification.Channel
	Recipient string
	Msg       notification.Message
}

func (m *mockDispatcher) Send(_ context.Context, ch notification.Channel, recipient string, msg notification.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sends = append(m.sends, sendCall{Channel: ch, Recipient: recipient, Msg: msg})
	return nil
}

func (m *mockDispatcher) calls() []sendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sendCall(nil), m.sends...)
}
