// Package notification delivers assessment invitations, deadline reminders
// and expiry notices over email, SMS and WhatsApp, with template rendering,
// in-memory delivery records, retry logic, and Echo HTTP handlers.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Channels
// ---------------------------------------------------------------------------

// Channel represents the medium used to deliver a notification.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// ErrDeliveryFailed marks a delivery that exhausted its attempts. Callers
// log and count it; it never aborts the operation that triggered the send.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// Dispatcher is the outbound contract the invitation service and the
// scheduler depend on.
type Dispatcher interface {
	Send(ctx context.Context, ch Channel, recipient string, msg Message) error
}

// Message is a rendered notification ready for delivery.
type Message struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// ---------------------------------------------------------------------------
// Sender Interfaces
// ---------------------------------------------------------------------------

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// WhatsAppSender is the interface for sending WhatsApp messages.
type WhatsAppSender interface {
	SendWhatsApp(ctx context.Context, to, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Built-in template IDs.
const (
	TemplateInvitation = "assessment-invitation"
	TemplateReminder   = "assessment-reminder"
	TemplateExpired    = "assessment-expired"
)

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateInvitation,
			Name:    "Assessment Invitation",
			Subject: "You have been invited to complete {{scale_name}}",
			Body:    "Your clinician has asked you to complete the {{scale_name}} questionnaire. Open the following link to begin: {{link}}. The link is valid until {{expires_at}}. {{custom_message}}",
		},
		{
			ID:      TemplateReminder,
			Name:    "Assessment Deadline Reminder",
			Subject: "Reminder: {{scale_name}} is due soon",
			Body:    "Your {{scale_name}} questionnaire is still waiting. It expires in {{remaining}}. Continue here: {{link}}",
		},
		{
			ID:      TemplateExpired,
			Name:    "Assessment Expired",
			Subject: "Your {{scale_name}} invitation has expired",
			Body:    "The link for your {{scale_name}} questionnaire expired on {{expires_at}}. Please contact your clinician to request a new one.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (Message, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("template %q not found", templateID)
	}

	msg := Message{Subject: t.Subject, Body: t.Body}
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		msg.Subject = strings.ReplaceAll(msg.Subject, placeholder, v)
		msg.Body = strings.ReplaceAll(msg.Body, placeholder, v)
	}
	return msg, nil
}

// ---------------------------------------------------------------------------
// Mock Senders (test doubles)
// ---------------------------------------------------------------------------

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender records email sends for assertions in tests.
type MockEmailSender struct {
	mu    sync.Mutex
	calls []EmailCall
	Err   error
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	return nil
}

// Calls returns a copy of the recorded calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender records SMS sends for assertions in tests.
type MockSMSSender struct {
	mu    sync.Mutex
	calls []SMSCall
	Err   error
}

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	return nil
}

// Calls returns a copy of the recorded calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockWhatsAppSender records WhatsApp sends for assertions in tests.
type MockWhatsAppSender struct {
	mu    sync.Mutex
	calls []SMSCall
	Err   error
}

func (m *MockWhatsAppSender) SendWhatsApp(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	return nil
}

// Calls returns a copy of the recorded calls.
func (m *MockWhatsAppSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------------------------------------------------------------------------
// Delivery Records
// ---------------------------------------------------------------------------

// Delivery is one recorded dispatch attempt and its outcome.
type Delivery struct {
	ID        string     `json:"id"`
	Channel   Channel    `json:"channel"`
	Recipient string     `json:"recipient"`
	Subject   string     `json:"subject,omitempty"`
	Body      string     `json:"body"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Manager routes messages to the channel's sender and keeps an in-memory
// record of every delivery for the operator surface.
type Manager struct {
	email    EmailSender
	sms      SMSSender
	whatsapp WhatsAppSender

	mu         sync.RWMutex
	deliveries map[string]*Delivery
}

// NewManager constructs a Manager. Any sender may be nil; sends on a
// channel without a sender fail as delivery errors.
func NewManager(email EmailSender, sms SMSSender, whatsapp WhatsAppSender) *Manager {
	return &Manager{
		email:      email,
		sms:        sms,
		whatsapp:   whatsapp,
		deliveries: make(map[string]*Delivery),
	}
}

// Send dispatches a message through the channel's sender and records the
// outcome.
func (m *Manager) Send(ctx context.Context, ch Channel, recipient string, msg Message) error {
	d := &Delivery{
		ID:        uuid.New().String(),
		Channel:   ch,
		Recipient: recipient,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
	}

	sendErr := m.deliver(ctx, ch, recipient, msg)
	if sendErr != nil {
		d.Status = "failed"
		d.Error = sendErr.Error()
	} else {
		d.Status = "sent"
		sentAt := time.Now().UTC()
		d.SentAt = &sentAt
	}

	m.mu.Lock()
	m.deliveries[d.ID] = d
	m.mu.Unlock()

	if sendErr != nil {
		return fmt.Errorf("%w: %s to %s: %v", ErrDeliveryFailed, ch, recipient, sendErr)
	}
	return nil
}

func (m *Manager) deliver(ctx context.Context, ch Channel, recipient string, msg Message) error {
	switch ch {
	case ChannelEmail:
		if m.email == nil {
			return fmt.Errorf("no email sender configured")
		}
		return m.email.SendEmail(ctx, recipient, msg.Subject, msg.Body)
	case ChannelSMS:
		if m.sms == nil {
			return fmt.Errorf("no sms sender configured")
		}
		return m.sms.SendSMS(ctx, recipient, msg.Body)
	case ChannelWhatsApp:
		if m.whatsapp == nil {
			return fmt.Errorf("no whatsapp sender configured")
		}
		return m.whatsapp.SendWhatsApp(ctx, recipient, msg.Body)
	}
	return fmt.Errorf("unsupported channel: %s", ch)
}

// Retry re-sends a failed delivery. Returns an error if the delivery is
// not in "failed" status.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.RLock()
	d, ok := m.deliveries[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("delivery %q not found", id)
	}
	if d.Status != "failed" {
		return fmt.Errorf("delivery %q is not in failed status (current: %s)", id, d.Status)
	}

	sendErr := m.deliver(ctx, d.Channel, d.Recipient, Message{Subject: d.Subject, Body: d.Body})

	m.mu.Lock()
	if sendErr != nil {
		d.Status = "failed"
		d.Error = sendErr.Error()
	} else {
		d.Status = "sent"
		sentAt := time.Now().UTC()
		d.SentAt = &sentAt
		d.Error = ""
	}
	m.mu.Unlock()

	return sendErr
}

// Stats returns counts of deliveries grouped by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]int)
	for _, d := range m.deliveries {
		stats[d.Status]++
	}
	return stats
}

// ListByRecipient returns deliveries for a given recipient, up to limit.
func (m *Manager) ListByRecipient(recipient string, limit int) []*Delivery {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Delivery
	for _, d := range m.deliveries {
		if d.Recipient == recipient {
			result = append(result, d)
			if len(result) >= limit {
				break
			}
		}
	}
	return result
}

// ---------------------------------------------------------------------------
// Retrying Dispatcher
// ---------------------------------------------------------------------------

// RetryingDispatcher wraps a Dispatcher with bounded in-line retries. The
// final failure is returned as ErrDeliveryFailed.
type RetryingDispatcher struct {
	next   Dispatcher
	delays []time.Duration
}

// NewRetryingDispatcher wraps next with the given backoff schedule. A nil
// schedule uses two short retries.
func NewRetryingDispatcher(next Dispatcher, delays []time.Duration) *RetryingDispatcher {
	if delays == nil {
		delays = []time.Duration{1 * time.Second, 5 * time.Second}
	}
	return &RetryingDispatcher{next: next, delays: delays}
}

func (r *RetryingDispatcher) Send(ctx context.Context, ch Channel, recipient string, msg Message) error {
	err := r.next.Send(ctx, ch, recipient, msg)
	if err == nil {
		return nil
	}
	for _, delay := range r.delays {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if err = r.next.Send(ctx, ch, recipient, msg); err == nil {
			return nil
		}
	}
	return err
}

// ---------------------------------------------------------------------------
// HTTP Handlers
// ---------------------------------------------------------------------------

// Handler exposes the delivery records to operators.
type Handler struct {
	mgr *Manager
}

// NewHandler constructs a Handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

// RegisterRoutes registers the notification endpoints on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.HandleList)
	g.GET("/notifications/stats", h.HandleStats)
	g.POST("/notifications/:id/retry", h.HandleRetry)
}

// HandleList returns recent deliveries for a recipient.
func (h *Handler) HandleList(c echo.Context) error {
	recipient := c.QueryParam("recipient")
	if recipient == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient is required")
	}
	deliveries := h.mgr.ListByRecipient(recipient, 50)
	if deliveries == nil {
		deliveries = []*Delivery{}
	}
	return c.JSON(http.StatusOK, deliveries)
}

// HandleStats returns delivery counts grouped by status.
func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.mgr.Stats())
}

// HandleRetry re-sends a failed delivery.
func (h *Handler) HandleRetry(c echo.Context) error {
	if err := h.mgr.Retry(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "sent"})
}
