// Package notification renders clinic message templates and delivers them
// over email, SMS or WhatsApp, keeping an in-memory outbox with retries.
package notification

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/db"
)

// Channel is the medium a notification is delivered through.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

func ValidChannel(c Channel) bool {
	return c == ChannelEmail || c == ChannelSMS || c == ChannelWhatsApp
}

const (
	TemplateAppointmentReminder = "appointment_reminder"
	TemplateNPSSurvey           = "nps_survey"
	TemplatePaymentOverdue      = "payment_overdue"
	TemplateTelemedicineLink    = "telemedicine_link"
)

// MaxAttempts bounds delivery tries per notification, the first send included.
const MaxAttempts = 3

const (
	// DefaultRetention is how long sent and exhausted notifications stay
	// readable in the outbox.
	DefaultRetention = 24 * time.Hour
	// DefaultOutboxSize caps the outbox. Past it the oldest settled entries
	// are dropped before their retention ends.
	DefaultOutboxSize = 10000

	pruneInterval = time.Minute
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

type Notification struct {
	ID           string            `json:"id"`
	Tenant       string            `json:"tenant,omitempty"`
	Channel      Channel           `json:"channel"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	Attempts     int               `json:"attempts"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`

	lastAttempt time.Time
}

// settled reports whether no further delivery will be attempted.
func (n *Notification) settled() bool {
	return n.Status == StatusSent || (n.Status == StatusFailed && n.Attempts >= MaxAttempts)
}

// Sender delivers a rendered message on one channel. Subject is empty for
// channels that have none.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type SenderFunc func(ctx context.Context, to, subject, body string) error

func (f SenderFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}

// LogSender writes messages to the log instead of a provider. It is the
// default for every channel until a real gateway is configured.
type LogSender struct {
	logger  zerolog.Logger
	channel Channel
}

func NewLogSender(logger zerolog.Logger, channel Channel) *LogSender {
	return &LogSender{logger: logger, channel: channel}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.Info().
		Str("channel", string(s.channel)).
		Str("tenant", db.TenantFromContext(ctx)).
		Str("to", to).
		Str("subject", subject).
		Int("body_len", len(body)).
		Msg("notification delivered")
	return nil
}

// Template is a message with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

var placeholder = regexp.MustCompile(`\{\{\s*([a-z0-9_]+)\s*\}\}`)

type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine returns an engine with the clinic templates registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      TemplateAppointmentReminder,
			Subject: "Lembrete de consulta",
			Body:    "Olá {{patient_name}}, lembramos da sua sessão em {{date}} às {{time}} com {{professional}}. Responda para confirmar.",
		},
		{
			ID:      TemplateNPSSurvey,
			Subject: "Como foi seu atendimento?",
			Body:    "Olá {{patient_name}}, de 0 a 10, quanto você recomendaria a clínica? Responda em {{link}}",
		},
		{
			ID:      TemplatePaymentOverdue,
			Subject: "Pagamento em aberto",
			Body:    "Olá {{patient_name}}, a parcela {{description}} no valor de {{amount}} venceu em {{due_date}}.",
		},
		{
			ID:      TemplateTelemedicineLink,
			Subject: "Link da teleconsulta",
			Body:    "Olá {{patient_name}}, sua teleconsulta de {{date}} às {{time}} acontece em {{link}}",
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

func (e *TemplateEngine) Templates() []Template {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Template, 0, len(e.templates))
	for _, t := range e.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Render substitutes every placeholder. A placeholder without a value in data
// is an error.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", apperr.NotFound("template %q not found", templateID)
	}
	if subject, err = fill(t.Subject, data); err != nil {
		return "", "", err
	}
	if body, err = fill(t.Body, data); err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func fill(text string, data map[string]string) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(text, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		v, ok := data[key]
		if !ok {
			missing = append(missing, key)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", apperr.Invalid("missing template data: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Manager sends notifications and keeps them in an in-memory outbox. Failed
// notifications with attempts left stay until retried. Settled ones are
// pruned after the retention window or when the outbox is full. Stats are
// kept on counters so pruning does not change them.
type Manager struct {
	senders   map[Channel]Sender
	templates *TemplateEngine
	now       func() time.Time

	mu        sync.RWMutex
	outbox    map[string]*Notification
	counts    map[string]map[string]int
	retention time.Duration
	maxSize   int
	lastPrune time.Time
}

func NewManager(tpl *TemplateEngine, senders map[Channel]Sender) *Manager {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	m := &Manager{
		senders:   make(map[Channel]Sender, len(senders)),
		templates: tpl,
		now:       time.Now,
		outbox:    make(map[string]*Notification),
		counts:    make(map[string]map[string]int),
		retention: DefaultRetention,
		maxSize:   DefaultOutboxSize,
	}
	for ch, s := range senders {
		m.senders[ch] = s
	}
	return m
}

// NewLogManager wires a LogSender on every channel.
func NewLogManager(logger zerolog.Logger) *Manager {
	return NewManager(NewTemplateEngine(), map[Channel]Sender{
		ChannelEmail:    NewLogSender(logger, ChannelEmail),
		ChannelSMS:      NewLogSender(logger, ChannelSMS),
		ChannelWhatsApp: NewLogSender(logger, ChannelWhatsApp),
	})
}

func (m *Manager) Templates() *TemplateEngine { return m.templates }

// SetRetention overrides how long settled notifications are kept and how
// many entries the outbox may hold.
func (m *Manager) SetRetention(retention time.Duration, maxSize int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if retention > 0 {
		m.retention = retention
	}
	if maxSize > 0 {
		m.maxSize = maxSize
	}
}

// pruneLocked drops settled notifications past retention, then the oldest
// settled ones while the outbox is over its size. Callers hold m.mu.
func (m *Manager) pruneLocked(now time.Time) {
	m.lastPrune = now
	cutoff := now.Add(-m.retention)
	var settled []*Notification
	for id, n := range m.outbox {
		if !n.settled() {
			continue
		}
		if n.lastAttempt.Before(cutoff) {
			delete(m.outbox, id)
			continue
		}
		settled = append(settled, n)
	}
	excess := len(m.outbox) - m.maxSize
	if excess <= 0 {
		return
	}
	sort.Slice(settled, func(i, j int) bool { return settled[i].lastAttempt.Before(settled[j].lastAttempt) })
	for i := 0; i < excess && i < len(settled); i++ {
		delete(m.outbox, settled[i].ID)
	}
}

func (m *Manager) maybePruneLocked(now time.Time) {
	if len(m.outbox) > m.maxSize || now.Sub(m.lastPrune) >= pruneInterval {
		m.pruneLocked(now)
	}
}

func (m *Manager) countLocked(tenant, status string, delta int) {
	c, ok := m.counts[tenant]
	if !ok {
		c = map[string]int{StatusSent: 0, StatusFailed: 0}
		m.counts[tenant] = c
	}
	c[status] += delta
}

// Send stores n and makes its first delivery attempt. A delivery failure is
// returned but the notification stays in the outbox for Retry.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if !ValidChannel(n.Channel) {
		return apperr.Invalid("unsupported channel %q", n.Channel)
	}
	if strings.TrimSpace(n.Recipient) == "" {
		return apperr.Invalid("recipient is required")
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.Tenant = db.TenantFromContext(ctx)
	n.CreatedAt = m.now().UTC()
	n.Status, n.Attempts = "", 0

	m.mu.Lock()
	m.outbox[n.ID] = n
	m.maybePruneLocked(n.CreatedAt)
	m.mu.Unlock()

	return m.deliver(ctx, n)
}

// SendTemplate renders templateID with data and sends it on channel.
func (m *Manager) SendTemplate(ctx context.Context, channel Channel, templateID, recipient string, data map[string]string) (*Notification, error) {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, err
	}
	if channel != ChannelEmail {
		subject = ""
	}
	n := &Notification{
		Channel:      channel,
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	return n, m.Send(ctx, n)
}

func (m *Manager) deliver(ctx context.Context, n *Notification) error {
	sender, ok := m.senders[n.Channel]
	var err error
	if !ok {
		err = fmt.Errorf("no sender configured for %s", n.Channel)
	} else {
		err = sender.Send(ctx, n.Recipient, n.Subject, n.Body)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n.Attempts++
	n.lastAttempt = m.now().UTC()
	if err != nil {
		if n.Status != StatusFailed {
			m.countLocked(n.Tenant, StatusFailed, 1)
		}
		n.Status = StatusFailed
		n.Error = err.Error()
		return err
	}
	if n.Status == StatusFailed {
		m.countLocked(n.Tenant, StatusFailed, -1)
	}
	m.countLocked(n.Tenant, StatusSent, 1)
	n.Status = StatusSent
	n.Error = ""
	sentAt := n.lastAttempt
	n.SentAt = &sentAt
	return nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.outbox[id]
	if !ok || n.Tenant != db.TenantFromContext(ctx) {
		return nil, apperr.NotFound("notification %s not found", id)
	}
	cp := *n
	return &cp, nil
}

// List returns the tenant's notifications, newest first, optionally filtered
// by recipient and status.
func (m *Manager) List(ctx context.Context, recipient, status string, limit int) []*Notification {
	tenant := db.TenantFromContext(ctx)
	m.mu.RLock()
	out := make([]*Notification, 0)
	for _, n := range m.outbox {
		if n.Tenant != tenant {
			continue
		}
		if recipient != "" && n.Recipient != recipient {
			continue
		}
		if status != "" && n.Status != status {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Retry re-attempts a failed notification.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.RLock()
	n, ok := m.outbox[id]
	if ok && n.Tenant != db.TenantFromContext(ctx) {
		ok = false
	}
	var status string
	var attempts int
	if ok {
		status, attempts = n.Status, n.Attempts
	}
	m.mu.RUnlock()

	if !ok {
		return apperr.NotFound("notification %s not found", id)
	}
	if status != StatusFailed {
		return apperr.Conflict("notification %s is %s, only failed notifications can be retried", id, status)
	}
	if attempts >= MaxAttempts {
		return apperr.Conflict("notification %s reached %d attempts", id, MaxAttempts)
	}
	return m.deliver(ctx, n)
}

// RetryFailed retries the tenant's failed notifications that still have
// attempts left and returns how many were delivered.
func (m *Manager) RetryFailed(ctx context.Context) int {
	tenant := db.TenantFromContext(ctx)
	m.mu.Lock()
	m.maybePruneLocked(m.now().UTC())
	var ids []string
	for id, n := range m.outbox {
		if n.Tenant == tenant && n.Status == StatusFailed && n.Attempts < MaxAttempts {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	delivered := 0
	for _, id := range ids {
		if err := m.Retry(ctx, id); err == nil {
			delivered++
		}
	}
	return delivered
}

// Stats counts the tenant's notifications by latest status since start,
// including ones already pruned from the outbox.
func (m *Manager) Stats(ctx context.Context) map[string]int {
	tenant := db.TenantFromContext(ctx)
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := map[string]int{StatusSent: 0, StatusFailed: 0}
	for k, v := range m.counts[tenant] {
		stats[k] = v
	}
	return stats
}
