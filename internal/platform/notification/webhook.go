package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/fisioclinic/clinic/internal/platform/db"
)

// Headers set on every gateway request.
const (
	HeaderSignature = "X-Clinic-Signature"
	HeaderTimestamp = "X-Clinic-Timestamp"
	HeaderChannel   = "X-Clinic-Channel"
	HeaderTenant    = "X-Clinic-Tenant"
)

// GatewayMessage is the JSON body posted to the messaging gateway.
type GatewayMessage struct {
	Channel Channel   `json:"channel"`
	Tenant  string    `json:"tenant"`
	To      string    `json:"to"`
	Subject string    `json:"subject,omitempty"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a HeaderSignature value ("sha256=<hex>") against payload.
func VerifySignature(payload []byte, secret, header string) bool {
	expected := "sha256=" + SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(header))
}

// WebhookSender hands messages to an HTTP messaging gateway (an email, SMS
// or WhatsApp provider bridge) as signed JSON POSTs.
type WebhookSender struct {
	url     string
	secret  string
	channel Channel
	client  *http.Client
	now     func() time.Time
}

func NewWebhookSender(gatewayURL, secret string, channel Channel, client *http.Client) (*WebhookSender, error) {
	u, err := url.Parse(gatewayURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway url %q", gatewayURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSender{url: gatewayURL, secret: secret, channel: channel, client: client, now: time.Now}, nil
}

func (s *WebhookSender) Send(ctx context.Context, to, subject, body string) error {
	now := s.now().UTC()
	msg := GatewayMessage{
		Channel: s.channel,
		Tenant:  db.TenantFromContext(ctx),
		To:      to,
		Subject: subject,
		Body:    body,
		SentAt:  now,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderChannel, string(s.channel))
	req.Header.Set(HeaderTimestamp, now.Format(time.RFC3339))
	if msg.Tenant != "" {
		req.Header.Set(HeaderTenant, msg.Tenant)
	}
	if s.secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+SignPayload(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()
	// Read at most 1KB of response body.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	return nil
}

// NewGatewayManager routes every channel through the gateway at gatewayURL.
func NewGatewayManager(gatewayURL, secret string, logger zerolog.Logger) (*Manager, error) {
	senders := make(map[Channel]Sender, 3)
	for _, ch := range []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp} {
		s, err := NewWebhookSender(gatewayURL, secret, ch, nil)
		if err != nil {
			return nil, err
		}
		senders[ch] = s
	}
	logger.Info().Str("gateway", gatewayURL).Msg("notifications go through the messaging gateway")
	return NewManager(NewTemplateEngine(), senders), nil
}
