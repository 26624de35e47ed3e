// Package notify delivers result emails through the SendGrid v3 API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.sendgrid.com/v3"
	DefaultSubject = "Your request results"

	defaultTimeout = 15 * time.Second
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier sends a message to a recipient.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
	// Enabled reports whether messages are actually delivered.
	Enabled() bool
}

// Config holds the SendGrid settings.
type Config struct {
	APIKey  string
	From    string
	BaseURL string
}

// New returns a SendGrid notifier, or a no-op notifier when the API key
// or sender address is missing.
func New(cfg Config) Notifier {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.From) == "" {
		slog.Warn("SendGrid not configured; result emails will be skipped")
		return noopNotifier{}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &sendGridNotifier{
		apiKey:   cfg.APIKey,
		from:     cfg.From,
		endpoint: base + "/mail/send",
		client:   &http.Client{Timeout: defaultTimeout},
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Message) error { return nil }
func (noopNotifier) Enabled() bool                         { return false }

type sendGridNotifier struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
}

type sgAddress struct {
	Email string `json:"email"`
}

type sgPersonalization struct {
	To      []sgAddress `json:"to"`
	Subject string      `json:"subject"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Content          []sgContent         `json:"content"`
}

func (n *sendGridNotifier) Enabled() bool { return true }

func (n *sendGridNotifier) Notify(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("notify: recipient is required")
	}
	subject := msg.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	body, err := json.Marshal(sgMail{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: msg.To}}, Subject: subject}},
		From:             sgAddress{Email: n.from},
		Content:          []sgContent{{Type: "text/plain", Value: msg.Body}},
	})
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("notify: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// ResultBody renders the email sent once a result is ready.
func ResultBody(name, result, product string) string {
	return fmt.Sprintf("Hello %s,\n\nHere are the results for your request:\n\n%s\n\n—\nPowered by %s", name, result, product)
}
