// Package notifications delivers tamper and ledger-integrity alerts.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

type Notifier interface {
	// SendAlert reports an event about subject (a reference id, or
	// "ledger" for chain-level events).
	SendAlert(ctx context.Context, subject string, severity string, message string) error
}

// ConsoleNotifier writes alerts to the structured log.
type ConsoleNotifier struct {
	Log *zap.Logger
}

func (n *ConsoleNotifier) SendAlert(_ context.Context, subject, severity, message string) error {
	log := n.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Warn("alert",
		zap.String("severity", severity),
		zap.String("subject", subject),
		zap.String("message", message))
	return nil
}

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackAttachment struct {
	Color string `json:"color"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

func severityColor(severity string) string {
	switch severity {
	case SeverityCritical:
		return "#ff0000"
	case SeverityWarning:
		return "#ffa500"
	default:
		return "#36a64f"
	}
}

func (n *SlackNotifier) SendAlert(ctx context.Context, subject, severity, message string) error {
	body, err := json.Marshal(slackPayload{
		Text: "ChainVerify Alert: " + subject,
		Attachments: []slackAttachment{{
			Color: severityColor(severity),
			Title: fmt.Sprintf("[%s] Alert", severity),
			Text:  message,
		}},
	})
	if err != nil {
		return fmt.Errorf("notifications: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notifications: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notifications: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notifications: slack api returned status: %d", resp.StatusCode)
	}
	return nil
}

// Fanout delivers every alert to all of its notifiers and returns the
// first error.
type Fanout []Notifier

func (f Fanout) SendAlert(ctx context.Context, subject, severity, message string) error {
	var first error
	for _, n := range f {
		if err := n.SendAlert(ctx, subject, severity, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}
