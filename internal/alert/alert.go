// Package alert provides Alerter implementations: a log fallback and a
// Slack incoming-webhook notifier.
package alert

import (
	"context"
	"fmt"
	"log"

	"github.com/slack-go/slack"

	"github.com/david/grant-scraper/internal/ports"
)

// LogAlerter writes alerts to the process log. It is the default when no
// webhook is configured.
type LogAlerter struct{}

// Notify logs the alert and never fails.
func (LogAlerter) Notify(_ context.Context, severity ports.Severity, subject, details string) error {
	log.Printf("[alert] %s: %s: %s", severity, subject, details)
	return nil
}

// SlackAlerter posts alerts to a Slack incoming webhook.
type SlackAlerter struct {
	WebhookURL string
	Channel    string

	// post is swapped in tests.
	post func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlackAlerter returns an alerter for the given webhook URL.
func NewSlackAlerter(webhookURL, channel string) *SlackAlerter {
	return &SlackAlerter{
		WebhookURL: webhookURL,
		Channel:    channel,
		post:       slack.PostWebhookContext,
	}
}

func severityColor(s ports.Severity) string {
	switch s {
	case ports.SeverityCritical:
		return "danger"
	case ports.SeverityWarning:
		return "warning"
	default:
		return "good"
	}
}

// Notify posts one attachment-formatted message to the webhook.
func (a *SlackAlerter) Notify(ctx context.Context, severity ports.Severity, subject, details string) error {
	msg := &slack.WebhookMessage{
		Channel: a.Channel,
		Attachments: []slack.Attachment{{
			Color: severityColor(severity),
			Title: fmt.Sprintf("[%s] %s", severity, subject),
			Text:  details,
		}},
	}
	if err := a.post(ctx, a.WebhookURL, msg); err != nil {
		return fmt.Errorf("posting slack alert: %w", err)
	}
	return nil
}

// Fanout notifies every child alerter, returning the first failure after
// trying all of them.
type Fanout []ports.Alerter

func (f Fanout) Notify(ctx context.Context, severity ports.Severity, subject, details string) error {
	var first error
	for _, a := range f {
		if err := a.Notify(ctx, severity, subject, details); err != nil && first == nil {
			first = err
		}
	}
	return first
}
