// Package notify reports run outcomes to a human.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/shehryarbajwa/checkin-mini/pkg/models"
)

// Notifier delivers one completion summary.
type Notifier interface {
	Notify(ctx context.Context, report models.CheckReport)
}

// LogNotifier writes the summary to the process log.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, report models.CheckReport) {
	if report.Success {
		log.Printf("✅ Check-in complete: %s (session %s)", report.Reason, report.SessionID)
		return
	}
	log.Printf("❌ Check-in failed: %s (session %s)", report.Reason, report.SessionID)
}

// WebhookNotifier POSTs the report as JSON to a configured URL.
type WebhookNotifier struct {
	URL    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify implements Notifier. Delivery failures are logged, never fatal.
func (n *WebhookNotifier) Notify(ctx context.Context, report models.CheckReport) {
	payload, err := json.Marshal(report)
	if err != nil {
		log.Printf("⚠️ Webhook payload error: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		log.Printf("⚠️ Webhook request error: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Printf("⚠️ Webhook delivery failed: %v", err)
		return
	}
	resp.Body.Close()
}

// Multi fans a report out to several notifiers.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, report models.CheckReport) {
	for _, n := range m {
		n.Notify(ctx, report)
	}
}
