package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/clduab11/pricehawk/internal/domain"
)

// Webhook posts the full glitch JSON to a subscriber-owned endpoint. With
// priority set it serves the expedited priority channel instead: same
// transport, distinct channel name and an urgency marker for the receiver.
type Webhook struct {
	hc       *http.Client
	priority bool
}

// NewWebhook constructs the subscriber webhook provider.
func NewWebhook(hc *http.Client) *Webhook { return &Webhook{hc: hc} }

// NewPriority constructs the expedited variant used by the priority channel.
func NewPriority(hc *http.Client) *Webhook { return &Webhook{hc: hc, priority: true} }

func (w *Webhook) Channel() domain.Channel {
	if w.priority {
		return domain.ChannelPriority
	}
	return domain.ChannelWebhook
}

type webhookEnvelope struct {
	MessageID string                 `json:"message_id"`
	Event     string                 `json:"event"`
	Priority  bool                   `json:"priority"`
	SentAt    time.Time              `json:"sent_at"`
	Glitch    domain.ValidatedGlitch `json:"glitch"`
}

func (w *Webhook) Send(ctx context.Context, glitch domain.ValidatedGlitch, target *domain.Subscriber) domain.SendResult {
	if target == nil || target.WebhookURL == "" {
		return failure(w.Channel(), fmt.Errorf("subscriber has no webhook url"))
	}

	msgID := uuid.NewString()
	body, _ := json.Marshal(webhookEnvelope{
		MessageID: msgID,
		Event:     "glitch.validated",
		Priority:  w.priority,
		SentAt:    time.Now().UTC(),
		Glitch:    glitch,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return failure(w.Channel(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.priority {
		req.Header.Set("X-Priority", "high")
	}

	resp, err := w.hc.Do(req)
	if err != nil {
		return failure(w.Channel(), fmt.Errorf("op=channel.webhook: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure(w.Channel(), fmt.Errorf("op=channel.webhook: status %d", resp.StatusCode))
	}
	return success(w.Channel(), msgID)
}
