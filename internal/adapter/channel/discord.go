package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/clduab11/pricehawk/internal/domain"
)

// Discord posts alerts to a Discord channel webhook. It is broadcast-only;
// targeted sends are rejected.
type Discord struct {
	webhookURL string
	hc         *http.Client
}

// NewDiscord constructs the Discord broadcast provider.
func NewDiscord(hc *http.Client, webhookURL string) *Discord {
	return &Discord{webhookURL: webhookURL, hc: hc}
}

func (d *Discord) Channel() domain.Channel { return domain.ChannelDiscord }

func (d *Discord) Send(ctx context.Context, glitch domain.ValidatedGlitch, target *domain.Subscriber) domain.SendResult {
	if target != nil {
		return failure(d.Channel(), fmt.Errorf("discord is broadcast-only"))
	}

	body, _ := json.Marshal(map[string]string{
		"content": "**" + Subject(glitch) + "**\n" + Text(glitch),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return failure(d.Channel(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.hc.Do(req)
	if err != nil {
		return failure(d.Channel(), fmt.Errorf("op=channel.discord: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure(d.Channel(), fmt.Errorf("op=channel.discord: status %d", resp.StatusCode))
	}
	// Webhook responses carry no message ID unless ?wait=true is used.
	return success(d.Channel(), uuid.NewString())
}
