package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/clduab11/pricehawk/internal/domain"
)

// Email delivers alerts through a Resend-compatible transactional email API.
type Email struct {
	endpoint string
	apiKey   string
	from     string
	hc       *http.Client
}

// NewEmail constructs the email provider.
func NewEmail(hc *http.Client, endpoint, apiKey, from string) *Email {
	return &Email{endpoint: endpoint, apiKey: apiKey, from: from, hc: hc}
}

func (e *Email) Channel() domain.Channel { return domain.ChannelEmail }

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

type emailResponse struct {
	ID string `json:"id"`
}

// Send posts one email. A nil target is rejected: email has no broadcast
// mode.
func (e *Email) Send(ctx context.Context, glitch domain.ValidatedGlitch, target *domain.Subscriber) domain.SendResult {
	if target == nil || target.Email == "" {
		return failure(e.Channel(), fmt.Errorf("no recipient address"))
	}

	body, _ := json.Marshal(emailRequest{
		From:    e.from,
		To:      []string{target.Email},
		Subject: Subject(glitch),
		Text:    Text(glitch),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return failure(e.Channel(), err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.hc.Do(req)
	if err != nil {
		return failure(e.Channel(), fmt.Errorf("op=channel.email: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure(e.Channel(), fmt.Errorf("op=channel.email: status %d", resp.StatusCode))
	}
	var out emailResponse
	_ = json.Unmarshal(raw, &out)
	return success(e.Channel(), out.ID)
}
