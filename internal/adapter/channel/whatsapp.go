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

// WhatsApp delivers alerts as plain text messages through the WhatsApp Cloud
// API. Template management is out of scope; daily volume is capped by the
// dispatcher's rate limiter, not here.
type WhatsApp struct {
	baseURL string
	token   string
	phoneID string
	hc      *http.Client
}

// NewWhatsApp constructs the WhatsApp provider. baseURL covers test
// overrides; empty means the Graph API.
func NewWhatsApp(hc *http.Client, baseURL, token, phoneID string) *WhatsApp {
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/v19.0"
	}
	return &WhatsApp{baseURL: baseURL, token: token, phoneID: phoneID, hc: hc}
}

func (w *WhatsApp) Channel() domain.Channel { return domain.ChannelWhatsApp }

type whatsAppRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (w *WhatsApp) Send(ctx context.Context, glitch domain.ValidatedGlitch, target *domain.Subscriber) domain.SendResult {
	if target == nil || target.Phone == "" {
		return failure(w.Channel(), fmt.Errorf("no recipient phone"))
	}

	body, _ := json.Marshal(whatsAppRequest{
		MessagingProduct: "whatsapp",
		To:               target.Phone,
		Type:             "text",
		Text:             whatsAppText{Body: Subject(glitch) + "\n" + Text(glitch)},
	})
	endpoint := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return failure(w.Channel(), err)
	}
	req.Header.Set("Authorization", "Bearer "+w.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.hc.Do(req)
	if err != nil {
		return failure(w.Channel(), fmt.Errorf("op=channel.whatsapp: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure(w.Channel(), fmt.Errorf("op=channel.whatsapp: status %d", resp.StatusCode))
	}
	var out whatsAppResponse
	_ = json.Unmarshal(raw, &out)
	id := ""
	if len(out.Messages) > 0 {
		id = out.Messages[0].ID
	}
	return success(w.Channel(), id)
}
