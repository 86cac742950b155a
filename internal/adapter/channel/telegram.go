package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/clduab11/pricehawk/internal/domain"
)

// Telegram delivers alerts through the Telegram Bot API. It serves both the
// public broadcast channel (nil target) and per-subscriber sends.
type Telegram struct {
	baseURL   string
	token     string
	channelID string
	hc        *http.Client
}

// NewTelegram constructs the Telegram provider. baseURL covers test
// overrides; empty means the public Bot API.
func NewTelegram(hc *http.Client, baseURL, token, channelID string) *Telegram {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &Telegram{baseURL: baseURL, token: token, channelID: channelID, hc: hc}
}

func (t *Telegram) Channel() domain.Channel { return domain.ChannelTelegram }

type telegramRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Description string `json:"description"`
}

func (t *Telegram) Send(ctx context.Context, glitch domain.ValidatedGlitch, target *domain.Subscriber) domain.SendResult {
	chatID := t.channelID
	if target != nil {
		if target.ChatID == "" {
			return failure(t.Channel(), fmt.Errorf("subscriber has no chat id"))
		}
		chatID = target.ChatID
	}
	if chatID == "" {
		return failure(t.Channel(), fmt.Errorf("no chat id configured"))
	}

	body, _ := json.Marshal(telegramRequest{
		ChatID:                chatID,
		Text:                  Subject(glitch) + "\n" + Text(glitch),
		DisableWebPagePreview: true,
	})
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return failure(t.Channel(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.hc.Do(req)
	if err != nil {
		return failure(t.Channel(), fmt.Errorf("op=channel.telegram: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out telegramResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !out.OK {
		return failure(t.Channel(), fmt.Errorf("op=channel.telegram: status %d: %s", resp.StatusCode, out.Description))
	}
	return success(t.Channel(), strconv.FormatInt(out.Result.MessageID, 10))
}
