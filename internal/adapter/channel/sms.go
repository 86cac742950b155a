package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/clduab11/pricehawk/internal/domain"
)

// SMS delivers alerts through a Twilio-compatible messaging API.
type SMS struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	hc         *http.Client
}

// NewSMS constructs the SMS provider. baseURL covers test overrides; the
// production default is the Twilio API root.
func NewSMS(hc *http.Client, baseURL, accountSID, authToken, from string) *SMS {
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	return &SMS{baseURL: baseURL, accountSID: accountSID, authToken: authToken, from: from, hc: hc}
}

func (s *SMS) Channel() domain.Channel { return domain.ChannelSMS }

func (s *SMS) Send(ctx context.Context, glitch domain.ValidatedGlitch, target *domain.Subscriber) domain.SendResult {
	if target == nil || target.Phone == "" {
		return failure(s.Channel(), fmt.Errorf("no recipient phone"))
	}

	// SMS is length constrained; send the subject and URL only.
	body := Subject(glitch) + " " + glitch.Product.URL
	form := url.Values{
		"To":   {target.Phone},
		"From": {s.from},
		"Body": {body},
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return failure(s.Channel(), err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.hc.Do(req)
	if err != nil {
		return failure(s.Channel(), fmt.Errorf("op=channel.sms: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure(s.Channel(), fmt.Errorf("op=channel.sms: status %d", resp.StatusCode))
	}
	var out struct {
		SID string `json:"sid"`
	}
	_ = json.Unmarshal(raw, &out)
	return success(s.Channel(), out.SID)
}
