package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clduab11/pricehawk/internal/domain"
)

func channelGlitch() domain.ValidatedGlitch {
	return domain.ValidatedGlitch{
		ID:        "g1",
		AnomalyID: "a1",
		Product: domain.ProductSnapshot{
			Title:         "Blender",
			CurrentPrice:  4.99,
			OriginalPrice: floatPtr(89.99),
			RetailerID:    "megamart",
			URL:           "https://example.com/blender",
		},
		IsGlitch:     true,
		Confidence:   92,
		GlitchType:   domain.GlitchDecimalError,
		ProfitMargin: 94,
		ValidatedAt:  time.Now().UTC(),
	}
}

func floatPtr(f float64) *float64 { return &f }

func TestEmailSend(t *testing.T) {
	var got emailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(emailResponse{ID: "em-1"})
	}))
	defer srv.Close()

	e := NewEmail(srv.Client(), srv.URL, "key123", "alerts@pricehawk.dev")
	res := e.Send(context.Background(), channelGlitch(), &domain.Subscriber{ID: "u1", Email: "u1@example.com"})

	assert.True(t, res.Success)
	assert.Equal(t, "em-1", res.MessageID)
	assert.Equal(t, domain.ChannelEmail, res.Channel)
	assert.Equal(t, []string{"u1@example.com"}, got.To)
	assert.Equal(t, "alerts@pricehawk.dev", got.From)
	assert.Contains(t, got.Subject, "Blender")
}

func TestEmailSendRejectsMissingRecipient(t *testing.T) {
	e := NewEmail(http.DefaultClient, "http://unused", "k", "f")
	assert.False(t, e.Send(context.Background(), channelGlitch(), nil).Success)
	assert.False(t, e.Send(context.Background(), channelGlitch(), &domain.Subscriber{ID: "u1"}).Success)
}

func TestEmailSendFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := NewEmail(srv.Client(), srv.URL, "k", "f")
	res := e.Send(context.Background(), channelGlitch(), &domain.Subscriber{Email: "u1@example.com"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "502")
}

func TestTelegramBroadcastUsesConfiguredChannel(t *testing.T) {
	var got telegramRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		var out telegramResponse
		out.OK = true
		out.Result.MessageID = 42
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	tg := NewTelegram(srv.Client(), srv.URL, "tok", "@deals")
	res := tg.Send(context.Background(), channelGlitch(), nil)

	assert.True(t, res.Success)
	assert.Equal(t, "42", res.MessageID)
	assert.Equal(t, "@deals", got.ChatID)
	assert.True(t, got.DisableWebPagePreview)
}

func TestTelegramTargetedSendUsesSubscriberChat(t *testing.T) {
	var got telegramRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		var out telegramResponse
		out.OK = true
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	tg := NewTelegram(srv.Client(), srv.URL, "tok", "@deals")
	res := tg.Send(context.Background(), channelGlitch(), &domain.Subscriber{ID: "u1", ChatID: "555"})

	assert.True(t, res.Success)
	assert.Equal(t, "555", got.ChatID)
}

func TestTelegramAPILevelErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// HTTP 200 but ok=false still counts as a failure.
		_ = json.NewEncoder(w).Encode(telegramResponse{OK: false, Description: "chat not found"})
	}))
	defer srv.Close()

	tg := NewTelegram(srv.Client(), srv.URL, "tok", "@deals")
	res := tg.Send(context.Background(), channelGlitch(), nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "chat not found")
}

func TestWebhookSendPostsEnvelope(t *testing.T) {
	var env webhookEnvelope
	var priorityHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		priorityHeader = r.Header.Get("X-Priority")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
	}))
	defer srv.Close()

	wh := NewWebhook(srv.Client())
	sub := &domain.Subscriber{ID: "u1", WebhookURL: srv.URL}
	res := wh.Send(context.Background(), channelGlitch(), sub)

	assert.True(t, res.Success)
	assert.Equal(t, domain.ChannelWebhook, res.Channel)
	assert.Equal(t, "glitch.validated", env.Event)
	assert.False(t, env.Priority)
	assert.Equal(t, "g1", env.Glitch.ID)
	assert.Empty(t, priorityHeader)
	assert.Equal(t, env.MessageID, res.MessageID)
}

func TestPriorityWebhookMarksUrgency(t *testing.T) {
	var env webhookEnvelope
	var priorityHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		priorityHeader = r.Header.Get("X-Priority")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
	}))
	defer srv.Close()

	wh := NewPriority(srv.Client())
	assert.Equal(t, domain.ChannelPriority, wh.Channel())

	res := wh.Send(context.Background(), channelGlitch(), &domain.Subscriber{ID: "u1", WebhookURL: srv.URL})
	assert.True(t, res.Success)
	assert.True(t, env.Priority)
	assert.Equal(t, "high", priorityHeader)
}

func TestWebhookRequiresTargetURL(t *testing.T) {
	wh := NewWebhook(http.DefaultClient)
	assert.False(t, wh.Send(context.Background(), channelGlitch(), nil).Success)
	assert.False(t, wh.Send(context.Background(), channelGlitch(), &domain.Subscriber{ID: "u1"}).Success)
}

func TestSubjectAndText(t *testing.T) {
	g := channelGlitch()
	subj := Subject(g)
	assert.Contains(t, subj, "Blender")
	assert.Contains(t, subj, "94")

	body := Text(g)
	assert.Contains(t, body, "4.99")
	assert.Contains(t, body, "https://example.com/blender")
}
