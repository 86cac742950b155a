package channel

import (
	"log/slog"
	"net/http"

	"github.com/clduab11/pricehawk/internal/config"
	"github.com/clduab11/pricehawk/internal/domain"
)

// Build assembles the configured providers from credentials: targeted
// providers keyed by channel for subscriber fan-out, and broadcast providers
// fired once per glitch. A missing credential disables only that channel.
func Build(cfg config.Config) (targeted []domain.ChannelProvider, broadcast []domain.ChannelProvider) {
	hc := &http.Client{Timeout: cfg.ProviderCallTimeout}

	if cfg.EmailAPIKey != "" {
		targeted = append(targeted, NewEmail(hc, cfg.EmailEndpoint, cfg.EmailAPIKey, cfg.EmailFrom))
	} else {
		slog.Warn("email channel disabled, EMAIL_API_KEY missing")
	}

	if cfg.SlackBotToken != "" {
		targeted = append(targeted, NewChat(cfg.SlackBotToken, cfg.SlackChannelID))
	} else {
		slog.Warn("chat channel disabled, SLACK_BOT_TOKEN missing")
	}

	if cfg.SMSAccountSID != "" && cfg.SMSAuthToken != "" {
		targeted = append(targeted, NewSMS(hc, "", cfg.SMSAccountSID, cfg.SMSAuthToken, cfg.SMSFromNumber))
	} else {
		slog.Warn("sms channel disabled, SMS credentials missing")
	}

	if cfg.TelegramBotToken != "" {
		tg := NewTelegram(hc, "", cfg.TelegramBotToken, cfg.TelegramChannelID)
		targeted = append(targeted, tg)
		if cfg.TelegramChannelID != "" {
			broadcast = append(broadcast, tg)
		}
	} else {
		slog.Warn("telegram channel disabled, TELEGRAM_BOT_TOKEN missing")
	}

	if cfg.WhatsAppToken != "" && cfg.WhatsAppPhoneID != "" {
		targeted = append(targeted, NewWhatsApp(hc, "", cfg.WhatsAppToken, cfg.WhatsAppPhoneID))
	} else {
		slog.Warn("whatsapp channel disabled, WHATSAPP credentials missing")
	}

	if cfg.DiscordWebhookURL != "" {
		broadcast = append(broadcast, NewDiscord(hc, cfg.DiscordWebhookURL))
	} else {
		slog.Warn("discord broadcast disabled, DISCORD_WEBHOOK_URL missing")
	}

	// Subscriber webhooks need no shared credentials.
	targeted = append(targeted, NewWebhook(hc), NewPriority(hc))

	return targeted, broadcast
}

// DailyCaps derives the per-channel daily send caps from configuration.
// Channels absent from the map are uncapped.
func DailyCaps(cfg config.Config) map[domain.Channel]int {
	return map[domain.Channel]int{
		domain.ChannelWhatsApp: cfg.WhatsAppDailyLimit,
	}
}
