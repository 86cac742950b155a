// Package channel implements the delivery providers behind the uniform
// ChannelProvider port: email, chat, SMS, Telegram, WhatsApp, Discord and
// subscriber webhooks.
package channel

import (
	"fmt"
	"strings"
	"time"

	"github.com/clduab11/pricehawk/internal/domain"
)

// Subject renders the alert subject line for one glitch.
func Subject(g domain.ValidatedGlitch) string {
	return fmt.Sprintf("Price glitch: %s at %.0f%% off", g.Product.Title, g.ProfitMargin)
}

// Text renders the plain-text alert body shared by every text-mode channel.
func Text(g domain.ValidatedGlitch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", g.Product.Title)
	fmt.Fprintf(&b, "Price: $%.2f", g.Product.CurrentPrice)
	if g.Product.OriginalPrice != nil && *g.Product.OriginalPrice > 0 {
		fmt.Fprintf(&b, " (was $%.2f)", *g.Product.OriginalPrice)
	}
	fmt.Fprintf(&b, "\nSavings: %.0f%%\n", g.ProfitMargin)
	fmt.Fprintf(&b, "Retailer: %s\n", g.Product.RetailerID)
	fmt.Fprintf(&b, "Type: %s (confidence %.0f)\n", g.GlitchType, g.Confidence)
	if g.Product.StockStatus != "" {
		fmt.Fprintf(&b, "Stock: %s\n", g.Product.StockStatus)
	}
	fmt.Fprintf(&b, "%s", g.Product.URL)
	return b.String()
}

func success(ch domain.Channel, messageID string) domain.SendResult {
	return domain.SendResult{
		Success:   true,
		Channel:   ch,
		MessageID: messageID,
		SentAt:    time.Now().UTC(),
	}
}

func failure(ch domain.Channel, err error) domain.SendResult {
	return domain.SendResult{
		Success: false,
		Channel: ch,
		Error:   err.Error(),
		SentAt:  time.Now().UTC(),
	}
}
