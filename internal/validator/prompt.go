package validator

import (
	"fmt"
	"strings"

	"github.com/clduab11/pricehawk/internal/domain"
)

const systemPrompt = `You are a retail pricing analyst. Decide whether a flagged price is a genuine pricing error (a "glitch") or an intentional discount. Respond with a single JSON object and nothing else:
{"is_glitch": <bool>, "confidence": <0-100>, "reasoning": "<short explanation>", "glitch_type": "<decimal_error|database_error|clearance|coupon_stack|unknown>"}`

// BuildPrompt renders the system and user prompts for one anomaly.
func BuildPrompt(a domain.PricingAnomaly) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", a.Product.Title)
	fmt.Fprintf(&b, "Retailer: %s\n", a.Product.RetailerID)
	fmt.Fprintf(&b, "Category: %s\n", a.Product.Category)
	fmt.Fprintf(&b, "Current price: %.2f\n", a.Product.CurrentPrice)
	if a.Product.OriginalPrice != nil {
		fmt.Fprintf(&b, "Original price: %.2f\n", *a.Product.OriginalPrice)
	} else {
		b.WriteString("Original price: unknown\n")
	}
	fmt.Fprintf(&b, "Stock status: %s\n", a.Product.StockStatus)
	fmt.Fprintf(&b, "Detection: %s, discount %.1f%%, detector confidence %.0f\n",
		a.AnomalyType, a.DiscountPercentage, a.InitialConfidence)
	if a.ZScore != nil {
		fmt.Fprintf(&b, "Z-score: %.2f\n", *a.ZScore)
	}
	fmt.Fprintf(&b, "URL: %s\n", a.Product.URL)
	return systemPrompt, b.String()
}
