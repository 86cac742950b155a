package dispatch

import (
	"strings"

	"github.com/clduab11/pricehawk/internal/domain"
)

// MatchesPreferences reports whether a glitch passes a subscriber's content
// filters. Every configured filter must pass; empty category and retailer
// lists match everything, and max_price <= 0 means no upper bound.
func MatchesPreferences(p domain.Preferences, g domain.ValidatedGlitch) bool {
	if g.ProfitMargin < p.MinProfitMargin {
		return false
	}
	if !matchesCategory(p.Categories, g.Product.Category) {
		return false
	}
	if !matchesRetailer(p.Retailers, g.Product.RetailerID) {
		return false
	}
	price := g.Product.CurrentPrice
	if price < p.MinPrice {
		return false
	}
	if p.MaxPrice > 0 && price > p.MaxPrice {
		return false
	}
	return true
}

// Category filters are case-insensitive substring matches so "electronics"
// matches "Electronics > Audio".
func matchesCategory(wanted []string, category string) bool {
	if len(wanted) == 0 {
		return true
	}
	lc := strings.ToLower(category)
	for _, w := range wanted {
		if strings.Contains(lc, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

func matchesRetailer(wanted []string, retailerID string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		if strings.EqualFold(w, retailerID) {
			return true
		}
	}
	return false
}
