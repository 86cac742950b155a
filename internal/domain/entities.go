// Package domain holds the core entities, error taxonomy and ports shared by
// the pipeline, the model router and the notification dispatcher.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// StockStatus enumerates the product availability snapshot values.
type StockStatus string

const (
	StockInStock    StockStatus = "in_stock"
	StockLowStock   StockStatus = "low_stock"
	StockOutOfStock StockStatus = "out_of_stock"
	StockUnknown    StockStatus = "unknown"
)

// AnomalyType enumerates how the detector flagged a price.
type AnomalyType string

const (
	AnomalyZScore         AnomalyType = "z_score"
	AnomalyPercentageDrop AnomalyType = "percentage_drop"
	AnomalyDecimalError   AnomalyType = "decimal_error"
	AnomalyHistorical     AnomalyType = "historical"
)

// AnomalyStatus is the lifecycle status of an anomaly. Transitions are
// monotonic: pending -> validated|rejected -> notified.
type AnomalyStatus string

const (
	AnomalyPending   AnomalyStatus = "pending"
	AnomalyValidated AnomalyStatus = "validated"
	AnomalyRejected  AnomalyStatus = "rejected"
	AnomalyNotified  AnomalyStatus = "notified"
)

// GlitchType classifies a confirmed pricing error.
type GlitchType string

const (
	GlitchDecimalError  GlitchType = "decimal_error"
	GlitchDatabaseError GlitchType = "database_error"
	GlitchClearance     GlitchType = "clearance"
	GlitchCouponStack   GlitchType = "coupon_stack"
	GlitchUnknown       GlitchType = "unknown"
)

// Tier is a subscription level. It determines notification delay and the set
// of channels a subscriber may receive on.
type Tier string

const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
	TierElite   Tier = "elite"
)

// Channel names a delivery channel implemented by a provider.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelChat     Channel = "chat"
	ChannelSMS      Channel = "sms"
	ChannelTelegram Channel = "telegram"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelDiscord  Channel = "discord"
	ChannelWebhook  Channel = "webhook"
	ChannelPriority Channel = "priority"
)

// ProductSnapshot is the product state captured at detection time. Snapshots
// are stored by value at emission; downstream consumers never re-resolve.
type ProductSnapshot struct {
	Title         string      `json:"title"`
	CurrentPrice  float64     `json:"current_price"`
	OriginalPrice *float64    `json:"original_price,omitempty"`
	StockStatus   StockStatus `json:"stock_status"`
	RetailerID    string      `json:"retailer_id"`
	URL           string      `json:"url"`
	Category      string      `json:"category"`
}

// PricingAnomaly is a statistically flagged candidate price emitted by the
// detector onto the anomaly.detected stream.
type PricingAnomaly struct {
	ID                 string          `json:"id"`
	Product            ProductSnapshot `json:"product"`
	AnomalyType        AnomalyType     `json:"anomaly_type"`
	ZScore             *float64        `json:"z_score,omitempty"`
	DiscountPercentage float64         `json:"discount_percentage"`
	InitialConfidence  float64         `json:"initial_confidence"`
	DetectedAt         time.Time       `json:"detected_at"`
	Status             AnomalyStatus   `json:"status"`
}

// ValidatedGlitch is a confirmed pricing error worth broadcasting. One exists
// iff the validator produced is_glitch=true with confidence >= 50.
type ValidatedGlitch struct {
	ID           string          `json:"id"`
	AnomalyID    string          `json:"anomaly_id"`
	Product      ProductSnapshot `json:"product"`
	IsGlitch     bool            `json:"is_glitch"`
	Confidence   float64         `json:"confidence"`
	Reasoning    string          `json:"reasoning"`
	GlitchType   GlitchType      `json:"glitch_type"`
	ProfitMargin float64         `json:"profit_margin"`
	ValidatedAt  time.Time       `json:"validated_at"`
}

// ModelTier partitions the model table by cost/quality class.
type ModelTier string

const (
	ModelTierHigh ModelTier = "high"
	ModelTierMid  ModelTier = "mid"
	ModelTierBase ModelTier = "base"
)

// ModelConfig is an immutable model pool entry loaded at startup.
type ModelConfig struct {
	ID            string    `json:"id" yaml:"id" validate:"required"`
	Name          string    `json:"name" yaml:"name" validate:"required"`
	Provider      string    `json:"provider" yaml:"provider" validate:"required"`
	BaseWeight    int       `json:"base_weight" yaml:"base_weight" validate:"min=1,max=100"`
	ContextWindow int       `json:"context_window" yaml:"context_window"`
	Tier          ModelTier `json:"tier" yaml:"tier" validate:"oneof=high mid base"`
	Capabilities  []string  `json:"capabilities" yaml:"capabilities"`
	SupportsTools bool      `json:"supports_tools" yaml:"supports_tools"`
	IsFree        bool      `json:"is_free" yaml:"is_free"`
	TimeoutMS     int       `json:"timeout_ms" yaml:"timeout_ms" validate:"min=1"`
	Enabled       bool      `json:"enabled" yaml:"enabled"`
}

// Timeout returns the per-request deadline for this model.
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

// ModelPerformance tracks runtime outcomes for one model. Counters are
// monotonic; ConsecutiveFailures resets on success.
type ModelPerformance struct {
	Success             int64     `json:"success"`
	Failure             int64     `json:"failure"`
	ToolSuccess         int64     `json:"tool_success"`
	ToolFailure         int64     `json:"tool_failure"`
	TotalLatencyMS      int64     `json:"total_latency_ms"`
	LastUsed            time.Time `json:"last_used"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// AvgLatencyMS returns the mean latency over successful requests, 0 when no
// successes were recorded.
func (p ModelPerformance) AvgLatencyMS() float64 {
	if p.Success == 0 {
		return 0
	}
	return float64(p.TotalLatencyMS) / float64(p.Success)
}

// DispatchJob schedules one per-tier-group fan-out for a confirmed glitch.
type DispatchJob struct {
	GlitchID    string    `json:"glitch_id"`
	Tiers       []Tier    `json:"tiers"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// UniqueID is the delay-queue dedup key for this job. Tiers are sorted so the
// key is stable regardless of policy table ordering.
func (j DispatchJob) UniqueID() string {
	names := make([]string, len(j.Tiers))
	for i, t := range j.Tiers {
		names[i] = string(t)
	}
	sort.Strings(names)
	return fmt.Sprintf("notify-%s-%s", j.GlitchID, strings.Join(names, "-"))
}

// Preferences filter which glitches a subscriber is notified about and which
// channels they opted into.
type Preferences struct {
	MinProfitMargin float64   `json:"min_profit_margin"`
	Categories      []string  `json:"categories"`
	Retailers       []string  `json:"retailers"`
	MinPrice        float64   `json:"min_price"`
	MaxPrice        float64   `json:"max_price"`
	Channels        []Channel `json:"channels"`
}

// Subscriber is an active user eligible for notifications.
type Subscriber struct {
	ID         string      `json:"id"`
	Email      string      `json:"email"`
	Phone      string      `json:"phone"`
	ChatID     string      `json:"chat_id"`
	WebhookURL string      `json:"webhook_url,omitempty"`
	Tier       Tier        `json:"tier"`
	Active     bool        `json:"active"`
	Prefs      Preferences `json:"prefs"`
}

// SendResult is the uniform outcome of one channel provider call.
type SendResult struct {
	Success   bool      `json:"success"`
	Channel   Channel   `json:"channel"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// UnicornContext carries the signals used to decide whether a request
// warrants the SOTA model pool.
type UnicornContext struct {
	Discount   float64
	Confidence float64
	ZScore     *float64
}

// IsUnicorn reports whether at least two of discount >= 80, confidence >= 85
// and z_score >= 4 hold.
func (u UnicornContext) IsUnicorn() bool {
	hits := 0
	if u.Discount >= 80 {
		hits++
	}
	if u.Confidence >= 85 {
		hits++
	}
	if u.ZScore != nil && *u.ZScore >= 4 {
		hits++
	}
	return hits >= 2
}

// ProfitMargin computes the relative saving for a product snapshot, falling
// back to the detector's discount when the original price is unknown.
func ProfitMargin(p ProductSnapshot, fallbackDiscount float64) float64 {
	if p.OriginalPrice == nil || *p.OriginalPrice <= 0 {
		return fallbackDiscount
	}
	m := (*p.OriginalPrice - p.CurrentPrice) / *p.OriginalPrice * 100
	if m < 0 {
		return 0
	}
	return m
}

// ClampConfidence bounds a model-reported confidence to [0,100].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
