// Package dispatch implements the tiered notification dispatcher: the
// confirmed-glitch scheduler, the delayed per-tier fan-out executor, the tier
// policy table, preference filtering and per-channel daily caps.
package dispatch

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clduab11/pricehawk/internal/domain"
)

// TierRule is one tier's policy: notification delay and allowed channels.
// Values drive behavior; nothing in the dispatcher enumerates tiers.
type TierRule struct {
	Delay    time.Duration    `yaml:"delay"`
	Channels []domain.Channel `yaml:"channels"`
}

// UnmarshalYAML parses the delay from the Go duration form ("24h", "0s").
func (r *TierRule) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Delay    string           `yaml:"delay"`
		Channels []domain.Channel `yaml:"channels"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Delay != "" {
		d, err := time.ParseDuration(raw.Delay)
		if err != nil {
			return fmt.Errorf("bad tier delay %q: %w", raw.Delay, err)
		}
		r.Delay = d
	}
	r.Channels = raw.Channels
	return nil
}

// TierPolicy is the immutable policy table loaded at startup.
type TierPolicy struct {
	rules map[domain.Tier]TierRule
}

// defaultPolicy mirrors the production tier matrix. A YAML file referenced by
// TIER_POLICY_FILE replaces it entirely.
var defaultPolicy = map[domain.Tier]TierRule{
	domain.TierFree:    {Delay: 72 * time.Hour, Channels: []domain.Channel{domain.ChannelEmail}},
	domain.TierStarter: {Delay: 24 * time.Hour, Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelChat}},
	domain.TierPro:     {Delay: 0, Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelChat, domain.ChannelSMS, domain.ChannelTelegram, domain.ChannelWhatsApp}},
	domain.TierElite:   {Delay: 0, Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelChat, domain.ChannelSMS, domain.ChannelTelegram, domain.ChannelWhatsApp, domain.ChannelWebhook, domain.ChannelPriority}},
}

type policyFile struct {
	Tiers map[domain.Tier]TierRule `yaml:"tiers"`
}

// LoadTierPolicy returns the policy table from the YAML file at path, or the
// compiled-in defaults when path is empty.
func LoadTierPolicy(path string) (*TierPolicy, error) {
	rules := defaultPolicy
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("op=dispatch.LoadTierPolicy path=%s: %w", path, err)
		}
		var f policyFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("op=dispatch.LoadTierPolicy path=%s: %w", path, err)
		}
		if len(f.Tiers) == 0 {
			return nil, fmt.Errorf("op=dispatch.LoadTierPolicy path=%s: no tiers defined", path)
		}
		rules = f.Tiers
	}
	copied := make(map[domain.Tier]TierRule, len(rules))
	for t, r := range rules {
		copied[t] = r
	}
	return &TierPolicy{rules: copied}, nil
}

// Allows reports whether the tier may receive on the channel. Unknown tiers
// are allowed nothing.
func (p *TierPolicy) Allows(tier domain.Tier, ch domain.Channel) bool {
	rule, ok := p.rules[tier]
	if !ok {
		return false
	}
	for _, c := range rule.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// Group is a set of tiers sharing one delay; each group becomes one delayed
// dispatch job.
type Group struct {
	Tiers []domain.Tier
	Delay time.Duration
}

// Groups buckets tiers by delay, sorted by ascending delay with tier names
// sorted inside each bucket for stable job unique IDs.
func (p *TierPolicy) Groups() []Group {
	byDelay := make(map[time.Duration][]domain.Tier)
	for t, r := range p.rules {
		byDelay[r.Delay] = append(byDelay[r.Delay], t)
	}
	groups := make([]Group, 0, len(byDelay))
	for d, tiers := range byDelay {
		sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })
		groups = append(groups, Group{Tiers: tiers, Delay: d})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Delay < groups[j].Delay })
	return groups
}
