package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/clduab11/pricehawk/internal/domain"
	"github.com/clduab11/pricehawk/internal/observability"
)

// userDedupKey guards one subscriber against duplicate notifications for the
// same glitch across overlapping tier-group jobs and retries.
func userDedupKey(userID, glitchID string) string {
	return fmt.Sprintf("notify.user.%s.glitch.%s", userID, glitchID)
}

// Executor runs delayed fan-out jobs: it loads the eligible subscribers for
// the job's tier group and delivers the glitch over every channel the
// subscriber opted into and their tier authorizes.
type Executor struct {
	subs      domain.SubscriberRepo
	providers map[domain.Channel]domain.ChannelProvider
	policy    *TierPolicy
	kv        domain.KV
	limiter   *RateLimiter
	store     domain.AnomalyStore
	rec       *observability.Recorder
	dedupTTL  time.Duration
}

// NewExecutor constructs an Executor. store may be nil when anomaly
// persistence runs elsewhere.
func NewExecutor(subs domain.SubscriberRepo, providers []domain.ChannelProvider, policy *TierPolicy, kv domain.KV, limiter *RateLimiter, store domain.AnomalyStore, rec *observability.Recorder, dedupTTL time.Duration) *Executor {
	byChannel := make(map[domain.Channel]domain.ChannelProvider, len(providers))
	for _, p := range providers {
		byChannel[p.Channel()] = p
	}
	return &Executor{
		subs:      subs,
		providers: byChannel,
		policy:    policy,
		kv:        kv,
		limiter:   limiter,
		store:     store,
		rec:       rec,
		dedupTTL:  dedupTTL,
	}
}

// HandleJob executes one TaskNotifySubscribers payload. Errors returned here
// make the delay queue retry the whole job; per-user dedup keys keep the
// retry from renotifying anyone who already received a channel.
func (ex *Executor) HandleJob(ctx context.Context, payload []byte) error {
	var job jobPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		slog.Error("dispatch job payload malformed, dropping",
			slog.Any("error", err))
		// Retrying a payload that cannot decode will never succeed.
		return nil
	}

	lg := slog.With(
		slog.String("glitch_id", job.Glitch.ID),
		slog.String("tiers", tierNames(job.Tiers)),
	)

	subscribers, err := ex.subs.ListActiveByTiers(ctx, job.Tiers)
	if err != nil {
		return fmt.Errorf("op=dispatch.HandleJob glitch=%s: list subscribers: %w", job.Glitch.ID, err)
	}
	lg.Info("fan-out starting", slog.Int("subscribers", len(subscribers)))

	notified := 0
	for i := range subscribers {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: fan-out interrupted after %d subscribers", domain.ErrShutdown, notified)
		}
		if ex.notifyOne(ctx, &subscribers[i], job.Glitch, lg) {
			notified++
		}
	}

	lg.Info("fan-out complete",
		slog.Int("subscribers", len(subscribers)),
		slog.Int("notified", notified))
	ex.rec.Inc(ctx, "dispatch.fanouts", map[string]string{"tiers": tierNames(job.Tiers)})

	if notified > 0 && ex.store != nil {
		if err := ex.store.MarkNotified(ctx, job.Glitch.AnomalyID); err != nil {
			lg.Warn("mark notified failed", slog.Any("error", err))
		}
	}
	return nil
}

// notifyOne delivers a glitch to one subscriber and reports whether at least
// one channel succeeded.
func (ex *Executor) notifyOne(ctx context.Context, sub *domain.Subscriber, glitch domain.ValidatedGlitch, lg *slog.Logger) bool {
	if !MatchesPreferences(sub.Prefs, glitch) {
		return false
	}

	dedup := userDedupKey(sub.ID, glitch.ID)
	seen, err := ex.kv.Exists(ctx, dedup)
	if err != nil {
		lg.Warn("user dedup check failed, skipping subscriber",
			slog.String("user_id", sub.ID),
			slog.Any("error", err))
		return false
	}
	if seen {
		return false
	}

	delivered := false
	for _, ch := range sub.Prefs.Channels {
		if !ex.policy.Allows(sub.Tier, ch) {
			continue
		}
		provider, ok := ex.providers[ch]
		if !ok {
			lg.Warn("no provider configured for channel",
				slog.String("channel", string(ch)))
			continue
		}

		allowed, err := ex.limiter.Reserve(ctx, sub.ID, ch)
		if err != nil {
			lg.Warn("rate limit reserve failed",
				slog.String("user_id", sub.ID),
				slog.String("channel", string(ch)),
				slog.Any("error", err))
			continue
		}
		if !allowed {
			observability.NotificationsTotal.WithLabelValues(string(ch), "rate_limited").Inc()
			continue
		}

		res := provider.Send(ctx, glitch, sub)
		if res.Success {
			delivered = true
			observability.NotificationsTotal.WithLabelValues(string(ch), "sent").Inc()
		} else {
			lg.Warn("channel send failed",
				slog.String("user_id", sub.ID),
				slog.String("channel", string(ch)),
				slog.String("error", res.Error))
			observability.NotificationsTotal.WithLabelValues(string(ch), "failed").Inc()
		}
	}

	if delivered {
		// Set only after a successful channel so an all-failure subscriber is
		// retried by the next delivery attempt.
		if err := ex.kv.Set(ctx, dedup, "1", ex.dedupTTL); err != nil {
			lg.Warn("user dedup set failed",
				slog.String("user_id", sub.ID),
				slog.Any("error", err))
		}
	}
	return delivered
}
