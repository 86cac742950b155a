package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clduab11/pricehawk/internal/domain"
	"github.com/clduab11/pricehawk/internal/observability"
)

// TaskNotifySubscribers is the delay-queue task name for per-tier-group
// fan-out jobs.
const TaskNotifySubscribers = "notify:subscribers"

// glitchDedupKey guards against double-dispatch of one glitch across stream
// redeliveries.
func glitchDedupKey(glitchID string) string { return "notify.glitch." + glitchID }

// jobPayload is the delay-queue envelope. The glitch travels by value so the
// executor never re-resolves product state hours after confirmation.
type jobPayload struct {
	Glitch domain.ValidatedGlitch `json:"glitch"`
	Tiers  []domain.Tier          `json:"tiers"`
}

// Dispatcher consumes anomaly.confirmed entries: it claims the glitch dedup
// key, fires broadcast channels immediately and schedules one delayed
// fan-out job per tier group.
type Dispatcher struct {
	kv         domain.KV
	queue      domain.DelayQueue
	policy     *TierPolicy
	broadcasts []domain.ChannelProvider
	rec        *observability.Recorder
	dedupTTL   time.Duration
	now        func() time.Time
}

// NewDispatcher constructs a Dispatcher. broadcasts are public channels
// (Telegram channel, Discord webhook) that receive every glitch without
// subscriber targeting.
func NewDispatcher(kv domain.KV, queue domain.DelayQueue, policy *TierPolicy, broadcasts []domain.ChannelProvider, rec *observability.Recorder, dedupTTL time.Duration) *Dispatcher {
	return &Dispatcher{
		kv:         kv,
		queue:      queue,
		policy:     policy,
		broadcasts: broadcasts,
		rec:        rec,
		dedupTTL:   dedupTTL,
		now:        time.Now,
	}
}

// HandleConfirmed processes one anomaly.confirmed entry. It is a
// stream.Handler; malformed entries are surfaced as such so the consumer
// skips them without dead-lettering.
func (d *Dispatcher) HandleConfirmed(ctx context.Context, e domain.Entry) error {
	raw, ok := e.Values["payload"]
	if !ok {
		return fmt.Errorf("%w: entry %s has no payload field", domain.ErrMalformedPayload, e.ID)
	}
	var glitch domain.ValidatedGlitch
	if err := json.Unmarshal([]byte(raw), &glitch); err != nil {
		return fmt.Errorf("%w: entry %s: %v", domain.ErrMalformedPayload, e.ID, err)
	}
	if glitch.ID == "" {
		return fmt.Errorf("%w: entry %s: glitch id missing", domain.ErrMalformedPayload, e.ID)
	}

	lg := slog.With(
		slog.String("glitch_id", glitch.ID),
		slog.String("anomaly_id", glitch.AnomalyID),
		slog.String("entry_id", e.ID),
	)

	claimed, err := d.kv.SetNX(ctx, glitchDedupKey(glitch.ID), "1", d.dedupTTL)
	if err != nil {
		return fmt.Errorf("%w: glitch dedup claim: %v", domain.ErrTransient, err)
	}
	if !claimed {
		lg.Info("glitch already dispatched, skipping")
		d.rec.Inc(ctx, "dispatch.dedup_skips", nil)
		return nil
	}

	d.broadcast(ctx, glitch, lg)

	if err := d.schedule(ctx, glitch, lg); err != nil {
		// Release the claim so the stream retry can reschedule the remaining
		// groups; already-enqueued jobs stay deduped by their unique IDs.
		if delErr := d.kv.Del(ctx, glitchDedupKey(glitch.ID)); delErr != nil {
			lg.Error("dedup key release failed",
				slog.Any("error", delErr))
		}
		return err
	}
	return nil
}

// broadcast sends the glitch to the public channels synchronously. Broadcast
// failures are logged and counted but never fail the entry; subscriber
// fan-out is the durable path.
func (d *Dispatcher) broadcast(ctx context.Context, glitch domain.ValidatedGlitch, lg *slog.Logger) {
	for _, p := range d.broadcasts {
		res := p.Send(ctx, glitch, nil)
		outcome := "sent"
		if !res.Success {
			outcome = "failed"
			lg.Warn("broadcast send failed",
				slog.String("channel", string(p.Channel())),
				slog.String("error", res.Error))
		} else {
			lg.Info("broadcast sent",
				slog.String("channel", string(p.Channel())),
				slog.String("message_id", res.MessageID))
		}
		observability.NotificationsTotal.WithLabelValues(string(p.Channel()), outcome).Inc()
	}
}

func (d *Dispatcher) schedule(ctx context.Context, glitch domain.ValidatedGlitch, lg *slog.Logger) error {
	for _, g := range d.policy.Groups() {
		job := domain.DispatchJob{
			GlitchID:    glitch.ID,
			Tiers:       g.Tiers,
			ScheduledAt: d.now().UTC().Add(g.Delay),
		}
		payload, err := json.Marshal(jobPayload{Glitch: glitch, Tiers: g.Tiers})
		if err != nil {
			return fmt.Errorf("op=dispatch.schedule glitch=%s: marshal job: %w", glitch.ID, err)
		}
		if err := d.queue.Add(ctx, TaskNotifySubscribers, payload, g.Delay, job.UniqueID()); err != nil {
			return fmt.Errorf("%w: enqueue tier group %s: %v", domain.ErrTransient, tierNames(g.Tiers), err)
		}
		lg.Info("tier group scheduled",
			slog.String("tiers", tierNames(g.Tiers)),
			slog.Duration("delay", g.Delay))
		observability.DispatchJobsTotal.WithLabelValues(tierNames(g.Tiers)).Inc()
	}
	return nil
}

func tierNames(tiers []domain.Tier) string {
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = string(t)
	}
	return strings.Join(names, ",")
}
