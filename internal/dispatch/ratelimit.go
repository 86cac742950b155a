package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clduab11/pricehawk/internal/domain"
)

// RateLimiter enforces per-user per-channel daily send caps using KV
// counters. A cap of 0 means the channel is uncapped.
type RateLimiter struct {
	kv   domain.KV
	caps map[domain.Channel]int
	now  func() time.Time
}

// NewRateLimiter constructs a limiter with the given per-channel daily caps.
func NewRateLimiter(kv domain.KV, caps map[domain.Channel]int) *RateLimiter {
	copied := make(map[domain.Channel]int, len(caps))
	for ch, n := range caps {
		copied[ch] = n
	}
	return &RateLimiter{kv: kv, caps: copied, now: time.Now}
}

// Reserve consumes one daily send slot for the user on the channel and
// reports whether the send may proceed. Reservation happens before the send,
// so a failed send still counts against the cap; that keeps the counter an
// upper bound on provider traffic.
func (r *RateLimiter) Reserve(ctx context.Context, userID string, ch domain.Channel) (bool, error) {
	limit, capped := r.caps[ch]
	if !capped || limit <= 0 {
		return true, nil
	}

	day := r.now().UTC().Format("2006-01-02")
	key := fmt.Sprintf("%s.limit.%s.%s", ch, userID, day)
	n, err := r.kv.Incr(ctx, key)
	if err != nil {
		return false, fmt.Errorf("op=dispatch.Reserve key=%s: %w", key, err)
	}
	if n == 1 {
		// The key rolls over naturally at the UTC date boundary; the TTL just
		// keeps stale counters from accumulating.
		if err := r.kv.Expire(ctx, key, 24*time.Hour); err != nil {
			slog.Warn("rate limit key expire failed",
				slog.String("key", key),
				slog.Any("error", err))
		}
	}
	if n > int64(limit) {
		slog.Info("channel daily cap reached",
			slog.String("user_id", userID),
			slog.String("channel", string(ch)),
			slog.Int("cap", limit))
		return false, nil
	}
	return true, nil
}
