package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/clduab11/pricehawk/internal/domain"
)

// SubscriberRepo loads the active subscriber roster for fan-out. It
// implements domain.SubscriberRepo.
type SubscriberRepo struct{ Pool PgxPool }

// NewSubscriberRepo constructs a SubscriberRepo with the given pool.
func NewSubscriberRepo(p PgxPool) *SubscriberRepo { return &SubscriberRepo{Pool: p} }

// ListActiveByTiers returns all active subscribers in the given tiers.
// Preferences are stored as JSONB; a row with unparseable prefs is skipped
// rather than failing the whole fan-out.
func (r *SubscriberRepo) ListActiveByTiers(ctx context.Context, tiers []domain.Tier) ([]domain.Subscriber, error) {
	tracer := otel.Tracer("repo.subscribers")
	ctx, span := tracer.Start(ctx, "subscribers.ListActiveByTiers")
	defer span.End()

	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = string(t)
	}
	q := `SELECT id, email, COALESCE(phone,''), COALESCE(chat_id,''), COALESCE(webhook_url,''), tier, prefs
	      FROM subscribers WHERE active AND tier = ANY($1) ORDER BY id`
	rows, err := r.Pool.Query(ctx, q, names)
	if err != nil {
		return nil, fmt.Errorf("op=subscriber.list_active: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		var s domain.Subscriber
		var prefs []byte
		if err := rows.Scan(&s.ID, &s.Email, &s.Phone, &s.ChatID, &s.WebhookURL, &s.Tier, &prefs); err != nil {
			return nil, fmt.Errorf("op=subscriber.list_active: scan: %w", err)
		}
		s.Active = true
		if len(prefs) > 0 {
			if err := json.Unmarshal(prefs, &s.Prefs); err != nil {
				continue
			}
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=subscriber.list_active: %w", err)
	}
	return subs, nil
}
