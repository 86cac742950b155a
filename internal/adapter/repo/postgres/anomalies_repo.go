package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/clduab11/pricehawk/internal/domain"
)

// AnomalyRepo persists anomaly lifecycle transitions and confirmed glitches.
// It implements domain.AnomalyStore.
type AnomalyRepo struct{ Pool PgxPool }

// NewAnomalyRepo constructs an AnomalyRepo with the given pool.
func NewAnomalyRepo(p PgxPool) *AnomalyRepo { return &AnomalyRepo{Pool: p} }

// UpdateStatus moves an anomaly to the given lifecycle status.
func (r *AnomalyRepo) UpdateStatus(ctx context.Context, anomalyID string, status domain.AnomalyStatus) error {
	tracer := otel.Tracer("repo.anomalies")
	ctx, span := tracer.Start(ctx, "anomalies.UpdateStatus")
	defer span.End()
	q := `UPDATE anomalies SET status=$2, updated_at=$3 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, anomalyID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=anomaly.update_status: %w", err)
	}
	return nil
}

// MarkNotified sets the notified status and timestamp. Repeated calls are
// no-ops because the WHERE clause only matches the first transition.
func (r *AnomalyRepo) MarkNotified(ctx context.Context, anomalyID string) error {
	tracer := otel.Tracer("repo.anomalies")
	ctx, span := tracer.Start(ctx, "anomalies.MarkNotified")
	defer span.End()
	q := `UPDATE anomalies SET status=$2, notified_at=$3, updated_at=$3 WHERE id=$1 AND notified_at IS NULL`
	_, err := r.Pool.Exec(ctx, q, anomalyID, domain.AnomalyNotified, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=anomaly.mark_notified: %w", err)
	}
	return nil
}

// InsertGlitch stores a confirmed glitch with its product snapshot as JSONB.
// Conflicting IDs are ignored so stream redeliveries stay idempotent.
func (r *AnomalyRepo) InsertGlitch(ctx context.Context, g domain.ValidatedGlitch) error {
	tracer := otel.Tracer("repo.anomalies")
	ctx, span := tracer.Start(ctx, "anomalies.InsertGlitch")
	defer span.End()
	product, err := json.Marshal(g.Product)
	if err != nil {
		return fmt.Errorf("op=glitch.insert: marshal product: %w", err)
	}
	q := `INSERT INTO glitches (id, anomaly_id, product, confidence, reasoning, glitch_type, profit_margin, validated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8) ON CONFLICT (id) DO NOTHING`
	_, err = r.Pool.Exec(ctx, q, g.ID, g.AnomalyID, product, g.Confidence, g.Reasoning, g.GlitchType, g.ProfitMargin, g.ValidatedAt)
	if err != nil {
		return fmt.Errorf("op=glitch.insert: %w", err)
	}
	return nil
}
