// Package validator implements the AI validation worker: for each detected
// pricing anomaly it selects a model through the router, asks for a
// structured verdict and emits a ValidatedGlitch when the anomaly is
// confirmed.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clduab11/pricehawk/internal/adapter/ai"
	"github.com/clduab11/pricehawk/internal/adapter/bus/redisbus"
	"github.com/clduab11/pricehawk/internal/domain"
	"github.com/clduab11/pricehawk/internal/observability"
	"github.com/clduab11/pricehawk/internal/router"
)

// maxModelAttempts bounds fallback across distinct models per anomaly.
const maxModelAttempts = 3

// confidenceFloor is the minimum confidence for a confirmed glitch.
const confidenceFloor = 50

// Worker validates anomalies. Its Handle method is a stream.Handler.
type Worker struct {
	router *router.Router
	caller domain.ModelCaller
	bus    domain.Bus
	store  domain.AnomalyStore
	rec    *observability.Recorder
	now    func() time.Time
}

// New constructs a Worker. store may be nil when anomaly persistence runs
// elsewhere.
func New(r *router.Router, caller domain.ModelCaller, bus domain.Bus, store domain.AnomalyStore, rec *observability.Recorder) *Worker {
	return &Worker{router: r, caller: caller, bus: bus, store: store, rec: rec, now: time.Now}
}

// Handle processes one anomaly.detected entry.
func (w *Worker) Handle(ctx context.Context, e domain.Entry) error {
	raw, ok := e.Values["payload"]
	if !ok {
		return fmt.Errorf("%w: entry %s has no payload field", domain.ErrMalformedPayload, e.ID)
	}
	var anomaly domain.PricingAnomaly
	if err := json.Unmarshal([]byte(raw), &anomaly); err != nil {
		return fmt.Errorf("%w: entry %s: %v", domain.ErrMalformedPayload, e.ID, err)
	}
	if anomaly.ID == "" {
		return fmt.Errorf("%w: entry %s: anomaly id missing", domain.ErrMalformedPayload, e.ID)
	}

	lg := slog.With(
		slog.String("anomaly_id", anomaly.ID),
		slog.String("retailer", anomaly.Product.RetailerID),
		slog.String("entry_id", e.ID),
	)

	verdict, modelID, err := w.validate(ctx, anomaly, lg)
	if err != nil {
		return fmt.Errorf("op=validator.Handle anomaly=%s: %w", anomaly.ID, err)
	}

	if !verdict.IsGlitch || verdict.Confidence < confidenceFloor {
		lg.Info("anomaly rejected",
			slog.Bool("is_glitch", verdict.IsGlitch),
			slog.Float64("confidence", verdict.Confidence),
			slog.String("model", modelID))
		observability.GlitchesValidatedTotal.WithLabelValues("rejected").Inc()
		w.rec.Inc(ctx, "validator.decisions", map[string]string{"outcome": "rejected"})
		w.updateStatus(ctx, anomaly.ID, domain.AnomalyRejected, lg)
		return nil
	}

	glitch := domain.ValidatedGlitch{
		ID:           uuid.NewString(),
		AnomalyID:    anomaly.ID,
		Product:      anomaly.Product,
		IsGlitch:     true,
		Confidence:   verdict.Confidence,
		Reasoning:    verdict.Reasoning,
		GlitchType:   verdict.Type(),
		ProfitMargin: domain.ProfitMargin(anomaly.Product, anomaly.DiscountPercentage),
		ValidatedAt:  w.now().UTC(),
	}

	payload, err := json.Marshal(glitch)
	if err != nil {
		return fmt.Errorf("op=validator.Handle anomaly=%s: marshal glitch: %w", anomaly.ID, err)
	}
	entryID, err := w.bus.XAdd(ctx, redisbus.StreamAnomalyConfirmed, map[string]string{"payload": string(payload)})
	if err != nil {
		return fmt.Errorf("%w: emit confirmed glitch: %v", domain.ErrTransient, err)
	}

	lg.Info("glitch confirmed",
		slog.String("glitch_id", glitch.ID),
		slog.String("glitch_type", string(glitch.GlitchType)),
		slog.Float64("confidence", glitch.Confidence),
		slog.Float64("profit_margin", glitch.ProfitMargin),
		slog.String("model", modelID),
		slog.String("confirmed_entry_id", entryID))
	observability.GlitchesValidatedTotal.WithLabelValues("confirmed").Inc()
	w.rec.Inc(ctx, "validator.decisions", map[string]string{"outcome": "confirmed"})

	w.updateStatus(ctx, anomaly.ID, domain.AnomalyValidated, lg)
	if w.store != nil {
		if err := w.store.InsertGlitch(ctx, glitch); err != nil {
			lg.Warn("glitch persist failed", slog.Any("error", err))
		}
	}
	return nil
}

// validate runs the model fallback loop: up to maxModelAttempts distinct
// models, reporting each outcome to the router. Exhaustion surfaces as a
// transient error so the stream framework retries the entry.
func (w *Worker) validate(ctx context.Context, anomaly domain.PricingAnomaly, lg *slog.Logger) (ai.Verdict, string, error) {
	uc := domain.UnicornContext{
		Discount:   anomaly.DiscountPercentage,
		Confidence: anomaly.InitialConfidence,
		ZScore:     anomaly.ZScore,
	}
	systemPrompt, userPrompt := BuildPrompt(anomaly)

	tried := make(map[string]bool, maxModelAttempts)
	var lastErr error
	for attempt := 0; attempt < maxModelAttempts; attempt++ {
		model, ok, err := w.selectUntried(uc, tried)
		if err != nil {
			return ai.Verdict{}, "", fmt.Errorf("%w: %v", domain.ErrTransient, err)
		}
		if !ok {
			// Every draw landed on an already-tried model; the pool has no
			// distinct fallback left.
			break
		}
		tried[model.ID] = true

		start := w.now()
		reply, err := w.caller.ChatJSON(ctx, model, systemPrompt, userPrompt)
		if err != nil {
			if ctx.Err() != nil {
				return ai.Verdict{}, "", domain.ErrShutdown
			}
			lg.Warn("model call failed, falling back",
				slog.String("model", model.ID),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err))
			w.router.RecordFailure(ctx, model.ID)
			lastErr = err
			continue
		}

		verdict, err := ai.ParseVerdict(reply)
		if err != nil {
			lg.Warn("verdict parse failed, falling back",
				slog.String("model", model.ID),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err))
			w.router.RecordFailure(ctx, model.ID)
			lastErr = err
			continue
		}

		w.router.RecordSuccess(ctx, model.ID, w.now().Sub(start))
		return verdict, model.ID, nil
	}
	if lastErr == nil {
		lastErr = domain.ErrNoModels
	}
	return ai.Verdict{}, "", fmt.Errorf("%w: all model attempts failed: %v", domain.ErrTransient, lastErr)
}

// maxSelectDraws bounds the re-draws selectUntried makes before concluding
// the pool has no untried model left.
const maxSelectDraws = 8

// selectUntried draws from the router until it finds a model not yet tried
// for this anomaly. Duplicate draws on small pools never consume a fallback
// attempt; ok=false means no untried model surfaced.
func (w *Worker) selectUntried(uc domain.UnicornContext, tried map[string]bool) (domain.ModelConfig, bool, error) {
	for i := 0; i < maxSelectDraws; i++ {
		model, err := w.router.SelectFor(uc, false)
		if err != nil {
			return domain.ModelConfig{}, false, err
		}
		if !tried[model.ID] {
			return model, true, nil
		}
	}
	return domain.ModelConfig{}, false, nil
}

func (w *Worker) updateStatus(ctx context.Context, anomalyID string, status domain.AnomalyStatus, lg *slog.Logger) {
	if w.store == nil {
		return
	}
	if err := w.store.UpdateStatus(ctx, anomalyID, status); err != nil {
		lg.Warn("anomaly status update failed",
			slog.String("status", string(status)),
			slog.Any("error", err))
	}
}
