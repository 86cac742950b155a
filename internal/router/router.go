// Package router implements the weighted, performance-aware model selection
// engine: per-model sliding-window circuit breakers, effective-weight
// computation, unicorn escalation to the SOTA pool, and KV-mirrored state so
// replicas converge after cold starts.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/clduab11/pricehawk/internal/domain"
	"github.com/clduab11/pricehawk/internal/observability"
)

// Options tune a Router.
type Options struct {
	// CircuitThreshold errors within CircuitWindow open a model's circuit.
	CircuitThreshold int
	CircuitWindow    time.Duration
	// EnableSOTA allows unicorn requests to draw from the SOTA pool.
	EnableSOTA bool
	// SnapshotTTL bounds the KV mirror of performance/circuit state.
	SnapshotTTL time.Duration
	// Rand returns a uniform value in [0, n). Defaults to math/rand.
	Rand func(n int64) int64
	// Now defaults to time.Now. Injected by tests.
	Now func() time.Time
}

// Router selects models, records outcomes and suppresses failing models. All
// methods are safe for concurrent use; per-model state is guarded per cell.
type Router struct {
	models   []domain.ModelConfig
	byID     map[string]domain.ModelConfig
	perf     map[string]*perfCell
	breakers map[string]*Breaker

	kv  domain.KV
	rec *observability.Recorder
	opt Options

	mirrorMu sync.Mutex
}

// New constructs a Router over the model table. State previously mirrored to
// KV is loaded so a cold start keeps recent history.
func New(models []domain.ModelConfig, kv domain.KV, rec *observability.Recorder, opt Options) *Router {
	if opt.Rand == nil {
		opt.Rand = rand.Int63n
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.CircuitThreshold <= 0 {
		opt.CircuitThreshold = 3
	}
	if opt.CircuitWindow <= 0 {
		opt.CircuitWindow = 5 * time.Minute
	}
	if opt.SnapshotTTL <= 0 {
		opt.SnapshotTTL = 24 * time.Hour
	}

	r := &Router{
		models:   models,
		byID:     make(map[string]domain.ModelConfig, len(models)),
		perf:     make(map[string]*perfCell, len(models)),
		breakers: make(map[string]*Breaker, len(models)),
		kv:       kv,
		rec:      rec,
		opt:      opt,
	}
	for _, m := range models {
		r.byID[m.ID] = m
		r.perf[m.ID] = &perfCell{}
		r.breakers[m.ID] = NewBreaker(m.ID, opt.CircuitThreshold, opt.CircuitWindow, opt.Now)
	}
	return r
}

// SelectFor chooses a model for a request. Unicorn requests draw from the
// SOTA pool when enabled; anything else (including an empty SOTA pool) falls
// back to standard selection.
func (r *Router) SelectFor(uc domain.UnicornContext, toolsOnly bool) (domain.ModelConfig, error) {
	if r.opt.EnableSOTA && uc.IsUnicorn() {
		m, err := r.Select(PoolSOTA, toolsOnly)
		if err == nil {
			observability.ModelSelectionsTotal.WithLabelValues(m.ID, string(PoolSOTA)).Inc()
			return m, nil
		}
		slog.Warn("sota pool unavailable, falling back to standard", slog.Any("error", err))
	}
	m, err := r.Select(PoolStandard, toolsOnly)
	if err != nil {
		return domain.ModelConfig{}, err
	}
	observability.ModelSelectionsTotal.WithLabelValues(m.ID, string(PoolStandard)).Inc()
	return m, nil
}

// Select performs one weighted draw from the pool. Models with open circuits
// are filtered out; when that leaves nothing, the oldest-opened circuit is
// reset to half-open and its model returned so the pool can recover.
func (r *Router) Select(pool Pool, toolsOnly bool) (domain.ModelConfig, error) {
	candidates := partition(r.models, pool, toolsOnly)
	if len(candidates) == 0 {
		return domain.ModelConfig{}, fmt.Errorf("op=router.Select pool=%s: %w", pool, domain.ErrNoModels)
	}

	selectable := candidates[:0:0]
	for _, m := range candidates {
		if !r.breakers[m.ID].IsOpen() {
			selectable = append(selectable, m)
		}
	}

	if len(selectable) == 0 {
		return r.resetOldest(candidates)
	}

	total := int64(0)
	weights := make([]int, len(selectable))
	for i, m := range selectable {
		w := EffectiveWeight(m, r.perf[m.ID].snapshot())
		weights[i] = w
		total += int64(w)
	}

	draw := r.opt.Rand(total)
	var cum int64
	for i, m := range selectable {
		cum += int64(weights[i])
		if draw < cum {
			return m, nil
		}
	}
	// Unreachable with a well-behaved Rand; keep the stable-order tie-break.
	return selectable[len(selectable)-1], nil
}

// resetOldest applies the all-circuits-open fallback: the circuit that opened
// earliest becomes half-open and its model is returned with base weight. When
// no circuit ever opened (fresh process with mirrored open state missing),
// the first enabled model of the pool is returned.
func (r *Router) resetOldest(candidates []domain.ModelConfig) (domain.ModelConfig, error) {
	var oldest *Breaker
	var oldestModel domain.ModelConfig
	for _, m := range candidates {
		b := r.breakers[m.ID]
		at := b.OpenedAt()
		if at.IsZero() {
			continue
		}
		if oldest == nil || at.Before(oldest.OpenedAt()) {
			oldest = b
			oldestModel = m
		}
	}
	if oldest == nil {
		return candidates[0], nil
	}
	oldest.ForceHalfOpen()
	slog.Warn("all circuits open, probing oldest",
		slog.String("model", oldestModel.ID))
	return oldestModel, nil
}

// RecordSuccess reports a successful request with its latency.
func (r *Router) RecordSuccess(ctx context.Context, modelID string, latency time.Duration) {
	cell, ok := r.perf[modelID]
	if !ok {
		return
	}
	perf := cell.recordSuccess(latency, r.opt.Now())
	r.breakers[modelID].RecordSuccess()
	observability.ModelRequestsTotal.WithLabelValues(modelID, "success").Inc()
	observability.ModelRequestDuration.WithLabelValues(modelID).Observe(latency.Seconds())
	observability.CircuitState.WithLabelValues(modelID).Set(float64(r.breakers[modelID].State()))
	r.rec.Inc(ctx, "model.requests", map[string]string{"model": modelID, "outcome": "success"})
	r.mirror(ctx, modelID, perf)
}

// RecordFailure reports a failed request and evaluates the breaker.
func (r *Router) RecordFailure(ctx context.Context, modelID string) {
	cell, ok := r.perf[modelID]
	if !ok {
		return
	}
	perf := cell.recordFailure(r.opt.Now())
	r.breakers[modelID].RecordFailure(perf.ConsecutiveFailures)
	observability.ModelRequestsTotal.WithLabelValues(modelID, "failure").Inc()
	observability.CircuitState.WithLabelValues(modelID).Set(float64(r.breakers[modelID].State()))
	r.rec.Inc(ctx, "model.requests", map[string]string{"model": modelID, "outcome": "failure"})
	r.mirror(ctx, modelID, perf)
}

// RecordToolOutcome reports a tool-call outcome on the same model.
func (r *Router) RecordToolOutcome(ctx context.Context, modelID string, ok bool) {
	cell, found := r.perf[modelID]
	if !found {
		return
	}
	perf := cell.recordTool(ok)
	r.mirror(ctx, modelID, perf)
}

// IsOpen reports whether the model's circuit currently blocks selection.
func (r *Router) IsOpen(modelID string) bool {
	b, ok := r.breakers[modelID]
	return ok && b.IsOpen()
}

// ModelStats is one row of the stats surface.
type ModelStats struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Pool                Pool      `json:"pool"`
	EffectiveWeight     int       `json:"effective_weight"`
	Success             int64     `json:"success"`
	Failure             int64     `json:"failure"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	AvgLatencyMS        float64   `json:"avg_latency_ms"`
	CircuitState        string    `json:"circuit_state"`
	LastUsed            time.Time `json:"last_used"`
}

// Stats returns the per-model snapshot in table order.
func (r *Router) Stats() []ModelStats {
	out := make([]ModelStats, 0, len(r.models))
	for _, m := range r.models {
		p := r.perf[m.ID].snapshot()
		pool := PoolSOTA
		if m.IsFree {
			pool = PoolStandard
		}
		out = append(out, ModelStats{
			ID:                  m.ID,
			Name:                m.Name,
			Pool:                pool,
			EffectiveWeight:     EffectiveWeight(m, p),
			Success:             p.Success,
			Failure:             p.Failure,
			ConsecutiveFailures: p.ConsecutiveFailures,
			AvgLatencyMS:        p.AvgLatencyMS(),
			CircuitState:        r.breakers[m.ID].State().String(),
			LastUsed:            p.LastUsed,
		})
	}
	return out
}

// circuitSnapshot is the KV wire form of a breaker.
type circuitSnapshot struct {
	State      string      `json:"state"`
	OpenedAt   time.Time   `json:"opened_at"`
	ErrorTimes []time.Time `json:"error_times"`
}

// mirror writes both snapshots for a model to KV with the configured TTL.
// Last-writer-wins across replicas is acceptable: selection is randomized.
func (r *Router) mirror(ctx context.Context, modelID string, perf domain.ModelPerformance) {
	if r.kv == nil {
		return
	}
	r.mirrorMu.Lock()
	defer r.mirrorMu.Unlock()

	if raw, err := json.Marshal(perf); err == nil {
		if err := r.kv.Set(ctx, "model.perf."+modelID, string(raw), r.opt.SnapshotTTL); err != nil {
			slog.Warn("perf mirror failed", slog.String("model", modelID), slog.Any("error", err))
		}
	}
	state, openedAt, times := r.breakers[modelID].Snapshot()
	snap := circuitSnapshot{State: state.String(), OpenedAt: openedAt, ErrorTimes: times}
	if raw, err := json.Marshal(snap); err == nil {
		if err := r.kv.Set(ctx, "model.circuit."+modelID, string(raw), r.opt.SnapshotTTL); err != nil {
			slog.Warn("circuit mirror failed", slog.String("model", modelID), slog.Any("error", err))
		}
	}
}

// LoadSnapshots restores performance and circuit state mirrored by this or
// another replica. Missing or undecodable snapshots are skipped.
func (r *Router) LoadSnapshots(ctx context.Context) {
	if r.kv == nil {
		return
	}
	for _, m := range r.models {
		if raw, ok, err := r.kv.Get(ctx, "model.perf."+m.ID); err == nil && ok {
			var p domain.ModelPerformance
			if err := json.Unmarshal([]byte(raw), &p); err == nil {
				r.perf[m.ID].restore(p)
			}
		}
		if raw, ok, err := r.kv.Get(ctx, "model.circuit."+m.ID); err == nil && ok {
			var snap circuitSnapshot
			if err := json.Unmarshal([]byte(raw), &snap); err == nil {
				r.breakers[m.ID].Restore(parseCircuitState(snap.State), snap.OpenedAt, snap.ErrorTimes)
			}
		}
	}
	slog.Info("router state loaded from kv", slog.Int("models", len(r.models)))
}

func parseCircuitState(s string) CircuitState {
	switch s {
	case "open":
		return CircuitOpen
	case "half_open":
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}
