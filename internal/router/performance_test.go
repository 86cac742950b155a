package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/clduab11/pricehawk/internal/domain"
)

func TestEffectiveWeightNoHistory(t *testing.T) {
	cfg := domain.ModelConfig{BaseWeight: 80}
	assert.Equal(t, 80, EffectiveWeight(cfg, domain.ModelPerformance{}))
}

func TestEffectiveWeightSuccessRate(t *testing.T) {
	cfg := domain.ModelConfig{BaseWeight: 80}

	// 3/4 success rate: round(80*0.75) = 60.
	p := domain.ModelPerformance{Success: 3, Failure: 1}
	assert.Equal(t, 60, EffectiveWeight(cfg, p))

	// All successes keep the base weight.
	p = domain.ModelPerformance{Success: 10}
	assert.Equal(t, 80, EffectiveWeight(cfg, p))
}

func TestEffectiveWeightConsecutivePenalty(t *testing.T) {
	cfg := domain.ModelConfig{BaseWeight: 80}

	p := domain.ModelPerformance{Success: 8, Failure: 2, ConsecutiveFailures: 2}
	// round(80*0.8) - 20 = 44.
	assert.Equal(t, 44, EffectiveWeight(cfg, p))

	// Penalty is capped at 80.
	p = domain.ModelPerformance{Success: 100, Failure: 1, ConsecutiveFailures: 20}
	// round(80*(100/101)) - 80 = 79 - 80 = -1 -> floor of 1.
	assert.Equal(t, 1, EffectiveWeight(cfg, p))
}

func TestEffectiveWeightToolBonus(t *testing.T) {
	cfg := domain.ModelConfig{BaseWeight: 80}

	p := domain.ModelPerformance{Success: 10, ToolSuccess: 9, ToolFailure: 1}
	// 80 + round(0.9*5) = 85 (pre-clamp; no upper clamp applies).
	assert.Equal(t, 85, EffectiveWeight(cfg, p))
}

func TestEffectiveWeightFloor(t *testing.T) {
	cfg := domain.ModelConfig{BaseWeight: 10}
	p := domain.ModelPerformance{Success: 1, Failure: 9, ConsecutiveFailures: 9}
	assert.Equal(t, 1, EffectiveWeight(cfg, p))
}

func TestPerfCellRecording(t *testing.T) {
	cell := &perfCell{}
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	p := cell.recordSuccess(200*time.Millisecond, now)
	assert.Equal(t, int64(1), p.Success)
	assert.Equal(t, int64(200), p.TotalLatencyMS)
	assert.Equal(t, now, p.LastUsed)

	p = cell.recordFailure(now)
	p = cell.recordFailure(now)
	assert.Equal(t, int64(2), p.Failure)
	assert.Equal(t, 2, p.ConsecutiveFailures)

	// Success resets the consecutive counter.
	p = cell.recordSuccess(100*time.Millisecond, now)
	assert.Equal(t, 0, p.ConsecutiveFailures)
	assert.Equal(t, float64(150), p.AvgLatencyMS())
}
