package router

import (
	"math"
	"sync"
	"time"

	"github.com/clduab11/pricehawk/internal/domain"
)

// perfCell guards one model's mutable performance record. Each cell has its
// own lock so outcome reporting never contends across models.
type perfCell struct {
	mu   sync.Mutex
	perf domain.ModelPerformance
}

func (c *perfCell) recordSuccess(latency time.Duration, now time.Time) domain.ModelPerformance {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perf.Success++
	c.perf.TotalLatencyMS += latency.Milliseconds()
	c.perf.ConsecutiveFailures = 0
	c.perf.LastUsed = now
	return c.perf
}

func (c *perfCell) recordFailure(now time.Time) domain.ModelPerformance {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perf.Failure++
	c.perf.ConsecutiveFailures++
	c.perf.LastUsed = now
	return c.perf
}

func (c *perfCell) recordTool(ok bool) domain.ModelPerformance {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.perf.ToolSuccess++
	} else {
		c.perf.ToolFailure++
	}
	return c.perf
}

func (c *perfCell) snapshot() domain.ModelPerformance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perf
}

func (c *perfCell) restore(p domain.ModelPerformance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perf = p
}

// EffectiveWeight computes a model's selection weight from its base weight
// and runtime performance:
//
//	no requests yet        -> base_weight
//	otherwise              -> max(1, round(base*success_rate) - penalty + tool_bonus)
//
// where penalty = min(consecutive_failures*10, 80) and tool_bonus rewards a
// good tool-call track record with up to 5 points.
func EffectiveWeight(cfg domain.ModelConfig, p domain.ModelPerformance) int {
	total := p.Success + p.Failure
	if total == 0 {
		return cfg.BaseWeight
	}
	rate := float64(p.Success) / float64(total)

	penalty := p.ConsecutiveFailures * 10
	if penalty > 80 {
		penalty = 80
	}

	bonus := 0
	if toolTotal := p.ToolSuccess + p.ToolFailure; toolTotal > 0 {
		bonus = int(math.Round(float64(p.ToolSuccess) / float64(toolTotal) * 5))
	}

	w := int(math.Round(float64(cfg.BaseWeight)*rate)) - penalty + bonus
	if w < 1 {
		return 1
	}
	return w
}
