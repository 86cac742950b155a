package router

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clduab11/pricehawk/internal/adapter/kv/rediskv"
	"github.com/clduab11/pricehawk/internal/domain"
	"github.com/clduab11/pricehawk/internal/observability"
)

func testModels() []domain.ModelConfig {
	return []domain.ModelConfig{
		{ID: "free-a", Name: "Free A", Provider: "test", BaseWeight: 80, Tier: domain.ModelTierMid, SupportsTools: true, IsFree: true, TimeoutMS: 1000, Enabled: true},
		{ID: "free-b", Name: "Free B", Provider: "test", BaseWeight: 20, Tier: domain.ModelTierBase, SupportsTools: false, IsFree: true, TimeoutMS: 1000, Enabled: true},
		{ID: "paid-a", Name: "Paid A", Provider: "test", BaseWeight: 95, Tier: domain.ModelTierHigh, SupportsTools: true, IsFree: false, TimeoutMS: 1000, Enabled: true},
	}
}

// fixedRand makes the weighted draw deterministic.
func fixedRand(v int64) func(int64) int64 {
	return func(n int64) int64 {
		if v >= n {
			return n - 1
		}
		return v
	}
}

func TestSelectWeightedDraw(t *testing.T) {
	// Standard pool weights: free-a 80, free-b 20 (total 100).
	r := New(testModels(), nil, nil, Options{Rand: fixedRand(0)})
	m, err := r.Select(PoolStandard, false)
	require.NoError(t, err)
	assert.Equal(t, "free-a", m.ID)

	r = New(testModels(), nil, nil, Options{Rand: fixedRand(79)})
	m, err = r.Select(PoolStandard, false)
	require.NoError(t, err)
	assert.Equal(t, "free-a", m.ID)

	r = New(testModels(), nil, nil, Options{Rand: fixedRand(80)})
	m, err = r.Select(PoolStandard, false)
	require.NoError(t, err)
	assert.Equal(t, "free-b", m.ID)
}

func TestSelectToolsOnly(t *testing.T) {
	r := New(testModels(), nil, nil, Options{Rand: fixedRand(1 << 40)})
	m, err := r.Select(PoolStandard, true)
	require.NoError(t, err)
	// free-b has no tool support, so the draw can only land on free-a.
	assert.Equal(t, "free-a", m.ID)
}

func TestSelectSkipsOpenCircuits(t *testing.T) {
	r := New(testModels(), nil, nil, Options{CircuitThreshold: 2, Rand: fixedRand(0)})
	ctx := context.Background()

	r.RecordFailure(ctx, "free-a")
	r.RecordFailure(ctx, "free-a")
	require.True(t, r.IsOpen("free-a"))

	m, err := r.Select(PoolStandard, false)
	require.NoError(t, err)
	assert.Equal(t, "free-b", m.ID)
}

func TestSelectAllOpenProbesOldest(t *testing.T) {
	clock := newFakeClock()
	r := New(testModels(), nil, nil, Options{
		CircuitThreshold: 2,
		CircuitWindow:    5 * time.Minute,
		Rand:             fixedRand(0),
		Now:              clock.now,
	})
	ctx := context.Background()

	r.RecordFailure(ctx, "free-a")
	r.RecordFailure(ctx, "free-a")
	clock.advance(time.Minute)
	r.RecordFailure(ctx, "free-b")
	r.RecordFailure(ctx, "free-b")

	require.True(t, r.IsOpen("free-a"))
	require.True(t, r.IsOpen("free-b"))

	// free-a opened first, so it is probed.
	m, err := r.Select(PoolStandard, false)
	require.NoError(t, err)
	assert.Equal(t, "free-a", m.ID)
	assert.False(t, r.IsOpen("free-a"))
	assert.True(t, r.IsOpen("free-b"))
}

func TestSelectEmptyPool(t *testing.T) {
	r := New(nil, nil, nil, Options{})
	_, err := r.Select(PoolStandard, false)
	assert.ErrorIs(t, err, domain.ErrNoModels)
}

func TestSelectForUnicornEscalation(t *testing.T) {
	uc := domain.UnicornContext{Discount: 90, Confidence: 90}
	require.True(t, uc.IsUnicorn())

	r := New(testModels(), nil, nil, Options{EnableSOTA: true, Rand: fixedRand(0)})
	m, err := r.SelectFor(uc, false)
	require.NoError(t, err)
	assert.Equal(t, "paid-a", m.ID)

	// SOTA disabled keeps unicorns on the standard pool.
	r = New(testModels(), nil, nil, Options{EnableSOTA: false, Rand: fixedRand(0)})
	m, err = r.SelectFor(uc, false)
	require.NoError(t, err)
	assert.Equal(t, "free-a", m.ID)
}

func TestSelectForNonUnicornStaysStandard(t *testing.T) {
	uc := domain.UnicornContext{Discount: 90} // one signal only
	require.False(t, uc.IsUnicorn())

	r := New(testModels(), nil, nil, Options{EnableSOTA: true, Rand: fixedRand(0)})
	m, err := r.SelectFor(uc, false)
	require.NoError(t, err)
	assert.Equal(t, "free-a", m.ID)
}

func TestSelectForEmptySOTAFallsBack(t *testing.T) {
	freeOnly := testModels()[:2]
	uc := domain.UnicornContext{Discount: 90, Confidence: 90}

	r := New(freeOnly, nil, nil, Options{EnableSOTA: true, Rand: fixedRand(0)})
	m, err := r.SelectFor(uc, false)
	require.NoError(t, err)
	assert.Equal(t, "free-a", m.ID)
}

func TestRecordOutcomesAdjustWeight(t *testing.T) {
	r := New(testModels(), nil, nil, Options{Rand: fixedRand(0)})
	ctx := context.Background()

	r.RecordSuccess(ctx, "free-a", 150*time.Millisecond)
	r.RecordFailure(ctx, "free-a")
	r.RecordToolOutcome(ctx, "free-a", true)

	stats := r.Stats()
	require.Len(t, stats, 3)
	a := stats[0]
	assert.Equal(t, "free-a", a.ID)
	assert.Equal(t, int64(1), a.Success)
	assert.Equal(t, int64(1), a.Failure)
	assert.Equal(t, 1, a.ConsecutiveFailures)
	// round(80*0.5) - 10 + round(1.0*5) = 35.
	assert.Equal(t, 35, a.EffectiveWeight)
	assert.Equal(t, "closed", a.CircuitState)
}

func TestRecordUnknownModelIsNoop(t *testing.T) {
	r := New(testModels(), nil, nil, Options{})
	ctx := context.Background()
	r.RecordSuccess(ctx, "ghost", time.Second)
	r.RecordFailure(ctx, "ghost")
	r.RecordToolOutcome(ctx, "ghost", false)
	assert.False(t, r.IsOpen("ghost"))
}

func TestMirrorAndLoadSnapshots(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	kv := rediskv.New(rdb)
	rec := observability.NewRecorder(kv)
	ctx := context.Background()

	r1 := New(testModels(), kv, rec, Options{CircuitThreshold: 2})
	r1.RecordFailure(ctx, "free-a")
	r1.RecordFailure(ctx, "free-a")
	require.True(t, r1.IsOpen("free-a"))

	// A fresh replica restores both performance and circuit state.
	r2 := New(testModels(), kv, rec, Options{CircuitThreshold: 2})
	require.False(t, r2.IsOpen("free-a"))
	r2.LoadSnapshots(ctx)
	assert.True(t, r2.IsOpen("free-a"))

	stats := r2.Stats()
	assert.Equal(t, int64(2), stats[0].Failure)
	assert.Equal(t, 2, stats[0].ConsecutiveFailures)
}

func TestLoadPoolDefaults(t *testing.T) {
	models, err := LoadPool("")
	require.NoError(t, err)
	require.NotEmpty(t, models)

	free := partition(models, PoolStandard, false)
	sota := partition(models, PoolSOTA, false)
	assert.NotEmpty(t, free)
	assert.NotEmpty(t, sota)
	for _, m := range free {
		assert.True(t, m.IsFree)
	}
	for _, m := range sota {
		assert.False(t, m.IsFree)
	}
}

func TestLoadPoolFromYAML(t *testing.T) {
	path := t.TempDir() + "/pool.yaml"
	content := `models:
  - id: custom-model
    name: Custom
    provider: test
    base_weight: 50
    tier: mid
    is_free: true
    timeout_ms: 10000
    enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	models, err := LoadPool(path)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "custom-model", models[0].ID)
}

func TestLoadPoolRejectsInvalidEntry(t *testing.T) {
	path := t.TempDir() + "/pool.yaml"
	content := `models:
  - id: ""
    name: Broken
    provider: test
    base_weight: 50
    tier: mid
    timeout_ms: 10000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadPool(path)
	assert.Error(t, err)
}
