package router

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitState is the breaker state for one model.
type CircuitState int

const (
	// CircuitClosed allows requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen blocks the model from selection.
	CircuitOpen
	// CircuitHalfOpen probes recovery: one success closes, one failure
	// re-opens.
	CircuitHalfOpen
)

// String returns the wire/state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// consecutiveTrip is the secondary trip signal: this many consecutive
// failures open the circuit regardless of the sliding window.
const consecutiveTrip = 5

// Breaker is a sliding-window circuit breaker for one model. The primary trip
// is threshold errors within window; the cooldown to half-open equals the
// window, so a circuit with no fresh failures stops blocking after one window
// has elapsed.
type Breaker struct {
	mu        sync.Mutex
	modelID   string
	threshold int
	window    time.Duration

	state      CircuitState
	openedAt   time.Time
	errorTimes []time.Time
	now        func() time.Time
}

// NewBreaker constructs a breaker with the given window trip threshold.
func NewBreaker(modelID string, threshold int, window time.Duration, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		modelID:   modelID,
		threshold: threshold,
		window:    window,
		state:     CircuitClosed,
		now:       now,
	}
}

// State returns the current state, applying the open -> half-open transition
// when the cooldown has elapsed.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() CircuitState {
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.window {
		b.state = CircuitHalfOpen
		slog.Info("circuit half-open after cooldown", slog.String("model", b.modelID))
	}
	return b.state
}

// IsOpen reports whether the model must be filtered from selection.
func (b *Breaker) IsOpen() bool { return b.State() == CircuitOpen }

// OpenedAt returns when the circuit last opened; zero when it never did.
func (b *Breaker) OpenedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openedAt
}

// RecordFailure pushes an error timestamp and evaluates both trip signals.
// consecutive is the model's consecutive-failure count after this failure.
func (b *Breaker) RecordFailure(consecutive int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.stateLocked() == CircuitHalfOpen {
		b.open(now, "half-open probe failed")
		return
	}

	cutoff := now.Add(-b.window)
	kept := b.errorTimes[:0]
	for _, t := range b.errorTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.errorTimes = append(kept, now)

	if b.state == CircuitClosed {
		if len(b.errorTimes) >= b.threshold {
			b.open(now, "error window threshold reached")
		} else if consecutive >= consecutiveTrip {
			b.open(now, "consecutive failures")
		}
	}
}

// RecordSuccess closes the circuit from half-open (or from closed keeps it
// closed) and clears the error window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stateLocked() != CircuitClosed {
		slog.Info("circuit closed after successful probe", slog.String("model", b.modelID))
	}
	b.state = CircuitClosed
	b.errorTimes = b.errorTimes[:0]
}

// ForceHalfOpen moves the circuit to half-open regardless of cooldown. Used
// by the router's all-circuits-open fallback.
func (b *Breaker) ForceHalfOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitHalfOpen
	slog.Warn("circuit forced half-open", slog.String("model", b.modelID))
}

// Restore installs a snapshot loaded from KV.
func (b *Breaker) Restore(state CircuitState, openedAt time.Time, errorTimes []time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
	b.openedAt = openedAt
	b.errorTimes = append(b.errorTimes[:0], errorTimes...)
}

// Snapshot returns the state for KV mirroring.
func (b *Breaker) Snapshot() (CircuitState, time.Time, []time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	times := make([]time.Time, len(b.errorTimes))
	copy(times, b.errorTimes)
	return b.state, b.openedAt, times
}

func (b *Breaker) open(now time.Time, reason string) {
	b.state = CircuitOpen
	b.openedAt = now
	slog.Warn("circuit opened",
		slog.String("model", b.modelID),
		slog.String("reason", reason),
		slog.Int("window_errors", len(b.errorTimes)))
}
