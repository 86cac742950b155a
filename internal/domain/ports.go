package domain

import (
	"context"
	"time"
)

// Entry is one record read from a bus stream. Values is the flat payload map
// written by the producer; IDs are of the form {ms}-{seq} and are strictly
// increasing within a stream.
type Entry struct {
	ID     string
	Values map[string]string
}

// Bus is the durable append-only log the pipeline runs on.
type Bus interface {
	XAdd(ctx context.Context, stream string, values map[string]string) (string, error)
	// XRead returns up to count entries strictly after afterID in insertion
	// order. afterID "0-0" (or empty) reads from the start.
	XRead(ctx context.Context, stream, afterID string, count int64) ([]Entry, error)
	// XReadLast returns the newest count entries, oldest first.
	XReadLast(ctx context.Context, stream string, count int64) ([]Entry, error)
	XLen(ctx context.Context, stream string) (int64, error)
	// DeadLetter appends a failed entry to the dlq.{stream} stream.
	DeadLetter(ctx context.Context, stream, entryID string, values map[string]string, cause error) error
}

// KV is the shared TTL'd key-value store backing dedup keys, cursors,
// counters and router state.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets the key only when absent and reports whether it was set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, key string) error
	// Keys is for admin/inspection surfaces only; never on hot paths.
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// DelayQueue schedules jobs for future execution with unique-ID dedup.
type DelayQueue interface {
	Add(ctx context.Context, name string, payload []byte, delay time.Duration, uniqueID string) error
}

// ChannelProvider is the uniform send facade implemented once per channel.
// Broadcast sends pass a nil target.
type ChannelProvider interface {
	Channel() Channel
	Send(ctx context.Context, glitch ValidatedGlitch, target *Subscriber) SendResult
}

// SubscriberRepo loads active subscribers for fan-out.
type SubscriberRepo interface {
	ListActiveByTiers(ctx context.Context, tiers []Tier) ([]Subscriber, error)
}

// AnomalyStore persists anomaly lifecycle transitions and confirmed glitches.
type AnomalyStore interface {
	UpdateStatus(ctx context.Context, anomalyID string, status AnomalyStatus) error
	// MarkNotified is idempotent.
	MarkNotified(ctx context.Context, anomalyID string) error
	InsertGlitch(ctx context.Context, g ValidatedGlitch) error
}

// ModelCaller performs one chat completion against a configured model
// endpoint and returns the raw message content.
type ModelCaller interface {
	ChatJSON(ctx context.Context, model ModelConfig, systemPrompt, userPrompt string) (string, error)
}
