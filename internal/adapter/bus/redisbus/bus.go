// Package redisbus implements the stream bus port on Redis Streams.
//
// Entry IDs take the Redis form {ms}-{seq} and are strictly increasing within
// one stream, which gives the pipeline its per-stream linearization.
package redisbus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clduab11/pricehawk/internal/domain"
)

// Stream names used by the pipeline.
const (
	StreamAnomalyDetected  = "anomaly.detected"
	StreamAnomalyConfirmed = "anomaly.confirmed"
)

// DLQName returns the dead-letter stream for an original stream.
func DLQName(stream string) string { return "dlq." + stream }

// Bus is a Redis Streams implementation of domain.Bus.
type Bus struct {
	rdb *redis.Client
}

// New constructs a Bus over an existing client.
func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// XAdd appends values to stream and returns the generated entry ID.
func (b *Bus) XAdd(ctx context.Context, stream string, values map[string]string) (string, error) {
	args := make(map[string]interface{}, len(values))
	for k, v := range values {
		args[k] = v
	}
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: args}).Result()
	if err != nil {
		return "", fmt.Errorf("op=bus.XAdd stream=%s: %w", stream, err)
	}
	return id, nil
}

// XRead returns up to count entries strictly after afterID in insertion
// order. afterID "0-0" or "" reads from the stream head.
func (b *Bus) XRead(ctx context.Context, stream, afterID string, count int64) ([]domain.Entry, error) {
	start := "-"
	if afterID != "" && afterID != "0-0" {
		next, err := nextEntryID(afterID)
		if err != nil {
			return nil, fmt.Errorf("op=bus.XRead stream=%s after=%s: %w", stream, afterID, err)
		}
		start = next
	}
	msgs, err := b.rdb.XRangeN(ctx, stream, start, "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("op=bus.XRead stream=%s: %w", stream, err)
	}
	entries := make([]domain.Entry, 0, len(msgs))
	for _, m := range msgs {
		values := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			s, ok := v.(string)
			if !ok {
				s = fmt.Sprintf("%v", v)
			}
			values[k] = s
		}
		entries = append(entries, domain.Entry{ID: m.ID, Values: values})
	}
	return entries, nil
}

// XReadLast returns the newest count entries of stream, oldest first.
func (b *Bus) XReadLast(ctx context.Context, stream string, count int64) ([]domain.Entry, error) {
	msgs, err := b.rdb.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("op=bus.XReadLast stream=%s: %w", stream, err)
	}
	entries := make([]domain.Entry, len(msgs))
	for i, m := range msgs {
		values := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			s, ok := v.(string)
			if !ok {
				s = fmt.Sprintf("%v", v)
			}
			values[k] = s
		}
		// XREVRANGE yields newest first; store reversed.
		entries[len(msgs)-1-i] = domain.Entry{ID: m.ID, Values: values}
	}
	return entries, nil
}

// XLen returns the number of entries in stream.
func (b *Bus) XLen(ctx context.Context, stream string) (int64, error) {
	n, err := b.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("op=bus.XLen stream=%s: %w", stream, err)
	}
	return n, nil
}

// DeadLetter appends the failed entry with its original payload and an error
// description to dlq.{stream}.
func (b *Bus) DeadLetter(ctx context.Context, stream, entryID string, values map[string]string, cause error) error {
	payload := map[string]string{
		"stream":   stream,
		"entry_id": entryID,
		"error":    cause.Error(),
		"ts":       time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range values {
		payload["payload."+k] = v
	}
	id, err := b.XAdd(ctx, DLQName(stream), payload)
	if err != nil {
		return err
	}
	slog.Warn("entry dead-lettered",
		slog.String("stream", stream),
		slog.String("entry_id", entryID),
		slog.String("dlq_id", id),
		slog.String("cause", cause.Error()))
	return nil
}

// nextEntryID increments a {ms}-{seq} ID to the smallest ID strictly after
// it, so XRANGE can emulate an exclusive lower bound.
func nextEntryID(id string) (string, error) {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return "", fmt.Errorf("%w: bad entry id %q", domain.ErrMalformedPayload, id)
	}
	msN, err := strconv.ParseUint(ms, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad entry id %q", domain.ErrMalformedPayload, id)
	}
	seqN, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad entry id %q", domain.ErrMalformedPayload, id)
	}
	if seqN == ^uint64(0) {
		return fmt.Sprintf("%d-0", msN+1), nil
	}
	return fmt.Sprintf("%d-%d", msN, seqN+1), nil
}
