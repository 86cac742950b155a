// Package stream provides the cursor-based stream consumer framework. It
// drives any handler against a named bus stream with at-least-once delivery,
// bounded in-place retries, dead-letter routing and cooperative shutdown.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clduab11/pricehawk/internal/domain"
	"github.com/clduab11/pricehawk/internal/observability"
)

// Handler processes one stream entry. An error classified as retryable
// (domain.IsRetryable) retries the entry in place up to MaxRetries before it
// is dead-lettered; a permanent classification dead-letters immediately;
// wrapping domain.ErrMalformedPayload advances past the entry with a warning
// and no DLQ.
type Handler func(ctx context.Context, e domain.Entry) error

// Config tunes one consumer loop. Zero values fall back to the defaults.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
}

const (
	defaultBatchSize    = 50
	defaultPollInterval = 2 * time.Second
	defaultMaxRetries   = 5
)

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	return c
}

// CursorKey is the KV key holding the last-committed entry ID for a stream.
func CursorKey(stream string) string { return "cursor.stream." + stream }

// Consumer owns one stream+group pair and processes batches sequentially.
type Consumer struct {
	bus     domain.Bus
	kv      domain.KV
	stream  string
	group   string
	handler Handler
	cfg     Config
	rec     *observability.Recorder

	// In-process failure counters, keyed by entry ID. Lost on restart, which
	// is acceptable: at-least-once means the entry is re-read and bounded by
	// MaxRetries again.
	failures map[string]int
}

// NewConsumer constructs a consumer for stream under the given group name.
func NewConsumer(bus domain.Bus, kv domain.KV, streamName, group string, handler Handler, cfg Config, rec *observability.Recorder) *Consumer {
	return &Consumer{
		bus:      bus,
		kv:       kv,
		stream:   streamName,
		group:    group,
		handler:  handler,
		cfg:      cfg.withDefaults(),
		rec:      rec,
		failures: make(map[string]int),
	}
}

// Run consumes until ctx is cancelled. The cursor never advances past an
// entry until that entry either succeeds, is classified malformed, or is
// routed to the DLQ after MaxRetries failures.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("stream consumer starting",
		slog.String("stream", c.stream),
		slog.String("group", c.group),
		slog.Int("batch_size", c.cfg.BatchSize),
		slog.Duration("poll_interval", c.cfg.PollInterval),
		slog.Int("max_retries", c.cfg.MaxRetries))

	for {
		if err := ctx.Err(); err != nil {
			slog.Info("stream consumer stopping", slog.String("stream", c.stream))
			return nil
		}

		cursor, err := c.loadCursor(ctx)
		if err != nil {
			slog.Error("cursor load failed",
				slog.String("stream", c.stream), slog.Any("error", err))
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		entries, err := c.bus.XRead(ctx, c.stream, cursor, int64(c.cfg.BatchSize))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("stream read failed",
				slog.String("stream", c.stream), slog.Any("error", err))
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		if len(entries) == 0 {
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		c.processBatch(ctx, entries)

		if !c.sleep(ctx) {
			return nil
		}
	}
}

// processBatch walks the batch in stream order. A retryable handler failure
// breaks out without advancing the cursor so the same entry is re-read next
// iteration.
func (c *Consumer) processBatch(ctx context.Context, entries []domain.Entry) {
	tracer := otel.Tracer("stream.consumer")
	for _, e := range entries {
		if ctx.Err() != nil {
			// Shutdown requested: never advance past unprocessed entries.
			return
		}

		spanCtx, span := tracer.Start(ctx, "stream.handle")
		span.SetAttributes(
			attribute.String("stream", c.stream),
			attribute.String("entry_id", e.ID),
		)
		start := time.Now()
		err := c.handler(spanCtx, e)
		took := time.Since(start)
		span.End()
		observability.StreamHandlerDuration.WithLabelValues(c.stream).Observe(took.Seconds())

		switch {
		case err == nil:
			delete(c.failures, e.ID)
			if !c.advance(ctx, e.ID) {
				return
			}
			observability.StreamEntriesTotal.WithLabelValues(c.stream, "ok").Inc()
			c.rec.Inc(ctx, "stream.entries", map[string]string{"stream": c.stream, "outcome": "ok"})
			c.rec.AddDurationMS(ctx, "stream.handler_ms", took.Milliseconds(), map[string]string{"stream": c.stream})

		case errors.Is(err, domain.ErrMalformedPayload):
			// Reported but advanced immediately; malformed entries are never
			// dead-lettered.
			slog.Warn("malformed entry, advancing",
				slog.String("stream", c.stream),
				slog.String("entry_id", e.ID),
				slog.Any("error", err))
			delete(c.failures, e.ID)
			if !c.advance(ctx, e.ID) {
				return
			}
			observability.StreamEntriesTotal.WithLabelValues(c.stream, "malformed").Inc()
			c.rec.Inc(ctx, "stream.entries", map[string]string{"stream": c.stream, "outcome": "malformed"})

		case errors.Is(err, domain.ErrShutdown) || errors.Is(err, context.Canceled):
			// Abandon without advancing; the entry is re-read after restart.
			return

		default:
			c.failures[e.ID]++
			n := c.failures[e.ID]
			if domain.IsRetryable(err) && n < c.cfg.MaxRetries {
				slog.Warn("handler failed, will retry in place",
					slog.String("stream", c.stream),
					slog.String("entry_id", e.ID),
					slog.Int("attempt", n),
					slog.Int("max_retries", c.cfg.MaxRetries),
					slog.Any("error", err))
				observability.StreamEntriesTotal.WithLabelValues(c.stream, "retry").Inc()
				return
			}
			if dlqErr := c.bus.DeadLetter(ctx, c.stream, e.ID, e.Values, err); dlqErr != nil {
				slog.Error("dead-letter append failed, keeping entry for retry",
					slog.String("stream", c.stream),
					slog.String("entry_id", e.ID),
					slog.Any("error", dlqErr))
				return
			}
			delete(c.failures, e.ID)
			if !c.advance(ctx, e.ID) {
				return
			}
			observability.StreamEntriesTotal.WithLabelValues(c.stream, "dlq").Inc()
			observability.DLQEntriesTotal.WithLabelValues(c.stream).Inc()
			c.rec.Inc(ctx, "stream.entries", map[string]string{"stream": c.stream, "outcome": "dlq"})
		}
	}
}

func (c *Consumer) loadCursor(ctx context.Context) (string, error) {
	v, ok, err := c.kv.Get(ctx, CursorKey(c.stream))
	if err != nil {
		return "", err
	}
	if !ok {
		return "0-0", nil
	}
	return v, nil
}

// advance commits the cursor past the entry. A failed commit leaves the
// cursor where it was; the entry will be re-delivered, which at-least-once
// permits. Cursors are stored without TTL.
func (c *Consumer) advance(ctx context.Context, entryID string) bool {
	if ctx.Err() != nil {
		return false
	}
	if err := c.kv.Set(ctx, CursorKey(c.stream), entryID, 0); err != nil {
		slog.Error("cursor advance failed",
			slog.String("stream", c.stream),
			slog.String("entry_id", entryID),
			slog.Any("error", err))
		return false
	}
	return true
}

// sleep waits one poll interval cooperatively; false means shutdown.
func (c *Consumer) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
