package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/clduab11/pricehawk/internal/domain"
)

// Recorder accumulates counters and duration sums in the shared KV under
// metrics.{name}[.tag=value] keys, so every replica contributes to one set of
// series and the text endpoint can be served from any of them. Recording is
// best-effort: a KV error is logged, never propagated into handlers.
type Recorder struct {
	kv domain.KV
}

// NewRecorder constructs a Recorder over the shared KV.
func NewRecorder(kv domain.KV) *Recorder {
	return &Recorder{kv: kv}
}

// Inc adds 1 to the named counter.
func (r *Recorder) Inc(ctx context.Context, name string, tags map[string]string) {
	r.add(ctx, name, 1, tags)
}

// AddDurationMS accumulates a duration sum in milliseconds.
func (r *Recorder) AddDurationMS(ctx context.Context, name string, ms int64, tags map[string]string) {
	r.add(ctx, name, ms, tags)
}

func (r *Recorder) add(ctx context.Context, name string, n int64, tags map[string]string) {
	if r == nil || r.kv == nil {
		return
	}
	key := metricKey(name, tags)
	if _, err := r.kv.IncrBy(ctx, key, n); err != nil {
		slog.Warn("metric record failed", slog.String("key", key), slog.Any("error", err))
	}
}

// metricKey encodes a metric name plus sorted tags into the KV key form
// metrics.{name}[.tag=value].
func metricKey(name string, tags map[string]string) string {
	var b strings.Builder
	b.WriteString("metrics.")
	b.WriteString(name)
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(".")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(tags[k])
	}
	return b.String()
}

// RenderText serializes all metrics.* KV keys as `name{tag="v",...} value`
// lines, sorted by name for stable scraping.
func (r *Recorder) RenderText(ctx context.Context) (string, error) {
	keys, err := r.kv.Keys(ctx, "metrics.*")
	if err != nil {
		return "", fmt.Errorf("op=metrics.RenderText: %w", err)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		val, ok, err := r.kv.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		b.WriteString(formatMetricLine(key, val))
		b.WriteString("\n")
	}
	return b.String(), nil
}

func formatMetricLine(key, value string) string {
	rest := strings.TrimPrefix(key, "metrics.")
	parts := strings.Split(rest, ".")
	name := parts[0]
	var keys, vals []string
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if ok {
			keys = append(keys, k)
			vals = append(vals, v)
			continue
		}
		if len(keys) == 0 {
			// Dotted metric name segment; tags have not started yet.
			name += "." + p
			continue
		}
		// Dotted tag value segment, e.g. stream=anomaly.detected.
		vals[len(vals)-1] += "." + p
	}
	if len(keys) == 0 {
		return fmt.Sprintf("%s %s", name, value)
	}
	tags := make([]string, len(keys))
	for i, k := range keys {
		tags[i] = fmt.Sprintf("%s=%q", k, vals[i])
	}
	return fmt.Sprintf("%s{%s} %s", name, strings.Join(tags, ","), value)
}
