package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clduab11/pricehawk/internal/adapter/kv/rediskv"
	"github.com/clduab11/pricehawk/internal/domain"
)

type queuedJob struct {
	name     string
	payload  []byte
	delay    time.Duration
	uniqueID string
}

// fakeQueue records Add calls and can fail on demand.
type fakeQueue struct {
	mu     sync.Mutex
	jobs   []queuedJob
	addErr error
}

func (f *fakeQueue) Add(_ context.Context, name string, payload []byte, delay time.Duration, uniqueID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.jobs = append(f.jobs, queuedJob{name: name, payload: payload, delay: delay, uniqueID: uniqueID})
	return nil
}

// fakeProvider implements domain.ChannelProvider with a scripted outcome.
type fakeProvider struct {
	mu      sync.Mutex
	ch      domain.Channel
	fail    bool
	targets []*domain.Subscriber
}

func (f *fakeProvider) Channel() domain.Channel { return f.ch }

func (f *fakeProvider) Send(_ context.Context, _ domain.ValidatedGlitch, target *domain.Subscriber) domain.SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	if f.fail {
		return domain.SendResult{Success: false, Channel: f.ch, Error: "scripted failure", SentAt: time.Now()}
	}
	return domain.SendResult{Success: true, Channel: f.ch, MessageID: "mid", SentAt: time.Now()}
}

func (f *fakeProvider) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.targets)
}

func dispatchGlitch() domain.ValidatedGlitch {
	return domain.ValidatedGlitch{
		ID:        "g1",
		AnomalyID: "a1",
		Product: domain.ProductSnapshot{
			Title:        "Laptop",
			CurrentPrice: 99,
			RetailerID:   "megamart",
			Category:     "Electronics",
			URL:          "https://example.com/laptop",
		},
		IsGlitch:     true,
		Confidence:   90,
		GlitchType:   domain.GlitchDecimalError,
		ProfitMargin: 90,
		ValidatedAt:  time.Now().UTC(),
	}
}

func glitchEntry(t *testing.T, g domain.ValidatedGlitch) domain.Entry {
	t.Helper()
	raw, err := json.Marshal(g)
	require.NoError(t, err)
	return domain.Entry{ID: "7-0", Values: map[string]string{"payload": string(raw)}}
}

func newTestDispatcher(t *testing.T, queue *fakeQueue, broadcasts ...domain.ChannelProvider) (*Dispatcher, *rediskv.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	kv := rediskv.New(rdb)
	policy, err := LoadTierPolicy("")
	require.NoError(t, err)
	return NewDispatcher(kv, queue, policy, broadcasts, nil, 24*time.Hour), kv
}

func TestHandleConfirmedSchedulesAllTierGroups(t *testing.T) {
	queue := &fakeQueue{}
	d, _ := newTestDispatcher(t, queue)

	require.NoError(t, d.HandleConfirmed(context.Background(), glitchEntry(t, dispatchGlitch())))
	require.Len(t, queue.jobs, 3)

	assert.Equal(t, time.Duration(0), queue.jobs[0].delay)
	assert.Equal(t, 24*time.Hour, queue.jobs[1].delay)
	assert.Equal(t, 72*time.Hour, queue.jobs[2].delay)

	for _, j := range queue.jobs {
		assert.Equal(t, TaskNotifySubscribers, j.name)
	}
	assert.Equal(t, "notify-g1-elite-pro", queue.jobs[0].uniqueID)
	assert.Equal(t, "notify-g1-starter", queue.jobs[1].uniqueID)
	assert.Equal(t, "notify-g1-free", queue.jobs[2].uniqueID)

	// The glitch travels by value inside the job payload.
	var p jobPayload
	require.NoError(t, json.Unmarshal(queue.jobs[0].payload, &p))
	assert.Equal(t, "g1", p.Glitch.ID)
	assert.Equal(t, []domain.Tier{domain.TierElite, domain.TierPro}, p.Tiers)
}

func TestHandleConfirmedDeduplicatesRedelivery(t *testing.T) {
	queue := &fakeQueue{}
	d, _ := newTestDispatcher(t, queue)
	ctx := context.Background()

	e := glitchEntry(t, dispatchGlitch())
	require.NoError(t, d.HandleConfirmed(ctx, e))
	require.NoError(t, d.HandleConfirmed(ctx, e))

	assert.Len(t, queue.jobs, 3)
}

func TestHandleConfirmedFiresBroadcasts(t *testing.T) {
	queue := &fakeQueue{}
	tg := &fakeProvider{ch: domain.ChannelTelegram}
	dc := &fakeProvider{ch: domain.ChannelDiscord, fail: true}
	d, _ := newTestDispatcher(t, queue, tg, dc)

	require.NoError(t, d.HandleConfirmed(context.Background(), glitchEntry(t, dispatchGlitch())))

	// Broadcasts get a nil target; a failed broadcast never fails the entry.
	assert.Equal(t, 1, tg.sendCount())
	assert.Nil(t, tg.targets[0])
	assert.Equal(t, 1, dc.sendCount())
	assert.Len(t, queue.jobs, 3)
}

func TestHandleConfirmedQueueFailureReleasesDedup(t *testing.T) {
	queue := &fakeQueue{addErr: errors.New("queue down")}
	d, kv := newTestDispatcher(t, queue)
	ctx := context.Background()

	e := glitchEntry(t, dispatchGlitch())
	err := d.HandleConfirmed(ctx, e)
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))

	exists, err := kv.Exists(ctx, glitchDedupKey("g1"))
	require.NoError(t, err)
	assert.False(t, exists)

	// The retry schedules normally once the queue recovers.
	queue.addErr = nil
	require.NoError(t, d.HandleConfirmed(ctx, e))
	assert.Len(t, queue.jobs, 3)
}

func TestHandleConfirmedMalformedEntries(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeQueue{})
	ctx := context.Background()

	err := d.HandleConfirmed(ctx, domain.Entry{ID: "1-0", Values: map[string]string{}})
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)

	err = d.HandleConfirmed(ctx, domain.Entry{ID: "1-0", Values: map[string]string{"payload": "junk"}})
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)

	err = d.HandleConfirmed(ctx, domain.Entry{ID: "1-0", Values: map[string]string{"payload": "{}"}})
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}
