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

// fakeSubs serves a fixed roster.
type fakeSubs struct {
	subs    []domain.Subscriber
	listErr error
}

func (f *fakeSubs) ListActiveByTiers(_ context.Context, tiers []domain.Tier) ([]domain.Subscriber, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Subscriber
	for _, s := range f.subs {
		for _, t := range tiers {
			if s.Tier == t {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

// fakeAnomalyStore records MarkNotified calls.
type fakeAnomalyStore struct {
	mu       sync.Mutex
	notified []string
}

func (f *fakeAnomalyStore) UpdateStatus(context.Context, string, domain.AnomalyStatus) error {
	return nil
}

func (f *fakeAnomalyStore) MarkNotified(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, id)
	return nil
}

func (f *fakeAnomalyStore) InsertGlitch(context.Context, domain.ValidatedGlitch) error { return nil }

func proSubscriber(id string) domain.Subscriber {
	return domain.Subscriber{
		ID:     id,
		Email:  id + "@example.com",
		Phone:  "+15550001",
		ChatID: "C" + id,
		Tier:   domain.TierPro,
		Active: true,
		Prefs: domain.Preferences{
			Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
		},
	}
}

func jobBytes(t *testing.T, g domain.ValidatedGlitch, tiers ...domain.Tier) []byte {
	t.Helper()
	raw, err := json.Marshal(jobPayload{Glitch: g, Tiers: tiers})
	require.NoError(t, err)
	return raw
}

type executorHarness struct {
	exec  *Executor
	kv    *rediskv.Store
	email *fakeProvider
	sms   *fakeProvider
	store *fakeAnomalyStore
}

func newExecutorHarness(t *testing.T, subs *fakeSubs, caps map[domain.Channel]int) *executorHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	kv := rediskv.New(rdb)

	policy, err := LoadTierPolicy("")
	require.NoError(t, err)

	email := &fakeProvider{ch: domain.ChannelEmail}
	sms := &fakeProvider{ch: domain.ChannelSMS}
	store := &fakeAnomalyStore{}
	exec := NewExecutor(subs,
		[]domain.ChannelProvider{email, sms},
		policy, kv,
		NewRateLimiter(kv, caps),
		store, nil, 7*24*time.Hour)
	return &executorHarness{exec: exec, kv: kv, email: email, sms: sms, store: store}
}

func TestHandleJobDeliversOnEnabledAndAllowedChannels(t *testing.T) {
	subs := &fakeSubs{subs: []domain.Subscriber{proSubscriber("u1")}}
	h := newExecutorHarness(t, subs, nil)

	err := h.exec.HandleJob(context.Background(), jobBytes(t, dispatchGlitch(), domain.TierPro, domain.TierElite))
	require.NoError(t, err)

	assert.Equal(t, 1, h.email.sendCount())
	assert.Equal(t, 1, h.sms.sendCount())
	assert.Equal(t, []string{"a1"}, h.store.notified)
}

func TestHandleJobTierGatesChannels(t *testing.T) {
	// A starter subscriber opted into SMS, but starter only allows email+chat.
	sub := proSubscriber("u1")
	sub.Tier = domain.TierStarter
	h := newExecutorHarness(t, &fakeSubs{subs: []domain.Subscriber{sub}}, nil)

	err := h.exec.HandleJob(context.Background(), jobBytes(t, dispatchGlitch(), domain.TierStarter))
	require.NoError(t, err)

	assert.Equal(t, 1, h.email.sendCount())
	assert.Equal(t, 0, h.sms.sendCount())
}

func TestHandleJobPreferenceFilterSkipsSubscriber(t *testing.T) {
	sub := proSubscriber("u1")
	sub.Prefs.MinProfitMargin = 95 // glitch margin is 90
	h := newExecutorHarness(t, &fakeSubs{subs: []domain.Subscriber{sub}}, nil)

	err := h.exec.HandleJob(context.Background(), jobBytes(t, dispatchGlitch(), domain.TierPro))
	require.NoError(t, err)

	assert.Equal(t, 0, h.email.sendCount())
	assert.Empty(t, h.store.notified)
}

func TestHandleJobUserDedupAcrossRetries(t *testing.T) {
	subs := &fakeSubs{subs: []domain.Subscriber{proSubscriber("u1")}}
	h := newExecutorHarness(t, subs, nil)
	ctx := context.Background()

	payload := jobBytes(t, dispatchGlitch(), domain.TierPro)
	require.NoError(t, h.exec.HandleJob(ctx, payload))
	require.NoError(t, h.exec.HandleJob(ctx, payload))

	// The second run sees the dedup key and sends nothing.
	assert.Equal(t, 1, h.email.sendCount())

	exists, err := h.kv.Exists(ctx, userDedupKey("u1", "g1"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestHandleJobDedupNotSetWhenAllChannelsFail(t *testing.T) {
	subs := &fakeSubs{subs: []domain.Subscriber{proSubscriber("u1")}}
	h := newExecutorHarness(t, subs, nil)
	h.email.fail = true
	h.sms.fail = true
	ctx := context.Background()

	require.NoError(t, h.exec.HandleJob(ctx, jobBytes(t, dispatchGlitch(), domain.TierPro)))

	exists, err := h.kv.Exists(ctx, userDedupKey("u1", "g1"))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, h.store.notified)

	// A later retry reaches the subscriber again.
	h.email.fail = false
	require.NoError(t, h.exec.HandleJob(ctx, jobBytes(t, dispatchGlitch(), domain.TierPro)))
	assert.Equal(t, 2, h.email.sendCount())
	assert.Equal(t, []string{"a1"}, h.store.notified)
}

func TestHandleJobPartialChannelFailureStillDedupes(t *testing.T) {
	subs := &fakeSubs{subs: []domain.Subscriber{proSubscriber("u1")}}
	h := newExecutorHarness(t, subs, nil)
	h.sms.fail = true
	ctx := context.Background()

	require.NoError(t, h.exec.HandleJob(ctx, jobBytes(t, dispatchGlitch(), domain.TierPro)))

	exists, err := h.kv.Exists(ctx, userDedupKey("u1", "g1"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestHandleJobRateLimitSkipsChannel(t *testing.T) {
	sub := proSubscriber("u1")
	sub.Prefs.Channels = []domain.Channel{domain.ChannelSMS}
	h := newExecutorHarness(t, &fakeSubs{subs: []domain.Subscriber{sub}}, map[domain.Channel]int{domain.ChannelSMS: 1})
	ctx := context.Background()

	g1 := dispatchGlitch()
	require.NoError(t, h.exec.HandleJob(ctx, jobBytes(t, g1, domain.TierPro)))

	g2 := dispatchGlitch()
	g2.ID = "g2"
	require.NoError(t, h.exec.HandleJob(ctx, jobBytes(t, g2, domain.TierPro)))

	// The daily cap of one blocks the second glitch's SMS.
	assert.Equal(t, 1, h.sms.sendCount())
}

func TestHandleJobSubscriberListFailureIsRetryable(t *testing.T) {
	h := newExecutorHarness(t, &fakeSubs{listErr: errors.New("db down")}, nil)
	err := h.exec.HandleJob(context.Background(), jobBytes(t, dispatchGlitch(), domain.TierPro))
	assert.Error(t, err)
}

func TestHandleJobUndecodablePayloadIsDropped(t *testing.T) {
	h := newExecutorHarness(t, &fakeSubs{}, nil)
	assert.NoError(t, h.exec.HandleJob(context.Background(), []byte("not json")))
}

func TestHandleJobMissingProviderIsSkipped(t *testing.T) {
	sub := proSubscriber("u1")
	sub.Prefs.Channels = []domain.Channel{domain.ChannelWhatsApp, domain.ChannelEmail}
	h := newExecutorHarness(t, &fakeSubs{subs: []domain.Subscriber{sub}}, nil)

	// No whatsapp provider is registered; email still goes out.
	require.NoError(t, h.exec.HandleJob(context.Background(), jobBytes(t, dispatchGlitch(), domain.TierPro)))
	assert.Equal(t, 1, h.email.sendCount())
}
