package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/DispatchBox/internal/clock/fakeclock"
	"github.com/BearBump/DispatchBox/internal/integrations/notify"
	"github.com/BearBump/DispatchBox/internal/integrations/notify/fake"
	"github.com/stretchr/testify/require"
)

type fakeRL struct {
	mu      sync.Mutex
	allowed bool
	err     error
	keys    []string
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return r.allowed, int64(len(r.keys)), r.err
}

type flakySMS struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakySMS) SendSMS(ctx context.Context, phone, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return "", errors.New("provider 503")
	}
	return "ok", nil
}

func newClock() *fakeclock.Clock {
	return fakeclock.New(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
}

func TestOutbox_DeliversBothChannels(t *testing.T) {
	ctx := context.Background()
	gw := fake.New()
	o := New(gw, gw, nil, newClock())

	id, err := o.SendSMS(ctx, "+15550001", "code 123456")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, o.SendAlert(ctx, "D1", "load offered", notify.AlertKindLoadAssigned))
	require.Equal(t, 2, o.Pending())

	o.RunOnce(ctx)

	require.Equal(t, 0, o.Pending())
	require.Len(t, gw.SMS(), 1)
	require.Len(t, gw.Alerts(), 1)
	require.Equal(t, notify.AlertKindLoadAssigned, gw.Alerts()[0].Kind)

	st := o.Stats()
	require.Equal(t, int64(2), st.TotalEnqueued)
	require.Equal(t, int64(2), st.TotalDelivered)
	require.NotNil(t, st.LastCycleAt)
}

func TestOutbox_RejectsEmptyRecipient(t *testing.T) {
	o := New(fake.New(), fake.New(), nil, newClock())
	_, err := o.SendSMS(context.Background(), "", "x")
	require.Error(t, err)
	require.Error(t, o.SendAlert(context.Background(), "", "x", notify.AlertKindLoadCancelled))
	require.Equal(t, 0, o.Pending())
}

func TestOutbox_RetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	sms := &flakySMS{fails: 2}
	o := New(sms, fake.New(), nil, clk)

	_, err := o.SendSMS(ctx, "+15550001", "hi")
	require.NoError(t, err)

	o.RunOnce(ctx)
	require.Equal(t, 1, o.Pending())
	require.Equal(t, int64(1), o.Stats().TotalRetried)

	// раньше backoff ничего не уходит
	clk.Advance(4 * time.Second)
	o.RunOnce(ctx)
	require.Equal(t, 1, sms.calls)

	clk.Advance(time.Second)
	o.RunOnce(ctx)
	require.Equal(t, 2, sms.calls)

	clk.Advance(15 * time.Second)
	o.RunOnce(ctx)
	require.Equal(t, 3, sms.calls)
	require.Equal(t, 0, o.Pending())
	require.Equal(t, int64(1), o.Stats().TotalDelivered)
}

func TestOutbox_DropsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	sms := &flakySMS{fails: 100}
	o := New(sms, fake.New(), nil, clk).WithSettings(0, 0, 0, 2, 0)

	_, err := o.SendSMS(ctx, "+15550001", "hi")
	require.NoError(t, err)

	o.RunOnce(ctx)
	clk.Advance(time.Minute)
	o.RunOnce(ctx)

	st := o.Stats()
	require.Equal(t, 0, st.Pending)
	require.Equal(t, int64(1), st.TotalDropped)
	require.Contains(t, st.LastError, "provider 503")
}

func TestOutbox_RateLimited(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	gw := fake.New()
	rl := &fakeRL{allowed: false}
	o := New(gw, gw, rl, clk)

	require.NoError(t, o.SendAlert(ctx, "D1", "x", notify.AlertKindDeadlineWarning))
	o.RunOnce(ctx)

	require.Empty(t, gw.Alerts())
	require.Equal(t, 1, o.Pending())
	require.Equal(t, int64(1), o.Stats().TotalRateLimited)
	require.Equal(t, "rl:notify:ALERT:D1:202603020900", rl.keys[0])

	rl.allowed = true
	clk.Advance(10 * time.Second)
	o.RunOnce(ctx)
	require.Len(t, gw.Alerts(), 1)
}

func TestOutbox_RateLimiterErrorDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	gw := fake.New()
	o := New(gw, gw, &fakeRL{err: errors.New("redis down")}, newClock())

	_, err := o.SendSMS(ctx, "+15550001", "hi")
	require.NoError(t, err)
	o.RunOnce(ctx)
	require.Len(t, gw.SMS(), 1)
}

func TestOutbox_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := fake.New()
	o := New(gw, gw, nil, newClock()).WithSettings(10*time.Millisecond, 0, 0, 0, 0)

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	_, err := o.SendSMS(ctx, "+15550001", "hi")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(gw.SMS()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestPlanner_Backoff(t *testing.T) {
	p := NewPlanner(PlannerConfig{}, nil)
	require.Equal(t, 5*time.Second, p.BackoffDelay(0))
	require.Equal(t, 5*time.Second, p.BackoffDelay(1))
	require.Equal(t, 15*time.Second, p.BackoffDelay(2))
	require.Equal(t, 30*time.Second, p.BackoffDelay(3))
	require.Equal(t, time.Minute, p.BackoffDelay(9))
	require.Equal(t, 10*time.Second, p.RateLimitedDelay())
}

type fixedRand int

func (r fixedRand) Intn(n int) int {
	if int(r) >= n {
		return n - 1
	}
	return int(r)
}

func TestPlanner_Jitter(t *testing.T) {
	p := NewPlanner(PlannerConfig{MaxJitter: time.Second}, fixedRand(250))
	require.Equal(t, 5*time.Second+250*time.Millisecond, p.BackoffDelay(1))
}
