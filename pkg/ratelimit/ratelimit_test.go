package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/redis"
)

type fakeTimer struct {
	at time.Time
	ch chan time.Time
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.timers = append(c.timers, fakeTimer{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	pending := c.timers[:0]
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			t.ch <- c.now
			continue
		}
		pending = append(pending, t)
	}
	c.timers = pending
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestSlidingWindowDelaysThirdCallUntilCapacityFrees(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	w := NewSlidingWindow("api", 2, 60*time.Second, WithClock(clock))

	require.NoError(t, w.Wait(ctx))
	clock.Advance(5 * time.Second)
	require.NoError(t, w.Wait(ctx))

	done := make(chan error, 1)
	go func() { done <- w.Wait(ctx) }()

	require.Eventually(t, func() bool { return clock.Pending() == 1 }, time.Second, time.Millisecond)
	assert.False(t, w.Allow(), "a probe must not jump the queue")

	clock.Advance(54 * time.Second)
	select {
	case <-done:
		t.Fatal("third call admitted inside the window")
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Second)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("third call was not admitted once the first call left the window")
	}
	assert.Equal(t, 0, w.Waiting())
}

func TestSlidingWindowAdmitsOldestWaiterFirst(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	w := NewSlidingWindow("api", 1, time.Minute, WithClock(clock))
	require.NoError(t, w.Wait(ctx))

	order := make(chan string, 2)
	go func() {
		if w.Wait(ctx) == nil {
			order <- "first"
		}
	}()
	require.Eventually(t, func() bool { return clock.Pending() == 1 }, time.Second, time.Millisecond)

	go func() {
		if w.Wait(ctx) == nil {
			order <- "second"
		}
	}()
	require.Eventually(t, func() bool { return w.Waiting() == 2 }, time.Second, time.Millisecond)

	clock.Advance(time.Minute)
	assert.Equal(t, "first", <-order)

	require.Eventually(t, func() bool { return clock.Pending() == 1 }, time.Second, time.Millisecond)
	clock.Advance(time.Minute)
	assert.Equal(t, "second", <-order)
}

func TestSlidingWindowCancelledWaiterLeavesQueue(t *testing.T) {
	clock := newFakeClock()
	w := NewSlidingWindow("api", 1, time.Minute, WithClock(clock))
	require.True(t, w.Allow())
	assert.False(t, w.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Wait(ctx) }()
	require.Eventually(t, func() bool { return w.Waiting() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, w.Waiting())

	clock.Advance(time.Minute)
	assert.True(t, w.Allow())
}

func TestSlidingWindowWithWallClock(t *testing.T) {
	w := NewSlidingWindow("wall", 2, 150*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Wait(ctx))
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestRegistryReturnsOneLimiterPerCredential(t *testing.T) {
	created := 0
	r := NewRegistry(func(credential string) Limiter {
		created++
		return NewSlidingWindow(credential, 1, time.Minute)
	})

	a := r.For("key-a")
	assert.Same(t, a, r.For("key-a"))
	assert.NotSame(t, a, r.For("key-b"))
	assert.Equal(t, 2, created)

	local := NewRegistry(LocalFactory(3, time.Second))
	assert.IsType(t, &SlidingWindow{}, local.For("x"))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewManager(redis.NewClientFromRedis(rdb, testLogger()), testLogger())
}

func TestManagerWaitForLimit(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	var slept []time.Duration
	m.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		time.Sleep(d)
		return nil
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, m.WaitForLimit(ctx, "tenders-api", 2, 200*time.Millisecond))
	}
	require.NotEmpty(t, slept, "third call should have waited")
	assert.LessOrEqual(t, slept[0], 200*time.Millisecond)
}

// resetAfterSleep frees the window of key whenever the manager sleeps, recording each delay
func resetAfterSleep(m *Manager, key string, slept *[]time.Duration) {
	m.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return m.Reset(ctx, key)
	}
}

func TestManagerWaitForLimitDelaysInsteadOfFailing(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	var slept []time.Duration
	resetAfterSleep(m, "k", &slept)

	require.NoError(t, m.WaitForLimit(ctx, "k", 1, time.Minute))
	require.NoError(t, m.WaitForLimit(ctx, "k", 1, time.Minute))
	require.Len(t, slept, 1)
	assert.Greater(t, slept[0], 30*time.Second)

	require.NoError(t, m.BlockFor(ctx, "k", time.Hour))
	require.NoError(t, m.WaitForLimit(ctx, "k", 10, time.Minute))
	require.Len(t, slept, 2)
	assert.Greater(t, slept[1], 30*time.Minute)
}

func TestManagerWaitForLimitStopsWithContext(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	m.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}

	require.NoError(t, m.WaitForLimit(ctx, "k", 1, time.Minute))
	assert.ErrorIs(t, m.WaitForLimit(ctx, "k", 1, time.Minute), context.Canceled)
}

func TestSharedFactoryDelaysThirdCallInWindow(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	var slept []time.Duration
	resetAfterSleep(m, "subscriber-1", &slept)

	r := NewRegistry(m.SharedFactory(2, 60*time.Second))
	for i := 0; i < 3; i++ {
		require.NoError(t, r.For("subscriber-1").Wait(ctx), "call %d", i+1)
	}
	require.Len(t, slept, 1, "only the third call waits")
	assert.Greater(t, slept[0], 50*time.Second)
	assert.LessOrEqual(t, slept[0], 60*time.Second)

	require.NoError(t, r.For("subscriber-2").Wait(ctx))
	assert.Len(t, slept, 1)
}

// blockedSharedLimiter returns a one-call limiter whose window is full. Each value sent on the
// returned channel frees the window once for the caller heading the queue.
func blockedSharedLimiter(t *testing.T, key string) (*sharedLimiter, chan struct{}) {
	t.Helper()
	m := newTestManager(t)
	release := make(chan struct{})
	m.sleep = func(ctx context.Context, _ time.Duration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
		}
		return m.Reset(ctx, key)
	}

	l := NewRegistry(m.SharedFactory(1, time.Minute)).For(key).(*sharedLimiter)
	require.NoError(t, l.Wait(context.Background()))
	return l, release
}

func TestSharedLimiterAdmitsOldestCallerFirst(t *testing.T) {
	l, release := blockedSharedLimiter(t, "subscriber-1")

	admitted := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func(i int) {
			if err := l.Wait(context.Background()); err == nil {
				admitted <- i
			}
		}(i)
		require.Eventually(t, func() bool { return l.queue.waiting() == i+1 }, time.Second, time.Millisecond)
	}

	for want := 0; want < 3; want++ {
		release <- struct{}{}
		select {
		case got := <-admitted:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("caller %d was not admitted", want)
		}
	}
	assert.Zero(t, l.queue.waiting())
}

func TestSharedLimiterCancelledCallerLeavesQueue(t *testing.T) {
	l, release := blockedSharedLimiter(t, "subscriber-1")

	headDone := make(chan error, 1)
	go func() { headDone <- l.Wait(context.Background()) }()
	require.Eventually(t, func() bool { return l.queue.waiting() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, l.queue.waiting())

	release <- struct{}{}
	require.NoError(t, <-headDone)
	assert.Zero(t, l.queue.waiting())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	d, err := ParseRetryAfter("30", now)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = ParseRetryAfter(now.Add(time.Minute).Format(time.RFC1123), now)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = ParseRetryAfter("soon", now)
	assert.Error(t, err)
}
