package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(3, 10*time.Second, WithClock(clock.now))
	ctx := context.Background()

	// 3 requests at t=0,1,2 all admitted.
	for i := 0; i < 3; i++ {
		if d := l.Allow(ctx, "1.2.3.4"); !d.Allowed {
			t.Fatalf("request %d should be admitted", i+1)
		}
		clock.advance(time.Second)
	}
	// 4th at t=3 rejected with a positive retry hint.
	d := l.Allow(ctx, "1.2.3.4")
	if d.Allowed {
		t.Fatal("4th request within the window should be rejected")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("retry after = %v, want > 0", d.RetryAfter)
	}
	if d.Limit != 3 || d.Window != 10*time.Second {
		t.Fatalf("decision = %+v", d)
	}
	// At t=11 the t=0 stamp fell out of the window.
	clock.advance(8 * time.Second)
	if d := l.Allow(ctx, "1.2.3.4"); !d.Allowed {
		t.Fatal("request after window elapsed should be admitted")
	}
}

func TestMemoryLimiterRejectionNotRecorded(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(1, 10*time.Second, WithClock(clock.now))
	ctx := context.Background()

	l.Allow(ctx, "ip")
	for i := 0; i < 5; i++ {
		clock.advance(time.Second)
		if d := l.Allow(ctx, "ip"); d.Allowed {
			t.Fatal("should still be rejected")
		}
	}
	// Rejected attempts did not extend the window: 10s after the single
	// admitted request, the client is clean again.
	clock.advance(5*time.Second + time.Millisecond)
	if d := l.Allow(ctx, "ip"); !d.Allowed {
		t.Fatal("window should have elapsed despite rejected attempts")
	}
}

func TestMemoryLimiterPerIPIsolation(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(1, 10*time.Second, WithClock(clock.now))
	ctx := context.Background()

	if d := l.Allow(ctx, "1.1.1.1"); !d.Allowed {
		t.Fatal("first IP should be admitted")
	}
	if d := l.Allow(ctx, "2.2.2.2"); !d.Allowed {
		t.Fatal("second IP has its own window")
	}
	if d := l.Allow(ctx, "1.1.1.1"); d.Allowed {
		t.Fatal("first IP is over its limit")
	}
}

func TestMemoryLimiterSweepEvictsIdle(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(5, 10*time.Second, WithClock(clock.now))
	ctx := context.Background()

	l.Allow(ctx, "1.1.1.1")
	l.Allow(ctx, "2.2.2.2")
	clock.advance(5 * time.Second)
	l.Allow(ctx, "2.2.2.2")

	clock.advance(6 * time.Second)
	l.Sweep()
	// 1.1.1.1 idle past the window, gone; 2.2.2.2 still has a live stamp.
	if got := l.size(); got != 1 {
		t.Fatalf("size after sweep = %d, want 1", got)
	}
	clock.advance(10 * time.Second)
	l.Sweep()
	if got := l.size(); got != 0 {
		t.Fatalf("size after second sweep = %d, want 0", got)
	}
}

func TestMemoryLimiterConcurrentAccess(t *testing.T) {
	l := NewMemoryLimiter(50, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	admitted := make([]int, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if d := l.Allow(ctx, "shared"); d.Allowed {
					admitted[g]++
				}
			}
		}(g)
	}
	wg.Wait()
	total := 0
	for _, n := range admitted {
		total += n
	}
	if total != 50 {
		t.Fatalf("admitted %d under contention, want exactly 50", total)
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	l := NewMemoryLimiter(1, time.Second, WithSweepEvery(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.RunSweeper(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}
