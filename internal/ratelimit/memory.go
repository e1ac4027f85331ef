package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the in-process sliding-window limiter. One mutex guards
// the whole prune-check-append sequence so concurrent requests cannot race a
// slot past the limit.
type MemoryLimiter struct {
	mu      sync.Mutex
	clients map[string][]time.Time

	limit      int
	window     time.Duration
	sweepEvery time.Duration

	now func() time.Time
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithSweepEvery sets the interval of the background sweep that evicts idle
// client entries.
func WithSweepEvery(d time.Duration) MemoryOption {
	return func(l *MemoryLimiter) { l.sweepEvery = d }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) { l.now = now }
}

// NewMemoryLimiter builds a limiter admitting at most limit requests per
// client IP within any trailing window.
func NewMemoryLimiter(limit int, window time.Duration, opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		clients:    make(map[string][]time.Time),
		limit:      limit,
		window:     window,
		sweepEvery: 5 * time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow implements Limiter. A rejected attempt is not recorded, so a client
// hammering a saturated window does not push its own recovery further out.
func (l *MemoryLimiter) Allow(_ context.Context, ip string) Decision {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.clients[ip]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.limit {
		l.clients[ip] = kept
		return Decision{
			Allowed:    false,
			RetryAfter: kept[0].Add(l.window).Sub(now),
			Limit:      l.limit,
			Window:     l.window,
		}
	}
	l.clients[ip] = append(kept, now)
	return Decision{Allowed: true, Limit: l.limit, Window: l.window}
}

// Sweep drops client entries whose newest timestamp already fell out of the
// window, bounding memory for IPs that stopped talking to us.
func (l *MemoryLimiter) Sweep() {
	cutoff := l.now().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, stamps := range l.clients {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// RunSweeper runs the periodic sweep until ctx is cancelled.
func (l *MemoryLimiter) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(l.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
