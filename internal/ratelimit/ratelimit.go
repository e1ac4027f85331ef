// Package ratelimit implements per-client-IP sliding-window rate limiting
// for the gateway. Two backing stores exist: an in-process table for single
// instance deployments and a Redis sorted-set variant whose decisions match
// across gateway processes. Both run the same algorithm: drop timestamps
// older than the trailing window, reject without recording when the count is
// at the limit, otherwise record now and admit.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Limit      int
	Window     time.Duration
}

// Limiter admits or rejects a request from a client IP.
type Limiter interface {
	Allow(ctx context.Context, ip string) Decision
}
