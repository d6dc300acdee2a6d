// Package ratelimit implements the gateway's ingress admission control
// (spec §4.6): a token bucket per named policy, backed by
// golang.org/x/time/rate, with a bounded FIFO wait queue. Requests that
// exhaust both the bucket and the queue are rejected with a Retry-After
// estimate.
package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Policy names one of the two fixed admission policies the gateway wires by name.
type Policy struct {
	Name            string
	Burst           int     // bucket capacity
	RefillPerSecond float64 // tokens added per second
	QueueCapacity   int     // max requests waiting for a token
}

// Global is the default policy applied to every route not explicitly public.
var Global = Policy{Name: "global", Burst: 100, RefillPerSecond: 50, QueueCapacity: 200}

// Public is applied to routes explicitly marked public (health, metrics, login).
var Public = Policy{Name: "public", Burst: 200, RefillPerSecond: 100, QueueCapacity: 100}

// ErrRejected is returned when the bucket is empty and the wait queue is full.
var ErrRejected = errors.New("ratelimit: queue full")

// Limiter is a single named policy's token bucket plus a bounded count of
// requests allowed to wait for the next token.
type Limiter struct {
	policy  Policy
	limiter *rate.Limiter
	queued  int64 // atomic: requests currently waiting on limiter.Wait
}

// NewLimiter builds a Limiter for policy.
func NewLimiter(policy Policy) *Limiter {
	return &Limiter{
		policy:  policy,
		limiter: rate.NewLimiter(rate.Limit(policy.RefillPerSecond), policy.Burst),
	}
}

// Close is a no-op retained for symmetry with components that own a
// background goroutine; rate.Limiter needs none.
func (l *Limiter) Close() {}

// Admit grants a token immediately if one is available; otherwise it queues
// the caller (oldest-first, via rate.Limiter's internal reservation clock)
// up to the policy's QueueCapacity, blocking until a token frees up or ctx is
// cancelled. If ctx has a deadline earlier than the next token, Admit returns
// an error at once without waiting. Once QueueCapacity concurrent waiters are
// already queued, Admit returns ErrRejected immediately rather than growing
// the queue further.
func (l *Limiter) Admit(ctx context.Context) error {
	if l.limiter.Allow() {
		return nil
	}

	if atomic.AddInt64(&l.queued, 1) > int64(l.policy.QueueCapacity) {
		atomic.AddInt64(&l.queued, -1)
		return ErrRejected
	}
	defer atomic.AddInt64(&l.queued, -1)

	return l.limiter.Wait(ctx)
}

// RetryAfter estimates how long a rejected caller should wait before
// retrying: the time to drain one full queue at the policy's refill rate.
func (l *Limiter) RetryAfter() time.Duration {
	seconds := float64(l.policy.QueueCapacity+1) / l.policy.RefillPerSecond
	d := time.Duration(seconds * float64(time.Second))
	if d < time.Second {
		return time.Second
	}
	return d
}
