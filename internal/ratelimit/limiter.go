// Package ratelimit implements the sliding-window admission control gating
// every call to the upstream observation API.
package ratelimit

import (
	"time"
)

// jitter keeps a freshly admitted call strictly outside the window of the
// call it displaced.
const jitter = 10 * time.Millisecond

// Limiter admits at most maxCalls calls per trailing period. Admit blocks
// the caller until a call may legally proceed, then records it. A Limiter is
// not safe for concurrent use; each caller owns its own instance.
type Limiter struct {
	maxCalls int
	period   time.Duration
	calls    []time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// New returns a Limiter admitting maxCalls per period. A capacity below 1
// is clamped to 1: the limiter serializes calls, it never blocks them all.
func New(maxCalls int, period time.Duration) *Limiter {
	if maxCalls < 1 {
		maxCalls = 1
	}
	return &Limiter{
		maxCalls: maxCalls,
		period:   period,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Admit blocks until the sliding window has room, then records the call.
func (l *Limiter) Admit() {
	now := l.now()
	l.evict(now)

	if len(l.calls) >= l.maxCalls {
		oldest := l.calls[0]
		wait := l.period - now.Sub(oldest) + jitter
		if wait > 0 {
			l.sleep(wait)
		}
		l.evict(l.now())
	}

	l.calls = append(l.calls, l.now())
}

// evict drops window entries older than the period.
func (l *Limiter) evict(now time.Time) {
	i := 0
	for i < len(l.calls) && now.Sub(l.calls[i]) > l.period {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}
