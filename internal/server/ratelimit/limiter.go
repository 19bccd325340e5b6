// Token bucket per client key.

// Package ratelimit throttles HTTP API clients with one token bucket per
// client IP and tier.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleAfter is how long an untouched, refilled bucket is kept around.
const idleAfter = 10 * time.Minute

// Result is the outcome of Limiter.Allow.
type Result struct {
	Allowed    bool
	Limit      int           // requests per window
	Remaining  int           // tokens left, rounded down
	ResetAt    time.Time     // when the bucket is full again
	RetryAfter time.Duration // zero when allowed
}

// Limiter hands out one token per request for each key.
type Limiter struct {
	perSec rate.Limit
	burst  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLimiter returns a Limiter allowing requests per window for each key,
// with bursts of up to burst requests. Call Close to release it.
func NewLimiter(requests int, window time.Duration, burst int) *Limiter {
	l := &Limiter{
		perSec:  rate.Limit(float64(requests) / window.Seconds()),
		burst:   burst,
		window:  window,
		buckets: map[string]*bucket{},
		stop:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow takes a token from key's bucket if one is available.
func (l *Limiter) Allow(key string) Result {
	now := time.Now()
	l.mu.Lock()
	b := l.buckets[key]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(l.perSec, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	res := Result{Limit: int(math.Round(float64(l.perSec) * l.window.Seconds()))}
	r := b.lim.ReserveN(now, 1)
	res.Allowed = r.OK() && r.DelayFrom(now) == 0
	if !res.Allowed {
		if r.OK() {
			r.CancelAt(now)
		}
		res.RetryAfter = max(time.Duration(float64(time.Second)/float64(l.perSec)), time.Second)
	}
	tokens := b.lim.TokensAt(now)
	res.Remaining = max(int(tokens), 0)
	missing := float64(l.burst) - tokens
	res.ResetAt = now.Add(time.Duration(missing / float64(l.perSec) * float64(time.Second)))
	return res
}

// Close stops the background sweep. It is safe to call more than once.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) sweepLoop() {
	t := time.NewTicker(idleAfter)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			l.sweep(now)
		case <-l.stop:
			return
		}
	}
}

// sweep forgets buckets idle since before now-idleAfter that have refilled.
func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > idleAfter && b.lim.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
}

// size returns the number of tracked buckets.
func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
