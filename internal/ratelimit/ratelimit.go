package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Token bucket refilled at rate per second, holding at most burst tokens
type Limiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
		lastSeen: time.Now(),
	}
}

func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

func (l *Limiter) AllowN(n int) bool {
	now := time.Now()

	l.mu.Lock()
	l.lastSeen = now
	l.mu.Unlock()

	return l.limiter.AllowN(now, n)
}

func (l *Limiter) idleSince(t time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeen.Before(t)
}

// One limiter per key (connection id or remote address). Limiters that
// have not been used for idleTimeout are dropped in the background.
type ClientLimiters struct {
	limiters        map[string]*Limiter
	rate            float64
	burst           int
	mu              sync.RWMutex
	cleanupInterval time.Duration
	idleTimeout     time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

func NewClientLimiters(perSecond float64, burst int) *ClientLimiters {
	cl := &ClientLimiters{
		limiters:        make(map[string]*Limiter),
		rate:            perSecond,
		burst:           burst,
		cleanupInterval: time.Minute,
		idleTimeout:     10 * time.Minute,
		stop:            make(chan struct{}),
	}
	go cl.cleanup()
	return cl
}

func (cl *ClientLimiters) Get(key string) *Limiter {
	cl.mu.RLock()
	limiter, ok := cl.limiters[key]
	cl.mu.RUnlock()

	if ok {
		return limiter
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if limiter, ok := cl.limiters[key]; ok {
		return limiter
	}

	limiter = NewLimiter(cl.rate, cl.burst)
	cl.limiters[key] = limiter
	return limiter
}

func (cl *ClientLimiters) Allow(key string) bool {
	return cl.Get(key).Allow()
}

func (cl *ClientLimiters) Remove(key string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.limiters, key)
}

func (cl *ClientLimiters) Len() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.limiters)
}

func (cl *ClientLimiters) Stop() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

func (cl *ClientLimiters) cleanup() {
	ticker := time.NewTicker(cl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case <-ticker.C:
			cl.evictIdle(time.Now().Add(-cl.idleTimeout))
		}
	}
}

func (cl *ClientLimiters) evictIdle(cutoff time.Time) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	removed := 0
	for key, l := range cl.limiters {
		if l.idleSince(cutoff) {
			delete(cl.limiters, key)
			removed++
		}
	}
	return removed
}
