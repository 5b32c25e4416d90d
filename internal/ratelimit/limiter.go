package ratelimit

import (
	"sync"
	"time"
)

// Config holds per-client limits.
type Config struct {
	RequestsPerSecond float64 // sustained rate
	Burst             float64 // bucket capacity
	CleanupInterval   time.Duration
}

// DefaultConfig returns the gateway defaults: 10 req/sec sustained, 20 burst.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 10, Burst: 20, CleanupInterval: 5 * time.Minute}
}

// Limiter keeps one token bucket per client key. Buckets that have refilled
// are dropped periodically so idle clients do not accumulate.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.RWMutex
	buckets map[string]*TokenBucket
	stop    chan struct{}
	once    sync.Once
}

// NewLimiter creates a limiter and starts its cleanup loop.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	l := &Limiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*TokenBucket),
		stop:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go l.cleanupLoop(cfg.CleanupInterval)
	}
	return l
}

// Allow reports whether a request from key may proceed. An empty key is
// always allowed.
func (l *Limiter) Allow(key string) bool {
	if key == "" {
		return true
	}
	return l.bucket(key).Allow()
}

// Remaining returns the tokens left for key.
func (l *Limiter) Remaining(key string) float64 {
	if key == "" {
		return l.cfg.Burst
	}
	return l.bucket(key).Remaining()
}

// Limit returns the configured burst size.
func (l *Limiter) Limit() float64 { return l.cfg.Burst }

// RetryAfter returns how long key must wait for its next token.
func (l *Limiter) RetryAfter(key string) time.Duration {
	if key == "" {
		return 0
	}
	return l.bucket(key).WaitTime()
}

// Reset refills the bucket for key.
func (l *Limiter) Reset(key string) {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		b.Reset()
	}
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// Close stops the cleanup loop.
func (l *Limiter) Close() error {
	l.once.Do(func() { close(l.stop) })
	return nil
}

func (l *Limiter) bucket(key string) *TokenBucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = newTokenBucket(l.cfg.Burst, l.cfg.RequestsPerSecond, l.now)
	l.buckets[key] = b
	return b
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

// cleanup drops buckets at 95% of capacity or more; they have been idle long
// enough to refill.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.Remaining() >= b.Capacity()*0.95 {
			delete(l.buckets, key)
		}
	}
}
