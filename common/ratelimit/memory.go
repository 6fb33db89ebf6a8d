package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// MemoryLimiter is a per-process fixed-window counter. It only limits
// within one instance; multi-replica deployments use RedisLimiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (m *MemoryLimiter) Allow(ctx context.Context, key string, limit int64, win time.Duration) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &window{expiresAt: now.Add(win)}
		m.windows[key] = w
		m.prune(now)
	}
	w.count++

	res := &Result{
		Allowed:      w.count <= limit,
		CurrentCount: w.count,
		Limit:        limit,
	}
	if !res.Allowed {
		res.RetryAfterSeconds = int64(math.Ceil(w.expiresAt.Sub(now).Seconds()))
	}
	return res, nil
}

// prune drops expired windows so idle keys do not accumulate. Caller holds m.mu.
func (m *MemoryLimiter) prune(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.expiresAt) {
			delete(m.windows, k)
		}
	}
}
