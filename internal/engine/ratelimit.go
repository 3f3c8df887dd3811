package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/david/grant-scraper/internal/models"
)

// SourceLimiter enforces each source's requests-per-minute budget with a
// token bucket, plus an optional fixed minimum delay after every request.
type SourceLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewSourceLimiter() *SourceLimiter {
	return &SourceLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *SourceLimiter) limiterFor(src models.Source) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[src.ID]; ok {
		return lim
	}
	rpm := src.RateLimit.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	lim := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
	l.limiters[src.ID] = lim
	return lim
}

// Wait blocks until the source's bucket grants a token or ctx is done.
func (l *SourceLimiter) Wait(ctx context.Context, src models.Source) error {
	return l.limiterFor(src).Wait(ctx)
}

// AfterRequest applies the source's minimum inter-request delay. Returns
// early if ctx is cancelled.
func (l *SourceLimiter) AfterRequest(ctx context.Context, src models.Source) {
	if src.RateLimit.MinDelayMS <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(src.RateLimit.MinDelayMS) * time.Millisecond):
	}
}
