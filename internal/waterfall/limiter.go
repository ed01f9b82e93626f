package waterfall

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Limiters enforces a minimum delay between calls to the same provider. One
// instance is shared by every job in the process.
type Limiters struct {
	mu       sync.Mutex
	delays   map[string]time.Duration
	limiters map[string]*rate.Limiter
}

// NewLimiters creates limiters from per-provider minimum delays. Providers
// without a positive delay are not limited.
func NewLimiters(delays map[string]time.Duration) *Limiters {
	d := make(map[string]time.Duration, len(delays))
	for k, v := range delays {
		d[k] = v
	}
	return &Limiters{delays: d, limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until provider may be called again.
func (l *Limiters) Wait(ctx context.Context, provider string) error {
	if l == nil {
		return nil
	}
	lim := l.get(provider)
	if lim == nil {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return eris.Wrapf(err, "waterfall: wait for %s limiter", provider)
	}
	return nil
}

func (l *Limiters) get(provider string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[provider]; ok {
		return lim
	}
	delay := l.delays[provider]
	if delay <= 0 {
		return nil
	}
	lim := rate.NewLimiter(rate.Every(delay), 1)
	l.limiters[provider] = lim
	return lim
}
