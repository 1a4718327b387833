package robots

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter spaces fetches to the same host by at least
// max(default interval, crawl-delay hint).
type HostLimiter struct {
	mu              sync.Mutex
	defaultInterval time.Duration
	limiters        map[string]*hostLimit
}

type hostLimit struct {
	interval time.Duration
	limiter  *rate.Limiter
}

// NewHostLimiter creates a limiter with the given default per-host interval.
func NewHostLimiter(defaultInterval time.Duration) *HostLimiter {
	return &HostLimiter{
		defaultInterval: defaultInterval,
		limiters:        make(map[string]*hostLimit),
	}
}

// Wait blocks until the next fetch to host is allowed, or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, host string, crawlDelay time.Duration) error {
	return h.get(host, crawlDelay).Wait(ctx)
}

// Interval returns the effective spacing for a crawl-delay hint.
func (h *HostLimiter) Interval(crawlDelay time.Duration) time.Duration {
	if crawlDelay > h.defaultInterval {
		return crawlDelay
	}
	return h.defaultInterval
}

func (h *HostLimiter) get(host string, crawlDelay time.Duration) *rate.Limiter {
	interval := h.Interval(crawlDelay)

	h.mu.Lock()
	defer h.mu.Unlock()

	hl, ok := h.limiters[host]
	if !ok {
		hl = &hostLimit{interval: interval, limiter: rate.NewLimiter(every(interval), 1)}
		h.limiters[host] = hl
		return hl.limiter
	}
	if hl.interval != interval {
		hl.interval = interval
		hl.limiter.SetLimit(every(interval))
	}
	return hl.limiter
}

func every(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}
