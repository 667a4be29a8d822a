package feed

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter spaces requests to sensitive hosts. Other hosts are not limited.
type HostLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	interval  time.Duration
	sensitive func(host string) bool
}

func NewHostLimiter(interval time.Duration, sensitive func(host string) bool) *HostLimiter {
	return &HostLimiter{
		limiters:  make(map[string]*rate.Limiter),
		interval:  interval,
		sensitive: sensitive,
	}
}

// Wait blocks until a request to rawURL may be sent.
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	if h == nil || h.interval <= 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	if h.sensitive != nil && !h.sensitive(host) {
		return nil
	}
	return h.limiterFor(host).Wait(ctx)
}

func (h *HostLimiter) limiterFor(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	limiter, ok := h.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(h.interval), 1)
		h.limiters[host] = limiter
	}
	return limiter
}
