package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// tenantLimiter hands out one token bucket per tenant.
type tenantLimiter struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	m     map[string]*rate.Limiter
}

func newTenantLimiter(rps float64, burst int) *tenantLimiter {
	lim := rate.Limit(rps)
	if rps <= 0 {
		lim = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &tenantLimiter{rps: lim, burst: burst, m: map[string]*rate.Limiter{}}
}

func (t *tenantLimiter) Allow(tenant string) bool {
	t.mu.Lock()
	l, ok := t.m[tenant]
	if !ok {
		l = rate.NewLimiter(t.rps, t.burst)
		t.m[tenant] = l
	}
	t.mu.Unlock()
	return l.Allow()
}
