// Package ratelimit implements per-(type,field) token-bucket rate
// limiting for upstream IO calls, keyed by the blueprint-declared
// rate-limit group rather than by caller identity.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limit describes one rate-limit group's bucket parameters.
type Limit struct {
	RatePerSecond float64
	Burst         int
}

// Group is a collection of independent token buckets keyed by group
// name, shared across the process since a rate-limit group is a
// blueprint-level concept (not per-request).
//
// A monotonic clock underlies golang.org/x/time/rate, so clock
// regressions never cause a burst of erroneously-granted tokens.
type Group struct {
	mu       sync.Mutex
	limits   map[string]Limit
	limiters map[string]*rate.Limiter
}

// NewGroup builds a rate-limit group from its static, blueprint-declared
// configuration.
func NewGroup(limits map[string]Limit) *Group {
	return &Group{
		limits:   limits,
		limiters: make(map[string]*rate.Limiter, len(limits)),
	}
}

// Allow reports whether one token is available in the named group's
// bucket, consuming it if so. Unknown groups always allow: a field
// without a configured limit is unthrottled.
func (g *Group) Allow(name string) bool {
	limiter := g.limiterFor(name)
	if limiter == nil {
		return true
	}
	return limiter.Allow()
}

func (g *Group) limiterFor(name string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.limiters[name]; ok {
		return l
	}
	lim, ok := g.limits[name]
	if !ok {
		return nil
	}
	limiter := rate.NewLimiter(rate.Limit(lim.RatePerSecond), lim.Burst)
	g.limiters[name] = limiter
	return limiter
}
