// Package ratelimit implements per-host token buckets shared by every
// strategy that talks to the network.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/signal-scanner/internal/metrics"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	overrides    map[string]HostLimit
}

// HostLimit overrides the default rate for one host.
type HostLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	Hosts        map[string]HostLimit
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r, burst := toLimit(cfg.DefaultRPS, cfg.DefaultBurst)
	overrides := make(map[string]HostLimit, len(cfg.Hosts))
	for host, hl := range cfg.Hosts {
		overrides[strings.ToLower(host)] = hl
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		overrides:    overrides,
	}
}

func toLimit(rps float64, burst int) (rate.Limit, int) {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return r, burst
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if ok {
		return limiter
	}
	r, burst := l.defaultRate, l.defaultBurst
	if hl, ok := l.overrides[host]; ok {
		r, burst = toLimit(hl.RPS, hl.Burst)
	}
	limiter = rate.NewLimiter(r, burst)
	l.limiters[host] = limiter
	return limiter
}
