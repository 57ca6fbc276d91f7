// Package ratelimit guards notification-sending steps (magic links,
// one-time codes, password-reset emails) with a process-wide token
// bucket built on golang.org/x/time/rate, trimmed to the single limiter
// this module needs since there is no HTTP middleware layer here to carry
// a per-second/per-minute pair or a rate-limited HTTP client wrapper.
package ratelimit

import (
	"golang.org/x/time/rate"
)

// Limiter caps how often a named scope (a plugin step, typically) may fire,
// independent of the per-identifier attempt counters plugins already keep
// in the database. It exists to protect the outbound notifier (SMTP
// relay, SMS gateway, RabbitMQ broker) from being hammered across every
// identifier at once, not to enforce per-user policy.
type Limiter struct {
	limiter *rate.Limiter
}

// New builds a Limiter allowing ratePerSecond sustained events with a
// burst of up to burst before throttling kicks in.
func New(ratePerSecond float64, burst int) *Limiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}
	if burst <= 0 {
		burst = int(ratePerSecond)
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Allow reports whether one more event may proceed right now.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
