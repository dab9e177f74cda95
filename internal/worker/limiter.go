package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter paces extraction calls. A 429 halves the rate (down to a
// quarter of the configured rate) and each success raises it by 20% (up to
// the configured rate).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter allows requestsPerMinute calls per minute. A value
// <= 0 disables limiting.
func NewAdaptiveLimiter(requestsPerMinute int) *AdaptiveLimiter {
	if requestsPerMinute <= 0 {
		return &AdaptiveLimiter{limiter: rate.NewLimiter(rate.Inf, 1), maxRate: rate.Inf, minRate: rate.Inf, currentRate: rate.Inf}
	}
	r := rate.Limit(float64(requestsPerMinute) / 60.0)
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(r, 1),
		maxRate:     r,
		minRate:     r / 4,
		currentRate: r,
	}
}

// Wait blocks until the limiter allows a call.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess nudges the rate back toward the configured maximum.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentRate == rate.Inf || a.currentRate >= a.maxRate {
		return
	}
	next := a.currentRate * 1.2
	if next > a.maxRate {
		next = a.maxRate
	}
	a.currentRate = next
	a.limiter.SetLimit(next)
}

// OnRateLimit halves the rate after a 429.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentRate == rate.Inf {
		return
	}
	next := a.currentRate * 0.5
	if next < a.minRate {
		next = a.minRate
	}
	a.currentRate = next
	a.limiter.SetLimit(next)
	zap.L().Warn("extraction rate reduced after 429",
		zap.Float64("requests_per_minute", float64(next)*60),
	)
}

// Rate returns the current limit in requests per second.
func (a *AdaptiveLimiter) Rate() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}
