// Package retrylimit provides an adaptive request rate limiter with a
// small bounded-retry helper. The limit climbs slowly while requests
// succeed and is cut down when a provider starts failing.
package retrylimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps rate.Limiter with success/failure feedback.
type Limiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	minLimit rate.Limit
	maxLimit rate.Limit
	stepUp   rate.Limit
	stepDown float64
	lastFail time.Time
}

// NewLimiter creates a Limiter starting at initial requests per second,
// bounded by [min, max]. stepUp is added after a quiet stretch of
// successes; stepDown multiplies the limit on failure.
func NewLimiter(initial, min, max, stepUp rate.Limit, stepDown float64) *Limiter {
	if initial < min {
		initial = min
	}
	burst := int(initial)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter:  rate.NewLimiter(initial, burst),
		minLimit: min,
		maxLimit: max,
		stepUp:   stepUp,
		stepDown: stepDown,
	}
}

// Wait blocks until a token is available or the context is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Success nudges the rate up once failures are at least 10s in the past.
func (l *Limiter) Success() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastFail) > 10*time.Second {
		l.setLimit(l.limiter.Limit() + l.stepUp)
	}
}

// Failure cuts the rate down.
func (l *Limiter) Failure() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastFail = time.Now()
	l.setLimit(rate.Limit(float64(l.limiter.Limit()) * l.stepDown))
}

// Current returns the current requests per second.
func (l *Limiter) Current() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return float64(l.limiter.Limit())
}

func (l *Limiter) setLimit(newLimit rate.Limit) {
	if newLimit > l.maxLimit {
		newLimit = l.maxLimit
	} else if newLimit < l.minLimit {
		newLimit = l.minLimit
	}
	if newLimit != l.limiter.Limit() {
		l.limiter.SetLimit(newLimit)
		burst := int(newLimit)
		if burst < 1 {
			burst = 1
		}
		l.limiter.SetBurst(burst)
	}
}

// Retryable decides whether an error is worth another attempt.
type Retryable func(error) bool

// Do runs fn up to attempts times, waiting on the limiter before each try
// and feeding outcomes back into it. Non-retryable errors and context
// cancellation end the loop immediately.
func Do(ctx context.Context, attempts int, l *Limiter, retryable Retryable, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if werr := l.Wait(ctx); werr != nil {
			return werr
		}
		err = fn()
		if err == nil {
			l.Success()
			return nil
		}
		l.Failure()
		if retryable == nil || !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
