package api

import (
	"fmt"
	"math"
	"sync"
	"time"

	pcerrors "github.com/vnykmshr/pacer/pkg/common/errors"
	"github.com/vnykmshr/pacer/pkg/common/validation"
)

// Clock provides the current time. Tests substitute a controllable clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Limiter is a token bucket: it holds up to burst tokens and refills at rate
// tokens per second. A zero rate never refills.
type Limiter struct {
	rate  float64
	burst int
	clock Clock

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewLimiter creates a full bucket. A nil clock uses the system clock.
func NewLimiter(rate float64, burst int, clock Clock) (*Limiter, error) {
	if err := validation.ValidateNonNegative("api", "rate_limit", rate); err != nil {
		return nil, err
	}
	if burst <= 0 {
		return nil, pcerrors.NewValidationError("api", "burst", burst, "must be positive")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Limiter{
		rate:   rate,
		burst:  burst,
		clock:  clock,
		tokens: float64(burst),
		last:   clock.Now(),
	}, nil
}

// Allow takes one token. When none is available it returns false and how
// long until one will be.
func (l *Limiter) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(l.clock.Now())
	if l.tokens >= 1 {
		l.tokens--
		return true, 0
	}
	if l.rate == 0 {
		return false, time.Duration(math.MaxInt64)
	}
	wait := time.Duration(float64(time.Second) * (1 - l.tokens) / l.rate)
	return false, wait
}

// LimitError reports an exhausted limiter. It matches errors.ErrRateLimited.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%v: retry after %s", pcerrors.ErrRateLimited, e.RetryAfter)
}

func (e *LimitError) Unwrap() error { return pcerrors.ErrRateLimited }

// Take is Allow returning a *LimitError when no token is available.
func (l *Limiter) Take() error {
	if ok, wait := l.Allow(); !ok {
		return &LimitError{RetryAfter: wait}
	}
	return nil
}

// Tokens returns the number of tokens currently available.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(l.clock.Now())
	return l.tokens
}

func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.last)
	if elapsed <= 0 {
		return
	}
	l.last = now
	l.tokens = math.Min(float64(l.burst), l.tokens+elapsed.Seconds()*l.rate)
}
