package pipeline

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/threadline-ai/threadline/model"
)

// RetryPolicy controls retries of transient agent failures with exponential
// backoff.
type RetryPolicy struct {
	// MaxRetries is the retry budget after the initial attempt.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration
	// BackoffFactor multiplies the delay per attempt.
	BackoffFactor float64
	// Jitter randomizes delays to avoid synchronized retries.
	Jitter bool
}

// DefaultRetryPolicy returns sensible defaults for backend-call retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// Delay returns the backoff before the given retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}
	d := float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(retry-1))
	if d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.Jitter {
		// Up to 25% randomization either way.
		d *= 0.75 + rand.Float64()*0.5
	}
	return time.Duration(d)
}

// Transient reports whether err is worth retrying. Classified model errors
// decide by kind; context expiry on a single attempt counts as a timeout and
// is retryable (the parent turn context governs overall cancellation);
// everything else is treated as permanent.
func Transient(err error) bool {
	var merr *model.Error
	if errors.As(err, &merr) {
		return merr.Kind.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
