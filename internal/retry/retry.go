// Package retry classifies errors as retryable or permanent and applies
// exponential backoff with jitter. Both the collection and enrichment stages
// share this policy so that transient upstream trouble is handled uniformly.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"
)

// Class describes whether an error is worth retrying.
type Class string

const (
	// ClassRetryable covers transient failures: timeouts, rate limits, 5xx.
	ClassRetryable Class = "retryable"
	// ClassPermanent covers failures that will not succeed on retry:
	// auth errors, missing resources, malformed mandatory output.
	ClassPermanent Class = "permanent"
)

// ClassifiedError carries an explicit classification with the wrapped error.
type ClassifiedError struct {
	Class Class
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as an explicitly retryable error.
func Retryable(err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassRetryable, Err: err}
}

// Permanent wraps err as an explicitly non-retryable error.
func Permanent(err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassPermanent, Err: err}
}

// Classify determines the class of an arbitrary error. Explicit
// classifications win; otherwise network timeouts and deadline expiry are
// retryable and everything else is treated as retryable by default, since
// unknown failures in a network-bound pipeline are usually transient.
func Classify(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassRetryable
	}
	return ClassRetryable
}

// ClassifyStatus maps an HTTP status code to an error class.
func ClassifyStatus(code int) Class {
	switch {
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		return ClassRetryable
	case code >= 500:
		return ClassRetryable
	default:
		return ClassPermanent
	}
}

// jitterFraction is the upper bound of the uniform jitter applied to each
// computed delay: a random fraction in [0, 0.3) of the base delay.
const jitterFraction = 0.3

// randFloat is replaceable in tests for deterministic delays.
var randFloat = rand.Float64

// Policy holds the retry budget and backoff parameters.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// OnBackoff, when set, is invoked before each backoff sleep.
	OnBackoff func(attempt int, delay time.Duration)
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// Delay computes the backoff delay for a zero-based attempt number:
// base doubling per attempt, capped at MaxDelay, plus uniform jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay << uint(attempt)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	jitter := time.Duration(randFloat() * jitterFraction * float64(delay))
	return delay + jitter
}

// Do runs fn under the policy. Permanent errors short-circuit without
// consuming the retry budget; retryable errors are retried with backoff until
// the attempt cap, after which the last error is returned. The sleep between
// attempts respects ctx cancellation.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if Classify(lastErr) == ClassPermanent {
			return lastErr
		}
		if attempt < attempts-1 {
			delay := p.Delay(attempt)
			if p.OnBackoff != nil {
				p.OnBackoff(attempt, delay)
			}
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
