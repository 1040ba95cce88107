// Package failure defines the error taxonomy shared by all collaborator
// clients and the bounded retry policy applied to transient failures.
package failure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/sethvargo/go-retry"
)

// Kind classifies a collaborator failure.
type Kind string

const (
	// KindTransient covers network errors and timeouts. Retried with
	// exponential backoff.
	KindTransient Kind = "transient"

	// KindRateLimited covers collaborator-signaled throttling. Retried
	// after a longer fixed delay.
	KindRateLimited Kind = "rate_limited"

	// KindFatal covers errors with no retry path: malformed responses,
	// auth failures, exhausted retries.
	KindFatal Kind = "fatal"
)

// Error wraps a collaborator error with its classification and the
// operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient marks err as retryable due to a network problem or timeout.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// RateLimited marks err as collaborator-signaled throttling.
func RateLimited(op string, err error) *Error {
	return &Error{Kind: KindRateLimited, Op: op, Err: err}
}

// Fatal marks err as unrecoverable for this request.
func Fatal(op string, err error) *Error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// KindOf returns the classification of err, defaulting to fatal for
// errors that carry no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindFatal
}

// FromTransport classifies a transport-level error. Deadline and network
// errors are transient; anything else is fatal.
func FromTransport(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(op, err)
	}
	return Fatal(op, err)
}

// FromStatus classifies an HTTP status code from a collaborator.
func FromStatus(op string, status int, err error) *Error {
	switch {
	case status == 429:
		return RateLimited(op, err)
	case status >= 500:
		return Transient(op, err)
	default:
		return Fatal(op, err)
	}
}

// Policy bounds the retry behavior for collaborator calls.
type Policy struct {
	MaxRetries     uint64
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RateLimitDelay time.Duration
}

// Do runs fn, retrying transient and rate-limited failures with bounded
// exponential backoff. Rate-limited failures additionally wait out a
// longer fixed delay before the next attempt. After retries are
// exhausted the last error escalates to fatal.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := retry.WithCappedDuration(p.MaxDelay, retry.NewExponential(p.BaseDelay))
	backoff = retry.WithMaxRetries(p.MaxRetries, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		switch KindOf(err) {
		case KindTransient:
			slog.Warn("transient failure, will retry", "op", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		case KindRateLimited:
			slog.Warn("rate limited, backing off", "op", op, "attempt", attempt, "delay", p.RateLimitDelay)
			select {
			case <-time.After(p.RateLimitDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			return retry.RetryableError(err)
		default:
			return err
		}
	})
	if err == nil {
		return nil
	}
	if KindOf(err) != KindFatal {
		// retries exhausted
		return Fatal(op, err)
	}
	return err
}
