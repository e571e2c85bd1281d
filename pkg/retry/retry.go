package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned by Poll once every attempt has been spent without
// the operation reporting done.
var ErrExhausted = errors.New("retry budget exhausted")

// Policy is a fixed-interval polling budget. MaxRetries counts the retries
// after the first attempt, so a policy allows MaxRetries+1 calls.
type Policy struct {
	MaxRetries int
	Interval   time.Duration
}

var DefaultPolicy = Policy{
	MaxRetries: 5,
	Interval:   3 * time.Second,
}

type options struct {
	restart   <-chan struct{}
	onAttempt func(attempt int)
}

type Option func(*options)

// WithRestart resets the attempt counter and re-runs the operation
// immediately whenever a value arrives on ch during a wait or before the
// budget is declared exhausted.
func WithRestart(ch <-chan struct{}) Option {
	return func(o *options) { o.restart = ch }
}

// WithAttemptHook is called with the 1-based attempt number before each call.
func WithAttemptHook(fn func(attempt int)) Option {
	return func(o *options) { o.onAttempt = fn }
}

// Poll calls op until it reports done, the policy is exhausted, or ctx ends.
// A non-nil error with done=false is treated as transient and retried. A
// non-nil error with done=true is returned as is.
func Poll[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, bool, error), opts ...Option) (T, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		last    T
		lastErr error
	)
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}

		attempt++
		if o.onAttempt != nil {
			o.onAttempt(attempt)
		}

		v, done, err := op(ctx)
		last, lastErr = v, err
		if done {
			return v, err
		}

		if attempt > p.MaxRetries {
			// a restart that arrived during the final attempt still counts
			select {
			case <-o.restart:
				attempt = 0
				continue
			default:
			}
			if lastErr != nil {
				return last, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, lastErr)
			}
			return last, fmt.Errorf("%w after %d attempts", ErrExhausted, attempt)
		}

		timer := time.NewTimer(p.Interval)
		select {
		case <-timer.C:
		case <-o.restart:
			timer.Stop()
			attempt = 0
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		}
	}
}
