// Package retry wraps cloud calls with the bridge's standard retry policy.
//
// The policy is deliberately simple: a fixed number of attempts with a
// fixed delay. Authentication failures abort immediately, because retrying
// a rejected credential only delays the re-authentication flow. Exhausting
// the attempts surfaces as an UpdateFailedError wrapping the last error,
// which the coordinator uses to mark the device unavailable.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/kwikset-bridge/internal/cloud"
)

// Retry policy constants.
const (
	MaxAttempts = 3
	Delay       = 2 * time.Second
)

// UpdateFailedError reports that an operation failed after all attempts.
// The last attempt's error is preserved for errors.Is / errors.As.
type UpdateFailedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("retry: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *UpdateFailedError) Unwrap() error { return e.Err }

// IsUpdateFailed reports whether err is a retry exhaustion.
func IsUpdateFailed(err error) bool {
	var ue *UpdateFailedError
	return errors.As(err, &ue)
}

// sleep is replaced in tests to avoid real delays.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn up to MaxAttempts times with Delay between attempts.
//
// Authentication failures are returned immediately and unwrapped, so the
// caller's re-authentication flow sees them exactly once. Context
// cancellation also aborts immediately. Any other failure is retried;
// after the final attempt the last error is wrapped in UpdateFailedError.
func Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var last error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if cloud.IsAuthError(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		last = err
		if attempt < MaxAttempts {
			if err := sleep(ctx, Delay); err != nil {
				return err
			}
		}
	}
	return &UpdateFailedError{Op: op, Attempts: MaxAttempts, Err: last}
}

// DoValue is Do for calls that return a value alongside the error.
func DoValue[T any](ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
