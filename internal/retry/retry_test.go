package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/kwikset-bridge/internal/cloud"
)

// stubSleep swaps the package sleep for a counter and restores it after
// the test.
func stubSleep(t *testing.T) *int {
	t.Helper()
	orig := sleep
	count := 0
	sleep = func(ctx context.Context, d time.Duration) error {
		if d != Delay {
			t.Errorf("expected delay %v, got %v", Delay, d)
		}
		count++
		return nil
	}
	t.Cleanup(func() { sleep = orig })
	return &count
}

func TestDo_SucceedsThirdAttempt(t *testing.T) {
	sleeps := stubSleep(t)

	calls := 0
	err := Do(context.Background(), "refresh", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: flaky", cloud.ErrConnection)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if *sleeps != 2 {
		t.Errorf("expected 2 sleeps, got %d", *sleeps)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	sleeps := stubSleep(t)

	calls := 0
	err := Do(context.Background(), "refresh", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("%w: still down", cloud.ErrRequestFailed)
	})
	if calls != MaxAttempts {
		t.Errorf("expected %d calls, got %d", MaxAttempts, calls)
	}
	if *sleeps != MaxAttempts-1 {
		t.Errorf("expected %d sleeps, got %d", MaxAttempts-1, *sleeps)
	}

	var ue *UpdateFailedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpdateFailedError, got %v", err)
	}
	if ue.Op != "refresh" || ue.Attempts != MaxAttempts {
		t.Errorf("unexpected failure detail: %+v", ue)
	}
	if !errors.Is(err, cloud.ErrRequestFailed) {
		t.Error("wrapped error must preserve the last attempt's cause")
	}
}

func TestDo_AuthErrorAbortsImmediately(t *testing.T) {
	sleeps := stubSleep(t)

	calls := 0
	err := Do(context.Background(), "refresh", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("%w: rejected", cloud.ErrUnauthenticated)
	})
	if calls != 1 {
		t.Errorf("expected 1 call for auth error, got %d", calls)
	}
	if *sleeps != 0 {
		t.Errorf("expected no sleeps, got %d", *sleeps)
	}
	if !errors.Is(err, cloud.ErrUnauthenticated) {
		t.Errorf("auth error must pass through unwrapped, got %v", err)
	}
	if IsUpdateFailed(err) {
		t.Error("auth error must not be wrapped as exhaustion")
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	stubSleep(t)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, "refresh", func(ctx context.Context) error {
		calls++
		cancel()
		return fmt.Errorf("%w: interrupted", cloud.ErrConnection)
	})
	if calls != 1 {
		t.Errorf("expected 1 call after cancellation, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDoValue(t *testing.T) {
	stubSleep(t)

	calls := 0
	got, err := DoValue(context.Background(), "info", func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", fmt.Errorf("%w: blip", cloud.ErrConnection)
		}
		return "document", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "document" {
		t.Errorf("expected value from successful attempt, got %q", got)
	}
}
