package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openfroyo/hubsetup/pkg/engine"
)

func fastOptions(attempts int) Options {
	return Options{Name: "repository", Interval: time.Millisecond, MaxAttempts: attempts}
}

func TestUntilReturnsValueWhenReady(t *testing.T) {
	calls := 0
	got, err := Until(context.Background(), fastOptions(5), func(ctx context.Context) (string, bool, error) {
		calls++
		if calls < 3 {
			return "CREATING", false, nil
		}
		return "SUCCESS", true, nil
	})
	if err != nil {
		t.Fatalf("Until: %v", err)
	}
	if got != "SUCCESS" || calls != 3 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
}

func TestUntilTimesOut(t *testing.T) {
	calls := 0
	_, err := Until(context.Background(), fastOptions(4), func(ctx context.Context) (int, bool, error) {
		calls++
		return 0, false, nil
	})
	if !engine.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
	var e *engine.EngineError
	if !errors.As(err, &e) || e.Details["attempts"] != 4 {
		t.Fatalf("timeout should record the attempt count: %+v", e)
	}
}

func TestUntilStopsOnTerminalState(t *testing.T) {
	deleted := engine.NewRemoteRequestError("repository entered DELETED", nil)
	calls := 0
	_, err := Until(context.Background(), fastOptions(10), func(ctx context.Context) (string, bool, error) {
		calls++
		return "", false, Stop(deleted)
	})
	if err != deleted {
		t.Fatalf("err = %v, want the unwrapped terminal error", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestUntilAbortsOnCheckError(t *testing.T) {
	boom := engine.NewTransientRemoteError("still rate limited", nil)
	calls := 0
	_, err := Until(context.Background(), fastOptions(10), func(ctx context.Context) (string, bool, error) {
		calls++
		return "", false, boom
	})
	if !engine.IsTransientRemote(err) || calls != 1 {
		t.Fatalf("err = %v calls = %d", err, calls)
	}
}

func TestUntilHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := Options{Name: "merge", Interval: time.Hour, MaxAttempts: 3}

	calls := 0
	_, err := Until(ctx, opts, func(ctx context.Context) (bool, bool, error) {
		calls++
		cancel()
		return false, false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestPresets(t *testing.T) {
	tests := []struct {
		opts     Options
		interval time.Duration
		attempts int
	}{
		{RepoCreated, 3 * time.Second, 20},
		{ModelDeployed, 3 * time.Second, 20},
		{RecordAccepted, 3 * time.Second, 4},
	}
	for _, tt := range tests {
		if tt.opts.Interval != tt.interval || tt.opts.MaxAttempts != tt.attempts {
			t.Errorf("%s = %v x %d, want %v x %d", tt.opts.Name, tt.opts.Interval, tt.opts.MaxAttempts, tt.interval, tt.attempts)
		}
	}
}
