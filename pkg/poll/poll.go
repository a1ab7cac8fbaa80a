// Package poll waits for asynchronous remote operations to reach a terminal state.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/telemetry"
)

// Options configures one polling loop.
type Options struct {
	// Name identifies the operation in logs, metrics and the timeout error.
	Name string

	// Interval is the wait between checks.
	Interval time.Duration

	// MaxAttempts is the number of checks before giving up.
	MaxAttempts int

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
}

// Presets for the remote operations the setup waits on.
var (
	RepoCreated    = Options{Name: "repository", Interval: 3 * time.Second, MaxAttempts: 20}
	ModelDeployed  = Options{Name: "model_deployment", Interval: 3 * time.Second, MaxAttempts: 20}
	RecordAccepted = Options{Name: "record", Interval: 3 * time.Second, MaxAttempts: 4}
)

// With returns a copy of o using the given logger and metrics.
func (o Options) With(logger *telemetry.Logger, metrics *telemetry.Metrics) Options {
	o.Logger = logger
	o.Metrics = metrics
	return o
}

// errNotReady marks a check that should be retried after the interval.
var errNotReady = errors.New("not ready")

// terminalError marks a check error that ends polling.
type terminalError struct {
	err error
}

func (t *terminalError) Error() string { return t.err.Error() }
func (t *terminalError) Unwrap() error { return t.err }

// Stop wraps err to signal the remote reached a terminal failure state.
// Until returns the unwrapped err.
func Stop(err error) error {
	return &terminalError{err: err}
}

// Until calls check every Interval until it reports done, returns an error,
// or MaxAttempts checks have run.
//
// Check errors end polling immediately. Retrying transient failures is the
// job of the HTTP client, not the loop. Running out of attempts returns a
// timeout error naming the operation.
func Until[T any](ctx context.Context, opts Options, check func(ctx context.Context) (T, bool, error)) (T, error) {
	var zero T
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.FromContext(ctx)
	}
	logger = logger.WithField("operation", opts.Name)

	attempt := 0
	operation := func() (T, error) {
		attempt++
		value, done, err := check(ctx)
		if err != nil {
			return zero, backoff.Permanent(err)
		}
		opts.Metrics.RecordPollAttempt(opts.Name, done)
		if !done {
			logger.WithFields(map[string]interface{}{
				"attempt":      attempt,
				"max_attempts": opts.MaxAttempts,
			}).Debug("Not ready yet")
			return zero, errNotReady
		}
		return value, nil
	}

	value, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(opts.Interval)),
		backoff.WithMaxTries(uint(opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		logger.WithField("attempts", attempt).Debug("Remote operation ready")
		return value, nil
	}

	var t *terminalError
	if errors.As(err, &t) {
		return zero, t.err
	}
	if errors.Is(err, errNotReady) {
		return zero, engine.NewTimeoutError(
			fmt.Sprintf("%s not ready after %d attempts (%s interval)", opts.Name, attempt, opts.Interval), nil,
		).WithDetail("attempts", attempt)
	}
	return zero, err
}
