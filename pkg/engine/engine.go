package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/hubsetup/pkg/state"
	"github.com/openfroyo/hubsetup/pkg/telemetry"
)

// Recorder receives run lifecycle notifications, typically to journal them.
// Recorder errors are logged and never halt a run.
type Recorder interface {
	RunStarted(ctx context.Context, run RunInfo) error
	StepTransition(ctx context.Context, runID, stepID string, status state.StepStatus, errMsg string) error
	RunFinished(ctx context.Context, result *RunResult) error
}

// RunInfo describes a run as it starts.
type RunInfo struct {
	ID         string
	StatePath  string
	DryRun     bool
	TargetStep string
	StartedAt  time.Time
}

// RunOptions controls a single run.
type RunOptions struct {
	// DryRun reports what would run without persisting anything or calling steps.
	DryRun bool

	// TargetStep stops the run after this step, if set.
	TargetStep string
}

// Step actions reported in a RunResult.
const (
	ActionSkipped      = "skipped"
	ActionBlocked      = "blocked"
	ActionWouldExecute = "would_execute"
	ActionExecuted     = "executed"
)

// StepReport records what the engine did with one step during a run.
type StepReport struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Level    AutomationLevel  `json:"level"`
	Action   string           `json:"action"`
	Status   state.StepStatus `json:"status"`
	Error    string           `json:"error,omitempty"`
	Unmet    []string         `json:"unmet,omitempty"`
	Duration time.Duration    `json:"duration,omitempty"`
}

// RunResult summarizes a run.
type RunResult struct {
	RunID       string       `json:"run_id"`
	Outcome     RunOutcome   `json:"outcome"`
	DryRun      bool         `json:"dry_run"`
	TargetStep  string       `json:"target_step,omitempty"`
	Steps       []StepReport `json:"steps"`
	FailedStep  string       `json:"failed_step,omitempty"`
	Error       string       `json:"error,omitempty"`
	BlockedStep string       `json:"blocked_step,omitempty"`
	Unmet       []string     `json:"unmet,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// Executed returns the IDs of steps whose Execute was invoked.
func (r *RunResult) Executed() []string {
	ids := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		if s.Action == ActionExecuted {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// StepSummary is a read-only projection of a registered step and its persisted status.
type StepSummary struct {
	ID     string           `json:"step_id"`
	Name   string           `json:"name"`
	Level  AutomationLevel  `json:"type"`
	Status state.StepStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// Options configures an Engine.
type Options struct {
	Logger   *telemetry.Logger
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer
	Recorder Recorder
}

// Engine walks the resolved step order sequentially, persisting every status
// transition to the state store.
type Engine struct {
	registry *Registry
	store    *state.Store
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	recorder Recorder
	now      func() time.Time
}

// New creates an engine over a registry and a state store.
func New(registry *Registry, store *state.Store, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Engine{
		registry: registry,
		store:    store,
		logger:   logger.NewComponentLogger("engine"),
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		recorder: opts.Recorder,
		now:      time.Now,
	}
}

// Registry returns the registry the engine was built with.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Run executes steps in resolved order. It is fail-fast: the first blocked or
// failed step ends the run. Re-invoking Run resumes from the first step that is
// not completed.
//
// The returned error is reserved for problems outside any step: an unknown
// target, an invalid graph, or a state flush failure. Step failures are
// reported through the result.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if opts.TargetStep != "" && !e.registry.Has(opts.TargetStep) {
		return nil, NewNotFoundError(fmt.Sprintf("unknown target step: %s", opts.TargetStep), nil).
			WithStep(opts.TargetStep)
	}

	order, err := e.registry.ResolveOrder()
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:      uuid.New().String(),
		DryRun:     opts.DryRun,
		TargetStep: opts.TargetStep,
		Steps:      make([]StepReport, 0, len(order)),
		StartedAt:  e.now(),
	}
	logger := e.logger.WithRunID(result.RunID)
	ctx = logger.WithContext(ctx)

	logger.WithFields(map[string]interface{}{
		"dry_run":     opts.DryRun,
		"target_step": opts.TargetStep,
		"steps":       len(order),
	}).Info("Starting run")

	e.notify(logger, "run_started", func() error {
		return e.recorder.RunStarted(ctx, RunInfo{
			ID:         result.RunID,
			StatePath:  e.store.Path(),
			DryRun:     opts.DryRun,
			TargetStep: opts.TargetStep,
			StartedAt:  result.StartedAt,
		})
	})
	e.metrics.RecordRunStarted(opts.DryRun)

	runErr := e.walk(ctx, logger, order, opts, result)

	result.FinishedAt = e.now()
	e.metrics.RecordRunCompleted(string(result.Outcome), result.FinishedAt.Sub(result.StartedAt))
	e.notify(logger, "run_finished", func() error {
		return e.recorder.RunFinished(ctx, result)
	})

	logger.WithFields(map[string]interface{}{
		"outcome":  result.Outcome,
		"executed": len(result.Executed()),
	}).Info("Run finished")

	return result, runErr
}

func (e *Engine) walk(ctx context.Context, logger *telemetry.Logger, order []Step, opts RunOptions, result *RunResult) error {
	for _, step := range order {
		id := step.ID()
		stepLogger := logger.WithField("step_id", id)

		if ctx.Err() != nil {
			stepLogger.Warn("Run cancelled before step")
			result.Outcome = OutcomeCancelled
			result.Error = ctx.Err().Error()
			return nil
		}

		report := StepReport{ID: id, Name: step.Name(), Level: step.Level()}

		status, _ := e.store.StepStatus(id)
		if status == state.StatusCompleted {
			report.Action = ActionSkipped
			report.Status = status
			result.Steps = append(result.Steps, report)
			stepLogger.Debug("Step already completed, skipping")
			if id == opts.TargetStep {
				result.Outcome = OutcomeTargetReached
				return nil
			}
			continue
		}

		if unmet := e.unmetDependencies(step); len(unmet) > 0 {
			report.Action = ActionBlocked
			report.Status = status
			report.Unmet = unmet
			result.Steps = append(result.Steps, report)
			result.Outcome = OutcomeBlocked
			result.BlockedStep = id
			result.Unmet = unmet
			stepLogger.WithField("unmet", unmet).Warn("Step blocked by unmet dependencies")
			return nil
		}

		if opts.DryRun {
			report.Action = ActionWouldExecute
			report.Status = status
			result.Steps = append(result.Steps, report)
			stepLogger.WithField("level", step.Level()).Info("Would execute step")
			if id == opts.TargetStep {
				result.Outcome = OutcomeTargetReached
				return nil
			}
			continue
		}

		if err := e.transition(ctx, stepLogger, result.RunID, id, state.StatusInProgress, ""); err != nil {
			result.Outcome = OutcomeFailed
			result.FailedStep = id
			result.Error = err.Error()
			return err
		}

		start := e.now()
		final, errMsg := e.execute(ctx, step)
		report.Duration = e.now().Sub(start)
		report.Action = ActionExecuted
		report.Status = final
		report.Error = errMsg
		result.Steps = append(result.Steps, report)

		e.metrics.RecordStepExecution(string(step.Level()), string(final), report.Duration)

		if err := e.transition(ctx, stepLogger, result.RunID, id, final, errMsg); err != nil {
			result.Outcome = OutcomeFailed
			result.FailedStep = id
			result.Error = err.Error()
			return err
		}

		if final == state.StatusFailed {
			result.Outcome = OutcomeFailed
			result.FailedStep = id
			result.Error = errMsg
			stepLogger.WithField("error", errMsg).Error("Step failed, halting run")
			return nil
		}

		stepLogger.WithFields(map[string]interface{}{
			"status":   final,
			"duration": report.Duration.String(),
		}).Info("Step finished")

		if id == opts.TargetStep {
			result.Outcome = OutcomeTargetReached
			return nil
		}
	}

	if opts.DryRun {
		result.Outcome = OutcomeDryRun
	} else {
		result.Outcome = OutcomeCompleted
	}
	return nil
}

// execute invokes a step, converting returned errors and panics into a failed status.
func (e *Engine) execute(ctx context.Context, step Step) (status state.StepStatus, errMsg string) {
	ctx, span := e.tracer.StartStepSpan(ctx, step.ID(), step.Name(), string(step.Level()))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := NewRemoteRequestError(fmt.Sprintf("step panicked: %v", r), nil).
				WithCode(ErrCodeStepPanicked).
				WithStep(step.ID()).
				WithDetail("stack", string(debug.Stack()))
			telemetry.RecordError(span, err)
			status = state.StatusFailed
			errMsg = fmt.Sprintf("panic: %v", r)
		}
	}()

	result, err := step.Execute(ctx, e.store, false)
	if err != nil {
		telemetry.RecordError(span, err)
		return state.StatusFailed, err.Error()
	}
	if !result.IsTerminal() {
		msg := fmt.Sprintf("step returned non-terminal status %q", result)
		telemetry.RecordError(span, fmt.Errorf("%s", msg))
		return state.StatusFailed, msg
	}
	span.SetAttributes(attribute.String("step.status", string(result)))
	if result == state.StatusFailed {
		return result, fmt.Sprintf("step %s reported failure", step.ID())
	}
	telemetry.RecordSuccess(span)
	return result, ""
}

func (e *Engine) transition(ctx context.Context, logger *telemetry.Logger, runID, stepID string, status state.StepStatus, errMsg string) error {
	var opts []state.StepOption
	if errMsg != "" {
		opts = append(opts, state.WithError(errMsg))
	}
	if err := e.store.SetStepStatus(stepID, status, opts...); err != nil {
		return fmt.Errorf("failed to persist status %s for step %s: %w", status, stepID, err)
	}
	e.notify(logger, "step_transition", func() error {
		return e.recorder.StepTransition(ctx, runID, stepID, status, errMsg)
	})
	return nil
}

func (e *Engine) unmetDependencies(step Step) []string {
	var unmet []string
	for _, dep := range dependencies(step) {
		if status, _ := e.store.StepStatus(dep); status != state.StatusCompleted {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

func (e *Engine) notify(logger *telemetry.Logger, event string, fn func() error) {
	if e.recorder == nil {
		return
	}
	if err := fn(); err != nil {
		logger.WithError(err).WithField("event", event).Warn("Failed to record run event")
	}
}

// StatusSummary returns every registered step in resolved order with its
// persisted status. Steps without a record are reported as pending.
func (e *Engine) StatusSummary() ([]StepSummary, error) {
	order, err := e.registry.ResolveOrder()
	if err != nil {
		return nil, err
	}
	summary := make([]StepSummary, 0, len(order))
	for _, step := range order {
		entry := StepSummary{
			ID:     step.ID(),
			Name:   step.Name(),
			Level:  step.Level(),
			Status: state.StatusPending,
		}
		if rec, ok := e.store.StepRecord(step.ID()); ok {
			entry.Status = rec.Status
			entry.Error = rec.Error
		}
		summary = append(summary, entry)
	}
	return summary, nil
}

// VerifyResult is the outcome of re-checking one completed step.
type VerifyResult struct {
	ID      string           `json:"step_id"`
	Name    string           `json:"name"`
	Level   AutomationLevel  `json:"type"`
	Checked bool             `json:"checked"`
	Status  state.StepStatus `json:"status,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// OK returns true if the step was not checked or its check passed.
func (v VerifyResult) OK() bool {
	return !v.Checked || v.Status == state.StatusCompleted
}

// Reverify re-executes every completed validate step without persisting the
// outcome. Completed steps of other levels are listed but not checked.
func (e *Engine) Reverify(ctx context.Context) ([]VerifyResult, error) {
	order, err := e.registry.ResolveOrder()
	if err != nil {
		return nil, err
	}
	var results []VerifyResult
	for _, step := range order {
		if status, _ := e.store.StepStatus(step.ID()); status != state.StatusCompleted {
			continue
		}
		res := VerifyResult{ID: step.ID(), Name: step.Name(), Level: step.Level()}
		if step.Level() == LevelValidate {
			res.Checked = true
			res.Status, res.Error = e.execute(ctx, step)
		}
		results = append(results, res)
	}
	return results, nil
}
