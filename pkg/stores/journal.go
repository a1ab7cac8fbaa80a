package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/state"
)

// Journal records engine runs into a Store.
type Journal struct {
	store Store
	now   func() time.Time
}

var _ engine.Recorder = (*Journal)(nil)

// NewJournal creates a journal over an initialized, migrated store.
func NewJournal(store Store) *Journal {
	return &Journal{store: store, now: time.Now}
}

// Store returns the underlying store.
func (j *Journal) Store() Store {
	return j.store
}

// RunStarted inserts the run with status running.
func (j *Journal) RunStarted(ctx context.Context, run engine.RunInfo) error {
	return j.store.CreateRun(ctx, &Run{
		ID:         run.ID,
		StatePath:  run.StatePath,
		DryRun:     run.DryRun,
		TargetStep: run.TargetStep,
		Status:     RunStatusRunning,
		StartedAt:  run.StartedAt,
	})
}

// StepTransition appends one step event.
func (j *Journal) StepTransition(ctx context.Context, runID, stepID string, status state.StepStatus, errMsg string) error {
	return j.store.AppendStepEvent(ctx, &StepEvent{
		RunID:     runID,
		StepID:    stepID,
		Status:    status,
		Error:     optionalString(errMsg),
		CreatedAt: j.now(),
	})
}

// RunFinished stores the run outcome.
func (j *Journal) RunFinished(ctx context.Context, result *engine.RunResult) error {
	if result == nil {
		return fmt.Errorf("nil run result")
	}
	finished := result.FinishedAt
	if finished.IsZero() {
		finished = j.now()
	}
	return j.store.FinishRun(ctx, result.RunID, RunStatus(result.Outcome), optionalString(result.Error), finished)
}

// RunHistory is a run together with its step events.
type RunHistory struct {
	Run    *Run         `json:"run"`
	Events []*StepEvent `json:"events"`
}

// History returns the most recent runs, newest first, with their events.
func (j *Journal) History(ctx context.Context, limit int) ([]RunHistory, error) {
	runs, err := j.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	history := make([]RunHistory, 0, len(runs))
	for _, run := range runs {
		events, err := j.store.ListStepEvents(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		history = append(history, RunHistory{Run: run, Events: events})
	}
	return history, nil
}
