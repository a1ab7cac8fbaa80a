// Package stores provides the run journal: a SQLite record of every run and
// every step transition it made, kept next to the state file.
//
// The state file answers "where is the setup now"; the journal answers "what
// happened, and when". It is optional and never consulted for resume.
package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/hubsetup/pkg/state"
)

// RunStatus is the status of a journaled run. A finished run carries the
// engine outcome.
type RunStatus string

const (
	RunStatusRunning       RunStatus = "running"
	RunStatusCompleted     RunStatus = "completed"
	RunStatusBlocked       RunStatus = "blocked"
	RunStatusFailed        RunStatus = "failed"
	RunStatusTargetReached RunStatus = "target_reached"
	RunStatusDryRun        RunStatus = "dry_run"
	RunStatusCancelled     RunStatus = "cancelled"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Run is one engine run.
type Run struct {
	ID          string     `json:"id"`
	StatePath   string     `json:"state_path"`
	DryRun      bool       `json:"dry_run"`
	TargetStep  string     `json:"target_step,omitempty"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// StepEvent is one persisted status transition of a step within a run.
type StepEvent struct {
	ID        int64            `json:"id"`
	RunID     string           `json:"run_id"`
	StepID    string           `json:"step_id"`
	Status    state.StepStatus `json:"status"`
	Error     *string          `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Store defines the journal persistence operations.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, status RunStatus, errMsg *string, completedAt time.Time) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// Step event operations
	AppendStepEvent(ctx context.Context, event *StepEvent) error
	ListStepEvents(ctx context.Context, runID string) ([]*StepEvent, error)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
