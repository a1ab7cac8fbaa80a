package state

import (
	"encoding/json"
	"fmt"
)

// StepStatus represents the persisted execution status of a step.
type StepStatus string

const (
	// StatusPending indicates the step has never run. A step without a record is
	// pending. It is only written for a record that holds batch items of a step
	// that has not started yet.
	StatusPending StepStatus = "pending"

	// StatusInProgress is written before a step executes so an interrupted run is
	// visible on restart.
	StatusInProgress StepStatus = "in_progress"

	// StatusCompleted indicates the step finished successfully.
	StatusCompleted StepStatus = "completed"

	// StatusFailed indicates the step failed. Re-running the step retries it.
	StatusFailed StepStatus = "failed"

	// StatusSkipped indicates the step chose not to do anything.
	StatusSkipped StepStatus = "skipped"
)

// IsTerminal returns true if the status is a final result of an execution.
func (s StepStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// String returns the string representation of the status.
func (s StepStatus) String() string {
	return string(s)
}

// Validate checks if the step status is valid.
func (s StepStatus) Validate() error {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s StepStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = StepStatus(str)
	return s.Validate()
}
