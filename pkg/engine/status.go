package engine

import (
	"encoding/json"
	"fmt"
)

// AutomationLevel describes how much human involvement a step needs.
type AutomationLevel string

const (
	// LevelAuto indicates the step is fully driven by API calls.
	LevelAuto AutomationLevel = "auto"

	// LevelSemi indicates the step calls APIs but asks the operator to confirm.
	LevelSemi AutomationLevel = "semi"

	// LevelManual indicates the operator performs the work and reports back.
	LevelManual AutomationLevel = "manual"

	// LevelValidate indicates the step only checks the results of earlier steps.
	LevelValidate AutomationLevel = "validate"
)

// IsInteractive returns true if the step may block on operator input.
func (l AutomationLevel) IsInteractive() bool {
	return l == LevelSemi || l == LevelManual
}

// Validate checks if the automation level is valid.
func (l AutomationLevel) Validate() error {
	switch l {
	case LevelAuto, LevelSemi, LevelManual, LevelValidate:
		return nil
	default:
		return fmt.Errorf("invalid automation level: %s", l)
	}
}

// String returns the string representation of the level.
func (l AutomationLevel) String() string {
	return string(l)
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (l AutomationLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(l))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (l *AutomationLevel) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*l = AutomationLevel(str)
	return l.Validate()
}

// RunOutcome describes why a run stopped.
type RunOutcome string

const (
	// OutcomeCompleted indicates every step is completed.
	OutcomeCompleted RunOutcome = "completed"

	// OutcomeBlocked indicates a step had an unmet dependency.
	OutcomeBlocked RunOutcome = "blocked"

	// OutcomeFailed indicates a step failed.
	OutcomeFailed RunOutcome = "failed"

	// OutcomeTargetReached indicates the run stopped after the requested target step.
	OutcomeTargetReached RunOutcome = "target_reached"

	// OutcomeDryRun indicates a dry run finished without persisting anything.
	OutcomeDryRun RunOutcome = "dry_run"

	// OutcomeCancelled indicates the context was cancelled between steps.
	OutcomeCancelled RunOutcome = "cancelled"
)

// IsSuccess returns true if the run stopped without a failure or block.
func (o RunOutcome) IsSuccess() bool {
	return o == OutcomeCompleted || o == OutcomeTargetReached || o == OutcomeDryRun
}

// Validate checks if the run outcome is valid.
func (o RunOutcome) Validate() error {
	switch o {
	case OutcomeCompleted, OutcomeBlocked, OutcomeFailed,
		OutcomeTargetReached, OutcomeDryRun, OutcomeCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run outcome: %s", o)
	}
}
