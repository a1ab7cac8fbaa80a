package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/hubsetup/pkg/state"
)

// Step is a single named unit of provisioning work with declared prerequisites.
// Steps keep no state between runs; everything durable goes through the store.
type Step interface {
	// ID returns the stable identifier used as the state key.
	ID() string

	// Name returns a human-readable name.
	Name() string

	// Level returns the automation level of the step.
	Level() AutomationLevel

	// DependsOn returns the IDs of steps that must be completed first.
	DependsOn() []string

	// Execute performs the step and returns its terminal status.
	// A returned error is recorded as a failure by the engine.
	Execute(ctx context.Context, st *state.Store, dryRun bool) (state.StepStatus, error)
}

// validateStep checks that a step satisfies the contract before it is registered.
func validateStep(step Step) error {
	if step == nil {
		return NewConfigurationError("step is nil", nil).WithCode(ErrCodeValidation)
	}
	if step.ID() == "" {
		return NewConfigurationError("step has empty ID", nil).WithCode(ErrCodeValidation)
	}
	if step.Name() == "" {
		return NewConfigurationError(fmt.Sprintf("step %s has empty name", step.ID()), nil).
			WithCode(ErrCodeValidation).WithStep(step.ID())
	}
	if err := step.Level().Validate(); err != nil {
		return NewConfigurationError(fmt.Sprintf("step %s has invalid level", step.ID()), err).
			WithCode(ErrCodeValidation).WithStep(step.ID())
	}
	return nil
}

// FuncStep adapts a function into a Step.
type FuncStep struct {
	StepID    string
	StepName  string
	StepLevel AutomationLevel
	Deps      []string
	Fn        func(ctx context.Context, st *state.Store, dryRun bool) (state.StepStatus, error)
}

// ID implements Step.
func (f *FuncStep) ID() string { return f.StepID }

// Name implements Step.
func (f *FuncStep) Name() string { return f.StepName }

// Level implements Step.
func (f *FuncStep) Level() AutomationLevel { return f.StepLevel }

// DependsOn implements Step.
func (f *FuncStep) DependsOn() []string { return f.Deps }

// Execute implements Step.
func (f *FuncStep) Execute(ctx context.Context, st *state.Store, dryRun bool) (state.StepStatus, error) {
	if f.Fn == nil {
		return state.StatusCompleted, nil
	}
	return f.Fn(ctx, st, dryRun)
}
