// Package engine provides the resumable step scheduler behind hubsetup.
//
// # Overview
//
// A setup is a fixed catalogue of Steps. Each step declares the steps it
// depends on and an automation level:
//
//   - auto: fully driven by API calls
//   - semi: API calls plus an operator confirmation
//   - manual: the operator does the work and reports back
//   - validate: checks the outcome of earlier steps
//
// Steps are registered into a Registry, which resolves a deterministic
// topological order with Kahn's algorithm. Ties are broken by registration
// order, so the same catalogue always runs in the same sequence.
//
// # Running
//
// Engine.Run walks the resolved order against a state.Store:
//
//  1. Completed steps are skipped, which makes runs resumable.
//  2. A step whose dependencies are not all completed halts the run as blocked.
//  3. In dry-run mode the step is reported and nothing is persisted.
//  4. Otherwise the step is marked in_progress, executed, and its final status
//     persisted. Errors and panics become failed and halt the run.
//  5. If a target step was requested, the run stops after it.
//
// Every transition is flushed to disk before the next one happens, so a crash
// at any point leaves a state file the next run can resume from.
//
// # Errors
//
// All failures are EngineErrors carrying an ErrorKind:
//
//	if engine.IsAuthentication(err) {
//	    // credentials were rejected; do not retry
//	}
//
// Kinds cover configuration, authentication, transient and permanent remote
// failures, timeouts, and the graph errors returned by the registry.
package engine
