// Package engine defines the contract the Run Controller (C4) drives: a
// runnable bundle of pipeline nodes built entirely from a run string
// produced by the Pipeline Facade. Sandfly never implements the node
// execution runtime itself — this package only states the interface the
// core depends on, grounded on the minimal lifecycle shape of the
// teacher's plugin contract (Name/Init/Start/Stop) generalized to
// run/cancel/pause/resume plus a running callback.
package engine

import (
	"context"
	"fmt"

	"github.com/sandfly-daq/sandfly/internal/sferr"
)

// Engine is the pipeline engine contract. Run blocks until the engine is
// cancelled, ctx is done, or a node error ends it; Pause and Resume do
// not make it return. It invokes the running callback
// exactly once, after the graph named by runString has started executing
// and before any records flow, so the controller can transition
// activating -> activated at the right moment.
//
// Run returns nil on a clean cancel. A non-nil error must wrap one
// of sferr.ErrEngineNonFatal or sferr.ErrEngineFatal; any other error is
// treated as fatal by ClassifyRunErr.
type Engine interface {
	Run(ctx context.Context, runString string) error
	Cancel()
	Pause()
	Resume()
	SetRunningCallback(func())
}

// RunOutcome is the controller-facing classification of a completed Run.
type RunOutcome int

const (
	// OutcomeClean means Run returned nil: a normal cancel.
	OutcomeClean RunOutcome = iota
	// OutcomeNonFatal means a recoverable node failure; the controller
	// should transition to do_restart and auto-reactivate.
	OutcomeNonFatal
	// OutcomeFatal means an unrecoverable error; the controller
	// transitions to error and triggers a global cancel.
	OutcomeFatal
)

func (o RunOutcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeNonFatal:
		return "non_fatal"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyRunErr maps an error returned by Engine.Run into a RunOutcome,
// per spec: node_nonfatal_error -> do_restart, node_fatal_error /
// engine_error / unknown -> error (terminal, global cancel).
func ClassifyRunErr(err error) RunOutcome {
	if err == nil {
		return OutcomeClean
	}
	switch sferr.Kindf(err) {
	case sferr.KindEngineNonFatal:
		return OutcomeNonFatal
	default:
		return OutcomeFatal
	}
}

// NonFatal wraps err as a recoverable node failure.
func NonFatal(err error) error {
	return fmt.Errorf("%w: %v", sferr.ErrEngineNonFatal, err)
}

// Fatal wraps err as an unrecoverable engine failure.
func Fatal(err error) error {
	return fmt.Errorf("%w: %v", sferr.ErrEngineFatal, err)
}
