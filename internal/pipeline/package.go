package pipeline

import (
	"context"

	"github.com/sandfly-daq/sandfly/internal/engine"
)

// Package is an exclusive borrow of the built pipeline graph, handed out
// by Facade.Acquire and returned via Facade.Release. At most one holder
// may call Run/Pause/Resume/Cancel at a time (spec §3).
type Package struct {
	facade    *Facade
	engine    engine.Engine
	runString string
}

// RunString is the run string this Package's engine was built against.
func (p *Package) RunString() string { return p.runString }

// SetRunningCallback installs the hook the engine fires once running.
func (p *Package) SetRunningCallback(fn func()) { p.engine.SetRunningCallback(fn) }

// Run blocks until the engine is cancelled or errors; Pause does not end it.
func (p *Package) Run(ctx context.Context) error { return p.engine.Run(ctx, p.runString) }

// Cancel stops the underlying engine.
func (p *Package) Cancel() { p.engine.Cancel() }

// Pause pauses the underlying engine without ending Run.
func (p *Package) Pause() { p.engine.Pause() }

// Resume resumes the underlying engine.
func (p *Package) Resume() { p.engine.Resume() }

// Release returns this Package to its owning Facade.
func (p *Package) Release() { p.facade.Release(p) }
