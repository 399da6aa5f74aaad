// Package demo provides a minimal engine.Engine implementation with no
// real node execution, used by the default binary and by tests. It is
// grounded on the teacher's capture-manager demo (otus-packet/pkg/capture)
// in spirit: a stand-in runtime that exercises the same lifecycle shape
// (start/stop, "is it active") a real engine would, without doing real
// work.
package demo

import (
	"context"
	"sync"

	"github.com/tevino/abool"

	"github.com/sandfly-daq/sandfly/internal/engine"
)

// Engine is a single-use demo implementation of engine.Engine. A new
// instance is expected per pipeline activation, mirroring how the
// Pipeline Facade hands out a fresh Package on every acquire().
type Engine struct {
	mu         sync.Mutex
	cb         func()
	active     *abool.AtomicBool
	cancelCh   chan struct{}
	cancelOnce sync.Once
	errCh      chan error
	lastRun    string
}

// New returns a ready-to-run demo engine.
func New() *Engine {
	return &Engine{
		active:   abool.New(),
		cancelCh: make(chan struct{}),
		errCh:    make(chan error, 1),
	}
}

var _ engine.Engine = (*Engine)(nil)

// SetRunningCallback installs the hook fired once Run has started.
func (e *Engine) SetRunningCallback(fn func()) {
	e.mu.Lock()
	e.cb = fn
	e.mu.Unlock()
}

// Run blocks until Cancel is called, the context is done, or a node
// error has been injected via InjectNodeError.
func (e *Engine) Run(ctx context.Context, runString string) error {
	e.mu.Lock()
	e.lastRun = runString
	cb := e.cb
	e.mu.Unlock()

	e.active.Set()
	if cb != nil {
		cb()
	}

	select {
	case <-ctx.Done():
		return nil
	case <-e.cancelCh:
		return nil
	case err := <-e.errCh:
		return err
	}
}

// Pause marks the engine inactive; a demo engine does nothing with
// this besides exposing it via IsActive, since there are no real nodes
// to stop feeding.
func (e *Engine) Pause() { e.active.UnSet() }

// Resume marks the engine active again.
func (e *Engine) Resume() { e.active.Set() }

// Cancel causes a pending Run to return nil. Idempotent.
func (e *Engine) Cancel() {
	e.cancelOnce.Do(func() { close(e.cancelCh) })
}

// InjectNodeError simulates a mid-run node failure; wrap err with
// engine.NonFatal or engine.Fatal before calling, as a real engine would.
func (e *Engine) InjectNodeError(err error) {
	select {
	case e.errCh <- err:
	default:
	}
}

// IsActive reports whether the engine is active: Run and Resume set the
// flag, Pause clears it.
func (e *Engine) IsActive() bool { return e.active.IsSet() }

// LastRunString returns the run string passed to the most recent Run
// call, for test assertions.
func (e *Engine) LastRunString() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRun
}
