package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"

	"github.com/sandfly-daq/sandfly/internal/engine"
	"github.com/sandfly-daq/sandfly/internal/pipeline"
	"github.com/sandfly-daq/sandfly/internal/readygate"
	"github.com/sandfly-daq/sandfly/internal/sferr"
)

// Hooks are the Run Controller's override points (spec §9: "model as an
// interface of optional hooks or a struct of function values"). Any
// field left nil is a no-op.
type Hooks struct {
	OnPreRun     func()
	OnPostRun    func()
	OnActivate   func()
	OnDeactivate func()
}

// RelayFunc posts a human-readable status line to the optional relayer.
type RelayFunc func(message string)

// Controller is the Run Controller (C4). Exactly one goroutine — the one
// running inside Activate's spawned worker — drives transitions for a
// given activation; external entry points validate current state and
// either act immediately (for instantaneous transitions) or hand off to
// that worker.
type Controller struct {
	log    *logrus.Entry
	facade *pipeline.Facade
	ready  *readygate.Gate
	cancel func(error)
	relay  RelayFunc

	activateAtStartup bool
	hooks              Hooks

	mu      sync.Mutex
	status  atomicStatus
	pkg     *pipeline.Package
	stopCh  chan struct{}
	duration atomic.Uint64

	wg conc.WaitGroup
}

// Config is the construction-time configuration for a Controller.
type Config struct {
	Facade            *pipeline.Facade
	Ready             *readygate.Gate
	Cancel            func(error)
	Relay             RelayFunc
	ActivateAtStartup bool
	DefaultDurationMS uint64
	Hooks             Hooks
	Log               *logrus.Entry
}

// New builds a Controller in the deactivated state.
func New(cfg Config) *Controller {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Controller{
		log:                log.WithField("component", "control"),
		facade:             cfg.Facade,
		ready:              cfg.Ready,
		cancel:             cfg.Cancel,
		relay:              cfg.Relay,
		activateAtStartup:  cfg.ActivateAtStartup,
		hooks:              cfg.Hooks,
	}
	c.duration.Store(cfg.DefaultDurationMS)
	return c
}

// Status returns the current state; safe for concurrent use without a
// lock (spec §3: "reads are atomic").
func (c *Controller) Status() Status { return c.status.Load() }

// IsReadyAtStartup reports whether the documented startup-readiness
// condition currently holds (spec §4.4).
func (c *Controller) IsReadyAtStartup() bool {
	s := c.status.Load()
	if c.activateAtStartup {
		return s == StatusActivated
	}
	return s == StatusActivated || s == StatusDeactivated
}

// Duration returns the configured default run length in milliseconds.
func (c *Controller) Duration() uint64 { return c.duration.Load() }

// ActiveDescription returns a human-readable description of the
// currently activated run plus its configured duration, for late-binding
// consumers (spec §4.1's Control Access) that need to label a resource
// built around the controller's lifetime without holding a strong
// reference to it — the File Rotator's header in particular. ok is
// false while no activation is in progress.
func (c *Controller) ActiveDescription() (description string, durationMS uint64, ok bool) {
	c.mu.Lock()
	pkg := c.pkg
	c.mu.Unlock()
	if pkg == nil {
		return "", 0, false
	}
	return fmt.Sprintf("sandfly run: %s", pkg.RunString()), c.Duration(), true
}

// SetDuration updates the default run length; rejects 0 per spec §4.4.
func (c *Controller) SetDuration(ms uint64) error {
	if ms == 0 {
		return fmt.Errorf("control: duration must be non-zero: %w", sferr.ErrConfiguration)
	}
	c.duration.Store(ms)
	return nil
}

// Activate validates deactivated -> activating and starts the engine.
func (c *Controller) Activate() error {
	c.mu.Lock()
	if c.status.Load() != StatusDeactivated {
		cur := c.status.Load()
		c.mu.Unlock()
		return fmt.Errorf("control: activate invalid from %s: %w", cur, sferr.ErrState)
	}
	err := c.activateLocked()
	c.mu.Unlock()
	return err
}

// activateLocked requires c.mu held. On success it stores Activating and
// spawns the worker that owns the rest of this activation's lifecycle.
func (c *Controller) activateLocked() error {
	pkg, err := c.facade.Acquire()
	if err != nil {
		switch sferr.Kindf(err) {
		case sferr.KindResource:
			c.status.Store(StatusError)
		default:
			c.status.Store(StatusDeactivated)
		}
		c.log.WithError(err).Warn("activation failed")
		return err
	}
	c.pkg = pkg
	c.status.Store(StatusActivating)

	pkg.SetRunningCallback(func() {
		c.mu.Lock()
		if c.status.Load() == StatusActivating {
			c.status.Store(StatusActivated)
			c.ready.Signal()
			if c.hooks.OnActivate != nil {
				c.hooks.OnActivate()
			}
		}
		c.mu.Unlock()
	})

	c.wg.Go(func() { c.runEngineLoop(pkg) })
	return nil
}

// runEngineLoop blocks for the lifetime of one activation: the pipeline
// engine's Run call returns only on deactivate, cancel, or a node error.
func (c *Controller) runEngineLoop(pkg *pipeline.Package) {
	err := pkg.Run(context.Background())

	c.mu.Lock()
	switch c.status.Load() {
	case StatusDeactivating:
		c.status.Store(StatusDeactivated)
		c.pkg = nil
		c.ready.Reset()
		onDeactivate := c.hooks.OnDeactivate
		c.mu.Unlock()
		pkg.Release()
		if onDeactivate != nil {
			onDeactivate()
		}
		return
	case StatusCanceled:
		c.pkg = nil
		c.mu.Unlock()
		pkg.Release()
		return
	}

	switch engine.ClassifyRunErr(err) {
	case engine.OutcomeNonFatal:
		c.status.Store(StatusDoRestart)
		c.pkg = nil
		c.mu.Unlock()
		pkg.Release()
		if c.relay != nil {
			c.relay(fmt.Sprintf("non-fatal engine error, restarting: %v", err))
		}
		time.Sleep(250 * time.Millisecond)
		// Documented exception to normal validation (spec §8 invariant
		// 1): do_restart reactivates without passing through the
		// public deactivated-only check on Activate.
		c.mu.Lock()
		c.status.Store(StatusDeactivated)
		aerr := c.activateLocked()
		c.mu.Unlock()
		if aerr != nil {
			c.log.WithError(aerr).Error("auto-reactivate after do_restart failed")
		}
	default:
		c.status.Store(StatusError)
		c.pkg = nil
		c.mu.Unlock()
		pkg.Release()
		if c.cancel != nil {
			c.cancel(fmt.Errorf("control: %w", sferr.ErrEngineFatal))
		}
	}
}

// Deactivate validates activated -> deactivating and asks the engine to
// exit; runEngineLoop completes the transition to deactivated.
func (c *Controller) Deactivate() error {
	c.mu.Lock()
	if c.status.Load() != StatusActivated {
		cur := c.status.Load()
		c.mu.Unlock()
		return fmt.Errorf("control: deactivate invalid from %s: %w", cur, sferr.ErrState)
	}
	c.status.Store(StatusDeactivating)
	pkg := c.pkg
	c.mu.Unlock()
	pkg.Cancel()
	return nil
}

// StartRun validates activated -> running and drives the run
// asynchronously (spec §4.4: "start_run is executed asynchronously via
// a worker").
func (c *Controller) StartRun(durationMS uint64) error {
	c.mu.Lock()
	if c.status.Load() != StatusActivated {
		cur := c.status.Load()
		c.mu.Unlock()
		return fmt.Errorf("control: start_run invalid from %s: %w", cur, sferr.ErrState)
	}
	if durationMS == 0 {
		durationMS = c.duration.Load()
	}
	stop := make(chan struct{}, 1)
	c.stopCh = stop
	c.status.Store(StatusRunning)
	pkg := c.pkg
	c.mu.Unlock()

	pkg.Resume()
	c.wg.Go(func() { c.doRun(stop, durationMS) })
	return nil
}

// doRun waits for the run's duration (0 means indefinite) or an early
// stop/cancel signal, then pauses the engine and returns to activated.
func (c *Controller) doRun(stop <-chan struct{}, durationMS uint64) {
	if c.hooks.OnPreRun != nil {
		c.hooks.OnPreRun()
	}
	if durationMS == 0 {
		<-stop
	} else {
		timer := time.NewTimer(time.Duration(durationMS) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-stop:
		case <-timer.C:
		}
	}

	c.mu.Lock()
	var pkg *pipeline.Package
	if c.status.Load() == StatusRunning {
		c.status.Store(StatusActivated)
		pkg = c.pkg
	}
	c.stopCh = nil
	c.mu.Unlock()
	if pkg != nil {
		pkg.Pause()
	}
	if c.hooks.OnPostRun != nil {
		c.hooks.OnPostRun()
	}
}

// StopRun requests an early end to the in-progress run.
func (c *Controller) StopRun() error {
	c.mu.Lock()
	if c.status.Load() != StatusRunning {
		cur := c.status.Load()
		c.mu.Unlock()
		return fmt.Errorf("control: stop_run invalid from %s: %w", cur, sferr.ErrState)
	}
	stop := c.stopCh
	c.mu.Unlock()
	if stop != nil {
		select {
		case stop <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel stops any run in progress, cancels the held pipeline Package,
// and sets status canceled — final within this component (spec §4.4).
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.status.Load().IsTerminal() {
		c.mu.Unlock()
		return
	}
	if c.stopCh != nil {
		select {
		case c.stopCh <- struct{}{}:
		default:
		}
	}
	c.status.Store(StatusCanceled)
	pkg := c.pkg
	c.mu.Unlock()
	if pkg != nil {
		pkg.Cancel()
	}
}

// Join waits for all of this controller's background work (activation
// worker, run workers) to finish. Call after Cancel/Deactivate during
// shutdown.
func (c *Controller) Join() {
	c.wg.Wait()
}
