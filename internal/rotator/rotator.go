// Package rotator implements the File Rotator (C2): one recorder file,
// rotated in the background without stalling the producer. Each Rotator
// owns exactly one output file index; the Conductor builds one per
// configured parallel file (spec §6 daq.n-files).
//
// Grounded on the teacher's background-worker shape in internal/task
// (a long-lived goroutine driven by a condition variable plus an atomic
// status) and its rollback-on-failure discipline in Task.Start, adapted
// to the on-deck/switch worker pair documented in spec §4.2.
package rotator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/tevino/abool"
	"go.uber.org/multierr"

	"github.com/sandfly-daq/sandfly/internal/access"
	"github.com/sandfly-daq/sandfly/internal/control"
	"github.com/sandfly-daq/sandfly/internal/recorder"
	"github.com/sandfly-daq/sandfly/internal/sferr"
)

// Stage is the Rotator's lifecycle stage.
type Stage int

const (
	StageInitialized Stage = iota
	StagePreparing
	StageWriting
	StageFinished
)

func (s Stage) String() string {
	switch s {
	case StageInitialized:
		return "initialized"
	case StagePreparing:
		return "preparing"
	case StageWriting:
		return "writing"
	case StageFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// WriterNotify is called once per registered writer at start_files(),
// with the current header available under the header lock.
type WriterNotify func(*recorder.Header)

const (
	finishDrainTicks = 10
	finishDrainTick  = 500 * time.Millisecond
	writePollTick    = 100 * time.Millisecond
	onDeckPollTick   = 500 * time.Millisecond
)

// CancelFunc is invoked by the rotator to escalate a stuck/fatal
// condition into a process-wide cancellation, per spec §4.2's failure
// semantics.
type CancelFunc func(reason error)

// Rotator owns one output file: the current file being written, an
// on-deck file prepared ahead of time, and a to-finish file awaiting
// asynchronous finalization.
type Rotator struct {
	log *logrus.Entry

	origFilename string
	base         string
	ext          string
	maxSizeMB    float64
	container    recorder.Container
	cancel       CancelFunc
	controlAccess *access.Handle[control.Controller]

	// fileMu guards everything below it: the three file slots, the
	// counter, and the size estimate. headerMu is taken separately,
	// only while iterating registered writers at start_files().
	fileMu         sync.Mutex
	headerMu       sync.Mutex
	counter        int
	sizeEstimateMB float64
	stage          Stage
	current        recorder.File
	onDeck         recorder.File
	toFinish       recorder.File
	shapes         []recorder.StreamShape

	okToWrite *abool.AtomicBool
	doSwitch  *abool.AtomicBool
	torndown  *abool.AtomicBool

	onDeckSignal chan struct{}
	switchSignal chan struct{}

	writersMu sync.Mutex
	writers   []WriterNotify

	inFlightMu sync.Mutex
	inFlight   int

	wg     conc.WaitGroup
	workCtx    context.Context
	workCancel context.CancelFunc
}

// Config is the construction-time configuration for one Rotator.
type Config struct {
	Filename  string
	MaxSizeMB float64
	Container recorder.Container
	Shapes    []recorder.StreamShape
	Cancel    CancelFunc
	Log       *logrus.Entry
	// ControlAccess is the process-wide late-binding handle to the Run
	// Controller (spec §4.1's Control Access). When set and resolvable,
	// StartFiles labels the first file's header with the active run's
	// description and configured duration; left nil (or expired), the
	// header is written with whatever the container default is, matching
	// the teacher's "never require a dependency that isn't there yet"
	// approach to late-bound collaborators.
	ControlAccess *access.Handle[control.Controller]
}

// New builds a Rotator in the initialized stage. Call RegisterWriter any
// number of times, then StartFiles to move to writing.
func New(cfg Config) *Rotator {
	base, ext := splitExt(cfg.Filename)
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Rotator{
		log:           log.WithField("component", "rotator").WithField("file", cfg.Filename),
		origFilename:  cfg.Filename,
		base:          base,
		ext:           ext,
		maxSizeMB:     cfg.MaxSizeMB,
		container:     cfg.Container,
		cancel:        cfg.Cancel,
		controlAccess: cfg.ControlAccess,
		shapes:        cfg.Shapes,
		stage:        StageInitialized,
		okToWrite:    abool.New(),
		doSwitch:     abool.New(),
		torndown:     abool.New(),
		onDeckSignal: make(chan struct{}, 1),
		switchSignal: make(chan struct{}, 1),
	}
}

// labelHeaderFromControlAccess pulls the active run's description and
// duration off the Control Access handle, if one is wired and currently
// resolvable, and stamps them onto f's still-mutable header. A nil or
// expired handle (no controller installed yet, or no run activated) is
// not an error: the file is written with its container-assigned default
// header instead.
func (r *Rotator) labelHeaderFromControlAccess(f recorder.File) error {
	if r.controlAccess == nil {
		return nil
	}
	ctl, ok := r.controlAccess.TryGet()
	if !ok {
		return nil
	}
	description, durationMS, ok := ctl.ActiveDescription()
	if !ok {
		return nil
	}
	hdr := f.Header()
	hdr.Description = description
	hdr.RunDurationMS = durationMS
	return f.SetHeader(hdr)
}

func splitExt(filename string) (base, ext string) {
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == '.' {
			return filename[:i], filename[i:]
		}
	}
	return filename, ""
}

// RegisterWriter adds a callback invoked once with the current header at
// start_files(), under the header lock.
func (r *Rotator) RegisterWriter(fn WriterNotify) {
	r.writersMu.Lock()
	defer r.writersMu.Unlock()
	r.writers = append(r.writers, fn)
}

// Stage returns the current stage.
func (r *Rotator) Stage() Stage {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()
	return r.stage
}

// StartFiles creates the first file, notifies registered writers of its
// header under the header lock, then transitions to writing and starts
// the background on-deck/switch workers.
func (r *Rotator) StartFiles(ctx context.Context) error {
	r.fileMu.Lock()
	if r.stage != StageInitialized {
		r.fileMu.Unlock()
		return fmt.Errorf("rotator: start_files called in stage %s: %w", r.stage, sferr.ErrState)
	}
	r.stage = StagePreparing
	f, err := r.container.Create(r.origFilename, r.shapes)
	if err != nil {
		r.fileMu.Unlock()
		return fmt.Errorf("rotator: create %s: %w", r.origFilename, errWrap(sferr.ErrResource, err))
	}
	if err := r.labelHeaderFromControlAccess(f); err != nil {
		r.fileMu.Unlock()
		return fmt.Errorf("rotator: label header %s: %w", r.origFilename, errWrap(sferr.ErrResource, err))
	}
	if err := f.WriteHeader(); err != nil {
		r.fileMu.Unlock()
		return fmt.Errorf("rotator: write header %s: %w", r.origFilename, errWrap(sferr.ErrResource, err))
	}
	r.current = f
	r.fileMu.Unlock()

	r.headerMu.Lock()
	r.writersMu.Lock()
	writers := append([]WriterNotify(nil), r.writers...)
	r.writersMu.Unlock()
	hdr := f.Header()
	for _, w := range writers {
		w(hdr)
	}
	r.headerMu.Unlock()

	r.fileMu.Lock()
	r.stage = StageWriting
	r.fileMu.Unlock()
	r.okToWrite.Set()

	r.workCtx, r.workCancel = context.WithCancel(ctx)
	r.wg.Go(func() { r.onDeckLoop(r.workCtx) })
	r.wg.Go(func() { r.switchLoop(r.workCtx) })
	r.log.Info("rotator started")
	return nil
}

// WriteRecord blocks (polling ok_to_write on a 100ms timeout) until it
// can append to the current file's stream, then does so and folds the
// record's size into the running estimate.
func (r *Rotator) WriteRecord(ctx context.Context, streamIndex int, id uint64, ts time.Time, data []byte, isNewAcq bool) error {
	if err := r.waitOkToWrite(ctx); err != nil {
		return err
	}

	r.inFlightMu.Lock()
	r.inFlight++
	r.inFlightMu.Unlock()
	defer func() {
		r.inFlightMu.Lock()
		r.inFlight--
		r.inFlightMu.Unlock()
	}()

	r.fileMu.Lock()
	cur := r.current
	r.fileMu.Unlock()
	if cur == nil {
		return fmt.Errorf("rotator: no current file: %w", sferr.ErrState)
	}
	stream, err := cur.Stream(streamIndex)
	if err != nil {
		return fmt.Errorf("rotator: %w", errWrap(sferr.ErrResource, err))
	}
	if err := stream.AppendRecord(id, ts, data, isNewAcq); err != nil {
		r.cancel(fmt.Errorf("rotator: container append failed, cancelling: %w", errWrap(sferr.ErrResource, err)))
		return fmt.Errorf("rotator: append: %w", errWrap(sferr.ErrResource, err))
	}

	recordSizeMB := float64(len(data)) / (1024 * 1024)
	r.recordContribution(recordSizeMB)
	return nil
}

func (r *Rotator) waitOkToWrite(ctx context.Context) error {
	ticker := time.NewTicker(writePollTick)
	defer ticker.Stop()
	for {
		if r.torndown.IsSet() {
			return fmt.Errorf("rotator: file is being torn down: %w", sferr.ErrState)
		}
		if r.okToWrite.IsSet() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// recordContribution adds sizeMB to the running estimate and, if it has
// reached the configured maximum, arms a switch. max_size_mb == 0 makes
// every successful record trigger a switch (spec §8 boundary: a stress
// test for the rotation path, not a misconfiguration this layer rejects
// on its own — see DESIGN.md on spec §9's open question).
func (r *Rotator) recordContribution(sizeMB float64) {
	r.fileMu.Lock()
	r.sizeEstimateMB += sizeMB
	trigger := r.sizeEstimateMB >= r.maxSizeMB
	if trigger {
		r.doSwitch.Set()
	}
	r.fileMu.Unlock()
	if trigger {
		r.okToWrite.UnSet()
		select {
		case r.switchSignal <- struct{}{}:
		default:
		}
	}
}

// FinishFile drains remaining work and tears the rotator down, per
// spec §4.2's shutdown protocol: up to 10x500ms waiting for in-flight
// writes to clear, then an escalation to global cancel and another
// 10x500ms, then sferr.ErrRotatorStuck.
func (r *Rotator) FinishFile(ctx context.Context) error {
	r.torndown.Set()
	r.okToWrite.UnSet()

	if r.workCancel != nil {
		r.workCancel()
	}
	r.wg.Wait()

	r.fileMu.Lock()
	toFinish := r.toFinish
	r.toFinish = nil
	r.fileMu.Unlock()
	var errs error
	if toFinish != nil {
		if err := r.container.Finalize(toFinish); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("rotator: finalize to-finish: %w", err))
		}
	}

	if err := r.drainInFlight(ctx, finishDrainTicks); err != nil {
		r.log.Warn("drain timed out, escalating to global cancel")
		if r.cancel != nil {
			r.cancel(fmt.Errorf("rotator: %w", sferr.ErrRotatorStuck))
		}
		if err := r.drainInFlight(ctx, finishDrainTicks); err != nil {
			return fmt.Errorf("rotator: %w", sferr.ErrRotatorStuck)
		}
	}

	r.fileMu.Lock()
	cur := r.current
	r.current = nil
	r.stage = StageFinished
	r.fileMu.Unlock()
	if cur != nil {
		if err := r.container.Finalize(cur); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("rotator: finalize current: %w", err))
		}
	}
	r.log.Info("rotator finished")
	return errs
}

func (r *Rotator) drainInFlight(ctx context.Context, ticks int) error {
	ticker := time.NewTicker(finishDrainTick)
	defer ticker.Stop()
	for i := 0; i < ticks; i++ {
		r.inFlightMu.Lock()
		n := r.inFlight
		r.inFlightMu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	r.inFlightMu.Lock()
	n := r.inFlight
	r.inFlightMu.Unlock()
	if n == 0 {
		return nil
	}
	return fmt.Errorf("rotator: %d writers still in flight: %w", n, sferr.ErrRotatorStuck)
}

func errWrap(kind, err error) error {
	return fmt.Errorf("%w: %v", kind, err)
}
