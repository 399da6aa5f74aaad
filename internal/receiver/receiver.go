package receiver

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sandfly-daq/sandfly/internal/readygate"
	"github.com/sandfly-daq/sandfly/internal/sferr"
	"github.com/sandfly-daq/sandfly/pkg/reply"
)

// Stage is the Receiver's lifecycle stage (spec §4.5).
type Stage int

const (
	StageInitialized Stage = iota
	StageStarting
	StageListening
	StageCanceled
	StageDone
	StageError
)

func (s Stage) String() string {
	switch s {
	case StageInitialized:
		return "initialized"
	case StageStarting:
		return "starting"
	case StageListening:
		return "listening"
	case StageCanceled:
		return "canceled"
	case StageDone:
		return "done"
	case StageError:
		return "error"
	default:
		return "unknown"
	}
}

// Receiver is the Request Receiver (C5).
type Receiver struct {
	log            *logrus.Entry
	registry       *Registry
	ready          *readygate.Gate
	transport      Transport
	makeConnection bool

	mu         sync.Mutex
	stage      Stage
	stopListen context.CancelFunc
}

// New builds a Receiver bound to registry, waiting on ready before it
// starts transport (when makeConnection is true) or simply idles
// (when false — the local submit path still works either way).
func New(registry *Registry, ready *readygate.Gate, transport Transport, makeConnection bool, log *logrus.Entry) *Receiver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Receiver{
		log:            log.WithField("component", "receiver"),
		registry:       registry,
		ready:          ready,
		transport:      transport,
		makeConnection: makeConnection,
		stage:          StageInitialized,
	}
}

// Stage returns the current lifecycle stage.
func (r *Receiver) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// Execute blocks until the Run Controller signals ready, then — if
// makeConnection is enabled — starts the transport and blocks in its
// listen loop until ctx is canceled, Cancel is called, or the transport
// errors.
func (r *Receiver) Execute(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	r.mu.Lock()
	r.stopListen = stop
	r.mu.Unlock()
	r.setStage(StageStarting)
	if err := r.ready.Wait(ctx); err != nil {
		r.setStage(StageCanceled)
		return fmt.Errorf("receiver: %w", ctx.Err())
	}

	r.setStage(StageListening)
	if !r.makeConnection {
		r.log.Info("make-connection disabled, receiver idling on local dispatch only")
		<-ctx.Done()
		r.setStage(StageDone)
		return nil
	}

	err := r.transport.Listen(ctx, r.registry.Dispatch)
	switch {
	case ctx.Err() != nil:
		r.setStage(StageCanceled)
		return nil
	case err != nil:
		r.setStage(StageError)
		return fmt.Errorf("receiver: transport: %w", errWrap(err))
	default:
		r.setStage(StageDone)
		return nil
	}
}

// Cancel stops the underlying transport, breaking Execute's listen loop.
func (r *Receiver) Cancel() error {
	r.setStage(StageCanceled)
	r.mu.Lock()
	stop := r.stopListen
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
	if r.transport != nil {
		return r.transport.Stop()
	}
	return nil
}

// SubmitRequestMessage lets the Batch Executor inject a request into the
// same dispatch path without a network round-trip (spec §4.5).
func (r *Receiver) SubmitRequestMessage(req Request) reply.Reply {
	return r.registry.Dispatch(req)
}

func (r *Receiver) setStage(s Stage) {
	r.mu.Lock()
	r.stage = s
	r.mu.Unlock()
}

func errWrap(err error) error {
	return fmt.Errorf("%w: %v", sferr.ErrResource, err)
}
