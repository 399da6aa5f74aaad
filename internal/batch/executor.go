package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tevino/abool"

	"github.com/sandfly-daq/sandfly/internal/control"
	"github.com/sandfly-daq/sandfly/internal/readygate"
	"github.com/sandfly-daq/sandfly/internal/receiver"
	"github.com/sandfly-daq/sandfly/internal/sferr"
	"github.com/sandfly-daq/sandfly/pkg/reply"
)

const emptyQueuePollTick = 100 * time.Millisecond

// SubmitFunc injects a request into the shared local dispatch path
// without a network round-trip (receiver.Receiver.SubmitRequestMessage).
type SubmitFunc func(receiver.Request) reply.Reply

// Executor is one Batch Executor worker (spec §4.6). The Conductor runs
// two in sequence at startup: an on-startup instance with RunForever
// false, then — once it has drained — a RunForever instance that lets
// additional actions be staged at runtime.
type Executor struct {
	log        *logrus.Entry
	queue      *Queue
	submit     SubmitFunc
	ready      *readygate.Gate
	cancel     func(error)
	runForever bool
	canceled   *abool.AtomicBool
}

// Config is the construction-time configuration for an Executor.
type Config struct {
	Queue      *Queue
	Submit     SubmitFunc
	Ready      *readygate.Gate
	Cancel     func(error)
	RunForever bool
	Log        *logrus.Entry
}

// New builds an Executor.
func New(cfg Config) *Executor {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{
		log:        log.WithField("component", "batch"),
		queue:      cfg.Queue,
		submit:     cfg.Submit,
		ready:      cfg.Ready,
		cancel:     cfg.Cancel,
		runForever: cfg.RunForever,
		canceled:   abool.New(),
	}
}

// Run waits for the shared ready gate, then drains the queue: while not
// canceled and (queue non-empty or RunForever), pop one action, inject
// it, and (for a custom poll) repeat until the daq status is no longer
// "running". Returns nil once the queue empties in non-forever mode, or
// when Cancel is called.
func (e *Executor) Run(ctx context.Context) error {
	if err := e.ready.Wait(ctx); err != nil {
		return fmt.Errorf("batch: %w", ctx.Err())
	}

	for {
		if e.canceled.IsSet() || ctx.Err() != nil {
			return nil
		}
		action, ok := e.queue.Pop()
		if !ok {
			if !e.runForever {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(emptyQueuePollTick):
				continue
			}
		}

		if err := e.execute(ctx, action); err != nil {
			return err
		}
	}
}

func (e *Executor) execute(ctx context.Context, action Action) error {
	corrID := uuid.New().String()
	rep := e.submit(receiver.Request{Verb: action.Verb, Specifier: action.Specifier, Payload: action.Payload, CorrelationID: corrID})
	if err := e.checkFatal(action, corrID, rep); err != nil {
		return err
	}

	if !action.IsCustomPoll {
		action.SleepAfter(ctx.Done())
		return nil
	}

	for {
		action.SleepAfter(ctx.Done())
		if ctx.Err() != nil || e.canceled.IsSet() {
			return nil
		}
		corrID = uuid.New().String()
		rep = e.submit(receiver.Request{Verb: action.Verb, Specifier: action.Specifier, Payload: action.Payload, CorrelationID: corrID})
		if err := e.checkFatal(action, corrID, rep); err != nil {
			return err
		}
		v, ok := reply.Nested(rep.Payload, "server", "status-value")
		if ok && uint32(v.GetNumberValue()) != control.RunningStatusValue {
			return nil
		}
	}
}

func (e *Executor) checkFatal(action Action, corrID string, rep reply.Reply) error {
	if !sferr.IsError(rep.ReturnCode) {
		return nil
	}
	e.log.WithField("specifier", action.Specifier).
		WithField("correlation_id", corrID).
		WithField("return_code", rep.ReturnCode).
		Error("batch action failed, cancelling globally")
	e.canceled.Set()
	if e.cancel != nil {
		e.cancel(fmt.Errorf("batch: action %s: %w", action.Specifier, sferr.ErrResource))
	}
	return fmt.Errorf("batch: action %s returned code %d: %w", action.Specifier, rep.ReturnCode, sferr.ErrResource)
}

// Cancel stops the executor at the next loop iteration.
func (e *Executor) Cancel() { e.canceled.Set() }
