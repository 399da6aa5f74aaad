// Package relayer implements the optional status relayer (spec §5:
// "Optional message relayer loop", enabled via --post-to-slack). It is
// grounded on the teacher's internal/eventbus.InMemoryEventBus — a
// single-topic, single-partition specialization of the same
// publish/consume-in-a-goroutine shape, since the relayer only ever
// needs one ordered stream of outgoing notices rather than
// CallID-sharded partitions.
package relayer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Notice is one outgoing status notice.
type Notice struct {
	Level   string // "info" | "warn" | "error"
	Message string
}

// Sink delivers a Notice to wherever --post-to-slack points. The
// default Relayer only logs; a real deployment would inject a Sink
// backed by a Slack webhook client.
type Sink func(Notice) error

// Relayer is a single-consumer queue of outgoing Notices, run as one
// goroutine for the lifetime of the Conductor. Disabled (enabled=false)
// Relayers accept Post calls silently, so call sites never need to
// check whether relaying is turned on.
type Relayer struct {
	log     *logrus.Entry
	sink    Sink
	enabled bool
	queue   chan Notice
	done    chan struct{}
}

const queueDepth = 64

// New builds a Relayer. If enabled is false, Run exits immediately and
// Post becomes a no-op drain.
func New(enabled bool, sink Sink, log *logrus.Entry) *Relayer {
	if sink == nil {
		sink = func(n Notice) error {
			log.WithField("level", n.Level).Info(n.Message)
			return nil
		}
	}
	return &Relayer{
		log:     log.WithField("component", "relayer"),
		sink:    sink,
		enabled: enabled,
		queue:   make(chan Notice, queueDepth),
		done:    make(chan struct{}),
	}
}

// Post enqueues a notice. Non-blocking: when the queue is full the new
// notice is logged and discarded rather than backpressuring a caller
// that may be mid-shutdown.
func (r *Relayer) Post(level, format string, args ...any) {
	if !r.enabled {
		return
	}
	n := Notice{Level: level, Message: fmt.Sprintf(format, args...)}
	select {
	case r.queue <- n:
	default:
		r.log.WithField("level", level).Warn("relayer queue full, dropping notice")
	}
}

// Run drains the queue until ctx is canceled or Stop is called.
func (r *Relayer) Run(ctx context.Context) error {
	if !r.enabled {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			for {
				select {
				case n := <-r.queue:
					if err := r.sink(n); err != nil {
						r.log.WithError(err).Warn("relayer sink failed")
					}
				default:
					return nil
				}
			}
		case n := <-r.queue:
			if err := r.sink(n); err != nil {
				r.log.WithError(err).Warn("relayer sink failed")
			}
		}
	}
}

// Stop signals Run to exit once the queue (as currently buffered) has
// been processed; it does not block.
func (r *Relayer) Stop() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}
