// Package control implements the Run Controller (C4): the state machine
// over the pipeline, timed/untimed run driving, and the RPC handlers
// registered on the Request Receiver.
//
// Grounded on the teacher's internal/task.Task — a single mutex-guarded
// state field, a dedicated goroutine owning all transitions, and
// rollback/cancellation plumbing via context — generalized from Task's
// five-state lifecycle to the nine-state machine spec §3 documents, with
// go.uber.org/atomic standing in for the teacher's atomic.Int64 status
// reads.
package control

import "go.uber.org/atomic"

// Status is the Run Controller's state. Numeric values are stable
// because they are surfaced over the RPC bus (spec §3).
type Status uint32

const (
	StatusDeactivated Status = 0
	StatusActivating  Status = 2
	StatusActivated   Status = 4
	StatusRunning     Status = 5
	StatusDeactivating Status = 6
	StatusCanceled    Status = 8
	StatusDoRestart   Status = 9
	StatusDone        Status = 10
	StatusError       Status = 200
)

func (s Status) String() string {
	switch s {
	case StatusDeactivated:
		return "deactivated"
	case StatusActivating:
		return "activating"
	case StatusActivated:
		return "activated"
	case StatusRunning:
		return "running"
	case StatusDeactivating:
		return "deactivating"
	case StatusCanceled:
		return "canceled"
	case StatusDoRestart:
		return "do_restart"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s ends the state machine for good (spec §8
// invariant 1: monotone to a terminal, with do_restart and
// activated<->running the only cycles).
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCanceled
}

// atomicStatus is a small wrapper so reads never need the controller's
// mutex (spec §3: "reads are atomic").
type atomicStatus struct {
	v atomic.Uint32
}

func (a *atomicStatus) Load() Status       { return Status(a.v.Load()) }
func (a *atomicStatus) Store(s Status)     { a.v.Store(uint32(s)) }
