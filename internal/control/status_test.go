package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusStringKnownValues(t *testing.T) {
	cases := map[Status]string{
		StatusDeactivated:  "deactivated",
		StatusActivating:   "activating",
		StatusActivated:    "activated",
		StatusRunning:      "running",
		StatusDeactivating: "deactivating",
		StatusCanceled:     "canceled",
		StatusDoRestart:    "do_restart",
		StatusDone:         "done",
		StatusError:        "error",
		Status(9999):       "unknown",
	}
	for s, want := range cases {
		assert.Equal(t, want, s.String())
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusDone.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.True(t, StatusCanceled.IsTerminal())

	assert.False(t, StatusDeactivated.IsTerminal())
	assert.False(t, StatusActivated.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.False(t, StatusDoRestart.IsTerminal())
}

func TestAtomicStatusLoadStore(t *testing.T) {
	var a atomicStatus
	assert.Equal(t, Status(0), a.Load())
	a.Store(StatusRunning)
	assert.Equal(t, StatusRunning, a.Load())
}
