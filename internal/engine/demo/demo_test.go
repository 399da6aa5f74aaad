package demo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sandfly-daq/sandfly/internal/engine"
)

func TestRunInvokesRunningCallbackOnce(t *testing.T) {
	e := New()
	calls := 0
	e.SetRunningCallback(func() { calls++ })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, "a;b") }()

	assert.Eventually(t, func() bool { return calls == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "a;b", e.LastRunString())

	cancel()
	assert.NoError(t, <-done)
}

func TestCancelUnblocksRun(t *testing.T) {
	e := New()
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), "x") }()

	assert.Eventually(t, func() bool { return e.IsActive() }, time.Second, time.Millisecond)

	e.Cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Cancel")
	}

	// Cancel must be idempotent.
	assert.NotPanics(t, func() { e.Cancel() })
}

func TestInjectNodeErrorPropagatesThroughRun(t *testing.T) {
	e := New()
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), "x") }()

	assert.Eventually(t, func() bool { return e.IsActive() }, time.Second, time.Millisecond)

	injected := engine.NonFatal(assertErr)
	e.InjectNodeError(injected)

	select {
	case err := <-done:
		assert.Equal(t, engine.OutcomeNonFatal, engine.ClassifyRunErr(err))
	case <-time.After(time.Second):
		t.Fatal("Run did not return after InjectNodeError")
	}
}

func TestPauseAndResumeToggleIsActive(t *testing.T) {
	e := New()
	e.Resume()
	assert.True(t, e.IsActive())

	e.Pause()
	assert.False(t, e.IsActive())
}

var assertErr = &staticErr{"node failure"}

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }
