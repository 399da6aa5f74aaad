package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sandfly-daq/sandfly/internal/engine"
	"github.com/sandfly-daq/sandfly/internal/engine/demo"
	"github.com/sandfly-daq/sandfly/internal/pipeline"
	"github.com/sandfly-daq/sandfly/internal/readygate"
	"github.com/sandfly-daq/sandfly/internal/sferr"
)

func newTestController(t *testing.T, cfgOverride func(*Config)) (*Controller, *pipeline.Facade, *readygate.Gate) {
	t.Helper()
	reg := pipeline.NewDefaultRegistry()
	facade := pipeline.New(reg, func() engine.Engine { return demo.New() })
	assert.NoError(t, facade.AddStream("s0", pipeline.StreamConfig{Preset: "passthrough"}))

	gate := readygate.New()
	cfg := Config{
		Facade:            facade,
		Ready:             gate,
		Cancel:            func(error) {},
		DefaultDurationMS: 1000,
	}
	if cfgOverride != nil {
		cfgOverride(&cfg)
	}
	return New(cfg), facade, gate
}

func TestNewControllerStartsDeactivated(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	assert.Equal(t, StatusDeactivated, c.Status())
}

func TestActivateTransitionsToActivated(t *testing.T) {
	c, _, gate := newTestController(t, nil)
	assert.NoError(t, c.Activate())

	assert.Eventually(t, func() bool { return c.Status() == StatusActivated }, time.Second, time.Millisecond)
	assert.True(t, gate.IsReady())
}

func TestActivateInvalidFromNonDeactivated(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	assert.NoError(t, c.Activate())
	assert.Eventually(t, func() bool { return c.Status() == StatusActivated }, time.Second, time.Millisecond)

	err := c.Activate()
	assert.ErrorIs(t, err, sferr.ErrState)
}

func TestStartRunRequiresActivated(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	err := c.StartRun(0)
	assert.ErrorIs(t, err, sferr.ErrState)
}

func TestStartRunAndStopRunCycle(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	assert.NoError(t, c.Activate())
	assert.Eventually(t, func() bool { return c.Status() == StatusActivated }, time.Second, time.Millisecond)

	assert.NoError(t, c.StartRun(0))
	assert.Equal(t, StatusRunning, c.Status())

	assert.NoError(t, c.StopRun())
	assert.Eventually(t, func() bool { return c.Status() == StatusActivated }, time.Second, time.Millisecond)
}

func TestStartRunWithDurationAutoStops(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	assert.NoError(t, c.Activate())
	assert.Eventually(t, func() bool { return c.Status() == StatusActivated }, time.Second, time.Millisecond)

	assert.NoError(t, c.StartRun(10))
	assert.Eventually(t, func() bool { return c.Status() == StatusActivated }, time.Second, time.Millisecond)
}

func TestDeactivateRequiresActivated(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	err := c.Deactivate()
	assert.ErrorIs(t, err, sferr.ErrState)
}

func TestDeactivateReturnsToDeactivated(t *testing.T) {
	c, _, gate := newTestController(t, nil)
	assert.NoError(t, c.Activate())
	assert.Eventually(t, func() bool { return c.Status() == StatusActivated }, time.Second, time.Millisecond)

	assert.NoError(t, c.Deactivate())
	assert.Eventually(t, func() bool { return c.Status() == StatusDeactivated }, time.Second, time.Millisecond)
	assert.False(t, gate.IsReady())
	c.Join()
}

func TestSetDurationRejectsZero(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	err := c.SetDuration(0)
	assert.ErrorIs(t, err, sferr.ErrConfiguration)
	assert.Equal(t, uint64(1000), c.Duration())
}

func TestSetDurationUpdatesDefault(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	assert.NoError(t, c.SetDuration(5000))
	assert.Equal(t, uint64(5000), c.Duration())
}

func TestCancelFromActivatedReleasesPackage(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	assert.NoError(t, c.Activate())
	assert.Eventually(t, func() bool { return c.Status() == StatusActivated }, time.Second, time.Millisecond)

	c.Cancel()
	assert.Equal(t, StatusCanceled, c.Status())
	c.Join()
}

func TestCancelIsIdempotentOnTerminalStatus(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	c.Cancel()
	assert.Equal(t, StatusCanceled, c.Status())
	assert.NotPanics(t, func() { c.Cancel() })
}

func TestIsReadyAtStartupHonorsActivateAtStartupFlag(t *testing.T) {
	c, _, _ := newTestController(t, func(cfg *Config) { cfg.ActivateAtStartup = true })
	assert.False(t, c.IsReadyAtStartup())

	assert.NoError(t, c.Activate())
	assert.Eventually(t, c.IsReadyAtStartup, time.Second, time.Millisecond)
}

func TestActiveDescriptionFalseBeforeActivation(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	_, _, ok := c.ActiveDescription()
	assert.False(t, ok)
}

func TestActiveDescriptionDescribesActivatedRun(t *testing.T) {
	c, _, _ := newTestController(t, func(cfg *Config) { cfg.DefaultDurationMS = 4242 })
	assert.NoError(t, c.Activate())
	assert.Eventually(t, func() bool { return c.Status() == StatusActivated }, time.Second, time.Millisecond)

	description, durationMS, ok := c.ActiveDescription()
	assert.True(t, ok)
	assert.Contains(t, description, "s0_node")
	assert.Equal(t, uint64(4242), durationMS)
}

