package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sandfly-daq/sandfly/internal/sferr"
	"github.com/sandfly-daq/sandfly/pkg/reply"
)

func activateAndWait(t *testing.T, c *Controller) {
	t.Helper()
	assert.NoError(t, c.Activate())
	assert.Eventually(t, func() bool { return c.Status() == StatusActivated }, time.Second, time.Millisecond)
}

func TestHandleStartRunAndStopRun(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	activateAndWait(t, c)

	rep := c.HandleStartRun("run", reply.NewPayload(map[string]any{"duration_ms": 0.0}))
	assert.Equal(t, uint32(0), rep.ReturnCode)
	assert.Equal(t, StatusRunning, c.Status())

	rep = c.HandleStopRun("stop-run", nil)
	assert.Equal(t, uint32(0), rep.ReturnCode)
}

func TestHandleStartRunInvalidState(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	rep := c.HandleStartRun("run", nil)
	assert.Equal(t, sferr.CodeStateError, rep.ReturnCode)
}

func TestHandleActivateAndDeactivate(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	rep := c.HandleActivate("activate-daq", nil)
	assert.Equal(t, uint32(0), rep.ReturnCode)
	assert.Eventually(t, func() bool { return c.Status() == StatusActivated }, time.Second, time.Millisecond)

	rep = c.HandleDeactivate("deactivate-daq", nil)
	assert.Equal(t, uint32(0), rep.ReturnCode)
}

func TestHandleDaqStatusReportsStringAndValue(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	rep := c.HandleDaqStatus("daq-status")
	assert.Equal(t, uint32(0), rep.ReturnCode)

	v, ok := reply.Nested(rep.Payload, "server", "status")
	assert.True(t, ok)
	assert.Equal(t, "deactivated", v.GetStringValue())
}

func TestHandleDurationGetAndSet(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	rep := c.HandleDurationGet("duration")
	v, ok := reply.Value(rep.Payload, "duration_ms")
	assert.True(t, ok)
	assert.Equal(t, 1000.0, v.GetNumberValue())

	rep = c.HandleDurationSet("duration", reply.NewPayload(map[string]any{"duration_ms": 2500.0}))
	assert.Equal(t, uint32(0), rep.ReturnCode)
	assert.Equal(t, uint64(2500), c.Duration())
}

func TestHandleDurationSetMissingField(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	rep := c.HandleDurationSet("duration", reply.NewPayload(map[string]any{}))
	assert.Equal(t, sferr.CodeInvalidSpecifier, rep.ReturnCode)
}

func TestHandleRunDaqCmdMalformedSpecifier(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	rep := c.HandleRunDaqCmd("run-daq-cmd.s0", nil)
	assert.Equal(t, sferr.CodeInvalidSpecifier, rep.ReturnCode)
}

func TestHandleRunDaqCmdUnknownCommand(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	activateAndWait(t, c)

	rep := c.HandleRunDaqCmd("run-daq-cmd.s0.node.frobnicate", nil)
	assert.Equal(t, sferr.CodeInvalidMethod, rep.ReturnCode)
}

func TestHandleRunDaqCmdKnownCommand(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	activateAndWait(t, c)

	rep := c.HandleRunDaqCmd("run-daq-cmd.s0.node.reset", nil)
	assert.Equal(t, uint32(0), rep.ReturnCode)
}

func TestHandleActiveConfigGetAndSetWholeNode(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	activateAndWait(t, c)

	rep := c.HandleActiveConfigSet("active-config.s0.node", reply.NewPayload(map[string]any{"gain": 3.0}))
	assert.Equal(t, uint32(0), rep.ReturnCode)

	rep = c.HandleActiveConfigGet("active-config.s0.node")
	assert.Equal(t, uint32(0), rep.ReturnCode)
	v, ok := reply.Value(rep.Payload, "gain")
	assert.True(t, ok)
	assert.Equal(t, 3.0, v.GetNumberValue())
}

func TestHandleActiveConfigGetSingleParam(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	activateAndWait(t, c)

	assert.Equal(t, uint32(0), c.HandleActiveConfigSet("active-config.s0.node", reply.NewPayload(map[string]any{"gain": 3.0})).ReturnCode)

	rep := c.HandleActiveConfigGet("active-config.s0.node.gain")
	assert.Equal(t, uint32(0), rep.ReturnCode)
	v, ok := reply.Value(rep.Payload, "values")
	assert.True(t, ok)
	assert.Equal(t, 3.0, v.GetListValue().Values[0].GetNumberValue())
}

func TestHandleActiveConfigSetSingleParamRequiresValues(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	activateAndWait(t, c)

	rep := c.HandleActiveConfigSet("active-config.s0.node.gain", reply.NewPayload(map[string]any{}))
	assert.Equal(t, sferr.CodeInvalidSpecifier, rep.ReturnCode)
}

func TestHandleActiveConfigMalformedSpecifier(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	rep := c.HandleActiveConfigGet("active-config.s0")
	assert.Equal(t, sferr.CodeInvalidSpecifier, rep.ReturnCode)
}
