package conductor

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sandfly-daq/sandfly/internal/config"
	"github.com/sandfly-daq/sandfly/internal/receiver"
	"github.com/sandfly-daq/sandfly/pkg/reply"
)

func testTree() config.Tree {
	return config.Tree{
		Daq: config.DaqConfig{
			NFiles:        1,
			MaxFileSizeMB: 100,
		},
		Streams: map[string]config.StreamConfig{
			"s0": {Preset: "passthrough"},
		},
	}
}

func silentLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(discard{})
	return logrus.NewEntry(log)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestNewBuildsEveryPrerequisiteSubsystem(t *testing.T) {
	c, err := New(testTree(), silentLog())
	assert.NoError(t, err)
	assert.Equal(t, StatusInitialized, c.Status())
	assert.Equal(t, uint64(0), c.UptimeMS())
}

func TestNewRejectsUnknownPreset(t *testing.T) {
	tree := testTree()
	tree.Streams["bad"] = config.StreamConfig{Preset: "nonexistent-preset"}
	_, err := New(tree, silentLog())
	assert.Error(t, err)
}

func TestRunWithoutActivateAtStartupSignalsReadyAndAcceptsQuit(t *testing.T) {
	c, err := New(testTree(), silentLog())
	assert.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Run() }()

	assert.Eventually(t, func() bool { return c.Status() == StatusRunning }, time.Second, time.Millisecond)

	c.Shutdown()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
	assert.Equal(t, StatusDone, c.Status())
	assert.Equal(t, 0, c.ReturnCode())
}

func TestQuitHandlerCancelsTheConductor(t *testing.T) {
	c, err := New(testTree(), silentLog())
	assert.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Run() }()
	assert.Eventually(t, func() bool { return c.Status() == StatusRunning }, time.Second, time.Millisecond)

	rep := c.rcvRegistry.Dispatch(receiver.Request{Verb: receiver.VerbCmd, Specifier: "quit"})
	assert.Equal(t, uint32(0), rep.ReturnCode)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after quit")
	}
}

func TestStreamsAndNodesHandlersReflectAddedStream(t *testing.T) {
	c, err := New(testTree(), silentLog())
	assert.NoError(t, err)

	streamsRep := c.rcvRegistry.Dispatch(receiver.Request{Verb: receiver.VerbGet, Specifier: "streams"})
	assert.Equal(t, uint32(0), streamsRep.ReturnCode)
	assert.Contains(t, streamsRep.Payload.AsMap()["run-string"], "s0")

	nodesRep := c.rcvRegistry.Dispatch(receiver.Request{Verb: receiver.VerbGet, Specifier: "nodes"})
	assert.Equal(t, uint32(0), nodesRep.ReturnCode)
	nodes, ok := nodesRep.Payload.AsMap()["nodes"].([]any)
	assert.True(t, ok)
	assert.NotEmpty(t, nodes)

	c.cancel(context.Canceled)
}

func TestAddStreamAndRemoveStreamHandlers(t *testing.T) {
	c, err := New(testTree(), silentLog())
	assert.NoError(t, err)
	defer c.cancel(context.Canceled)

	addPayload, err := structpb.NewStruct(map[string]any{"name": "s1", "preset": "passthrough"})
	assert.NoError(t, err)
	addRep := c.rcvRegistry.Dispatch(receiver.Request{Verb: receiver.VerbCmd, Specifier: "add-stream", Payload: addPayload})
	assert.Equal(t, uint32(0), addRep.ReturnCode)

	removePayload := reply.NewPayload(map[string]any{"name": "s1"})
	removeRep := c.rcvRegistry.Dispatch(receiver.Request{Verb: receiver.VerbCmd, Specifier: "remove-stream", Payload: removePayload})
	assert.Equal(t, uint32(0), removeRep.ReturnCode)
}

func TestReloadAppliesNewSetConditionsAndBatchCommands(t *testing.T) {
	c, err := New(testTree(), silentLog())
	assert.NoError(t, err)
	defer c.cancel(context.Canceled)

	reloaded := testTree()
	reloaded.SetConditions = map[string]string{"7": "activate-daq"}
	reloaded.BatchCommands = map[string][]config.RawAction{
		"arm-all": {{Type: "cmd", Key: "activate-daq"}},
	}
	assert.NoError(t, c.Reload(reloaded))

	conditionRep := c.rcvRegistry.Dispatch(receiver.Request{
		Verb:    receiver.VerbSetCondition,
		Payload: reply.NewPayload(map[string]any{"code": 7.0}),
	})
	assert.Equal(t, uint32(0), conditionRep.ReturnCode)

	cmdRep := c.rcvRegistry.Dispatch(receiver.Request{Verb: receiver.VerbCmd, Specifier: "arm-all"})
	assert.Equal(t, uint32(0), cmdRep.ReturnCode)
	assert.Equal(t, 1, c.queue.Len())
}

func TestReloadDoesNotReplayOnStartupActions(t *testing.T) {
	tree := testTree()
	tree.OnStartup = []config.RawAction{{Type: "cmd", Key: "activate-daq"}}
	c, err := New(tree, silentLog())
	assert.NoError(t, err)
	defer c.cancel(context.Canceled)
	assert.Equal(t, 1, c.queue.Len())

	assert.NoError(t, c.Reload(testTree()))
	assert.Equal(t, 1, c.queue.Len(), "reload must not re-enqueue on-startup actions")
}

func TestActivateAtStartupRunsControllerBeforeReceiverComesUp(t *testing.T) {
	tree := testTree()
	tree.Daq.ActivateAtStartup = true
	c, err := New(tree, silentLog())
	assert.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Run() }()
	assert.Eventually(t, func() bool { return c.Status() == StatusRunning }, time.Second, time.Millisecond)

	statusRep := c.rcvRegistry.Dispatch(receiver.Request{Verb: receiver.VerbGet, Specifier: "daq-status"})
	assert.Equal(t, uint32(0), statusRep.ReturnCode)

	c.Shutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}
