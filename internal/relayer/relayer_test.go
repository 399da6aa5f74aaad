package relayer

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestDisabledRelayerPostAndRunAreNoOps(t *testing.T) {
	r := New(false, nil, logrus.NewEntry(logrus.New()))
	r.Post("info", "should be dropped")

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run on a disabled relayer should return immediately")
	}
}

func TestEnabledRelayerDeliversPostedNoticesToSink(t *testing.T) {
	delivered := make(chan Notice, 1)
	sink := func(n Notice) error {
		delivered <- n
		return nil
	}
	r := New(true, sink, logrus.NewEntry(logrus.New()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Post("warn", "run %d finished", 7)

	select {
	case n := <-delivered:
		assert.Equal(t, "warn", n.Level)
		assert.Equal(t, "run 7 finished", n.Message)
	case <-time.After(time.Second):
		t.Fatal("sink never received the posted notice")
	}
}

func TestPostDropsRatherThanBlocksWhenQueueIsFull(t *testing.T) {
	block := make(chan struct{})
	sink := func(Notice) error {
		<-block
		return nil
	}
	r := New(true, sink, logrus.NewEntry(logrus.New()))
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	for i := 0; i < queueDepth+10; i++ {
		r.Post("info", "notice %d", i)
	}
}

func TestStopIsIdempotentAndUnblocksRun(t *testing.T) {
	r := New(true, func(Notice) error { return nil }, logrus.NewEntry(logrus.New()))

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	r.Stop()
	r.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
