package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sandfly-daq/sandfly/internal/receiver"
	"github.com/sandfly-daq/sandfly/pkg/reply"
)

func echoDispatch(req receiver.Request) reply.Reply {
	return reply.OK("echo:"+req.Specifier, nil)
}

func TestListenAcceptsAndDispatchesRequests(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "test.sock")
	tp := New(socketPath, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- tp.Listen(ctx, echoDispatch) }()
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("unix", socketPath)
	assert.NoError(t, err)
	defer conn.Close()

	enc := json.NewEncoder(conn)
	assert.NoError(t, enc.Encode(wireRequest{ID: 1, Verb: "get", Specifier: "duration"}))

	scanner := bufio.NewScanner(conn)
	assert.True(t, scanner.Scan())

	var rep wireReply
	assert.NoError(t, json.Unmarshal(scanner.Bytes(), &rep))
	assert.Equal(t, uint32(0), rep.ReturnCode)
	assert.Equal(t, "echo:duration", rep.ReturnMessage)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Listen did not return after context cancel")
	}
}

func TestListenRejectsMalformedJSON(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "test.sock")
	tp := New(socketPath, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- tp.Listen(ctx, echoDispatch) }()
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("unix", socketPath)
	assert.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not json\n"))
	assert.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	assert.True(t, scanner.Scan())
	var rep wireReply
	assert.NoError(t, json.Unmarshal(scanner.Bytes(), &rep))
	assert.Equal(t, uint32(100), rep.ReturnCode)

	cancel()
	<-errCh
}

func TestStopIsIdempotentAndRemovesSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "test.sock")
	tp := New(socketPath, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- tp.Listen(ctx, echoDispatch) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-errCh

	assert.NoError(t, tp.Stop())
	_, err := os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err))
}
