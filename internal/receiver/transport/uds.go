// Package transport provides the default Request Receiver transport: a
// JSON-RPC server over a Unix domain socket, standing in for the
// out-of-scope AMQP/dripline mesh (spec §1 treats the wire transport as
// an external collaborator; this is a concrete, low-ceremony adapter
// rather than a hand-rolled framing protocol).
//
// Grounded directly on the teacher's internal/command/uds_server.go:
// the same net.Listen("unix", ...)+bufio.Scanner+json.Encoder shape,
// connection tracking, and graceful Stop, adapted to carry
// receiver.Request/reply.Reply instead of the teacher's flat Command.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sandfly-daq/sandfly/internal/receiver"
)

// wireRequest is the line-delimited JSON shape read from each
// connection.
type wireRequest struct {
	ID        any            `json:"id"`
	Verb      string         `json:"verb"`
	Specifier string         `json:"specifier"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type wireReply struct {
	ID            any            `json:"id"`
	ReturnCode    uint32         `json:"return_code"`
	ReturnMessage string         `json:"return_message"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// UDS is the default receiver.Transport implementation.
type UDS struct {
	SocketPath string
	log        *logrus.Entry

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	stopped  bool
}

// New returns a UDS transport bound to socketPath; nothing is created
// on disk until Listen is called.
func New(socketPath string, log *logrus.Entry) *UDS {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &UDS{
		SocketPath: socketPath,
		log:        log.WithField("component", "uds_transport"),
		conns:      make(map[net.Conn]struct{}),
	}
}

var _ receiver.Transport = (*UDS)(nil)

// Listen blocks until ctx is done; accept errors are logged and the
// accept loop keeps going.
func (u *UDS) Listen(ctx context.Context, dispatch receiver.Dispatcher) error {
	if err := os.RemoveAll(u.SocketPath); err != nil {
		return fmt.Errorf("transport: remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", u.SocketPath)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", u.SocketPath, err)
	}
	if err := os.Chmod(u.SocketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("transport: chmod %s: %w", u.SocketPath, err)
	}
	u.mu.Lock()
	u.listener = listener
	u.mu.Unlock()

	u.log.WithField("socket", u.SocketPath).Info("uds transport listening")
	go u.acceptLoop(ctx, dispatch)

	<-ctx.Done()
	return u.Stop()
}

func (u *UDS) acceptLoop(ctx context.Context, dispatch receiver.Dispatcher) {
	for {
		conn, err := u.listener.Accept()
		if err != nil {
			u.mu.Lock()
			stopped := u.stopped
			u.mu.Unlock()
			if stopped {
				return
			}
			u.log.WithError(err).Error("accept failed")
			continue
		}

		u.mu.Lock()
		if u.stopped {
			u.mu.Unlock()
			conn.Close()
			return
		}
		u.conns[conn] = struct{}{}
		u.wg.Add(1)
		u.mu.Unlock()

		go u.handleConnection(conn, dispatch)
	}
}

func (u *UDS) handleConnection(conn net.Conn, dispatch receiver.Dispatcher) {
	defer u.wg.Done()
	defer func() {
		u.mu.Lock()
		delete(u.conns, conn)
		u.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		var wreq wireRequest
		if err := json.Unmarshal(scanner.Bytes(), &wreq); err != nil {
			_ = encoder.Encode(wireReply{ReturnCode: 100, ReturnMessage: fmt.Sprintf("parse error: %v", err)})
			continue
		}

		var payload *structpb.Struct
		if wreq.Payload != nil {
			var err error
			payload, err = structpb.NewStruct(wreq.Payload)
			if err != nil {
				_ = encoder.Encode(wireReply{ID: wreq.ID, ReturnCode: 100, ReturnMessage: fmt.Sprintf("bad payload: %v", err)})
				continue
			}
		}

		corrID := uuid.New().String()
		u.log.WithField("correlation_id", corrID).WithField("specifier", wreq.Specifier).Debug("dispatching request")

		rep := dispatch(receiver.Request{
			Verb:          receiver.Verb(wreq.Verb),
			Specifier:     wreq.Specifier,
			Payload:       payload,
			CorrelationID: corrID,
		})

		var payloadMap map[string]any
		if rep.Payload != nil {
			payloadMap = rep.Payload.AsMap()
		}
		if err := encoder.Encode(wireReply{
			ID:            wreq.ID,
			ReturnCode:    rep.ReturnCode,
			ReturnMessage: rep.ReturnMessage,
			Payload:       payloadMap,
		}); err != nil {
			u.log.WithError(err).Warn("failed to write reply")
			return
		}
	}
}

// Stop closes the listener and all tracked connections, then waits for
// in-flight handlers to finish.
func (u *UDS) Stop() error {
	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		return nil
	}
	u.stopped = true
	listener := u.listener
	u.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	u.mu.Lock()
	for conn := range u.conns {
		conn.Close()
	}
	u.mu.Unlock()
	u.wg.Wait()
	os.RemoveAll(u.SocketPath)
	u.log.Info("uds transport stopped")
	return nil
}
