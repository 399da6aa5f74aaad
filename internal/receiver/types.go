// Package receiver implements the Request Receiver (C5): a handler
// registry for the get/set/cmd/run verbs plus set-condition dispatch,
// and a lifecycle that blocks until the Run Controller is ready before
// starting the underlying transport.
//
// Grounded on the teacher's internal/command/handler.go (switch-based
// dispatch, JSON-RPC-shaped Response/ErrorInfo) and
// internal/command/uds_server.go (the default transport), generalized
// from a single flat command map to the verb-scoped registries spec §4.5
// documents.
package receiver

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sandfly-daq/sandfly/pkg/reply"
)

// Verb is one of the RPC operations a Request carries.
type Verb string

const (
	VerbGet          Verb = "get"
	VerbSet          Verb = "set"
	VerbCmd          Verb = "cmd"
	VerbRun          Verb = "run"
	VerbSetCondition Verb = "set-condition"
)

// Request is the wire-independent shape of one incoming RPC.
// CorrelationID ties a request to its reply across log lines on the
// local dispatch path; transports and the batch executor stamp one in
// if the caller left it blank.
type Request struct {
	Verb          Verb
	Specifier     string
	Payload       *structpb.Struct
	CorrelationID string
}

// GetHandler, SetHandler, CmdHandler and RunHandler are the per-verb
// handler shapes components register against a name.
type (
	GetHandler func(specifier string) reply.Reply
	SetHandler func(specifier string, payload *structpb.Struct) reply.Reply
	CmdHandler func(specifier string, payload *structpb.Struct) reply.Reply
	RunHandler func(specifier string, payload *structpb.Struct) reply.Reply
)

// Dispatcher routes one Request to its registered handler; transports
// call this once per inbound message.
type Dispatcher func(Request) reply.Reply

// Transport hosts the wire-level RPC server. Listen blocks until ctx is
// done or a fatal transport error occurs; it must call dispatch exactly
// once per inbound request and write back the resulting Reply.
type Transport interface {
	Listen(ctx context.Context, dispatch Dispatcher) error
	Stop() error
}
