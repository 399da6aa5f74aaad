// Package reply defines the wire-independent shapes handlers exchange:
// the Reply returned by every handler invocation and the generic payload
// tree carried on both requests and replies. The payload tree is built on
// structpb so arbitrary JSON-like trees can cross the local dispatch path
// (and, eventually, an RPC transport) without a bespoke codec.
package reply

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Reply is the schema every handler produces: a return code, a short
// human message, and an optional payload tree.
type Reply struct {
	ReturnCode    uint32
	ReturnMessage string
	Payload       *structpb.Struct
}

// OK builds a zero-code success reply with payload p (which may be nil).
func OK(message string, p *structpb.Struct) Reply {
	return Reply{ReturnCode: 0, ReturnMessage: message, Payload: p}
}

// Err builds an error reply at the given code.
func Err(code uint32, message string) Reply {
	return Reply{ReturnCode: code, ReturnMessage: message}
}

// Errf builds an error reply with a formatted message.
func Errf(code uint32, format string, args ...any) Reply {
	return Reply{ReturnCode: code, ReturnMessage: fmt.Sprintf(format, args...)}
}

// NewPayload converts a plain map (string keys, JSON-compatible values)
// into the structpb tree Reply.Payload expects. It panics only on values
// structpb itself cannot represent (NaN/Inf floats, non-UTF8 strings,
// unsupported types) — callers are expected to build payloads from
// already-decoded, JSON-safe data.
func NewPayload(m map[string]any) *structpb.Struct {
	s, err := structpb.NewStruct(m)
	if err != nil {
		panic(fmt.Sprintf("reply: payload not representable: %v", err))
	}
	return s
}

// Value looks up a dotted-free top-level key in a payload tree, returning
// ok=false if the payload is nil or the key is absent.
func Value(p *structpb.Struct, key string) (*structpb.Value, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.Fields[key]
	return v, ok
}

// Nested looks up a field inside a nested struct-valued field, e.g.
// Nested(p, "server", "status-value").
func Nested(p *structpb.Struct, outer, inner string) (*structpb.Value, bool) {
	v, ok := Value(p, outer)
	if !ok || v.GetStructValue() == nil {
		return nil, false
	}
	iv, ok := v.GetStructValue().Fields[inner]
	return iv, ok
}
