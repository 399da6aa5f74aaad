package receiver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sandfly-daq/sandfly/internal/sferr"
	"github.com/sandfly-daq/sandfly/pkg/reply"
)

// Registry holds the per-verb handler maps plus the set-condition table
// and dispatches incoming Requests to them (spec §4.5).
type Registry struct {
	mu            sync.RWMutex
	getHandlers   map[string]GetHandler
	setHandlers   map[string]SetHandler
	cmdHandlers   map[string]CmdHandler
	runHandler    RunHandler
	setConditions map[uint32]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		getHandlers:   make(map[string]GetHandler),
		setHandlers:   make(map[string]SetHandler),
		cmdHandlers:   make(map[string]CmdHandler),
		setConditions: make(map[uint32]string),
	}
}

func (r *Registry) RegisterGetHandler(name string, fn GetHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getHandlers[name] = fn
}

func (r *Registry) RegisterSetHandler(name string, fn SetHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setHandlers[name] = fn
}

func (r *Registry) RegisterCmdHandler(name string, fn CmdHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmdHandlers[name] = fn
}

func (r *Registry) SetRunHandler(fn RunHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runHandler = fn
}

// SetConditions installs the numeric-code -> batch-command-name table
// used by set-condition dispatch (spec §6: "set-conditions").
func (r *Registry) SetConditions(table map[uint32]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setConditions = table
}

// firstSegment returns the portion of specifier before its first dot —
// the name handlers are registered and matched under.
func firstSegment(specifier string) string {
	if i := strings.IndexByte(specifier, '.'); i >= 0 {
		return specifier[:i]
	}
	return specifier
}

// Dispatch routes req to its registered handler. Unknown names return
// invalid_method; malformed set-condition codes return invalid_specifier.
func (r *Registry) Dispatch(req Request) reply.Reply {
	switch req.Verb {
	case VerbGet:
		r.mu.RLock()
		fn, ok := r.getHandlers[firstSegment(req.Specifier)]
		r.mu.RUnlock()
		if !ok {
			return reply.Err(sferr.CodeInvalidMethod, fmt.Sprintf("unknown get handler %q", req.Specifier))
		}
		return fn(req.Specifier)

	case VerbSet:
		r.mu.RLock()
		fn, ok := r.setHandlers[firstSegment(req.Specifier)]
		r.mu.RUnlock()
		if !ok {
			return reply.Err(sferr.CodeInvalidMethod, fmt.Sprintf("unknown set handler %q", req.Specifier))
		}
		return fn(req.Specifier, req.Payload)

	case VerbCmd:
		r.mu.RLock()
		fn, ok := r.cmdHandlers[firstSegment(req.Specifier)]
		r.mu.RUnlock()
		if !ok {
			return reply.Err(sferr.CodeInvalidMethod, fmt.Sprintf("unknown cmd handler %q", req.Specifier))
		}
		return fn(req.Specifier, req.Payload)

	case VerbRun:
		r.mu.RLock()
		fn := r.runHandler
		r.mu.RUnlock()
		if fn == nil {
			return reply.Err(sferr.CodeInvalidMethod, "no run handler registered")
		}
		return fn(req.Specifier, req.Payload)

	case VerbSetCondition:
		return r.dispatchSetCondition(req)

	default:
		return reply.Err(sferr.CodeInvalidSpecifier, fmt.Sprintf("unknown verb %q", req.Verb))
	}
}

// dispatchSetCondition looks the numeric condition code up in the
// set-conditions table and, if present, synthesizes a new internal cmd
// request against the mapped routing specifier (spec §4.5).
func (r *Registry) dispatchSetCondition(req Request) reply.Reply {
	v, ok := reply.Value(req.Payload, "code")
	if !ok {
		return reply.Err(sferr.CodeInvalidSpecifier, "set-condition requires a numeric code")
	}
	code := uint32(v.GetNumberValue())

	r.mu.RLock()
	name, ok := r.setConditions[code]
	r.mu.RUnlock()
	if !ok {
		return reply.Err(sferr.CodeInvalidSpecifier, fmt.Sprintf("no set-condition mapped for code %d", code))
	}
	return r.Dispatch(Request{Verb: VerbCmd, Specifier: name, Payload: req.Payload})
}
