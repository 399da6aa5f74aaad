// Package sferr defines the error taxonomy shared across the control-plane
// components: configuration, state, resource, engine (fatal/non-fatal),
// timeout and protocol errors. Components wrap one of the sentinels below
// with fmt.Errorf's %w so callers classify failures with errors.Is instead
// of matching strings.
package sferr

import "errors"

// Kind is one of the seven error categories a handler or worker loop can
// produce. It drives how the caller folds a failure into a reply and/or the
// status machine.
type Kind int

const (
	KindConfiguration Kind = iota
	KindState
	KindResource
	KindEngineNonFatal
	KindEngineFatal
	KindTimeout
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindState:
		return "state"
	case KindResource:
		return "resource"
	case KindEngineNonFatal:
		return "engine_nonfatal"
	case KindEngineFatal:
		return "engine_fatal"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per Kind. Wrap with fmt.Errorf("...: %w", sferr.ErrState).
var (
	ErrConfiguration  = errors.New("configuration error")
	ErrState          = errors.New("state error")
	ErrResource       = errors.New("resource error")
	ErrEngineNonFatal = errors.New("engine non-fatal error")
	ErrEngineFatal    = errors.New("engine fatal error")
	ErrTimeout        = errors.New("timeout")
	ErrProtocol       = errors.New("protocol error")

	// ErrRotatorStuck is a named resource error: finish_file could not
	// drain all streams within the documented escalation window.
	ErrRotatorStuck = errors.New("rotator_stuck")
	// ErrEmptyPipeline is a named error: reset_pipeline was asked to
	// build a graph with no streams registered. It wraps no sentinel, so
	// Kindf classifies it as KindResource.
	ErrEmptyPipeline = errors.New("empty_pipeline")
)

// Reply return codes, per spec section 6/7. Codes >= 100 are errors; codes
// >= 200 are fatal-equivalent. The three named codes are dedicated in the
// spec; invalid_method/invalid_specifier are this implementation's choice
// of numbering within the documented "service-error" range.
const (
	CodeOK                = 0
	CodeInvalidMethod     = 100
	CodeInvalidSpecifier  = 101
	CodeStateError        = 102
	CodeConfigurationErr  = 103
	CodeSandflyError      = 1100
	CodeSandflyNotEnabled = 1101
	CodeSandflyRunning    = 1102
	CodeRotatorStuck      = 1103
	CodeEmptyPipeline     = 1104
)

// IsError reports whether a return code denotes a failed reply.
func IsError(code uint32) bool { return code >= 100 }

// IsFatal reports whether a return code denotes a fatal-equivalent reply
// (code >= 200). The batch executor cancels on any IsError code, not
// only on these.
func IsFatal(code uint32) bool { return code >= 200 }

// Kindf classifies a wrapped error into its Kind, falling back to
// KindResource (the most conservative default: cancel rather than ignore)
// when none of the sentinels match.
func Kindf(err error) Kind {
	switch {
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrState):
		return KindState
	case errors.Is(err, ErrEngineFatal):
		return KindEngineFatal
	case errors.Is(err, ErrEngineNonFatal):
		return KindEngineNonFatal
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrResource):
		return KindResource
	default:
		return KindResource
	}
}
