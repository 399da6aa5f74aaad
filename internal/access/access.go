// Package access implements a process-wide weak handle to the current Run
// Controller, so late-binding components — the File Rotator labeling a
// record file's header with the active run's description in particular —
// can discover it without holding a strong reference that would extend its
// lifetime or force a construction-order cycle.
//
// This is grounded on the teacher's late-binding wiring in
// internal/command/handler.go (CommandHandler.SetShutdownFunc /
// SetAgentInfo are filled in after construction), generalized into a typed
// breakable reference using the standard library's weak package (Go 1.24+)
// rather than a raw pointer plus "is it nil" convention.
package access

import (
	"sync"
	"weak"
)

// Handle is a breakable, atomic reference to a *T. Set installs the current
// strong owner; TryGet yields either a temporary strong reference or
// "expired" without ever keeping T alive on its own.
type Handle[T any] struct {
	mu  sync.RWMutex
	ptr weak.Pointer[T]
	set bool
}

// New returns an empty handle; Expired() is true until Set is called.
func New[T any]() *Handle[T] {
	return &Handle[T]{}
}

// Set installs v as the current target. Passing nil clears the handle.
func (h *Handle[T]) Set(v *T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v == nil {
		h.ptr = weak.Pointer[T]{}
		h.set = false
		return
	}
	h.ptr = weak.Make(v)
	h.set = true
}

// TryGet returns the strong reference if it is still alive.
func (h *Handle[T]) TryGet() (*T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.set {
		return nil, false
	}
	v := h.ptr.Value()
	return v, v != nil
}

// Expired reports whether the handle has never been set, or its target has
// since been garbage collected.
func (h *Handle[T]) Expired() bool {
	_, ok := h.TryGet()
	return !ok
}
