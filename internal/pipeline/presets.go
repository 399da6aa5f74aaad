package pipeline

import (
	"fmt"
	"sync"
)

// Preset describes a stream topology template: named node builders plus
// the set of textual connections between them, using bare (un-prefixed)
// node names. add_stream renames every node to "<stream>_<node>" and
// rewrites connections accordingly.
type Preset struct {
	NodeBuilders map[string]NodeBuilder
	Connections  []string
}

// PresetRegistry holds built-in and runtime-registered stream presets,
// keyed by preset type name. Grounded on the teacher's registryImpl
// (internal/plugin/registry.go), narrowed to the single concern this
// facade needs: looking a type name up to a buildable template.
type PresetRegistry struct {
	mu      sync.RWMutex
	presets map[string]Preset
}

// NewPresetRegistry returns an empty registry.
func NewPresetRegistry() *PresetRegistry {
	return &PresetRegistry{presets: make(map[string]Preset)}
}

// Register adds or overwrites a preset by type name.
func (r *PresetRegistry) Register(typeName string, p Preset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets[typeName] = p
}

// Lookup returns the preset registered under typeName.
func (r *PresetRegistry) Lookup(typeName string) (Preset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[typeName]
	if !ok {
		return Preset{}, fmt.Errorf("pipeline: unknown stream preset %q", typeName)
	}
	return p, nil
}

// passthroughBuilder builds the single built-in node kind: it stores
// whatever config it is given and accepts "reset" as a no-op, useful as
// a default preset for tests and the demo binary.
func passthroughBuilder(cfg map[string]any) (Node, error) {
	return NewMapNode(cfg, map[string]func(args map[string]any) error{
		"reset": func(args map[string]any) error { return nil },
	}), nil
}

// NewDefaultRegistry returns a registry seeded with the "passthrough"
// preset: a single node named "node" with no connections, sufficient to
// drive the happy-path scenarios of spec §8.
func NewDefaultRegistry() *PresetRegistry {
	r := NewPresetRegistry()
	r.Register("passthrough", Preset{
		NodeBuilders: map[string]NodeBuilder{
			"node": passthroughBuilder,
		},
	})
	return r
}
