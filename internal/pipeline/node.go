// Package pipeline implements the Pipeline Facade (C3): a locked handle
// to a built processing graph and its node bindings, handed out to the
// Run Controller as an exclusive borrow (Package) and rebuilt whenever
// the stream topology changes.
//
// Grounded on the teacher's plugin registry (internal/plugin/registry.go)
// for the preset/builder-map shape, generalized from "plugin type ->
// constructor" to "stream preset -> named node builders + connections".
package pipeline

import "fmt"

// Node is a live processing node inside a built pipeline graph. The
// pipeline engine owns the actual execution; Node is only the narrow
// surface the facade's binding layer needs to configure and command it.
type Node interface {
	ApplyConfig(cfg map[string]any) error
	DumpConfig() map[string]any
	// RunCommand attempts cmd; ok is false for an unrecognized command
	// rather than returning an error, per spec §4.3.
	RunCommand(cmd string, args map[string]any) (ok bool, err error)
}

// NodeBuilder constructs a live Node from its merged configuration
// (shared device config plus per-node overrides).
type NodeBuilder func(cfg map[string]any) (Node, error)

// NodeBinding pairs a builder with the live node it most recently
// produced. Bindings exist only while the pipeline is built; they are
// cleared on teardown (spec §3).
type NodeBinding struct {
	Builder  NodeBuilder
	LiveNode Node
}

// MapNode is a minimal Node backed by a plain config map, with commands
// resolved from a fixed table of named handlers. It is the default node
// implementation used by the built-in presets and by tests.
type MapNode struct {
	cfg      map[string]any
	commands map[string]func(args map[string]any) error
}

// NewMapNode returns a MapNode seeded with cfg and the given named
// commands.
func NewMapNode(cfg map[string]any, commands map[string]func(args map[string]any) error) *MapNode {
	c := make(map[string]any, len(cfg))
	for k, v := range cfg {
		c[k] = v
	}
	return &MapNode{cfg: c, commands: commands}
}

func (n *MapNode) ApplyConfig(cfg map[string]any) error {
	if n.cfg == nil {
		n.cfg = make(map[string]any)
	}
	for k, v := range cfg {
		n.cfg[k] = v
	}
	return nil
}

func (n *MapNode) DumpConfig() map[string]any {
	out := make(map[string]any, len(n.cfg))
	for k, v := range n.cfg {
		out[k] = v
	}
	return out
}

func (n *MapNode) RunCommand(cmd string, args map[string]any) (bool, error) {
	fn, ok := n.commands[cmd]
	if !ok {
		return false, nil
	}
	if err := fn(args); err != nil {
		return true, fmt.Errorf("pipeline: command %q failed: %w", cmd, err)
	}
	return true, nil
}
