package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sandfly-daq/sandfly/internal/engine"
	"github.com/sandfly-daq/sandfly/internal/sferr"
)

// StreamTemplate is one named stream's expanded topology: node builders
// keyed by their fully-qualified "<stream>_<node>" name, plus the set of
// textual connections (also fully-qualified) between them.
type StreamTemplate struct {
	NodeConfig  map[string]map[string]any // "<stream>_<node>" -> builder config
	nodeBuilder map[string]NodeBuilder
	Connections []string
}

// StreamConfig is the input to AddStream, mirroring spec §6's streams
// tree for one entry.
type StreamConfig struct {
	Preset     string
	Device     map[string]any
	NodeConfig map[string]map[string]any // bare node name -> per-node config
}

// Facade is the Pipeline Facade (C3).
type Facade struct {
	mu        sync.Mutex
	registry  *PresetRegistry
	templates map[string]StreamTemplate
	mustReset bool
	bindings  map[string]*NodeBinding
	held      *Package
	newEngine func() engine.Engine
}

// New builds an empty Facade backed by the given preset registry.
// newEngine constructs a fresh engine.Engine for every Acquire — a real
// deployment passes the constructor for its production engine; tests
// and the default binary pass the demo engine's constructor.
func New(registry *PresetRegistry, newEngine func() engine.Engine) *Facade {
	return &Facade{
		registry:  registry,
		templates: make(map[string]StreamTemplate),
		bindings:  make(map[string]*NodeBinding),
		newEngine: newEngine,
	}
}

func qualify(stream, node string) string { return stream + "_" + node }

// AddStream expands the named preset into a stream template, renaming
// each node "<stream>_<node>" and applying per-node config plus shared
// device config. Fails if name is already in use.
func (f *Facade) AddStream(name string, cfg StreamConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.templates[name]; exists {
		return fmt.Errorf("pipeline: stream %q already exists: %w", name, sferr.ErrConfiguration)
	}
	preset, err := f.registry.Lookup(cfg.Preset)
	if err != nil {
		return fmt.Errorf("pipeline: add_stream %q: %w: %v", name, sferr.ErrConfiguration, err)
	}

	tmpl := StreamTemplate{
		NodeConfig:  make(map[string]map[string]any),
		nodeBuilder: make(map[string]NodeBuilder),
	}
	for nodeName, builder := range preset.NodeBuilders {
		qualified := qualify(name, nodeName)
		merged := map[string]any{}
		for k, v := range cfg.Device {
			merged[k] = v
		}
		for k, v := range cfg.NodeConfig[nodeName] {
			merged[k] = v
		}
		tmpl.nodeBuilder[qualified] = builder
		tmpl.NodeConfig[qualified] = merged
	}
	for _, conn := range preset.Connections {
		tmpl.Connections = append(tmpl.Connections, qualifyConnection(name, conn))
	}

	f.templates[name] = tmpl
	f.mustReset = true
	return nil
}

// qualifyConnection rewrites a bare "a->b" connection string to use
// fully-qualified node names.
func qualifyConnection(stream, conn string) string {
	parts := strings.SplitN(conn, "->", 2)
	if len(parts) != 2 {
		return conn
	}
	return qualify(stream, strings.TrimSpace(parts[0])) + "->" + qualify(stream, strings.TrimSpace(parts[1]))
}

// RemoveStream deletes a stream's template, failing if unknown.
func (f *Facade) RemoveStream(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.templates[name]; !exists {
		return fmt.Errorf("pipeline: stream %q not found: %w", name, sferr.ErrConfiguration)
	}
	delete(f.templates, name)
	f.mustReset = true
	return nil
}

// ConfigureNode merges cfg into a node's stored builder config. key is
// the fully-qualified "<stream>_<node>" name.
func (f *Facade) ConfigureNode(key string, cfg map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, err := f.findNodeConfig(key)
	if err != nil {
		return err
	}
	for k, v := range cfg {
		node[k] = v
	}
	return nil
}

// DumpNodeConfig returns a copy of a node's stored builder config.
func (f *Facade) DumpNodeConfig(key string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, err := f.findNodeConfig(key)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(node))
	for k, v := range node {
		out[k] = v
	}
	return out, nil
}

func (f *Facade) findNodeConfig(key string) (map[string]any, error) {
	for _, tmpl := range f.templates {
		if cfg, ok := tmpl.NodeConfig[key]; ok {
			return cfg, nil
		}
	}
	return nil, fmt.Errorf("pipeline: unknown node %q: %w", key, sferr.ErrProtocol)
}

// ApplyLiveConfig pushes cfg to a live node's binding, valid only while
// the pipeline is built.
func (f *Facade) ApplyLiveConfig(key string, cfg map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bindings[key]
	if !ok {
		return fmt.Errorf("pipeline: no live node %q: %w", key, sferr.ErrState)
	}
	return b.LiveNode.ApplyConfig(cfg)
}

// DumpLiveConfig reads a live node's current config.
func (f *Facade) DumpLiveConfig(key string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bindings[key]
	if !ok {
		return nil, fmt.Errorf("pipeline: no live node %q: %w", key, sferr.ErrState)
	}
	return b.LiveNode.DumpConfig(), nil
}

// RunLiveCommand attempts a named command on a live node. ok is false
// for an unrecognized command, per spec §4.3.
func (f *Facade) RunLiveCommand(key, cmd string, args map[string]any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bindings[key]
	if !ok {
		return false, fmt.Errorf("pipeline: no live node %q: %w", key, sferr.ErrState)
	}
	return b.LiveNode.RunCommand(cmd, args)
}

// resetPipeline rebuilds the bindings map from the current templates.
// Caller must hold f.mu.
func (f *Facade) resetPipeline() error {
	if len(f.templates) == 0 {
		return fmt.Errorf("pipeline: %w", sferr.ErrEmptyPipeline)
	}
	bindings := make(map[string]*NodeBinding)
	known := make(map[string]bool)
	for _, tmpl := range f.templates {
		for key, builder := range tmpl.nodeBuilder {
			node, err := builder(tmpl.NodeConfig[key])
			if err != nil {
				return fmt.Errorf("pipeline: build node %q: %w", key, sferr.ErrResource)
			}
			bindings[key] = &NodeBinding{Builder: builder, LiveNode: node}
			known[key] = true
		}
	}
	for _, tmpl := range f.templates {
		for _, conn := range tmpl.Connections {
			parts := strings.SplitN(conn, "->", 2)
			if len(parts) != 2 || !known[parts[0]] || !known[parts[1]] {
				return fmt.Errorf("pipeline: connection %q references unknown node: %w", conn, sferr.ErrConfiguration)
			}
		}
	}
	f.bindings = bindings
	f.mustReset = false
	return nil
}

// RunString produces a terminator-separated list of "<stream>_<node>"
// for the underlying engine's runner, sorted for determinism.
func (f *Facade) RunString() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runStringLocked()
}

func (f *Facade) runStringLocked() string {
	keys := make([]string, 0, len(f.bindings))
	for k := range f.bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ";")
}

// Nodes lists every fully-qualified "<stream>_<node>" name currently
// bound, sorted for determinism.
func (f *Facade) Nodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.bindings))
	for k := range f.bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Acquire resets the pipeline if needed, then hands out an exclusive
// Package wrapping a fresh engine bound to the current run string. Fails
// if a Package is already checked out.
func (f *Facade) Acquire() (*Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held != nil {
		return nil, fmt.Errorf("pipeline: package already checked out: %w", sferr.ErrState)
	}
	if f.mustReset {
		if err := f.resetPipeline(); err != nil {
			return nil, err
		}
	}
	pkg := &Package{
		facade:    f,
		engine:    f.newEngine(),
		runString: f.runStringLocked(),
	}
	f.held = pkg
	return pkg, nil
}

// Release returns pkg to the facade and arms a reset for the next
// Acquire, per spec §4.3 ("release(Package) sets must_reset for the
// next acquisition").
func (f *Facade) Release(pkg *Package) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held != pkg {
		return
	}
	f.held = nil
	f.mustReset = true
}
