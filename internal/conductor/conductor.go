// Package conductor implements the Conductor (C7): the top-level
// lifecycle that builds every other component in dependency order,
// registers the cross-wiring RPC handlers, starts the long-lived
// threads, joins them on shutdown, and collapses any failure into a
// single process return code.
//
// Grounded on the teacher's cmd/daemon.go + internal/task.Task
// orchestration: construct dependency-ordered subsystems, start them as
// tracked goroutines, and roll the whole thing back on first failure
// rather than leaving partial state running.
package conductor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sandfly-daq/sandfly/internal/access"
	"github.com/sandfly-daq/sandfly/internal/batch"
	"github.com/sandfly-daq/sandfly/internal/config"
	"github.com/sandfly-daq/sandfly/internal/control"
	"github.com/sandfly-daq/sandfly/internal/engine"
	"github.com/sandfly-daq/sandfly/internal/engine/demo"
	"github.com/sandfly-daq/sandfly/internal/pipeline"
	"github.com/sandfly-daq/sandfly/internal/readygate"
	"github.com/sandfly-daq/sandfly/internal/receiver"
	"github.com/sandfly-daq/sandfly/internal/receiver/transport"
	"github.com/sandfly-daq/sandfly/internal/recorder"
	"github.com/sandfly-daq/sandfly/internal/relayer"
	"github.com/sandfly-daq/sandfly/internal/rotator"
	"github.com/sandfly-daq/sandfly/internal/sferr"
	"github.com/sandfly-daq/sandfly/pkg/reply"
)

// Status is the coarse outer process status (spec §3).
type Status int

const (
	StatusInitialized Status = iota
	StatusStarting
	StatusRunning
	StatusDone
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

const defaultSocketPath = "/tmp/sandfly.sock"

// defaultStreamShape is the single stream layout used by the in-memory
// recorder container the default binary and tests run against; a real
// deployment would derive shapes from the configured device/preset.
var defaultStreamShape = recorder.StreamShape{
	ChannelCount: 1,
	RecordSizeB:  8,
	DataTypeSize: 8,
	DataFormat:   "float64",
	BitDepth:     64,
}

// Conductor owns every other subsystem for one process instance.
type Conductor struct {
	log *logrus.Entry

	mu        sync.Mutex
	status    Status
	startedAt time.Time

	activateAtStartup bool

	facade        *pipeline.Facade
	registry      *pipeline.PresetRegistry
	controller    *control.Controller
	controlAccess *access.Handle[control.Controller]
	rcvRegistry   *receiver.Registry
	rcv         *receiver.Receiver
	relay       *relayer.Relayer
	ready       *readygate.Gate
	queue       *batch.Queue
	fileTable   *rotator.FileTable
	rotators    []*rotator.Rotator
	container   *recorder.MemContainer

	ctx        context.Context
	ctxCancel  context.CancelFunc
	cancelOnce sync.Once
	cancelErr  error

	wg conc.WaitGroup
}

// New builds every C1-C6 subsystem from cfg, wired in dependency order
// (facade, controller, receiver, batch executor, rotators), and
// registers the cross-wiring handlers. Nothing is started yet; call
// Run to start threads and block until shutdown.
func New(cfg config.Tree, log *logrus.Entry) (*Conductor, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "conductor")

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conductor{
		log:               log,
		status:            StatusInitialized,
		activateAtStartup: cfg.Daq.ActivateAtStartup,
		ready:             readygate.New(),
		queue:             batch.NewQueue(),
		container:         recorder.NewMemContainer(),
		ctx:               ctx,
		ctxCancel:         cancel,
	}

	c.relay = relayer.New(cfg.PostToSlack, nil, log)

	c.registry = pipeline.NewDefaultRegistry()
	c.facade = pipeline.New(c.registry, func() engine.Engine { return demo.New() })
	for name, sc := range cfg.Streams {
		if err := c.facade.AddStream(name, toFacadeStreamConfig(sc)); err != nil {
			return nil, fmt.Errorf("conductor: stream %q: %w", name, err)
		}
	}

	c.controller = control.New(control.Config{
		Facade:            c.facade,
		Ready:             c.ready,
		Cancel:            c.cancel,
		Relay:             func(msg string) { c.relay.Post("warn", "%s", msg) },
		ActivateAtStartup: cfg.Daq.ActivateAtStartup,
		DefaultDurationMS: cfg.Daq.DurationMS,
		Log:               log,
	})
	// controlAccess breaks the construction-order cycle spec §4.1
	// describes: late-binding collaborators (the File Rotator's header
	// labeling) can discover the controller without holding a strong
	// reference that would outlive it.
	c.controlAccess = access.New[control.Controller]()
	c.controlAccess.Set(c.controller)

	c.rcvRegistry = receiver.NewRegistry()
	registerControllerHandlers(c.rcvRegistry, c.controller)
	c.rcvRegistry.RegisterGetHandler("daq-status", withUptime(c.controller, c.UptimeMS))
	c.registerCrossWiringHandlers()
	c.rcvRegistry.SetConditions(parseSetConditions(cfg.SetConditions))

	namedSets := batch.NamedSets{}
	for name, raws := range cfg.BatchCommands {
		namedSets[name] = toBatchRawActions(raws)
	}
	if err := batch.RegisterNamedCommandHandlers(c.rcvRegistry, namedSets, c.queue); err != nil {
		return nil, fmt.Errorf("conductor: %w", err)
	}
	batch.RegisterRunBatchHandler(c.rcvRegistry, c.queue)

	onStartup, err := batch.ParseOnStartup(toBatchRawActions(cfg.OnStartup))
	if err != nil {
		return nil, fmt.Errorf("conductor: %w", err)
	}
	c.queue.Add(onStartup...)

	socketPath := dripplineSocketPath(cfg.DripplineMesh)
	tp := transport.New(socketPath, log)
	c.rcv = receiver.New(c.rcvRegistry, c.ready, tp, true, log)

	nFiles := cfg.Daq.NFiles
	if nFiles <= 0 {
		nFiles = 1
	}
	c.fileTable = rotator.NewFileTable(nFiles)
	for i := 0; i < nFiles; i++ {
		info, ferr := c.fileTable.Get(i)
		if ferr != nil {
			return nil, fmt.Errorf("conductor: %w", ferr)
		}
		r := rotator.New(rotator.Config{
			Filename:      info.Filename,
			MaxSizeMB:     cfg.Daq.MaxFileSizeMB,
			Container:     c.container,
			Shapes:        []recorder.StreamShape{defaultStreamShape},
			Cancel:        c.cancel,
			Log:           log,
			ControlAccess: c.controlAccess,
		})
		c.rotators = append(c.rotators, r)
	}

	return c, nil
}

// submit is the local dispatch path the Batch Executor injects actions
// into (spec §4.6: "submit_request_message").
func (c *Conductor) submit(req receiver.Request) reply.Reply {
	return c.rcv.SubmitRequestMessage(req)
}

// cancel is the process-wide CancelFunc threaded into every cancelable
// component. Only the first call takes effect (Shutdown shares the same
// once-guard); later calls are no-ops.
func (c *Conductor) cancel(reason error) {
	c.cancelOnce.Do(func() {
		c.mu.Lock()
		c.cancelErr = reason
		c.status = StatusError
		c.mu.Unlock()
		c.log.WithError(reason).Error("global cancel")
		c.ctxCancel()
	})
}

// Shutdown requests a graceful teardown, equivalent to the "quit"
// cross-wiring command, for callers driving the Conductor directly
// (e.g. the CLI entrypoint's OS signal handler) rather than over RPC.
// Unlike cancel it records no error and leaves the status un-errored.
func (c *Conductor) Shutdown() {
	c.cancelOnce.Do(func() {
		c.log.Info("shutdown requested")
		c.ctxCancel()
	})
}

// Status returns the current coarse conductor status.
func (c *Conductor) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// UptimeMS reports milliseconds since Run started, or 0 before then
// (spec §3 Supplement: daemon status/uptime command).
func (c *Conductor) UptimeMS() uint64 {
	c.mu.Lock()
	started := c.startedAt
	c.mu.Unlock()
	if started.IsZero() {
		return 0
	}
	return uint64(time.Since(started).Milliseconds())
}

// Run starts every long-lived thread (rotators, an optional startup
// activation, the on-startup batch executor, then — once it drains —
// the forever batch executor and the receiver), and blocks until
// shutdown, returning a single collapsed error.
func (c *Conductor) Run() error {
	c.mu.Lock()
	c.status = StatusStarting
	c.startedAt = time.Now()
	c.mu.Unlock()

	for _, r := range c.rotators {
		if err := r.StartFiles(c.ctx); err != nil {
			c.cancel(fmt.Errorf("conductor: rotator start_files: %w", err))
			return c.shutdown()
		}
	}

	if c.activateAtStartup {
		if err := c.controller.Activate(); err != nil {
			c.cancel(fmt.Errorf("conductor: activate at startup: %w", err))
			return c.shutdown()
		}
	} else {
		// No activation pending: the shared ready gate would otherwise
		// never signal and every waiter (receiver, batch executors)
		// would block forever.
		c.ready.Signal()
	}

	c.mu.Lock()
	c.status = StatusRunning
	c.mu.Unlock()

	startupExec := batch.New(batch.Config{
		Queue: c.queue, Submit: c.submit, Ready: c.ready, Cancel: c.cancel,
		RunForever: false, Log: c.log,
	})
	if err := startupExec.Run(c.ctx); err != nil {
		c.cancel(fmt.Errorf("conductor: startup batch: %w", err))
	}

	c.wg.Go(func() { _ = c.relay.Run(c.ctx) })
	c.wg.Go(func() {
		foreverExec := batch.New(batch.Config{
			Queue: c.queue, Submit: c.submit, Ready: c.ready, Cancel: c.cancel,
			RunForever: true, Log: c.log,
		})
		if err := foreverExec.Run(c.ctx); err != nil {
			c.cancel(fmt.Errorf("conductor: batch executor: %w", err))
		}
	})
	c.wg.Go(func() {
		if err := c.rcv.Execute(c.ctx); err != nil {
			c.cancel(fmt.Errorf("conductor: receiver: %w", err))
		}
	})

	<-c.ctx.Done()
	return c.shutdown()
}

// shutdown tears everything down in reverse dependency order and
// collapses every teardown failure into one multierr-combined error,
// matching the teacher's Task.Start rollback discipline.
func (c *Conductor) shutdown() error {
	var errs error

	c.relay.Stop()
	if err := c.rcv.Cancel(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("conductor: receiver cancel: %w", err))
	}
	c.controller.Cancel()
	c.controller.Join()
	c.ready.Signal() // release any straggling readygate.Wait callers

	for i, r := range c.rotators {
		if err := r.FinishFile(context.Background()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("conductor: rotator %d finish_file: %w", i, err))
		}
	}

	c.wg.Wait()

	c.mu.Lock()
	if c.status != StatusError {
		c.status = StatusDone
	}
	cancelErr := c.cancelErr
	c.mu.Unlock()

	if cancelErr != nil {
		errs = multierr.Append(errs, cancelErr)
	}
	return errs
}

// ReturnCode collapses the conductor's final status into the process
// exit code spec §6 documents: 0 on success, nonzero otherwise.
func (c *Conductor) ReturnCode() int {
	if c.Status() == StatusError {
		return 1
	}
	return 0
}

// Reload re-applies the set-conditions and batch-commands subtrees from
// a freshly loaded config tree onto the live receiver registry, without
// restarting the process or rebuilding any other subsystem (spec §3
// Supplement's config hot-reload). on-startup is intentionally excluded:
// it is drained into the startup batch executor exactly once before the
// receiver and forever executor come up, so by the time a reload can
// occur there is no boot sequence left for it to affect. Streams/daq
// changes still require an explicit deactivate+activate cycle.
func (c *Conductor) Reload(cfg config.Tree) error {
	c.rcvRegistry.SetConditions(parseSetConditions(cfg.SetConditions))

	namedSets := batch.NamedSets{}
	for name, raws := range cfg.BatchCommands {
		namedSets[name] = toBatchRawActions(raws)
	}
	if err := batch.RegisterNamedCommandHandlers(c.rcvRegistry, namedSets, c.queue); err != nil {
		return fmt.Errorf("conductor: reload: %w", err)
	}

	c.log.Info("reloaded set-conditions and batch-commands from config")
	return nil
}

// parseSetConditions converts the config tree's string-keyed
// "code" -> "condition name" map (spec §6) into the uint32-keyed map the
// receiver registry's condition table uses; entries whose key doesn't
// parse as an integer are silently skipped, matching the original
// behavior inline in New.
func parseSetConditions(raw map[string]string) map[uint32]string {
	out := make(map[uint32]string, len(raw))
	for codeStr, name := range raw {
		var code uint32
		if _, err := fmt.Sscanf(codeStr, "%d", &code); err == nil {
			out[code] = name
		}
	}
	return out
}

func dripplineSocketPath(mesh map[string]any) string {
	if v, ok := mesh["socket"].(string); ok && v != "" {
		return v
	}
	return defaultSocketPath
}

func toFacadeStreamConfig(sc config.StreamConfig) pipeline.StreamConfig {
	preset, _ := sc.Preset.(string)
	nodeConfig := make(map[string]map[string]any, len(sc.Remain))
	for node, v := range sc.Remain {
		if m, ok := v.(map[string]any); ok {
			nodeConfig[node] = m
		}
	}
	return pipeline.StreamConfig{
		Preset:     preset,
		Device:     sc.Device,
		NodeConfig: nodeConfig,
	}
}

func toBatchRawActions(raws []config.RawAction) []batch.RawAction {
	out := make([]batch.RawAction, 0, len(raws))
	for _, r := range raws {
		out = append(out, batch.RawAction{
			Type:      r.Type,
			Key:       r.Key,
			Specifier: r.Specifier,
			Payload:   r.Payload,
			SleepFor:  r.SleepFor,
		})
	}
	return out
}

// registerControllerHandlers binds the Run Controller's RPC surface
// (spec §4.4's table) onto the receiver registry.
func registerControllerHandlers(reg *receiver.Registry, ctl *control.Controller) {
	reg.RegisterCmdHandler("start-run", ctl.HandleStartRun)
	reg.SetRunHandler(ctl.HandleStartRun)
	reg.RegisterCmdHandler("stop-run", ctl.HandleStopRun)
	reg.RegisterCmdHandler("activate-daq", ctl.HandleActivate)
	reg.RegisterCmdHandler("reactivate-daq", ctl.HandleActivate)
	reg.RegisterCmdHandler("deactivate-daq", ctl.HandleDeactivate)
	reg.RegisterCmdHandler("run-daq-cmd", ctl.HandleRunDaqCmd)
	reg.RegisterGetHandler("active-config", ctl.HandleActiveConfigGet)
	reg.RegisterSetHandler("active-config", ctl.HandleActiveConfigSet)
	reg.RegisterGetHandler("duration", ctl.HandleDurationGet)
	reg.RegisterSetHandler("duration", ctl.HandleDurationSet)
}

// withUptime wraps HandleDaqStatus, adding the Supplement's optional
// uptime-ms field the controller itself has no way to compute (it
// doesn't know process start time).
func withUptime(ctl *control.Controller, uptimeMS func() uint64) receiver.GetHandler {
	return func(specifier string) reply.Reply {
		rep := ctl.HandleDaqStatus(specifier)
		if rep.Payload == nil {
			return rep
		}
		m := rep.Payload.AsMap()
		server, _ := m["server"].(map[string]any)
		if server == nil {
			return rep
		}
		server["uptime-ms"] = float64(uptimeMS())
		rep.Payload = reply.NewPayload(m)
		return rep
	}
}

// registerCrossWiringHandlers implements the handlers spec §4.7
// enumerates but leaves unspecified in detail: stream list, node list,
// node-config get/set, add-stream, remove-stream, quit (spec §3
// Supplement's graceful-shutdown command).
func (c *Conductor) registerCrossWiringHandlers() {
	c.rcvRegistry.RegisterGetHandler("streams", func(_ string) reply.Reply {
		return reply.OK("", reply.NewPayload(map[string]any{"run-string": c.facade.RunString()}))
	})
	c.rcvRegistry.RegisterGetHandler("nodes", func(_ string) reply.Reply {
		nodes := c.facade.Nodes()
		list := make([]any, len(nodes))
		for i, n := range nodes {
			list[i] = n
		}
		return reply.OK("", reply.NewPayload(map[string]any{"nodes": list}))
	})

	c.rcvRegistry.RegisterGetHandler("node-config", func(specifier string) reply.Reply {
		key, err := nodeConfigKey(specifier)
		if err != nil {
			return reply.Err(sferr.CodeInvalidSpecifier, err.Error())
		}
		cfg, err := c.facade.DumpNodeConfig(key)
		if err != nil {
			return errToReply(err)
		}
		return reply.OK("", reply.NewPayload(cfg))
	})
	c.rcvRegistry.RegisterSetHandler("node-config", func(specifier string, payload *structpb.Struct) reply.Reply {
		key, err := nodeConfigKey(specifier)
		if err != nil {
			return reply.Err(sferr.CodeInvalidSpecifier, err.Error())
		}
		var cfg map[string]any
		if payload != nil {
			cfg = payload.AsMap()
		}
		if err := c.facade.ConfigureNode(key, cfg); err != nil {
			return errToReply(err)
		}
		return reply.OK("node config updated", nil)
	})

	c.rcvRegistry.RegisterCmdHandler("add-stream", func(_ string, payload *structpb.Struct) reply.Reply {
		if payload == nil {
			return reply.Err(sferr.CodeInvalidSpecifier, "add-stream requires name/preset")
		}
		m := payload.AsMap()
		name, _ := m["name"].(string)
		preset, _ := m["preset"].(string)
		if name == "" || preset == "" {
			return reply.Err(sferr.CodeInvalidSpecifier, "add-stream requires name and preset")
		}
		device, _ := m["device"].(map[string]any)
		sc := pipeline.StreamConfig{Preset: preset, Device: device}
		if err := c.facade.AddStream(name, sc); err != nil {
			return errToReply(err)
		}
		return reply.OK("stream added", nil)
	})
	c.rcvRegistry.RegisterCmdHandler("remove-stream", func(_ string, payload *structpb.Struct) reply.Reply {
		name, ok := reply.Value(payload, "name")
		if !ok {
			return reply.Err(sferr.CodeInvalidSpecifier, "remove-stream requires name")
		}
		if err := c.facade.RemoveStream(name.GetStringValue()); err != nil {
			return errToReply(err)
		}
		return reply.OK("stream removed", nil)
	})

	c.rcvRegistry.RegisterCmdHandler("quit", func(_ string, _ *structpb.Struct) reply.Reply {
		// Let the reply go out before tearing the process down,
		// mirroring the teacher's shutdownFunc dispatch.
		go c.Shutdown()
		return reply.OK("shutting down", nil)
	})
}

func nodeConfigKey(specifier string) (string, error) {
	rest := strings.TrimPrefix(specifier, "node-config.")
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("malformed specifier %q", specifier)
	}
	return parts[0] + "_" + parts[1], nil
}

func errToReply(err error) reply.Reply {
	switch sferr.Kindf(err) {
	case sferr.KindState:
		return reply.Errf(sferr.CodeStateError, "%v", err)
	case sferr.KindConfiguration:
		return reply.Errf(sferr.CodeConfigurationErr, "%v", err)
	case sferr.KindProtocol:
		return reply.Errf(sferr.CodeInvalidSpecifier, "%v", err)
	default:
		return reply.Errf(sferr.CodeSandflyError, "%v", err)
	}
}
