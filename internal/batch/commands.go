package batch

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sandfly-daq/sandfly/internal/receiver"
	"github.com/sandfly-daq/sandfly/internal/sferr"
	"github.com/sandfly-daq/sandfly/pkg/reply"
)

// NamedSets holds the configured "batch-commands" map: name -> ordered
// list of raw actions (spec §6).
type NamedSets map[string][]RawAction

// ParseNamedSet parses every raw action in a named set, failing on the
// first invalid one.
func ParseNamedSet(raws []RawAction) ([]Action, error) {
	actions := make([]Action, 0, len(raws))
	for i, raw := range raws {
		a, err := ParseAction(raw)
		if err != nil {
			return nil, fmt.Errorf("batch: named set entry %d: %w", i, err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// RegisterNamedCommandHandlers registers one cmd handler per named
// batch command, so each can be triggered over RPC (spec §4.6: "The
// executor also registers one handler per named batch command"). The
// handler enqueues the named set onto queue rather than executing it
// synchronously, letting the owning Executor's loop drive it.
func RegisterNamedCommandHandlers(registry *receiver.Registry, sets NamedSets, queue *Queue) error {
	parsed := make(map[string][]Action, len(sets))
	for name, raws := range sets {
		actions, err := ParseNamedSet(raws)
		if err != nil {
			return fmt.Errorf("batch: batch-commands[%s]: %w", name, err)
		}
		parsed[name] = actions
	}
	for name, actions := range parsed {
		actions := actions
		registry.RegisterCmdHandler(name, func(_ string, _ *structpb.Struct) reply.Reply {
			queue.Add(actions...)
			return reply.OK(fmt.Sprintf("queued batch command %q", name), nil)
		})
	}
	return nil
}

// RegisterRunBatchHandler registers "run-batch": a cmd handler that lets
// a caller enqueue an ad-hoc list of actions at runtime without it being
// a pre-configured named set (spec §4.6 supplement). The wire payload's
// "actions" array never touches a config file, so it is decoded straight
// into typed RawActions with mapstructure.Decode rather than through
// viper, the same direct mapstructure use the teacher reaches for when
// decoding dynamic command arguments.
func RegisterRunBatchHandler(registry *receiver.Registry, queue *Queue) {
	registry.RegisterCmdHandler("run-batch", func(_ string, payload *structpb.Struct) reply.Reply {
		if payload == nil {
			return reply.Err(sferr.CodeInvalidSpecifier, "run-batch requires an actions array")
		}
		raw, ok := payload.AsMap()["actions"]
		if !ok {
			return reply.Err(sferr.CodeInvalidSpecifier, "run-batch requires an actions array")
		}
		var raws []RawAction
		if err := mapstructure.Decode(raw, &raws); err != nil {
			return reply.Errf(sferr.CodeConfigurationErr, "run-batch: %v", err)
		}
		actions, err := ParseNamedSet(raws)
		if err != nil {
			return reply.Errf(sferr.CodeConfigurationErr, "run-batch: %v", err)
		}
		queue.Add(actions...)
		return reply.OK(fmt.Sprintf("queued %d ad-hoc actions", len(actions)), nil)
	})
}

// ParseOnStartup parses the "on-startup" config array (spec §6).
func ParseOnStartup(raws []RawAction) ([]Action, error) {
	actions, err := ParseNamedSet(raws)
	if err != nil {
		return nil, fmt.Errorf("batch: on-startup: %w: %v", sferr.ErrConfiguration, err)
	}
	return actions, nil
}
