package control

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sandfly-daq/sandfly/internal/sferr"
	"github.com/sandfly-daq/sandfly/pkg/reply"
)

// The RunningStatusValue a daq-status reply reports while running; used
// by the Batch Executor's custom-poll loop (spec §4.6 step 3).
const RunningStatusValue = uint32(StatusRunning)

// HandleStartRun implements the "start-run" cmd/run specifier.
func (c *Controller) HandleStartRun(_ string, payload *structpb.Struct) reply.Reply {
	durationMS := c.Duration()
	if v, ok := reply.Value(payload, "duration_ms"); ok {
		durationMS = uint64(v.GetNumberValue())
	}
	if err := c.StartRun(durationMS); err != nil {
		return errToReply(err)
	}
	return reply.OK("run started", nil)
}

// HandleStopRun implements the "stop-run" cmd specifier.
func (c *Controller) HandleStopRun(_ string, _ *structpb.Struct) reply.Reply {
	if err := c.StopRun(); err != nil {
		return errToReply(err)
	}
	return reply.OK("run stopped", nil)
}

// HandleActivate implements "activate-daq"/"reactivate-daq".
func (c *Controller) HandleActivate(_ string, _ *structpb.Struct) reply.Reply {
	if err := c.Activate(); err != nil {
		return errToReply(err)
	}
	return reply.OK("activated", nil)
}

// HandleDeactivate implements "deactivate-daq".
func (c *Controller) HandleDeactivate(_ string, _ *structpb.Struct) reply.Reply {
	if err := c.Deactivate(); err != nil {
		return errToReply(err)
	}
	return reply.OK("deactivated", nil)
}

// HandleDaqStatus implements "daq-status" (get). The payload always
// reports server.status / server.status-value; spec §3's Supplement
// adds an optional uptime-ms field, populated by the caller (the
// Conductor knows process start time, not the controller) via the
// Conductor's withUptime wrapper.
func (c *Controller) HandleDaqStatus(_ string) reply.Reply {
	s := c.Status()
	payload := reply.NewPayload(map[string]any{
		"server": map[string]any{
			"status":       s.String(),
			"status-value": float64(uint32(s)),
		},
	})
	return reply.OK("", payload)
}

// HandleDurationGet implements the get side of "duration";
// HandleDurationSet is the set side.
func (c *Controller) HandleDurationGet(_ string) reply.Reply {
	payload := reply.NewPayload(map[string]any{"duration_ms": float64(c.Duration())})
	return reply.OK("", payload)
}

func (c *Controller) HandleDurationSet(_ string, payload *structpb.Struct) reply.Reply {
	v, ok := reply.Value(payload, "duration_ms")
	if !ok {
		return reply.Err(sferr.CodeInvalidSpecifier, "duration: missing duration_ms")
	}
	if err := c.SetDuration(uint64(v.GetNumberValue())); err != nil {
		return errToReply(err)
	}
	return reply.OK("duration updated", nil)
}

// HandleRunDaqCmd implements "run-daq-cmd.<stream>.<node>.<cmd>".
func (c *Controller) HandleRunDaqCmd(specifier string, payload *structpb.Struct) reply.Reply {
	rest := strings.TrimPrefix(specifier, "run-daq-cmd.")
	parts := strings.SplitN(rest, ".", 3)
	if len(parts) != 3 {
		return reply.Err(sferr.CodeInvalidSpecifier, fmt.Sprintf("malformed specifier %q", specifier))
	}
	stream, node, cmd := parts[0], parts[1], parts[2]
	key := stream + "_" + node
	args := map[string]any{}
	if payload != nil {
		args = payload.AsMap()
	}
	ok, err := c.facade.RunLiveCommand(key, cmd, args)
	if err != nil {
		return errToReply(err)
	}
	if !ok {
		return reply.Err(sferr.CodeInvalidMethod, fmt.Sprintf("unknown command %q on %s", cmd, key))
	}
	return reply.OK("command executed", nil)
}

// HandleActiveConfigGet implements "active-config.<stream>.<node>[.<param>]"
// for the get verb.
func (c *Controller) HandleActiveConfigGet(specifier string) reply.Reply {
	key, param, err := parseActiveConfigSpecifier(specifier)
	if err != nil {
		return reply.Err(sferr.CodeInvalidSpecifier, err.Error())
	}
	cfg, err := c.facade.DumpLiveConfig(key)
	if err != nil {
		return errToReply(err)
	}
	if param != "" {
		v, ok := cfg[param]
		if !ok {
			return reply.Err(sferr.CodeInvalidSpecifier, fmt.Sprintf("no such param %q", param))
		}
		return reply.OK("", reply.NewPayload(map[string]any{"values": []any{v}}))
	}
	return reply.OK("", reply.NewPayload(cfg))
}

// HandleActiveConfigSet implements "active-config.<stream>.<node>[.<param>]"
// for the set verb; a single-value form sets values[0] into param.
func (c *Controller) HandleActiveConfigSet(specifier string, payload *structpb.Struct) reply.Reply {
	key, param, err := parseActiveConfigSpecifier(specifier)
	if err != nil {
		return reply.Err(sferr.CodeInvalidSpecifier, err.Error())
	}
	var cfg map[string]any
	if param != "" {
		v, ok := reply.Value(payload, "values")
		if !ok || v.GetListValue() == nil || len(v.GetListValue().Values) == 0 {
			return reply.Err(sferr.CodeInvalidSpecifier, "set requires values[0]")
		}
		cfg = map[string]any{param: v.GetListValue().Values[0].AsInterface()}
	} else if payload != nil {
		cfg = payload.AsMap()
	}
	if err := c.facade.ApplyLiveConfig(key, cfg); err != nil {
		return errToReply(err)
	}
	return reply.OK("config applied", nil)
}

func parseActiveConfigSpecifier(specifier string) (key, param string, err error) {
	rest := strings.TrimPrefix(specifier, "active-config.")
	parts := strings.SplitN(rest, ".", 3)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("malformed specifier %q", specifier)
	}
	key = parts[0] + "_" + parts[1]
	if len(parts) == 3 {
		param = parts[2]
	}
	return key, param, nil
}

// errToReply classifies a sferr-wrapped error into the documented reply
// codes (spec §6/§7).
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
