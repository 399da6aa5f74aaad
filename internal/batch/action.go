// Package batch implements the Batch Executor (C6): a sequential driver
// for configured RPC-style actions, including status polling.
//
// Grounded on the teacher's internal/task.Task worker-loop shape and
// internal/command/handler.go's Response/routing-key conventions,
// generalized to the Action parsing and queue semantics of spec §4.6.
package batch

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sandfly-daq/sandfly/internal/receiver"
	"github.com/sandfly-daq/sandfly/internal/sferr"
)

// Action is one parsed unit of work the executor drives through the
// local dispatch path (spec §3, §4.6).
type Action struct {
	Verb         receiver.Verb
	Specifier    string
	Payload      *structpb.Struct
	SleepAfterMS uint64
	IsCustomPoll bool
}

// RawAction is the JSON-shaped form an Action is parsed from (spec §6's
// action schema / §4.6's parsing rules).
type RawAction struct {
	Type      string         `json:"type" mapstructure:"type"`
	Key       string         `json:"key" mapstructure:"key"`
	Specifier string         `json:"specifier,omitempty" mapstructure:"specifier"`
	Payload   map[string]any `json:"payload" mapstructure:"payload"`
	SleepFor  uint64         `json:"sleep-for,omitempty" mapstructure:"sleep-for"`
}

const defaultSleepAfterMS = 500

// ParseAction validates and converts a RawAction into an Action.
// type = "wait-for" with key = "daq-status" becomes a get with
// IsCustomPoll = true (spec §4.6).
func ParseAction(raw RawAction) (Action, error) {
	if raw.Key == "" {
		return Action{}, fmt.Errorf("batch: action missing required key %q: %w", "key", sferr.ErrConfiguration)
	}
	sleep := raw.SleepFor
	if sleep == 0 {
		sleep = defaultSleepAfterMS
	}

	var payload *structpb.Struct
	if raw.Payload != nil {
		p, err := structpb.NewStruct(raw.Payload)
		if err != nil {
			return Action{}, fmt.Errorf("batch: action payload: %w", sferr.ErrConfiguration)
		}
		payload = p
	}

	specifier := raw.Specifier
	if specifier == "" {
		specifier = raw.Key
	}

	if raw.Type == "wait-for" && raw.Key == "daq-status" {
		return Action{
			Verb:         receiver.VerbGet,
			Specifier:    specifier,
			Payload:      payload,
			SleepAfterMS: sleep,
			IsCustomPoll: true,
		}, nil
	}

	verb, ok := parseVerb(raw.Type)
	if !ok {
		return Action{}, fmt.Errorf("batch: unknown action type %q: %w", raw.Type, sferr.ErrConfiguration)
	}
	return Action{
		Verb:         verb,
		Specifier:    specifier,
		Payload:      payload,
		SleepAfterMS: sleep,
	}, nil
}

func parseVerb(t string) (receiver.Verb, bool) {
	switch t {
	case "get":
		return receiver.VerbGet, true
	case "set":
		return receiver.VerbSet, true
	case "cmd":
		return receiver.VerbCmd, true
	default:
		return "", false
	}
}

// SleepAfter sleeps for the action's configured delay, respecting ctx
// cancellation.
func (a Action) SleepAfter(done <-chan struct{}) {
	t := time.NewTimer(time.Duration(a.SleepAfterMS) * time.Millisecond)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
	}
}
