package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"taskdeck/internal/events"
)

type RunState int

const (
	Idle RunState = iota
	Running
	Finished
)

func (s RunState) String() string {
	switch s {
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return "idle"
	}
}

func parseRunState(v string) RunState {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "running":
		return Running
	case "finished":
		return Finished
	default:
		return Idle
	}
}

type ExitCode = events.ExitCode

type Meta struct {
	Description  string `json:"description,omitempty"`
	Category     string `json:"category,omitempty"`
	Downloadable bool   `json:"downloadable,omitempty"`
}

// ArgumentSpec describes one run argument. The value domain is either the
// static Values list or the output lines of the EnumSource task.
type ArgumentSpec struct {
	Name       string   `json:"name"`
	Values     []string `json:"values,omitempty"`
	EnumSource string   `json:"enum_source,omitempty"`
}

type TaskRecord struct {
	ID             string
	Meta           Meta
	CanRun         bool
	CanViewOutput  bool
	Arguments      []ArgumentSpec
	State          RunState
	ExitCode       ExitCode
	Data           map[string]any
	ArgumentValues map[string]string
}

func (t TaskRecord) clone() TaskRecord {
	out := t
	out.Arguments = slices.Clone(t.Arguments)
	for i := range out.Arguments {
		out.Arguments[i].Values = slices.Clone(out.Arguments[i].Values)
	}
	if t.ExitCode.Code != nil {
		code := *t.ExitCode.Code
		out.ExitCode.Code = &code
	}
	out.Data = maps.Clone(t.Data)
	out.ArgumentValues = maps.Clone(t.ArgumentValues)
	return out
}

type wireMeta struct {
	Meta
	Arguments []ArgumentSpec `json:"arguments"`
}

type wireTask struct {
	Name           string            `json:"name"`
	Meta           *wireMeta         `json:"meta"`
	State          string            `json:"state"`
	ExitCode       ExitCode          `json:"exit_code"`
	CanRun         bool              `json:"can_run"`
	CanViewOutput  bool              `json:"can_view_output"`
	Arguments      []ArgumentSpec    `json:"arguments"`
	Data           map[string]any    `json:"data"`
	ArgumentValues map[string]string `json:"argument_values"`
}

func (w wireTask) record(id string) TaskRecord {
	rec := TaskRecord{
		ID:             id,
		State:          parseRunState(w.State),
		ExitCode:       w.ExitCode,
		CanRun:         w.CanRun,
		CanViewOutput:  w.CanViewOutput,
		Arguments:      w.Arguments,
		Data:           w.Data,
		ArgumentValues: w.ArgumentValues,
	}
	if w.Meta != nil {
		rec.Meta = w.Meta.Meta
		if len(rec.Arguments) == 0 {
			rec.Arguments = w.Meta.Arguments
		}
	}
	if rec.State == Idle {
		rec.ExitCode = ExitCode{}
	}
	return rec
}

// ParseTasks decodes the task collection returned by the server. Both the
// map form (name -> task) and a plain list are accepted.
func ParseTasks(body []byte) ([]TaskRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var list []wireTask
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode task list: %w", err)
		}
		out := make([]TaskRecord, 0, len(list))
		for _, w := range list {
			if w.Name == "" {
				continue
			}
			out = append(out, w.record(w.Name))
		}
		return out, nil
	}

	var byName map[string]wireTask
	if err := json.Unmarshal(trimmed, &byName); err != nil {
		return nil, fmt.Errorf("decode task map: %w", err)
	}
	ids := slices.Sorted(maps.Keys(byName))
	out := make([]TaskRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, byName[id].record(id))
	}
	return out, nil
}
