package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMissingTask = errors.New("event payload has no task")

type startedPayload struct {
	Task      string                     `json:"task"`
	Arguments map[string]json.RawMessage `json:"arguments"`
}

type finishedPayload struct {
	Task     string   `json:"task"`
	ExitCode ExitCode `json:"exit_code"`
}

// Decode builds the event for a named notification and its JSON data.
// Names it does not know produce Unknown rather than an error.
func Decode(name string, data []byte) (Event, error) {
	switch Kind(strings.TrimSpace(name)) {
	case KindPing:
		return Ping{}, nil
	case KindUpdateConfig:
		return UpdateConfig{}, nil
	case KindStarted:
		var p startedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode started: %w", err)
		}
		if p.Task == "" {
			return nil, fmt.Errorf("decode started: %w", ErrMissingTask)
		}
		return Started{Task: p.Task, Arguments: argumentStrings(p.Arguments)}, nil
	case KindFinished:
		var p finishedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode finished: %w", err)
		}
		if p.Task == "" {
			return nil, fmt.Errorf("decode finished: %w", ErrMissingTask)
		}
		// A finished task has run, even when the server left exit_code out.
		p.ExitCode.Present = true
		return Finished{Task: p.Task, ExitCode: p.ExitCode}, nil
	case KindChangeData:
		var triple []json.RawMessage
		if err := json.Unmarshal(data, &triple); err != nil {
			return nil, fmt.Errorf("decode change_data: %w", err)
		}
		if len(triple) != 3 {
			return nil, fmt.Errorf("decode change_data: expected [task, key, value], got %d items", len(triple))
		}
		var ev ChangeData
		if err := json.Unmarshal(triple[0], &ev.Task); err != nil {
			return nil, fmt.Errorf("decode change_data task: %w", err)
		}
		if err := json.Unmarshal(triple[1], &ev.Key); err != nil {
			return nil, fmt.Errorf("decode change_data key: %w", err)
		}
		if err := json.Unmarshal(triple[2], &ev.Value); err != nil {
			return nil, fmt.Errorf("decode change_data value: %w", err)
		}
		return ev, nil
	default:
		return Unknown{Name: name, Data: append(json.RawMessage(nil), data...)}, nil
	}
}

func argumentStrings(raw map[string]json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for name, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			out[name] = s
			continue
		}
		out[name] = strings.TrimSpace(string(value))
	}
	return out
}
