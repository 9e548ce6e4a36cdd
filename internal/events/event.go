// Package events models the named notifications pushed by the dashboard
// server as a closed set of Go types.
package events

import (
	"encoding/json"
	"strconv"
)

type Kind string

const (
	KindPing         Kind = "ping"
	KindStarted      Kind = "started"
	KindFinished     Kind = "finished"
	KindUpdateConfig Kind = "update_config"
	KindChangeData   Kind = "change_data"
)

// Event is one push notification. The concrete type is one of Ping,
// Started, Finished, UpdateConfig, ChangeData or Unknown.
type Event interface {
	Kind() Kind
}

// Ping is the heartbeat.
type Ping struct{}

type Started struct {
	Task      string
	Arguments map[string]string
}

type Finished struct {
	Task     string
	ExitCode ExitCode
}

// UpdateConfig signals that the task collection changed and must be
// fetched again.
type UpdateConfig struct{}

type ChangeData struct {
	Task  string
	Key   string
	Value any
}

// Unknown carries an event name this client does not understand.
type Unknown struct {
	Name string
	Data json.RawMessage
}

func (Ping) Kind() Kind         { return KindPing }
func (Started) Kind() Kind      { return KindStarted }
func (Finished) Kind() Kind     { return KindFinished }
func (UpdateConfig) Kind() Kind { return KindUpdateConfig }
func (ChangeData) Kind() Kind   { return KindChangeData }
func (u Unknown) Kind() Kind    { return Kind(u.Name) }

// ExitCode distinguishes "never ran" (Present false), "stopped or
// terminated" (Present, Code nil) and a normal exit.
type ExitCode struct {
	Present bool
	Code    *int
}

func Exited(code int) ExitCode {
	return ExitCode{Present: true, Code: &code}
}

func Stopped() ExitCode {
	return ExitCode{Present: true}
}

func (e ExitCode) IsStopped() bool {
	return e.Present && e.Code == nil
}

func (e ExitCode) String() string {
	switch {
	case !e.Present:
		return "-"
	case e.Code == nil:
		return "stopped"
	default:
		return strconv.Itoa(*e.Code)
	}
}

// UnmarshalJSON is only reached when the field is present, so a JSON null
// means stopped.
func (e *ExitCode) UnmarshalJSON(b []byte) error {
	e.Present = true
	e.Code = nil
	if string(b) == "null" {
		return nil
	}
	var code int
	if err := json.Unmarshal(b, &code); err != nil {
		return err
	}
	e.Code = &code
	return nil
}

func (e ExitCode) MarshalJSON() ([]byte, error) {
	if e.Code == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*e.Code)
}
