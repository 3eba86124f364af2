package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Definition is a job definition as stored in its registry record.
// Exactly one of Cron or On must be set. Every action field is optional and
// all declared actions fire on every tick.
type Definition struct {
	Cron string   `json:"cron,omitempty"`
	On   *Instant `json:"on,omitempty"`

	Call         *CallOperation   `json:"call,omitempty"`
	Emit         *EventOperation  `json:"emit,omitempty"`
	SetRecord    *RecordOperation `json:"setRecord,omitempty"`
	UpdateRecord *RecordOperation `json:"updateRecord,omitempty"`
	DeleteRecord string           `json:"deleteRecord,omitempty"`
}

// CallOperation invokes a remote procedure.
type CallOperation struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventOperation emits an event.
type EventOperation struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RecordOperation targets a record. For setRecord Data is the full
// replacement content, for updateRecord each key is written on its own.
type RecordOperation struct {
	Name string                     `json:"name"`
	Data map[string]json.RawMessage `json:"data"`
}

// Action kinds, in firing order.
const (
	ActionCall         = "call"
	ActionEmit         = "emit"
	ActionSetRecord    = "setRecord"
	ActionUpdateRecord = "updateRecord"
	ActionDeleteRecord = "deleteRecord"
)

// ParseDefinition decodes a definition record. An empty or null record
// yields a nil definition and no error.
func ParseDefinition(data []byte) (*Definition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var def Definition
	if err := json.Unmarshal(trimmed, &def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	return &def, nil
}

// Actions returns the declared action kinds in firing order.
func (d *Definition) Actions() []string {
	if d == nil {
		return nil
	}
	var kinds []string
	if d.Call != nil {
		kinds = append(kinds, ActionCall)
	}
	if d.Emit != nil {
		kinds = append(kinds, ActionEmit)
	}
	if d.SetRecord != nil {
		kinds = append(kinds, ActionSetRecord)
	}
	if d.UpdateRecord != nil {
		kinds = append(kinds, ActionUpdateRecord)
	}
	if d.DeleteRecord != "" {
		kinds = append(kinds, ActionDeleteRecord)
	}
	return kinds
}

// Validate reports whether the definition carries a usable schedule.
func (d *Definition) Validate() error {
	_, err := d.Schedule()
	return err
}
