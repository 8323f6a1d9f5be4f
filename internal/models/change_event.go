package models

import (
	"encoding/json"
	"time"
)

// EventType is the kind of change detected between two snapshots
type EventType string

const (
	Create EventType = "create"
	Delete EventType = "delete"
	Update EventType = "update"
)

// Record is one row returned by a source: a stable id plus its non-blank fields
type Record struct {
	ID     string                 `json:"id"`
	Fields map[string]interface{} `json:"fields"`
}

// ChangeEvent represents a difference detected between two polls of a table.
// Create and Delete events carry Records; Update events carry a single field change.
type ChangeEvent struct {
	Type          EventType   `json:"type"`
	Table         string      `json:"table"`
	Timestamp     time.Time   `json:"date"`
	Records       []Record    `json:"records,omitempty"`
	RecordID      string      `json:"record_id,omitempty"`
	FieldName     string      `json:"field_name,omitempty"`
	PreviousValue interface{} `json:"previous_value,omitempty"`
	NewValue      interface{} `json:"new_value,omitempty"`

	// RawJSON holds a payload reshaped by a JavaScript transform. Publishers send it verbatim.
	RawJSON []byte `json:"-"`
}

// MarshalJSON always writes previous_value and new_value for update events,
// as null when the field is blank, so a cleared field is visible to consumers.
func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	type plain ChangeEvent
	if e.Type != Update {
		return json.Marshal(plain(e))
	}
	return json.Marshal(struct {
		plain
		PreviousValue interface{} `json:"previous_value"`
		NewValue      interface{} `json:"new_value"`
	}{plain(e), e.PreviousValue, e.NewValue})
}

// LegacyEvent is the flattened update notification used by older consumers
type LegacyEvent struct {
	Date          time.Time   `json:"date"`
	TableName     string      `json:"tableName"`
	FieldName     string      `json:"fieldName"`
	PreviousValue interface{} `json:"previousValue"`
	NewValue      interface{} `json:"newValue"`
	RecordID      string      `json:"recordId"`
}

// Legacy returns the flattened view of an update event. ok is false for other kinds.
func (e *ChangeEvent) Legacy() (*LegacyEvent, bool) {
	if e == nil || e.Type != Update {
		return nil, false
	}
	return &LegacyEvent{
		Date:          e.Timestamp,
		TableName:     e.Table,
		FieldName:     e.FieldName,
		PreviousValue: e.PreviousValue,
		NewValue:      e.NewValue,
		RecordID:      e.RecordID,
	}, true
}
