package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var when = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestChangeEvent_MarshalBlankUpdate(t *testing.T) {
	ev := &ChangeEvent{Type: Update, Table: "Tasks", Timestamp: when, RecordID: "r1", FieldName: "Status", PreviousValue: "Todo"}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"type":"update","table":"Tasks","date":"2024-03-01T12:00:00Z","record_id":"r1","field_name":"Status","previous_value":"Todo","new_value":null}`
	if string(data) != want {
		t.Fatalf("got  %s\nwant %s", data, want)
	}

	var back ChangeEvent
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if diff := cmp.Diff(*ev, back); diff != "" {
		t.Fatalf("unexpected event (-want +got):\n%s", diff)
	}
}

func TestChangeEvent_MarshalCreate(t *testing.T) {
	ev := ChangeEvent{Type: Create, Table: "Tasks", Timestamp: when, Records: []Record{{ID: "r1", Fields: map[string]interface{}{"Status": "Todo"}}}}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(data), "new_value") || strings.Contains(string(data), "record_id") {
		t.Fatalf("create event carries update keys: %s", data)
	}
}

func TestChangeEvent_Legacy(t *testing.T) {
	ev := &ChangeEvent{Type: Update, Table: "Tasks", Timestamp: when, RecordID: "r1", FieldName: "Status", PreviousValue: "Todo", NewValue: "Done"}
	got, ok := ev.Legacy()
	if !ok {
		t.Fatal("update event has no legacy form")
	}
	want := &LegacyEvent{Date: when, TableName: "Tasks", FieldName: "Status", PreviousValue: "Todo", NewValue: "Done", RecordID: "r1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected legacy event (-want +got):\n%s", diff)
	}
	if _, ok := (&ChangeEvent{Type: Delete}).Legacy(); ok {
		t.Fatal("delete event has a legacy form")
	}
}
