package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// --- Event Tests ---

func TestEvent_PayloadEnvelope(t *testing.T) {
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	e := Event{
		Type:       EventTaskLog,
		RunID:      7,
		PipelineID: "sales_pipeline",
		TaskID:     "fetch",
		At:         at,
		Log:        &LogEntry{Seq: 1, TaskID: "fetch", Level: LogLevelInfo, Timestamp: at, Message: "rows=5"},
	}

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	for _, key := range []string{"type", "run_id", "task_id", "at", "payload"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("expected key %q in %s", key, data)
		}
	}
	for _, key := range []string{"run", "log", "task"} {
		if _, ok := raw[key]; ok {
			t.Errorf("unexpected key %q in %s", key, data)
		}
	}

	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Log == nil || got.Log.Message != "rows=5" || got.Run != nil || got.Task != nil {
		t.Errorf("expected log payload, got %+v", got)
	}
}

func TestEvent_RunUpdatePayload(t *testing.T) {
	data := []byte(`{"type":"run_update","run_id":3,"pipeline_id":"p","at":"2024-03-10T12:00:00Z","payload":{"status":"failed","error":"boom"}}`)

	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Run == nil || e.Run.Status != RunStatusFailed || e.Run.Error != "boom" {
		t.Errorf("expected failed run payload, got %+v", e.Run)
	}
}

func TestEvent_NoPayload(t *testing.T) {
	data, err := json.Marshal(Event{Type: EventRunUpdate, RunID: 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "payload") {
		t.Errorf("expected no payload, got %s", data)
	}
}

func TestEvent_UnknownType(t *testing.T) {
	var e Event
	err := json.Unmarshal([]byte(`{"type":"weekly","payload":{}}`), &e)
	if err == nil {
		t.Fatal("expected error for unknown event type with payload")
	}
}
