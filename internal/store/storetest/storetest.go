// Package storetest содержит общие проверки реализаций store.RunStore.
package storetest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
)

// Run прогоняет общие проверки на хранилище, созданном newStore.
// newStore вызывается для каждого подтеста.
func Run(t *testing.T, newStore func(t *testing.T) store.RunStore) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.RunStore)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"Lifecycle", testLifecycle},
		{"FinalizeOnce", testFinalizeOnce},
		{"LogOrder", testLogOrder},
		{"Artifacts", testArtifacts},
		{"ListFilter", testListFilter},
		{"NotFound", testNotFound},
		{"ConcurrentRuns", testConcurrentRuns},
		{"WriteLogs", testWriteLogs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func ptr(s string) *string { return &s }

func newRun(t *testing.T, s store.RunStore, pipelineID string, triggerID *string) *domain.Run {
	t.Helper()
	run, err := s.CreateRun(context.Background(), store.NewRun{
		PipelineID: pipelineID,
		TriggerID:  triggerID,
		Params:     domain.Params{"n": float64(1)},
		TaskIDs:    []string{"a", "b", "c"},
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run
}

func testCreateAndGet(t *testing.T, s store.RunStore) {
	ctx := context.Background()
	first := newRun(t, s, "sales", ptr("daily"))
	second := newRun(t, s, "sales", nil)

	if second.ID <= first.ID {
		t.Errorf("expected monotonic ids, got %d then %d", first.ID, second.ID)
	}

	got, err := s.GetRun(ctx, first.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunStatusPending {
		t.Errorf("expected pending, got %s", got.Status)
	}
	if got.TriggerID == nil || *got.TriggerID != "daily" {
		t.Errorf("expected trigger daily, got %v", got.TriggerID)
	}
	if len(got.Tasks) != 3 {
		t.Fatalf("expected 3 task runs, got %d", len(got.Tasks))
	}
	for i, id := range []string{"a", "b", "c"} {
		if got.Tasks[i].TaskID != id || got.Tasks[i].Status != domain.TaskStatusPending {
			t.Errorf("task %d: expected pending %s, got %s %s", i, id, got.Tasks[i].Status, got.Tasks[i].TaskID)
		}
	}
	if got.Params["n"] != float64(1) {
		t.Errorf("expected params to round-trip, got %v", got.Params)
	}
}

func testLifecycle(t *testing.T, s store.RunStore) {
	ctx := context.Background()
	run := newRun(t, s, "sales", nil)
	now := time.Now().UTC()

	mustNil(t, s.StartRun(ctx, run.ID, now))
	mustNil(t, s.RecordTaskResult(ctx, run.ID, "a", store.TaskResult{Status: domain.TaskStatusRunning, At: now}))
	mustNil(t, s.RecordTaskResult(ctx, run.ID, "a", store.TaskResult{
		Status: domain.TaskStatusCompleted, Artifact: []byte(`{"x":1}`), At: now.Add(time.Second),
	}))
	mustNil(t, s.RecordTaskResult(ctx, run.ID, "b", store.TaskResult{Status: domain.TaskStatusRunning, At: now}))
	mustNil(t, s.RecordTaskResult(ctx, run.ID, "b", store.TaskResult{
		Status: domain.TaskStatusFailed,
		Error:  &domain.ErrorDetail{Message: "boom", Trace: "stack"},
		At:     now.Add(2 * time.Second),
	}))
	mustNil(t, s.RecordTaskResult(ctx, run.ID, "c", store.TaskResult{Status: domain.TaskStatusSkipped, At: now}))
	mustNil(t, s.FinalizeRun(ctx, run.ID, store.Final{Status: domain.RunStatusFailed, Error: "boom", At: now.Add(3 * time.Second)}))

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}

	if got.Status != domain.RunStatusFailed || got.Error != "boom" {
		t.Errorf("expected failed/boom, got %s/%s", got.Status, got.Error)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("expected started_at and completed_at")
	}

	want := []domain.TaskStatus{domain.TaskStatusCompleted, domain.TaskStatusFailed, domain.TaskStatusSkipped}
	for i, st := range want {
		if got.Tasks[i].Status != st {
			t.Errorf("task %d: expected %s, got %s", i, st, got.Tasks[i].Status)
		}
	}
	if !got.Tasks[0].HasArtifact || got.Tasks[1].HasArtifact {
		t.Error("expected only first task to have artifact")
	}
	if got.Tasks[1].Error == nil || got.Tasks[1].Error.Message != "boom" || got.Tasks[1].Error.Trace != "stack" {
		t.Errorf("expected error detail, got %+v", got.Tasks[1].Error)
	}
}

func testFinalizeOnce(t *testing.T, s store.RunStore) {
	ctx := context.Background()
	run := newRun(t, s, "sales", nil)
	now := time.Now().UTC()

	mustNil(t, s.FinalizeRun(ctx, run.ID, store.Final{Status: domain.RunStatusCompleted, At: now}))

	err := s.FinalizeRun(ctx, run.ID, store.Final{Status: domain.RunStatusFailed, At: now})
	if !errors.Is(err, store.ErrFinalized) {
		t.Errorf("expected ErrFinalized on second finalize, got %v", err)
	}

	err = s.RecordTaskResult(ctx, run.ID, "a", store.TaskResult{Status: domain.TaskStatusRunning, At: now})
	if !errors.Is(err, store.ErrFinalized) {
		t.Errorf("expected ErrFinalized on task mutation, got %v", err)
	}

	_, err = s.AppendLog(ctx, run.ID, domain.LogEntry{TaskID: "a", Level: domain.LogLevelInfo, Timestamp: now, Message: "late"})
	if !errors.Is(err, store.ErrFinalized) {
		t.Errorf("expected ErrFinalized on late log, got %v", err)
	}

	got, _ := s.GetRun(ctx, run.ID)
	if got.Status != domain.RunStatusCompleted {
		t.Errorf("expected status to stay completed, got %s", got.Status)
	}
}

func testLogOrder(t *testing.T, s store.RunStore) {
	ctx := context.Background()
	run := newRun(t, s, "sales", nil)
	now := time.Now().UTC()

	for i := 0; i < 50; i++ {
		entry, err := s.AppendLog(ctx, run.ID, domain.LogEntry{
			TaskID:    "a",
			Level:     domain.LogLevelInfo,
			Timestamp: now,
			Message:   fmt.Sprintf("line %d", i),
		})
		if err != nil {
			t.Fatalf("append log: %v", err)
		}
		if entry.Seq != int64(i+1) {
			t.Errorf("expected seq %d, got %d", i+1, entry.Seq)
		}
	}

	logs, err := s.GetLogs(ctx, run.ID)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if len(logs) != 50 {
		t.Fatalf("expected 50 logs, got %d", len(logs))
	}
	for i, e := range logs {
		if e.Message != fmt.Sprintf("line %d", i) {
			t.Errorf("position %d: expected line %d, got %q", i, i, e.Message)
		}
	}
}

func testArtifacts(t *testing.T, s store.RunStore) {
	ctx := context.Background()
	run := newRun(t, s, "sales", nil)
	now := time.Now().UTC()

	mustNil(t, s.RecordTaskResult(ctx, run.ID, "a", store.TaskResult{
		Status: domain.TaskStatusCompleted, Artifact: []byte(`[1,2,3]`), At: now,
	}))
	mustNil(t, s.RecordTaskResult(ctx, run.ID, "b", store.TaskResult{Status: domain.TaskStatusCompleted, At: now}))
	mustNil(t, s.RecordTaskResult(ctx, run.ID, "c", store.TaskResult{Status: domain.TaskStatusSkipped, At: now}))

	for i := 0; i < 2; i++ {
		data, err := s.GetTaskArtifact(ctx, run.ID, "a")
		if err != nil {
			t.Fatalf("get artifact: %v", err)
		}
		var got []int
		if err := json.Unmarshal(data, &got); err != nil || len(got) != 3 {
			t.Errorf("expected [1,2,3], got %s (%v)", data, err)
		}
	}

	if _, err := s.GetTaskArtifact(ctx, run.ID, "b"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not found for task without output, got %v", err)
	}
	if _, err := s.GetTaskArtifact(ctx, run.ID, "c"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not found for skipped task, got %v", err)
	}
	if _, err := s.GetTaskArtifact(ctx, run.ID, "zzz"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not found for unknown task, got %v", err)
	}
}

func testListFilter(t *testing.T, s store.RunStore) {
	ctx := context.Background()
	a := newRun(t, s, "sales", ptr("daily"))
	b := newRun(t, s, "sales", nil)
	c := newRun(t, s, "reports", ptr("daily"))

	all, err := s.ListRuns(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != c.ID || all[2].ID != a.ID {
		t.Errorf("expected newest first [%d %d %d], got %v", c.ID, b.ID, a.ID, ids(all))
	}

	sales, _ := s.ListRuns(ctx, store.Filter{PipelineID: "sales"})
	if len(sales) != 2 {
		t.Errorf("expected 2 sales runs, got %v", ids(sales))
	}

	daily, _ := s.ListRuns(ctx, store.Filter{PipelineID: "sales", TriggerID: "daily"})
	if len(daily) != 1 || daily[0].ID != a.ID {
		t.Errorf("expected only run %d, got %v", a.ID, ids(daily))
	}

	limited, _ := s.ListRuns(ctx, store.Filter{Limit: 1})
	if len(limited) != 1 || limited[0].ID != c.ID {
		t.Errorf("expected newest run only, got %v", ids(limited))
	}

	if len(all[0].Tasks) != 3 {
		t.Errorf("expected listed runs to include task runs, got %d", len(all[0].Tasks))
	}
}

func testNotFound(t *testing.T, s store.RunStore) {
	ctx := context.Background()
	const missing = int64(987654321)

	if _, err := s.GetRun(ctx, missing); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetRun: expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetLogs(ctx, missing); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetLogs: expected ErrNotFound, got %v", err)
	}
	if err := s.StartRun(ctx, missing, time.Now()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("StartRun: expected ErrNotFound, got %v", err)
	}
	if err := s.FinalizeRun(ctx, missing, store.Final{Status: domain.RunStatusFailed, At: time.Now()}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FinalizeRun: expected ErrNotFound, got %v", err)
	}

	run := newRun(t, s, "sales", nil)
	err := s.RecordTaskResult(ctx, run.ID, "zzz", store.TaskResult{Status: domain.TaskStatusRunning, At: time.Now()})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("RecordTaskResult unknown task: expected ErrNotFound, got %v", err)
	}
}

func testConcurrentRuns(t *testing.T, s store.RunStore) {
	ctx := context.Background()
	const runs, lines = 8, 20

	var wg sync.WaitGroup
	created := make([]int64, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run, err := s.CreateRun(ctx, store.NewRun{
				PipelineID: fmt.Sprintf("p%d", i),
				TaskIDs:    []string{"a"},
				CreatedAt:  time.Now().UTC(),
			})
			if err != nil {
				t.Errorf("create run: %v", err)
				return
			}
			created[i] = run.ID
			for j := 0; j < lines; j++ {
				_, err := s.AppendLog(ctx, run.ID, domain.LogEntry{
					TaskID:    "a",
					Level:     domain.LogLevelInfo,
					Timestamp: time.Now().UTC(),
					Message:   fmt.Sprintf("p%d-%d", i, j),
				})
				if err != nil {
					t.Errorf("append log: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for i, id := range created {
		if seen[id] {
			t.Errorf("duplicate run id %d", id)
		}
		seen[id] = true

		logs, err := s.GetLogs(ctx, id)
		if err != nil {
			t.Fatalf("get logs: %v", err)
		}
		if len(logs) != lines {
			t.Errorf("run %d: expected %d logs, got %d", id, lines, len(logs))
		}
		for j, e := range logs {
			if e.Message != fmt.Sprintf("p%d-%d", i, j) {
				t.Errorf("run %d: expected own ordered logs, got %q at %d", id, e.Message, j)
			}
		}
	}
}

func testWriteLogs(t *testing.T, s store.RunStore) {
	ctx := context.Background()
	run := newRun(t, s, "sales", nil)
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, msg := range []string{"first", "second"} {
		if _, err := s.AppendLog(ctx, run.ID, domain.LogEntry{
			TaskID: "a", Level: domain.LogLevelWarn, Timestamp: ts, Message: msg,
		}); err != nil {
			t.Fatalf("append log: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := store.WriteLogs(ctx, s, run.ID, &buf); err != nil {
		t.Fatalf("write logs: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	var line map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &line); err != nil {
		t.Fatalf("line is not json: %v", err)
	}
	if line["task"] != "a" || line["level"] != "WARN" || line["message"] != "first" {
		t.Errorf("unexpected line: %v", line)
	}
	if line["timestamp"] != "2024-01-01T12:00:00Z" {
		t.Errorf("expected RFC3339 timestamp, got %v", line["timestamp"])
	}
}

// --- Helpers ---

func mustNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func ids(runs []domain.Run) []int64 {
	out := make([]int64, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}
