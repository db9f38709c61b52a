package executor

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(e domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) all() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

func setup(t *testing.T, p *domain.Pipeline) (*Executor, store.RunStore, *recordingPublisher, *domain.Run) {
	t.Helper()

	s := store.NewMemory()
	pub := &recordingPublisher{}
	exec := New(Config{Store: s, Publisher: pub, FinalizeDelay: time.Millisecond})

	run, err := s.CreateRun(context.Background(), store.NewRun{
		PipelineID: p.ID,
		Params:     domain.Params{"some_value": int64(2)},
		TaskIDs:    p.TaskIDs(),
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return exec, s, pub, run
}

// --- Execute Tests ---

func TestExecute_FailureSkipsRemainingTasks(t *testing.T) {
	var cInvoked bool
	p := &domain.Pipeline{
		ID: "abc",
		Tasks: []domain.Task{
			{ID: "a", Run: func(_ context.Context, tc *domain.TaskContext) (any, error) {
				tc.Logger.Info("a running")
				return map[string]int{"rows": 3}, nil
			}},
			{ID: "b", Run: func(context.Context, *domain.TaskContext) (any, error) {
				return nil, errors.New("upstream unavailable")
			}},
			{ID: "c", Run: func(context.Context, *domain.TaskContext) (any, error) {
				cInvoked = true
				return nil, nil
			}},
		},
	}
	exec, s, _, run := setup(t, p)

	status := exec.Execute(context.Background(), p, run)
	if status != domain.RunStatusFailed {
		t.Errorf("expected failed, got %s", status)
	}
	if cInvoked {
		t.Error("task after failure must not be invoked")
	}

	got, _ := s.GetRun(context.Background(), run.ID)
	if got.Status != domain.RunStatusFailed {
		t.Errorf("expected stored status failed, got %s", got.Status)
	}
	if !strings.Contains(got.Error, "upstream unavailable") {
		t.Errorf("expected run error to mention cause, got %q", got.Error)
	}

	want := []domain.TaskStatus{domain.TaskStatusCompleted, domain.TaskStatusFailed, domain.TaskStatusSkipped}
	for i, st := range want {
		if got.Tasks[i].Status != st {
			t.Errorf("task %s: expected %s, got %s", got.Tasks[i].TaskID, st, got.Tasks[i].Status)
		}
	}
	if got.Tasks[1].Error == nil || got.Tasks[1].Error.Message != "upstream unavailable" {
		t.Errorf("expected error detail on b, got %+v", got.Tasks[1].Error)
	}

	data, err := s.GetTaskArtifact(context.Background(), run.ID, "a")
	if err != nil || string(data) != `{"rows":3}` {
		t.Errorf("expected artifact of a, got %s (%v)", data, err)
	}
	if _, err := s.GetTaskArtifact(context.Background(), run.ID, "c"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no artifact for skipped task, got %v", err)
	}
}

func TestExecute_PassesInputAndParams(t *testing.T) {
	var seenInput any
	var seenParam any
	p := &domain.Pipeline{
		ID: "sales",
		Tasks: []domain.Task{
			{ID: "get_sales_data", Run: func(context.Context, *domain.TaskContext) (any, error) {
				return []int{1, 2, 3}, nil
			}},
			{ID: "upload", Run: func(_ context.Context, tc *domain.TaskContext) (any, error) {
				seenInput = tc.Input
				seenParam = tc.Params["some_value"]
				return nil, nil
			}},
		},
	}
	exec, s, _, run := setup(t, p)

	if status := exec.Execute(context.Background(), p, run); status != domain.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", status)
	}

	in, ok := seenInput.([]int)
	if !ok || len(in) != 3 {
		t.Errorf("expected previous output as input, got %v", seenInput)
	}
	if seenParam != int64(2) {
		t.Errorf("expected param 2, got %v", seenParam)
	}

	got, _ := s.GetRun(context.Background(), run.ID)
	if got.Tasks[1].HasArtifact {
		t.Error("nil output must not produce artifact")
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("expected run timestamps")
	}
}

func TestExecute_PanicIsCaptured(t *testing.T) {
	p := &domain.Pipeline{
		ID: "p",
		Tasks: []domain.Task{
			{ID: "boom", Run: func(context.Context, *domain.TaskContext) (any, error) {
				var m map[string]int
				m["x"] = 1
				return nil, nil
			}},
		},
	}
	exec, s, _, run := setup(t, p)

	if status := exec.Execute(context.Background(), p, run); status != domain.RunStatusFailed {
		t.Fatalf("expected failed, got %s", status)
	}

	got, _ := s.GetRun(context.Background(), run.ID)
	detail := got.Tasks[0].Error
	if detail == nil || !strings.HasPrefix(detail.Message, "panic:") {
		t.Fatalf("expected panic message, got %+v", detail)
	}
	if !strings.Contains(detail.Trace, "goroutine") {
		t.Errorf("expected goroutine stack in trace, got %q", detail.Trace)
	}
}

func TestExecute_UnserializableOutputFails(t *testing.T) {
	p := &domain.Pipeline{
		ID: "p",
		Tasks: []domain.Task{
			{ID: "a", Run: func(context.Context, *domain.TaskContext) (any, error) {
				return make(chan int), nil
			}},
		},
	}
	exec, s, _, run := setup(t, p)

	if status := exec.Execute(context.Background(), p, run); status != domain.RunStatusFailed {
		t.Fatalf("expected failed, got %s", status)
	}

	got, _ := s.GetRun(context.Background(), run.ID)
	if got.Tasks[0].Error == nil || !strings.Contains(got.Tasks[0].Error.Message, "serialize") {
		t.Errorf("expected serialization error, got %+v", got.Tasks[0].Error)
	}
}

func TestExecute_Timeout(t *testing.T) {
	p := &domain.Pipeline{
		ID: "p",
		Tasks: []domain.Task{
			{ID: "slow", Timeout: 20 * time.Millisecond, Run: func(ctx context.Context, _ *domain.TaskContext) (any, error) {
				<-ctx.Done()
				time.Sleep(50 * time.Millisecond)
				return "late", nil
			}},
		},
	}
	exec, s, _, run := setup(t, p)

	if status := exec.Execute(context.Background(), p, run); status != domain.RunStatusFailed {
		t.Fatalf("expected failed, got %s", status)
	}

	got, _ := s.GetRun(context.Background(), run.ID)
	if got.Tasks[0].Error == nil || !strings.Contains(got.Tasks[0].Error.Message, "timed out") {
		t.Errorf("expected timeout error, got %+v", got.Tasks[0].Error)
	}
}

// gatedStore задерживает финализацию run до закрытия gate.
type gatedStore struct {
	store.RunStore
	gate <-chan struct{}
}

func (g *gatedStore) FinalizeRun(ctx context.Context, runID int64, fin store.Final) error {
	<-g.gate
	return g.RunStore.FinalizeRun(ctx, runID, fin)
}

func TestExecute_TimedOutTaskCannotLog(t *testing.T) {
	mem := store.NewMemory()
	gate := make(chan struct{})
	exec := New(Config{Store: &gatedStore{RunStore: mem, gate: gate}, FinalizeDelay: time.Millisecond})

	var runID int64
	p := &domain.Pipeline{
		ID: "p",
		Tasks: []domain.Task{
			{ID: "slow", Timeout: 20 * time.Millisecond, Run: func(ctx context.Context, tc *domain.TaskContext) (any, error) {
				defer close(gate)

				tc.Logger.Info("started")
				<-ctx.Done()

				// Ждём, пока executor запишет failed
				deadline := time.Now().Add(time.Second)
				for time.Now().Before(deadline) {
					got, err := mem.GetRun(context.Background(), runID)
					if err == nil && got.Tasks[0].Status == domain.TaskStatusFailed {
						break
					}
					time.Sleep(time.Millisecond)
				}

				tc.Logger.Info("after timeout")
				return nil, nil
			}},
		},
	}

	run, err := mem.CreateRun(context.Background(), store.NewRun{PipelineID: p.ID, TaskIDs: p.TaskIDs()})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	runID = run.ID

	if status := exec.Execute(context.Background(), p, run); status != domain.RunStatusFailed {
		t.Fatalf("expected failed, got %s", status)
	}

	logs, err := mem.GetLogs(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Message != "started" {
		t.Errorf("expected only the log written before timeout, got %+v", logs)
	}
}

func TestExecute_CapturesLogsInOrder(t *testing.T) {
	p := &domain.Pipeline{
		ID: "p",
		Tasks: []domain.Task{
			{ID: "a", Run: func(_ context.Context, tc *domain.TaskContext) (any, error) {
				tc.Logger.Debug("one")
				tc.Logger.Info("two", "rows", 5)
				tc.Logger.With("region", "eu").Warn("three")
				tc.Logger.Error("four")
				return nil, nil
			}},
		},
	}
	exec, s, _, run := setup(t, p)
	exec.Execute(context.Background(), p, run)

	logs, err := s.GetLogs(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}

	want := []struct {
		level domain.LogLevel
		msg   string
	}{
		{domain.LogLevelDebug, "one"},
		{domain.LogLevelInfo, "two rows=5"},
		{domain.LogLevelWarn, "three region=eu"},
		{domain.LogLevelError, "four"},
	}
	if len(logs) != len(want) {
		t.Fatalf("expected %d logs, got %d", len(want), len(logs))
	}
	for i, w := range want {
		if logs[i].Level != w.level || logs[i].Message != w.msg || logs[i].TaskID != "a" {
			t.Errorf("log %d: expected %s %q, got %s %q (task %s)", i, w.level, w.msg, logs[i].Level, logs[i].Message, logs[i].TaskID)
		}
		if logs[i].Timestamp.IsZero() {
			t.Errorf("log %d: expected timestamp", i)
		}
	}
}

func TestExecute_EventSequence(t *testing.T) {
	p := &domain.Pipeline{
		ID: "p",
		Tasks: []domain.Task{
			{ID: "a", Run: func(_ context.Context, tc *domain.TaskContext) (any, error) {
				tc.Logger.Info("hello")
				return 1, nil
			}},
			{ID: "b", Run: func(context.Context, *domain.TaskContext) (any, error) {
				return nil, errors.New("fail")
			}},
			{ID: "c", Run: func(context.Context, *domain.TaskContext) (any, error) { return nil, nil }},
		},
	}
	exec, _, pub, run := setup(t, p)
	exec.Execute(context.Background(), p, run)

	type step struct {
		typ    domain.EventType
		task   string
		status string
	}
	want := []step{
		{domain.EventRunUpdate, "", "running"},
		{domain.EventTaskResult, "a", "running"},
		{domain.EventTaskLog, "a", ""},
		{domain.EventTaskResult, "a", "completed"},
		{domain.EventTaskResult, "b", "running"},
		{domain.EventTaskResult, "b", "failed"},
		{domain.EventTaskResult, "c", "skipped"},
		{domain.EventRunUpdate, "", "failed"},
	}

	events := pub.all()
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, w := range want {
		e := events[i]
		status := ""
		switch {
		case e.Run != nil:
			status = string(e.Run.Status)
		case e.Task != nil:
			status = string(e.Task.Status)
		}
		if e.Type != w.typ || e.TaskID != w.task || status != w.status {
			t.Errorf("event %d: expected %s/%s/%s, got %s/%s/%s", i, w.typ, w.task, w.status, e.Type, e.TaskID, status)
		}
		if e.RunID != run.ID {
			t.Errorf("event %d: expected run %d, got %d", i, run.ID, e.RunID)
		}
	}
	if events[2].Log == nil || events[2].Log.Seq != 1 {
		t.Errorf("expected stored log entry with seq 1, got %+v", events[2].Log)
	}
}

// --- Reject Tests ---

func TestReject_SkipsAllTasks(t *testing.T) {
	invoked := false
	p := &domain.Pipeline{
		ID: "p",
		Tasks: []domain.Task{
			{ID: "a", Run: func(context.Context, *domain.TaskContext) (any, error) { invoked = true; return nil, nil }},
			{ID: "b", Run: func(context.Context, *domain.TaskContext) (any, error) { invoked = true; return nil, nil }},
		},
	}
	exec, s, _, run := setup(t, p)

	exec.Reject(context.Background(), run, "invalid params: n: expected int, got string")

	if invoked {
		t.Error("rejected run must not invoke tasks")
	}

	got, _ := s.GetRun(context.Background(), run.ID)
	if got.Status != domain.RunStatusFailed || !strings.Contains(got.Error, "invalid params") {
		t.Errorf("expected failed with reason, got %s %q", got.Status, got.Error)
	}
	for _, tr := range got.Tasks {
		if tr.Status != domain.TaskStatusSkipped {
			t.Errorf("task %s: expected skipped, got %s", tr.TaskID, tr.Status)
		}
	}
}

// --- Finalize Tests ---

type flakyStore struct {
	store.RunStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) FinalizeRun(ctx context.Context, runID int64, fin store.Final) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()

	if fail {
		return errors.New("connection reset")
	}
	return f.RunStore.FinalizeRun(ctx, runID, fin)
}

func TestExecute_RetriesFinalize(t *testing.T) {
	mem := store.NewMemory()
	flaky := &flakyStore{RunStore: mem, failures: 2}
	exec := New(Config{Store: flaky, FinalizeDelay: time.Millisecond})

	p := &domain.Pipeline{
		ID:    "p",
		Tasks: []domain.Task{{ID: "a", Run: func(context.Context, *domain.TaskContext) (any, error) { return nil, nil }}},
	}
	run, _ := mem.CreateRun(context.Background(), store.NewRun{PipelineID: "p", TaskIDs: p.TaskIDs()})

	exec.Execute(context.Background(), p, run)

	got, _ := mem.GetRun(context.Background(), run.ID)
	if got.Status != domain.RunStatusCompleted {
		t.Errorf("expected completed after retries, got %s", got.Status)
	}
	if flaky.calls != 3 {
		t.Errorf("expected 3 finalize attempts, got %d", flaky.calls)
	}
}

// --- Concurrency Tests ---

func TestExecute_ConcurrentRunsAreIsolated(t *testing.T) {
	s := store.NewMemory()
	exec := New(Config{Store: s})

	p := &domain.Pipeline{
		ID: "p",
		Tasks: []domain.Task{
			{ID: "a", Run: func(_ context.Context, tc *domain.TaskContext) (any, error) {
				for i := 0; i < 10; i++ {
					tc.Logger.Info("line", "run", tc.RunID)
					time.Sleep(time.Millisecond)
				}
				return tc.RunID, nil
			}},
		},
	}

	var wg sync.WaitGroup
	runs := make([]*domain.Run, 2)
	for i := range runs {
		runs[i], _ = s.CreateRun(context.Background(), store.NewRun{PipelineID: "p", TaskIDs: p.TaskIDs()})
		wg.Add(1)
		go func(r *domain.Run) {
			defer wg.Done()
			exec.Execute(context.Background(), p, r)
		}(runs[i])
	}
	wg.Wait()

	if runs[0].ID == runs[1].ID {
		t.Fatal("expected distinct run ids")
	}
	for _, r := range runs {
		logs, _ := s.GetLogs(context.Background(), r.ID)
		if len(logs) != 10 {
			t.Errorf("run %d: expected 10 logs, got %d", r.ID, len(logs))
		}
		for _, l := range logs {
			if !strings.HasSuffix(l.Message, "run="+itoa(r.ID)) {
				t.Errorf("run %d: foreign log line %q", r.ID, l.Message)
			}
		}
		data, _ := s.GetTaskArtifact(context.Background(), r.ID, "a")
		if string(data) != itoa(r.ID) {
			t.Errorf("run %d: expected own artifact, got %s", r.ID, data)
		}
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
