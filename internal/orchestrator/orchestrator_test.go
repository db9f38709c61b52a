package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/registry"
	"github.com/shaiso/Conveyor/internal/store"
)

type paramsRecorder struct {
	mu     sync.Mutex
	params []domain.Params
}

func (r *paramsRecorder) task(_ context.Context, tc *domain.TaskContext) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = append(r.params, tc.Params)
	return map[string]any{"run": tc.RunID}, nil
}

func (r *paramsRecorder) last() domain.Params {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.params) == 0 {
		return nil
	}
	return r.params[len(r.params)-1]
}

func salesPipeline(rec *paramsRecorder) *domain.Pipeline {
	return &domain.Pipeline{
		ID:   "sales_pipeline",
		Name: "Sales",
		Tasks: []domain.Task{
			{ID: "fetch", Run: rec.task, Timeout: time.Second},
			{ID: "report", Run: func(_ context.Context, tc *domain.TaskContext) (any, error) {
				return tc.Input, nil
			}},
		},
		Triggers: []domain.Trigger{
			{
				ID:       "daily",
				Schedule: domain.Schedule{Kind: domain.ScheduleInterval, Interval: domain.Interval{Days: 1}},
				Params:   map[string]any{"region": "eu", "limit": 10},
			},
			{ID: "adhoc", Schedule: domain.Schedule{Kind: domain.ScheduleManual}},
		},
		Params: &domain.ParamSchema{Fields: []domain.ParamField{
			{Name: "region", Type: domain.ParamString, Required: true},
			{Name: "limit", Type: domain.ParamInt, Default: 5},
		}},
	}
}

func setup(t *testing.T, pipelines ...*domain.Pipeline) (*Orchestrator, store.RunStore) {
	t.Helper()

	reg := registry.New()
	for _, p := range pipelines {
		if err := reg.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.ID, err)
		}
	}
	reg.Seal()

	s := store.NewMemory()
	exec := executor.New(executor.Config{Store: s, FinalizeDelay: time.Millisecond})

	return New(Config{Catalog: reg, Store: s, Executor: exec}), s
}

func getRun(t *testing.T, s store.RunStore, id int64) *domain.Run {
	t.Helper()
	run, err := s.GetRun(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRun(%d): %v", id, err)
	}
	return run
}

// --- RunPipeline Tests ---

func TestRunPipeline_Manual(t *testing.T) {
	rec := &paramsRecorder{}
	o, s := setup(t, salesPipeline(rec))

	id, err := o.RunPipeline(context.Background(), RunRequest{
		PipelineID: "sales_pipeline",
		Params:     map[string]any{"region": "us"},
	})
	if err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}
	o.Wait()

	run := getRun(t, s, id)
	if run.Status != domain.RunStatusCompleted {
		t.Errorf("status = %s, want completed (error: %s)", run.Status, run.Error)
	}
	if run.TriggerID != nil {
		t.Errorf("TriggerID = %v, want nil", *run.TriggerID)
	}
	if len(run.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(run.Tasks))
	}

	got := rec.last()
	if got["region"] != "us" || got["limit"] != int64(5) {
		t.Errorf("params = %v, want region=us limit=5", got)
	}
	if o.ActiveRunsCount() != 0 {
		t.Errorf("active runs = %d after Wait", o.ActiveRunsCount())
	}
}

func TestRunPipeline_TriggerParamsMerged(t *testing.T) {
	rec := &paramsRecorder{}
	o, s := setup(t, salesPipeline(rec))

	trigger := "daily"
	id, err := o.RunPipeline(context.Background(), RunRequest{
		PipelineID: "sales_pipeline",
		TriggerID:  &trigger,
		Params:     map[string]any{"limit": "20"},
	})
	if err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}
	o.Wait()

	got := rec.last()
	if got["region"] != "eu" {
		t.Errorf("region = %v, want trigger default eu", got["region"])
	}
	if got["limit"] != int64(20) {
		t.Errorf("limit = %v, want override 20", got["limit"])
	}

	run := getRun(t, s, id)
	if run.TriggerID == nil || *run.TriggerID != "daily" {
		t.Errorf("TriggerID = %v, want daily", run.TriggerID)
	}
}

func TestRunPipeline_NotFound(t *testing.T) {
	o, _ := setup(t, salesPipeline(&paramsRecorder{}))

	_, err := o.RunPipeline(context.Background(), RunRequest{PipelineID: "missing"})
	if !errors.Is(err, ErrPipelineNotFound) {
		t.Errorf("err = %v, want ErrPipelineNotFound", err)
	}

	trigger := "hourly"
	_, err = o.RunPipeline(context.Background(), RunRequest{PipelineID: "sales_pipeline", TriggerID: &trigger})
	if !errors.Is(err, ErrTriggerNotFound) {
		t.Errorf("err = %v, want ErrTriggerNotFound", err)
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound should be true")
	}
}

func TestRunPipeline_ValidationFailureRecordsRun(t *testing.T) {
	rec := &paramsRecorder{}
	o, s := setup(t, salesPipeline(rec))

	id, err := o.RunPipeline(context.Background(), RunRequest{
		PipelineID: "sales_pipeline",
		Params:     map[string]any{"limit": "many", "color": "red"},
	})

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if id == 0 {
		t.Fatal("run id should be returned with validation error")
	}
	if len(verr.Fields) != 3 {
		t.Errorf("fields = %+v, want color, region, limit", verr.Fields)
	}

	run := getRun(t, s, id)
	if run.Status != domain.RunStatusFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
	for _, tr := range run.Tasks {
		if tr.Status != domain.TaskStatusSkipped {
			t.Errorf("task %s status = %s, want skipped", tr.TaskID, tr.Status)
		}
	}
	if rec.last() != nil {
		t.Error("no task should run for invalid params")
	}
}

func TestRunPipeline_DetachedFromRequest(t *testing.T) {
	release := make(chan struct{})
	p := &domain.Pipeline{
		ID: "slow",
		Tasks: []domain.Task{{ID: "wait", Run: func(ctx context.Context, _ *domain.TaskContext) (any, error) {
			select {
			case <-release:
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}}},
	}
	o, s := setup(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	id, err := o.RunPipeline(ctx, RunRequest{PipelineID: "slow"})
	if err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}
	cancel()

	if !o.IsRunActive(id) {
		t.Error("run should be active")
	}
	close(release)
	o.Wait()

	if run := getRun(t, s, id); run.Status != domain.RunStatusCompleted {
		t.Errorf("status = %s, want completed", run.Status)
	}
}

func TestRunPipeline_ConcurrentRuns(t *testing.T) {
	rec := &paramsRecorder{}
	o, s := setup(t, salesPipeline(rec))

	const n = 10
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := o.RunPipeline(context.Background(), RunRequest{
				PipelineID: "sales_pipeline",
				Params:     map[string]any{"region": "eu"},
			})
			if err != nil {
				t.Errorf("RunPipeline: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)
	o.Wait()

	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate run id %d", id)
		}
		seen[id] = true

		run := getRun(t, s, id)
		if run.Status != domain.RunStatusCompleted {
			t.Errorf("run %d status = %s", id, run.Status)
		}
	}
	if len(seen) != n {
		t.Errorf("runs = %d, want %d", len(seen), n)
	}
}

func TestRunPipeline_Stopped(t *testing.T) {
	o, _ := setup(t, salesPipeline(&paramsRecorder{}))

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	o.Stop()
	o.Stop()

	if !o.IsStopped() {
		t.Error("IsStopped should be true")
	}
	_, err := o.RunPipeline(context.Background(), RunRequest{PipelineID: "sales_pipeline"})
	if !errors.Is(err, ErrOrchestratorStopped) {
		t.Errorf("err = %v, want ErrOrchestratorStopped", err)
	}
}

func TestLaunch(t *testing.T) {
	o, s := setup(t, salesPipeline(&paramsRecorder{}))

	id, err := o.Launch(context.Background(), "sales_pipeline", "daily")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	o.Wait()

	run := getRun(t, s, id)
	if run.TriggerID == nil || *run.TriggerID != "daily" {
		t.Errorf("TriggerID = %v, want daily", run.TriggerID)
	}
}

func TestShutdown_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	p := &domain.Pipeline{
		ID: "stuck",
		Tasks: []domain.Task{{ID: "block", Run: func(_ context.Context, _ *domain.TaskContext) (any, error) {
			<-release
			return nil, nil
		}}},
	}
	o, _ := setup(t, p)

	if _, err := o.RunPipeline(context.Background(), RunRequest{PipelineID: "stuck"}); err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := o.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown err = %v, want DeadlineExceeded", err)
	}
}

// --- Describe Tests ---

type fixedNextFire map[string]time.Time

func (f fixedNextFire) NextFire(pipelineID, triggerID string) (time.Time, bool) {
	at, ok := f[pipelineID+"/"+triggerID]
	return at, ok
}

func TestDescribe(t *testing.T) {
	o, _ := setup(t, salesPipeline(&paramsRecorder{}))

	next := time.Date(2024, 3, 31, 22, 30, 0, 0, time.UTC)
	o.SetNextFirer(fixedNextFire{"sales_pipeline/daily": next})

	v, err := o.Describe("sales_pipeline")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}

	if v.Name != "Sales" || len(v.Tasks) != 2 || len(v.Triggers) != 2 {
		t.Fatalf("view = %+v", v)
	}
	if v.Tasks[0].Timeout != "1s" {
		t.Errorf("timeout = %q, want 1s", v.Tasks[0].Timeout)
	}
	if v.Triggers[0].NextFireTime == nil || !v.Triggers[0].NextFireTime.Equal(next) {
		t.Errorf("daily next fire = %v, want %v", v.Triggers[0].NextFireTime, next)
	}
	if v.Triggers[1].NextFireTime != nil {
		t.Errorf("manual trigger next fire = %v, want nil", v.Triggers[1].NextFireTime)
	}
	if v.Params == nil || len(v.Params.Fields) != 2 {
		t.Errorf("input schema = %+v", v.Params)
	}

	if _, err := o.Describe("missing"); !errors.Is(err, ErrPipelineNotFound) {
		t.Errorf("err = %v, want ErrPipelineNotFound", err)
	}

	if all := o.DescribeAll(); len(all) != 1 || all[0].ID != "sales_pipeline" {
		t.Errorf("DescribeAll = %+v", all)
	}
}

// --- Handler Tests ---

func delivery(payload mq.RunRequestedPayload) *mq.Delivery {
	msg := mq.NewMessage(mq.MessageTypeRunRequested, payload)
	return &mq.Delivery{Message: *msg}
}

func TestHandleRunRequested(t *testing.T) {
	o, s := setup(t, salesPipeline(&paramsRecorder{}))
	ctx := context.Background()

	// Неизвестный pipeline — в DLQ
	err := o.handleRunRequested(ctx, delivery(mq.RunRequestedPayload{PipelineID: "missing"}))
	if !mq.IsPermanent(err) {
		t.Errorf("missing pipeline: err = %v, want permanent", err)
	}

	// Невалидные параметры — ack, run записан как failed
	err = o.handleRunRequested(ctx, delivery(mq.RunRequestedPayload{PipelineID: "sales_pipeline"}))
	if err != nil {
		t.Errorf("invalid params: err = %v, want nil", err)
	}

	// Успешный запуск по trigger
	err = o.handleRunRequested(ctx, delivery(mq.RunRequestedPayload{PipelineID: "sales_pipeline", TriggerID: "daily"}))
	if err != nil {
		t.Fatalf("valid request: %v", err)
	}
	o.Wait()

	runs, err := s.ListRuns(ctx, store.Filter{PipelineID: "sales_pipeline"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}

	statuses := map[domain.RunStatus]int{}
	for _, r := range runs {
		statuses[r.Status]++
	}
	if statuses[domain.RunStatusFailed] != 1 || statuses[domain.RunStatusCompleted] != 1 {
		t.Errorf("statuses = %v, want one failed and one completed", statuses)
	}
}
