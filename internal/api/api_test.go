package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/hub"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/registry"
	"github.com/shaiso/Conveyor/internal/store"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

type testEnv struct {
	mux  *http.ServeMux
	orch *orchestrator.Orchestrator
	hub  *hub.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg := registry.New()
	reg.MustRegister(&domain.Pipeline{
		ID:   "sales_pipeline",
		Name: "Sales",
		Tasks: []domain.Task{
			{ID: "fetch", Run: func(_ context.Context, tc *domain.TaskContext) (any, error) {
				tc.Logger.Info("fetched", "region", tc.Params["region"])
				return map[string]any{"rows": 3}, nil
			}},
			{ID: "report", Run: func(_ context.Context, tc *domain.TaskContext) (any, error) {
				tc.Logger.Warn("no recipients")
				return nil, nil
			}},
		},
		Triggers: []domain.Trigger{
			{ID: "daily", Schedule: domain.Schedule{Kind: domain.ScheduleCron, Cron: "30 22 * * *"}, Params: map[string]any{"region": "eu"}},
		},
		Params: &domain.ParamSchema{Fields: []domain.ParamField{
			{Name: "region", Type: domain.ParamString, Required: true},
		}},
	})
	reg.MustRegister(&domain.Pipeline{
		ID: "broken",
		Tasks: []domain.Task{
			{ID: "a", Run: func(context.Context, *domain.TaskContext) (any, error) { return nil, errors.New("boom") }},
			{ID: "b", Run: func(context.Context, *domain.TaskContext) (any, error) { return 1, nil }},
		},
	})
	reg.Seal()

	s := store.NewMemory()
	h := hub.New(hub.Config{})
	exec := executor.New(executor.Config{Store: s, Publisher: h, FinalizeDelay: time.Millisecond})
	orch := orchestrator.New(orchestrator.Config{Catalog: reg, Store: s, Executor: exec})

	mux := http.NewServeMux()
	NewHandler(Config{Orchestrator: orch, Store: s, Hub: h}).RegisterRoutes(mux)

	return &testEnv{mux: mux, orch: orch, hub: h}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
	return v
}

type runEnvelope struct {
	Data RunResponse `json:"data"`
}

type errorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// --- Pipeline Tests ---

func TestListPipelines(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/pipelines", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	resp := decode[struct {
		Data  []orchestrator.PipelineView `json:"data"`
		Total int                         `json:"total"`
	}](t, rec)

	if resp.Total != 2 || resp.Data[0].ID != "sales_pipeline" || resp.Data[1].ID != "broken" {
		t.Errorf("pipelines = %+v", resp)
	}
	if len(resp.Data[0].Triggers) != 1 || resp.Data[0].Triggers[0].Schedule.Cron != "30 22 * * *" {
		t.Errorf("triggers = %+v", resp.Data[0].Triggers)
	}
}

func TestGetPipeline(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/pipelines/sales_pipeline", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/pipelines/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", rec.Code)
	}
}

func TestGetInputSchema(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/pipelines/sales_pipeline/input-schema", "")
	schema := decode[struct {
		Data domain.ParamSchema `json:"data"`
	}](t, rec)
	if len(schema.Data.Fields) != 1 || schema.Data.Fields[0].Name != "region" {
		t.Errorf("schema = %+v", schema.Data)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/pipelines/broken/input-schema", "")
	empty := decode[struct {
		Data domain.ParamSchema `json:"data"`
	}](t, rec)
	if empty.Data.Fields == nil || len(empty.Data.Fields) != 0 {
		t.Errorf("pipeline without params: schema = %+v, want empty fields", empty.Data)
	}
}

// --- Run Tests ---

func TestRunPipeline_FullCycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/pipelines/sales_pipeline/run", `{"params":{"region":"us"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	created := decode[runEnvelope](t, rec)
	if created.Data.ID == 0 || created.Data.PipelineID != "sales_pipeline" {
		t.Fatalf("run = %+v", created.Data)
	}
	env.orch.Wait()

	path := "/api/v1/runs/" + itoa(created.Data.ID)

	// Run
	got := decode[runEnvelope](t, env.do(t, http.MethodGet, path, ""))
	if got.Data.Status != domain.RunStatusCompleted {
		t.Errorf("status = %s", got.Data.Status)
	}
	if !got.Data.Tasks[0].HasData || got.Data.Tasks[1].HasData {
		t.Errorf("has_data = %v/%v, want true/false", got.Data.Tasks[0].HasData, got.Data.Tasks[1].HasData)
	}

	// Logs
	rec = env.do(t, http.MethodGet, path+"/logs", "")
	if ct := rec.Header().Get("Content-Type"); ct != "application/jsonl" {
		t.Errorf("logs Content-Type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want 2: %q", len(lines), rec.Body.String())
	}
	var first struct {
		Task    string `json:"task"`
		Level   string `json:"level"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("log line: %v", err)
	}
	if first.Task != "fetch" || first.Level != "INFO" || !strings.HasPrefix(first.Message, "fetched") {
		t.Errorf("first log = %+v", first)
	}

	// Data
	rec = env.do(t, http.MethodGet, path+"/data/fetch", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"rows":3}` {
		t.Errorf("data: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, path+"/data/report", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("no data: status = %d, want 404", rec.Code)
	}
	if e := decode[errorEnvelope](t, rec); e.Error.Message != "Task has no data" {
		t.Errorf("message = %q", e.Error.Message)
	}

	rec = env.do(t, http.MethodGet, path+"/data/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown task: status = %d, want 404", rec.Code)
	}
}

func TestRunPipeline_FailedTaskSkipsRest(t *testing.T) {
	env := newTestEnv(t)

	created := decode[runEnvelope](t, env.do(t, http.MethodPost, "/api/v1/pipelines/broken/run", ""))
	env.orch.Wait()

	path := "/api/v1/runs/" + itoa(created.Data.ID)
	got := decode[runEnvelope](t, env.do(t, http.MethodGet, path, ""))

	if got.Data.Status != domain.RunStatusFailed {
		t.Errorf("status = %s, want failed", got.Data.Status)
	}
	if got.Data.Tasks[0].Error == nil || got.Data.Tasks[0].Error.Message != "boom" {
		t.Errorf("task a error = %+v", got.Data.Tasks[0].Error)
	}
	if got.Data.Tasks[1].Status != domain.TaskStatusSkipped {
		t.Errorf("task b status = %s, want skipped", got.Data.Tasks[1].Status)
	}

	if rec := env.do(t, http.MethodGet, path+"/data/b", ""); rec.Code != http.StatusNotFound {
		t.Errorf("skipped task data: status = %d, want 404", rec.Code)
	}
}

func TestRunPipeline_InvalidParams(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/pipelines/sales_pipeline/run", `{"params":{"colour":"red"}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}

	e := decode[errorEnvelope](t, rec)
	if e.Error.Code != ErrCodeInvalidParams || e.Error.RunID == 0 || len(e.Error.Fields) != 2 {
		t.Errorf("error = %+v", e.Error)
	}

	got := decode[runEnvelope](t, env.do(t, http.MethodGet, "/api/v1/runs/"+itoa(e.Error.RunID), ""))
	if got.Data.Status != domain.RunStatusFailed {
		t.Errorf("rejected run status = %s", got.Data.Status)
	}
}

func TestRunPipeline_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad body", http.MethodPost, "/api/v1/pipelines/sales_pipeline/run", "{", http.StatusBadRequest},
		{"unknown pipeline", http.MethodPost, "/api/v1/pipelines/missing/run", "", http.StatusNotFound},
		{"unknown trigger", http.MethodPost, "/api/v1/pipelines/sales_pipeline/triggers/hourly/run", "", http.StatusNotFound},
		{"bad run id", http.MethodGet, "/api/v1/runs/abc", "", http.StatusBadRequest},
		{"missing run", http.MethodGet, "/api/v1/runs/999", "", http.StatusNotFound},
		{"missing run logs", http.MethodGet, "/api/v1/runs/999/logs", "", http.StatusNotFound},
		{"bad limit", http.MethodGet, "/api/v1/runs?limit=-1", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, tt.method, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body: %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRunTrigger_UsesTriggerParams(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/pipelines/sales_pipeline/triggers/daily/run", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	created := decode[runEnvelope](t, rec)
	if created.Data.TriggerID == nil || *created.Data.TriggerID != "daily" {
		t.Errorf("trigger_id = %v", created.Data.TriggerID)
	}
	if created.Data.Params["region"] != "eu" {
		t.Errorf("params = %v", created.Data.Params)
	}
	env.orch.Wait()
}

func TestListRuns_Filter(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/api/v1/pipelines/sales_pipeline/triggers/daily/run", "")
	env.do(t, http.MethodPost, "/api/v1/pipelines/sales_pipeline/run", `{"params":{"region":"us"}}`)
	env.do(t, http.MethodPost, "/api/v1/pipelines/broken/run", "")
	env.orch.Wait()

	type listEnvelope struct {
		Data  []RunResponse `json:"data"`
		Total int           `json:"total"`
	}

	all := decode[listEnvelope](t, env.do(t, http.MethodGet, "/api/v1/runs", ""))
	if all.Total != 3 {
		t.Errorf("total = %d, want 3", all.Total)
	}
	if all.Data[0].ID < all.Data[len(all.Data)-1].ID {
		t.Error("runs should be listed newest first")
	}

	sales := decode[listEnvelope](t, env.do(t, http.MethodGet, "/api/v1/runs?pipeline_id=sales_pipeline", ""))
	if sales.Total != 2 {
		t.Errorf("sales total = %d, want 2", sales.Total)
	}

	daily := decode[listEnvelope](t, env.do(t, http.MethodGet, "/api/v1/runs?pipeline_id=sales_pipeline&trigger_id=daily", ""))
	if daily.Total != 1 {
		t.Errorf("daily total = %d, want 1", daily.Total)
	}

	limited := decode[listEnvelope](t, env.do(t, http.MethodGet, "/api/v1/runs?limit=1", ""))
	if limited.Total != 1 {
		t.Errorf("limited total = %d, want 1", limited.Total)
	}
}

// --- Events Tests ---

func TestStreamEvents(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.mux)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/events?pipeline_id=broken", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, _ := reader.ReadString('\n'); !strings.HasPrefix(line, ": connected") {
		t.Fatalf("first line = %q", line)
	}

	// Run другого pipeline не попадает в поток
	env.do(t, http.MethodPost, "/api/v1/pipelines/sales_pipeline/run", `{"params":{"region":"us"}}`)
	env.do(t, http.MethodPost, "/api/v1/pipelines/broken/run", "")

	var types []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v (events so far: %v)", err, types)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var e domain.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
			t.Fatalf("event: %v", err)
		}
		if e.PipelineID != "broken" {
			t.Errorf("unexpected pipeline %q in filtered stream", e.PipelineID)
		}
		types = append(types, string(e.Type))

		if e.Type == domain.EventRunUpdate && e.Run != nil && e.Run.Status.IsTerminal() {
			if e.Run.Status != domain.RunStatusFailed {
				t.Errorf("final status = %s, want failed", e.Run.Status)
			}
			break
		}
	}

	if types[0] != string(domain.EventRunUpdate) {
		t.Errorf("first event = %s, want run_update", types[0])
	}
	env.orch.Wait()
}

func TestStreamEvents_Disabled(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(Config{Store: store.NewMemory()}).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// --- Middleware Tests ---

func TestRecovery(t *testing.T) {
	h := Recovery(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mark("a"), mark("b"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if strings.Join(order, ",") != "a,b,handler" {
		t.Errorf("order = %v", order)
	}
}

// --- Helpers ---

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func discardLogger() *slog.Logger {
	return telemetry.Discard()
}
