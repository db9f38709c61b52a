package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// PipelineResponse — pipeline из API.
type PipelineResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Tasks       []TaskResponse    `json:"tasks"`
	Triggers    []TriggerResponse `json:"triggers"`
	InputSchema json.RawMessage   `json:"input_schema,omitempty"`
}

// TaskResponse — описание task pipeline.
type TaskResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

// TriggerResponse — trigger pipeline.
type TriggerResponse struct {
	ID           string           `json:"id"`
	Name         string           `json:"name,omitempty"`
	Schedule     ScheduleResponse `json:"schedule"`
	Params       map[string]any   `json:"params,omitempty"`
	NextFireTime string           `json:"next_fire_time,omitempty"`
}

// ScheduleResponse — расписание trigger.
type ScheduleResponse struct {
	Kind     string         `json:"kind"`
	Interval map[string]int `json:"interval,omitempty"`
	Cron     string         `json:"cron,omitempty"`
	Timezone string         `json:"timezone,omitempty"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID          int64             `json:"id"`
	PipelineID  string            `json:"pipeline_id"`
	TriggerID   string            `json:"trigger_id,omitempty"`
	Status      string            `json:"status"`
	Params      map[string]any    `json:"params,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   string            `json:"created_at"`
	StartedAt   string            `json:"started_at,omitempty"`
	CompletedAt string            `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
	Tasks       []TaskRunResponse `json:"tasks"`
}

// IsFinished возвращает true, если run в финальном статусе.
func (r *RunResponse) IsFinished() bool {
	return r.Status == "completed" || r.Status == "failed"
}

// TaskRunResponse — task run из API.
type TaskRunResponse struct {
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	HasData    bool   `json:"has_data"`
	DurationMs int64  `json:"duration_ms"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// EventResponse — live-событие из потока /events.
//
// Run, Log и Task заполняются из payload в зависимости от Type.
type EventResponse struct {
	Type       string          `json:"type"`
	RunID      int64           `json:"run_id"`
	PipelineID string          `json:"pipeline_id"`
	TaskID     string          `json:"task_id,omitempty"`
	At         string          `json:"at"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	Run *struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	} `json:"-"`

	Log *struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	} `json:"-"`

	Task *struct {
		Status string `json:"status"`
	} `json:"-"`
}

// UnmarshalJSON разбирает payload по Type. Неизвестный тип оставляет
// payload сырым.
func (e *EventResponse) UnmarshalJSON(data []byte) error {
	type plain EventResponse
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = EventResponse(p)

	if len(e.Payload) == 0 {
		return nil
	}

	var target any
	switch e.Type {
	case "run_update":
		target = &e.Run
	case "task_log":
		target = &e.Log
	case "task_result":
		target = &e.Task
	default:
		return nil
	}
	return json.Unmarshal(e.Payload, target)
}

// --- Request types ---

// RunRequest — запуск pipeline или trigger.
type RunRequest struct {
	Params map[string]any `json:"params,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	PipelineID string
	TriggerID  string
	Limit      int
}

// WatchOpts — фильтр потока событий.
type WatchOpts struct {
	RunID      int64
	PipelineID string
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string       `json:"code"`
		Message string       `json:"message"`
		Fields  []FieldError `json:"fields,omitempty"`
		RunID   int64        `json:"run_id,omitempty"`
	} `json:"error"`
}

// FieldError — ошибка валидации одного параметра.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError — ошибка, которую вернул API.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  []FieldError
	RunID   int64 // run, записанный несмотря на ошибку (INVALID_PARAMS)
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	for _, f := range e.Fields {
		fmt.Fprintf(&b, "\n  %s: %s", f.Field, f.Message)
	}
	if e.RunID != 0 {
		fmt.Fprintf(&b, "\n  recorded as run %d", e.RunID)
	}
	return b.String()
}

// --- Client ---

// Client — HTTP-клиент для Conveyor API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// streamClient без таймаута: поток событий живёт сколько угодно.
	streamClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		streamClient: &http.Client{},
	}
}

// --- Pipelines ---

// ListPipelines возвращает все pipelines.
func (c *Client) ListPipelines() ([]PipelineResponse, error) {
	var pipelines []PipelineResponse
	err := c.list("/api/v1/pipelines", nil, &pipelines)
	return pipelines, err
}

// GetPipeline возвращает pipeline по ID.
func (c *Client) GetPipeline(id string) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.get("/api/v1/pipelines/"+url.PathEscape(id), &p)
	return &p, err
}

// GetInputSchema возвращает схему параметров pipeline.
func (c *Client) GetInputSchema(id string) (json.RawMessage, error) {
	var schema json.RawMessage
	err := c.get("/api/v1/pipelines/"+url.PathEscape(id)+"/input-schema", &schema)
	return schema, err
}

// --- Runs ---

// RunPipeline запускает pipeline вручную.
func (c *Client) RunPipeline(pipelineID string, req RunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/pipelines/"+url.PathEscape(pipelineID)+"/run", req, &run)
	return &run, err
}

// RunTrigger запускает pipeline от имени trigger.
func (c *Client) RunTrigger(pipelineID, triggerID string, req RunRequest) (*RunResponse, error) {
	var run RunResponse
	path := "/api/v1/pipelines/" + url.PathEscape(pipelineID) + "/triggers/" + url.PathEscape(triggerID) + "/run"
	err := c.post(path, req, &run)
	return &run, err
}

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.PipelineID != "" {
		params.Set("pipeline_id", opts.PipelineID)
	}
	if opts.TriggerID != "" {
		params.Set("trigger_id", opts.TriggerID)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id int64) (*RunResponse, error) {
	var run RunResponse
	err := c.get(runPath(id), &run)
	return &run, err
}

// GetRunLogs копирует логи run (JSON Lines) в w.
func (c *Client) GetRunLogs(id int64, w io.Writer) error {
	return c.raw(runPath(id)+"/logs", w)
}

// GetTaskData копирует результат task в w.
func (c *Client) GetTaskData(id int64, taskID string, w io.Writer) error {
	return c.raw(runPath(id)+"/data/"+url.PathEscape(taskID), w)
}

// WaitRun опрашивает run, пока он не завершится или не истечёт ctx.
func (c *Client) WaitRun(ctx context.Context, id int64, interval time.Duration) (*RunResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := c.GetRun(id)
		if err != nil {
			return nil, err
		}
		if run.IsFinished() {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

// --- Events ---

// WatchEvents читает поток событий и вызывает fn для каждого.
//
// Возвращает nil, когда fn вернул errStopWatch, сервер закрыл
// поток или отменён ctx.
func (c *Client) WatchEvents(ctx context.Context, opts WatchOpts, fn func(EventResponse) error) error {
	params := url.Values{}
	if opts.RunID > 0 {
		params.Set("run_id", strconv.FormatInt(opts.RunID, 10))
	}
	if opts.PipelineID != "" {
		params.Set("pipeline_id", opts.PipelineID)
	}

	path := "/api/v1/events"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	err = readEvents(resp.Body, fn)
	if errors.Is(err, errStopWatch) || ctx.Err() != nil {
		return nil
	}
	return err
}

// errStopWatch завершает WatchEvents без ошибки.
var errStopWatch = errors.New("stop watching")

// readEvents разбирает Server-Sent Events: строки data: копятся до
// пустой строки, комментарии (:) и event: пропускаются, тип события
// есть в самом JSON.
func readEvents(r io.Reader, fn func(EventResponse) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var e EventResponse
			if err := json.Unmarshal(data.Bytes(), &e); err != nil {
				return fmt.Errorf("failed to decode event: %w", err)
			}
			data.Reset()
			if err := fn(e); err != nil {
				return err
			}

		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	return scanner.Err()
}

// --- HTTP helpers ---

func runPath(id int64) string {
	return "/api/v1/runs/" + strconv.FormatInt(id, 10)
}

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) raw(path string, w io.Writer) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return apiErr
	}

	apiErr.Code = er.Error.Code
	apiErr.Message = er.Error.Message
	apiErr.Fields = er.Error.Fields
	apiErr.RunID = er.Error.RunID
	return apiErr
}
