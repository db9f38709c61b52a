package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
)

// RunRepo — RunStore поверх PostgreSQL.
//
// runs хранит заголовки runs, task_runs — статусы и артефакты tasks,
// task_logs — логи с порядковым номером seq внутри run.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

var _ store.RunStore = (*RunRepo)(nil)

const terminalStatuses = `('completed', 'failed')`

// CreateRun создаёт run и его task runs в одной транзакции.
func (r *RunRepo) CreateRun(ctx context.Context, nr store.NewRun) (*domain.Run, error) {
	paramsJSON, err := json.Marshal(nr.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	createdAt := nr.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Run
	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO runs (pipeline_id, trigger_id, status, params, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, nr.PipelineID, nr.TriggerID, domain.RunStatusPending, paramsJSON, createdAt).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	// 2. Task runs
	batch := &pgx.Batch{}
	for i, taskID := range nr.TaskIDs {
		batch.Queue(`
			INSERT INTO task_runs (run_id, task_id, position, status)
			VALUES ($1, $2, $3, $4)
		`, id, taskID, i, domain.TaskStatusPending)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert task runs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	run := &domain.Run{
		ID:         id,
		PipelineID: nr.PipelineID,
		TriggerID:  nr.TriggerID,
		Status:     domain.RunStatusPending,
		Params:     nr.Params,
		CreatedAt:  createdAt,
		Tasks:      make([]domain.TaskRun, len(nr.TaskIDs)),
	}
	for i, taskID := range nr.TaskIDs {
		run.Tasks[i] = domain.TaskRun{TaskID: taskID, Position: i, Status: domain.TaskStatusPending}
	}
	return run, nil
}

// StartRun переводит run в running.
func (r *RunRepo) StartRun(ctx context.Context, runID int64, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE runs SET status = $2, started_at = $3
		WHERE id = $1 AND status NOT IN `+terminalStatuses,
		runID, domain.RunStatusRunning, at,
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.missingOrFinalized(ctx, runID)
	}
	return nil
}

// FinalizeRun переводит run в терминальный статус ровно один раз.
func (r *RunRepo) FinalizeRun(ctx context.Context, runID int64, fin store.Final) error {
	if !fin.Status.IsTerminal() {
		return fmt.Errorf("finalize run %d: status %q is not terminal", runID, fin.Status)
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE runs SET status = $2, error = $3, completed_at = $4
		WHERE id = $1 AND status NOT IN `+terminalStatuses,
		runID, fin.Status, nullString(fin.Error), fin.At,
	)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.missingOrFinalized(ctx, runID)
	}
	return nil
}

// GetRun возвращает run с task runs.
func (r *RunRepo) GetRun(ctx context.Context, runID int64) (*domain.Run, error) {
	run, err := r.scanRun(r.pool.QueryRow(ctx, `
		SELECT id, pipeline_id, trigger_id, status, params, error, created_at, started_at, completed_at
		FROM runs
		WHERE id = $1
	`, runID))
	if err != nil {
		return nil, err
	}

	tasks, err := r.listTaskRuns(ctx, []int64{runID})
	if err != nil {
		return nil, err
	}
	run.Tasks = tasks[runID]
	return run, nil
}

// ListRuns возвращает runs от новых к старым.
func (r *RunRepo) ListRuns(ctx context.Context, f store.Filter) ([]domain.Run, error) {
	var limit *int
	if f.Limit > 0 {
		limit = &f.Limit
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, pipeline_id, trigger_id, status, params, error, created_at, started_at, completed_at
		FROM runs
		WHERE ($1::text IS NULL OR pipeline_id = $1)
		  AND ($2::text IS NULL OR trigger_id = $2)
		ORDER BY id DESC
		LIMIT $3
	`, nullString(f.PipelineID), nullString(f.TriggerID), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	if len(runs) == 0 {
		return runs, nil
	}

	ids := make([]int64, len(runs))
	for i := range runs {
		ids[i] = runs[i].ID
	}
	tasks, err := r.listTaskRuns(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		runs[i].Tasks = tasks[runs[i].ID]
	}
	return runs, nil
}

// --- Helpers ---

// scanRun сканирует одну строку в Run.
func (r *RunRepo) scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var paramsJSON []byte
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.PipelineID,
		&run.TriggerID,
		&run.Status,
		&paramsJSON,
		&runError,
		&run.CreatedAt,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &run.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// missingOrFinalized объясняет, почему UPDATE не затронул ни одной строки.
func (r *RunRepo) missingOrFinalized(ctx context.Context, runID int64) error {
	var status domain.RunStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM runs WHERE id = $1`, runID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("run %d: %w", runID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get run status: %w", err)
	}
	if status.IsTerminal() {
		return fmt.Errorf("run %d: %w", runID, store.ErrFinalized)
	}
	return fmt.Errorf("run %d: no rows updated in state %q", runID, status)
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
