package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
)

// RecordTaskResult обновляет task run, если run ещё не терминальный.
func (r *RunRepo) RecordTaskResult(ctx context.Context, runID int64, taskID string, res store.TaskResult) error {
	var errMsg, errTrace *string
	if res.Error != nil {
		errMsg = &res.Error.Message
		errTrace = nullString(res.Error.Trace)
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE task_runs t
		SET status        = $3,
		    artifact      = COALESCE($4, t.artifact),
		    error_message = $5,
		    error_trace   = $6,
		    started_at    = CASE WHEN $3::text = 'running' THEN $7 ELSE t.started_at END,
		    completed_at  = CASE WHEN $3::text IN ('completed', 'failed', 'skipped') THEN $7 ELSE t.completed_at END
		FROM runs r
		WHERE t.run_id = r.id
		  AND t.run_id = $1
		  AND t.task_id = $2
		  AND r.status NOT IN `+terminalStatuses,
		runID, taskID, string(res.Status), res.Artifact, errMsg, errTrace, res.At,
	)
	if err != nil {
		return fmt.Errorf("update task run: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	// Run не найден или финализирован, иначе не найден сам task
	if err := r.missingOrFinalized(ctx, runID); errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrFinalized) {
		return err
	}
	return fmt.Errorf("task %q of run %d: %w", taskID, runID, store.ErrNotFound)
}

// AppendLog добавляет запись лога со следующим seq.
//
// Seq вычисляется внутри INSERT: записи одного run пишет одна горутина
// executor, а PRIMARY KEY (run_id, seq) не даст двум записям получить один номер.
func (r *RunRepo) AppendLog(ctx context.Context, runID int64, entry domain.LogEntry) (domain.LogEntry, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO task_logs (run_id, seq, task_id, level, ts, message)
		SELECT r.id, COALESCE((SELECT MAX(seq) FROM task_logs WHERE run_id = r.id), 0) + 1, $2, $3, $4, $5
		FROM runs r
		WHERE r.id = $1 AND r.status NOT IN `+terminalStatuses+`
		RETURNING seq
	`, runID, entry.TaskID, string(entry.Level), entry.Timestamp, entry.Message).Scan(&entry.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return entry, r.missingOrFinalized(ctx, runID)
	}
	if err != nil {
		return entry, fmt.Errorf("insert task log: %w", err)
	}
	return entry, nil
}

// GetLogs возвращает логи run в порядке seq.
func (r *RunRepo) GetLogs(ctx context.Context, runID int64) ([]domain.LogEntry, error) {
	if err := r.ensureRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT seq, task_id, level, ts, message
		FROM task_logs
		WHERE run_id = $1
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list task logs: %w", err)
	}
	defer rows.Close()

	logs := make([]domain.LogEntry, 0)
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.Seq, &e.TaskID, &e.Level, &e.Timestamp, &e.Message); err != nil {
			return nil, fmt.Errorf("scan task log: %w", err)
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

// GetTaskArtifact возвращает данные task.
func (r *RunRepo) GetTaskArtifact(ctx context.Context, runID int64, taskID string) ([]byte, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `
		SELECT artifact FROM task_runs WHERE run_id = $1 AND task_id = $2
	`, runID, taskID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %q of run %d: %w", taskID, runID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	if data == nil {
		return nil, store.ErrNoArtifact
	}
	return data, nil
}

// --- Helpers ---

// listTaskRuns возвращает task runs для набора runs, сгруппированные по run_id.
func (r *RunRepo) listTaskRuns(ctx context.Context, runIDs []int64) (map[int64][]domain.TaskRun, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT run_id, task_id, position, status, artifact IS NOT NULL,
		       error_message, error_trace, started_at, completed_at
		FROM task_runs
		WHERE run_id = ANY($1)
		ORDER BY run_id, position
	`, runIDs)
	if err != nil {
		return nil, fmt.Errorf("list task runs: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]domain.TaskRun, len(runIDs))
	for rows.Next() {
		var runID int64
		var tr domain.TaskRun
		var errMsg, errTrace *string

		err := rows.Scan(
			&runID,
			&tr.TaskID,
			&tr.Position,
			&tr.Status,
			&tr.HasArtifact,
			&errMsg,
			&errTrace,
			&tr.StartedAt,
			&tr.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan task run: %w", err)
		}

		if errMsg != nil {
			tr.Error = &domain.ErrorDetail{Message: *errMsg}
			if errTrace != nil {
				tr.Error.Trace = *errTrace
			}
		}
		out[runID] = append(out[runID], tr)
	}
	return out, rows.Err()
}

func (r *RunRepo) ensureRun(ctx context.Context, runID int64) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, runID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if !exists {
		return fmt.Errorf("run %d: %w", runID, store.ErrNotFound)
	}
	return nil
}
