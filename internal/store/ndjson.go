package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// logLine — одна строка NDJSON-лога.
type logLine struct {
	Task      string          `json:"task"`
	Level     domain.LogLevel `json:"level"`
	Timestamp time.Time       `json:"timestamp"`
	Message   string          `json:"message"`
}

// WriteLogs пишет логи run в w в формате NDJSON (одна JSON-запись на строку).
func WriteLogs(ctx context.Context, s RunStore, runID int64, w io.Writer) error {
	logs, err := s.GetLogs(ctx, runID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for _, e := range logs {
		line := logLine{
			Task:      e.TaskID,
			Level:     e.Level,
			Timestamp: e.Timestamp,
			Message:   e.Message,
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("write log line: %w", err)
		}
	}
	return nil
}
