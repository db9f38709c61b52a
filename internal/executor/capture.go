package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shaiso/Conveyor/internal/domain"
)

// runSink записывает логи tasks одного run.
//
// Мьютекс держит пару "запись в store → публикация" атомарной:
// даже если task пишет лог из нескольких горутин, порядок seq
// совпадает с порядком событий.
//
// После записи терминального результата task его логи отбрасываются:
// тело, пережившее timeout, не дописывает логи к упавшему task run.
type runSink struct {
	exec   *Executor
	state  *runState
	mu     sync.Mutex
	closed map[string]bool
}

// close запрещает дальнейшие записи task. Вызывается до записи
// терминального результата.
func (s *runSink) close(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed == nil {
		s.closed = make(map[string]bool)
	}
	s.closed[taskID] = true
}

func (s *runSink) write(ctx context.Context, entry domain.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID := s.state.run.ID

	if s.closed[entry.TaskID] {
		s.exec.logger.Debug("task log dropped after task finished",
			"run_id", runID,
			"task_id", entry.TaskID,
		)
		return
	}

	stored, err := s.exec.store.AppendLog(ctx, runID, entry)
	if err != nil {
		// Лог после финализации (task оставил горутину) или сбой store
		s.exec.logger.Debug("task log not stored",
			"run_id", runID,
			"task_id", entry.TaskID,
			"error", err,
		)
		return
	}

	s.exec.publish(domain.Event{
		Type:       domain.EventTaskLog,
		RunID:      runID,
		PipelineID: s.state.run.PipelineID,
		TaskID:     entry.TaskID,
		At:         entry.Timestamp,
		Log:        &stored,
	})
}

// captureHandler — slog.Handler, превращающий записи логгера task
// в LogEntry run. Атрибуты дописываются к сообщению как key=value.
type captureHandler struct {
	sink   *runSink
	taskID string
	attrs  []slog.Attr
	group  string
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *captureHandler) Handle(ctx context.Context, rec slog.Record) error {
	var b strings.Builder
	b.WriteString(rec.Message)

	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})

	h.sink.write(context.WithoutCancel(ctx), domain.LogEntry{
		TaskID:    h.taskID,
		Level:     levelOf(rec.Level),
		Timestamp: rec.Time,
		Message:   b.String(),
	})
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	if c.group != "" {
		c.group += "." + name
	} else {
		c.group = name
	}
	return &c
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := a.Key
	if group != "" {
		key = group + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}

	fmt.Fprintf(b, " %s=%v", key, a.Value.Any())
}

func levelOf(l slog.Level) domain.LogLevel {
	switch {
	case l >= slog.LevelError:
		return domain.LogLevelError
	case l >= slog.LevelWarn:
		return domain.LogLevelWarn
	case l >= slog.LevelInfo:
		return domain.LogLevelInfo
	default:
		return domain.LogLevelDebug
	}
}
