package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shaiso/Conveyor/internal/hub"
)

// sseKeepAlive — период комментариев-пингов, чтобы прокси не закрывали поток.
const sseKeepAlive = 15 * time.Second

// StreamEvents отдаёт live-события как Server-Sent Events.
// GET /api/v1/events?run_id=...&pipeline_id=...
//
// Наблюдатель получает только события после подключения. Медленный
// клиент теряет самые старые события, выполнение runs это не тормозит.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "live events disabled")
		return
	}

	var opts []hub.Option
	q := r.URL.Query()
	if v := q.Get("run_id"); v != "" {
		runID, err := strconv.ParseInt(v, 10, 64)
		if err != nil || runID <= 0 {
			BadRequest(w, "invalid run_id")
			return
		}
		opts = append(opts, hub.ForRun(runID))
	}
	if v := q.Get("pipeline_id"); v != "" {
		opts = append(opts, hub.ForPipeline(v))
	}

	rc := http.NewResponseController(w)

	sub := h.hub.Subscribe(opts...)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		h.logger.Warn("streaming unsupported", "error", err)
		return
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			if err := rc.Flush(); err != nil {
				return
			}

		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				h.logger.Warn("failed to encode event", "type", e.Type, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
