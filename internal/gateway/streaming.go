package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/skyrail-ai/skyrail-gateway/internal/httputil"
	"github.com/skyrail-ai/skyrail-gateway/internal/tasks"
	"github.com/skyrail-ai/skyrail-gateway/internal/types"
)

// streamEvents serves a task's event log over SSE: the subscription's backlog
// first, then live events until the log ends. Each event is one data: frame
// of JSON. data: [DONE] is written only after a terminal event, so a client
// cut off mid-stream knows to reconnect with starting_after.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request, reqID, taskID string, sub *tasks.Subscription) {
	defer sub.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// 0 disables the lifetime cap.
	var lifetime <-chan time.Time
	if d := h.cfg().Tasks.StreamMaxLifetime; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		lifetime = timer.C
	}

	ctx := r.Context()
	sawTerminal := false
	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				if sawTerminal {
					fmt.Fprintf(w, "data: [DONE]\n\n")
					flusher.Flush()
				}
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				slog.Error("failed to encode stream event", "error", err, "response_id", taskID)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			if event.Type == types.EventCompleted || event.Type == types.EventFailed {
				sawTerminal = true
			}

		case <-ctx.Done():
			return

		case <-lifetime:
			slog.Info("stream lifetime reached", "request_id", reqID, "response_id", taskID)
			return
		}
	}
}
