package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const heartbeatInterval = 15 * time.Second

// sseSync is the first event of every stream, so a client that connects
// mid-parse knows how many rows it already missed.
type sseSync struct {
	State        string `json:"state"`
	Rows         int    `json:"rows"`
	Predicted    int    `json:"predicted"`
	Error        string `json:"error,omitempty"`
	PredictError string `json:"predict_error,omitempty"`
	Warning      string `json:"warning,omitempty"`
}

// handleEvents streams session notifications as server-sent events:
// sync, reset, row, progress, complete, error, predicted.
func handleEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessionFromRequest(w, r, deps)
		if !ok {
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		events, stop := s.Subscribe()
		defer stop()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		snap := s.Snapshot()
		writeEvent(w, "sync", sseSync{
			State:        snap.State.String(),
			Rows:         len(snap.Rows),
			Predicted:    len(snap.Predicted),
			Error:        snap.Error,
			PredictError: snap.PredictError,
			Warning:      snap.Warning,
		})
		flusher.Flush()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case n, ok := <-events:
				if !ok {
					return
				}
				writeEvent(w, string(n.Kind), n)
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to marshal event", "event", name, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
}
