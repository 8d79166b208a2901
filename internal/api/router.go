package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/insurepredict/internal/metrics"
	"github.com/kalambet/insurepredict/internal/session"
)

const defaultMaxUploadBytes = 256 << 20

// Deps holds what the HTTP surface needs.
type Deps struct {
	Sessions       *session.Manager
	MaxUploadBytes int64
	// Version is reported by /health.
	Version string
}

// NewHandler returns the upload page and the session API.
func NewHandler(deps Deps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(RequestLogger)

	r.Get("/health", handleHealth(deps))
	r.Get("/", handlePage(deps))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", handleCreateSession(deps))
		r.Get("/{id}", handleGetSession(deps))
		r.Delete("/{id}", handleDeleteSession(deps))
		r.Post("/{id}/upload", handleUpload(deps))
		r.Get("/{id}/events", handleEvents(deps))
		r.Post("/{id}/predict", handlePredict(deps))
		r.Get("/{id}/table", handleTable(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uploads, size, err := deps.Sessions.Spooled(r.Context())
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "storage unavailable: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"version":      deps.Version,
			"sessions":     deps.Sessions.Len(),
			"uploads":      uploads,
			"upload_bytes": size,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// parseIntParam reads an integer query parameter. Missing, malformed or
// negative values yield def; a positive max caps the result.
func parseIntParam(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

func parseBoolParam(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
