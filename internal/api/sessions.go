package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/insurepredict/internal/predict"
	"github.com/kalambet/insurepredict/internal/present"
	"github.com/kalambet/insurepredict/internal/session"
)

// multipartOverhead allows for boundaries and part headers on top of the
// file itself.
const multipartOverhead = 1 << 20

var errNotCSV = errors.New("File must be CSV")

// sessionFromRequest resolves {id} or writes a 404.
func sessionFromRequest(w http.ResponseWriter, r *http.Request, deps Deps) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	s, err := deps.Sessions.Get(id)
	if err != nil {
		httpError(w, http.StatusNotFound, "not_found", "session %s not found", id)
		return nil, false
	}
	return s, true
}

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Sessions.Create()
		writeJSON(w, http.StatusCreated, map[string]string{"id": s.ID()})
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessionFromRequest(w, r, deps)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Sessions.Delete(r.Context(), id)
		if errors.Is(err, session.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete session: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleUpload accepts a multipart "file" part and starts parsing it. The
// response is 202 with the initial snapshot, or 200 with the final one
// when ?wait=1 is given.
func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessionFromRequest(w, r, deps)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes+multipartOverhead)
		defer r.Body.Close()

		name, content, err := readUpload(r, deps.MaxUploadBytes)
		if err != nil {
			var tooLarge *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge), errors.Is(err, errUploadTooLarge):
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "file exceeds %d bytes", deps.MaxUploadBytes)
			case errors.Is(err, errNotCSV):
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			default:
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid upload: %v", err)
			}
			return
		}

		if _, err := s.Load(r.Context(), name, content); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "session %s not found", s.ID())
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load file: %v", err)
			return
		}

		if !parseBoolParam(r, "wait") {
			writeJSON(w, http.StatusAccepted, s.Snapshot())
			return
		}

		snap, err := s.Wait(r.Context())
		if err != nil {
			httpError(w, http.StatusRequestTimeout, "api_error", "waiting for parse: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

var errUploadTooLarge = errors.New("upload too large")

// readUpload streams the first "file" part of a multipart body.
func readUpload(r *http.Request, max int64) (string, []byte, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, err
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", nil, fmt.Errorf("missing form field %q", "file")
		}
		if err != nil {
			return "", nil, err
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		name := path.Base(strings.ReplaceAll(part.FileName(), `\`, "/"))
		if !strings.HasSuffix(strings.ToLower(name), ".csv") {
			part.Close()
			return "", nil, errNotCSV
		}

		content, err := io.ReadAll(io.LimitReader(part, max+1))
		part.Close()
		if err != nil {
			return "", nil, err
		}
		if int64(len(content)) > max {
			return "", nil, errUploadTooLarge
		}
		return name, content, nil
	}
}

func handlePredict(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessionFromRequest(w, r, deps)
		if !ok {
			return
		}

		snap, err := s.Predict(r.Context())
		var reqErr *predict.RequestError
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, snap)
		case errors.Is(err, session.ErrNoRows):
			httpError(w, http.StatusConflict, "invalid_request_error", "%v: upload a file first", err)
		case errors.Is(err, session.ErrSuperseded):
			httpError(w, http.StatusConflict, "conflict_error", "%v", err)
		case errors.As(err, &reqErr):
			httpError(w, http.StatusBadGateway, "prediction_error", "%v", err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			httpError(w, http.StatusGatewayTimeout, "prediction_error", "%v", err)
		default:
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
		}
	}
}

// handleTable renders the displayed rows as an HTML fragment.
// Query: projection=full|id-response, limit, offset.
func handleTable(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessionFromRequest(w, r, deps)
		if !ok {
			return
		}

		projection, err := present.ParseProjection(r.URL.Query().Get("projection"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		rows := s.Snapshot().Displayed()
		offset := parseIntParam(r, "offset", 0, 0)
		limit := parseIntParam(r, "limit", len(rows), 0)
		if offset > len(rows) {
			offset = len(rows)
		}
		end := offset + limit
		if end > len(rows) || end < offset {
			end = len(rows)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := present.RenderHTML(w, present.Build(s.Schema(), rows[offset:end], projection)); err != nil {
			slog.Warn("rendering table failed", "path", r.URL.Path, "error", err)
		}
	}
}
