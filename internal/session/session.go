// Package session holds the per-user preview buffer. Each session runs at
// most one parse at a time; loading a new file cancels the previous parse
// and resets the buffer before the new one starts.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/insurepredict/internal/ingest"
	"github.com/kalambet/insurepredict/internal/predict"
	"github.com/kalambet/insurepredict/internal/schema"
	"github.com/kalambet/insurepredict/internal/storage"
)

var (
	// ErrNoRows is returned by Predict when the preview is empty.
	ErrNoRows = errors.New("no rows to predict")
	// ErrSuperseded is returned by Predict when a new file was loaded
	// while the prediction was running.
	ErrSuperseded = errors.New("a new file was loaded during prediction")
)

// Snapshot is a consistent copy of a session's state.
type Snapshot struct {
	ID          string       `json:"id"`
	Schema      string       `json:"schema"`
	State       ingest.State `json:"state"`
	FileName    string       `json:"file_name,omitempty"`
	Rows        []schema.Row `json:"rows"`
	Predicted   []schema.Row `json:"predicted,omitempty"`
	Seen        int          `json:"seen"`
	HasResponse bool         `json:"has_response"`
	// Error is the ingestion error for the current file.
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
	// PredictError is the last prediction failure; cleared by a
	// successful prediction or a new file.
	PredictError string `json:"predict_error,omitempty"`
}

// Displayed returns the predicted rows when there are any, else the
// preview.
func (s Snapshot) Displayed() []schema.Row {
	if len(s.Predicted) > 0 {
		return s.Predicted
	}
	return s.Rows
}

// CanPredict reports whether the preview holds at least one row.
func (s Snapshot) CanPredict() bool {
	return len(s.Rows) > 0
}

// Session is one user's upload, preview and predictions.
type Session struct {
	id        string
	createdAt time.Time
	pipeline  *ingest.Pipeline
	predictor predict.Predictor
	store     *storage.Store
	logger    *slog.Logger

	// loadMu keeps the spooled upload and the running parse in step.
	loadMu sync.Mutex

	mu          sync.Mutex
	gen         uint64
	cancel      context.CancelFunc
	done        chan struct{}
	state       ingest.State
	fileName    string
	rows        []schema.Row
	predicted   []schema.Row
	seen        int
	hasResponse bool
	errMsg      string
	warning     string
	predictErr  string
	subs        map[int]*subscriber
	nextSub     int
	closed      bool
}

func newSession(id string, p *ingest.Pipeline, pred predict.Predictor, store *storage.Store) *Session {
	done := make(chan struct{})
	close(done)
	return &Session{
		id:        id,
		createdAt: time.Now(),
		pipeline:  p,
		predictor: pred,
		store:     store,
		logger:    slog.Default().With("session", id),
		done:      done,
		state:     ingest.StateIdle,
		subs:      make(map[int]*subscriber),
	}
}

func (s *Session) ID() string                   { return s.id }
func (s *Session) Schema() schema.Schema        { return s.pipeline.Schema() }
func (s *Session) Predictor() predict.Predictor { return s.predictor }

// Load spools content and starts parsing it in the background. Any parse
// already running for this session is cancelled and its late rows are
// ignored. The returned channel is closed when this parse finishes.
func (s *Session) Load(ctx context.Context, name string, content []byte) (<-chan struct{}, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrNotFound
	}

	if _, err := s.store.ReplaceUpload(ctx, s.id, name, content); err != nil {
		return nil, fmt.Errorf("spooling upload: %w", err)
	}

	parseCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, ErrNotFound
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.done = done
	s.state = ingest.StateHeaderPending
	s.fileName = name
	s.rows = nil
	s.predicted = nil
	s.seen = 0
	s.hasResponse = false
	s.errMsg = ""
	s.warning = ""
	s.predictErr = ""
	s.notifyLocked(Notification{Kind: EventReset, State: s.state})
	s.mu.Unlock()

	s.logger.Info("loading file", "name", name, "bytes", len(content), "generation", gen)

	go func() {
		defer close(done)
		defer cancel()
		res, err := s.pipeline.Run(parseCtx, bytes.NewReader(content), func(index int, row schema.Row) {
			s.appendRow(gen, index, row)
		})
		s.finish(gen, res, err)
	}()

	return done, nil
}

func (s *Session) appendRow(gen uint64, index int, row schema.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.rows = append(s.rows, row)
	s.state = ingest.StateRowStreaming
	r := row
	s.notifyLocked(Notification{Kind: EventRow, Index: index, Row: &r, State: s.state, Count: len(s.rows)})
}

func (s *Session) finish(gen uint64, res ingest.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}

	s.state = res.State
	s.rows = res.Rows
	s.seen = res.Seen
	s.hasResponse = res.HasResponse
	if res.Warning != nil {
		s.warning = res.Warning.Error()
	}

	if err != nil {
		s.errMsg = err.Error()
		s.notifyLocked(Notification{Kind: EventError, State: s.state, Message: s.errMsg})
		return
	}
	s.notifyLocked(Notification{Kind: EventComplete, State: s.state, Message: s.warning, Count: len(s.rows)})
}

// Wait blocks until the current parse finishes or ctx is done, then
// returns a snapshot.
func (s *Session) Wait(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return s.Snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Predict runs the predictor over the current preview. On failure the
// preview and any earlier predictions are left as they were and the error
// is recorded in the snapshot.
func (s *Session) Predict(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	gen := s.gen
	rows := append([]schema.Row(nil), s.rows...)
	s.mu.Unlock()

	if len(rows) == 0 {
		return s.Snapshot(), ErrNoRows
	}

	req := predict.Request{Schema: s.pipeline.Schema(), Rows: rows}
	if u, err := s.store.SessionUpload(ctx, s.id); err == nil {
		req.File = predict.Upload{Name: u.Name, Content: u.Content}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return s.Snapshot(), fmt.Errorf("reading upload: %w", err)
	}

	out, err := s.predictor.Predict(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return s.snapshotLocked(), ErrSuperseded
	}
	if err == nil && len(out) != len(rows) {
		err = fmt.Errorf("predictor returned %d rows for %d", len(out), len(rows))
	}
	if err != nil {
		s.predictErr = err.Error()
		s.notifyLocked(Notification{Kind: EventError, State: s.state, Message: s.predictErr})
		return s.snapshotLocked(), err
	}

	s.predicted = out
	s.predictErr = ""
	s.notifyLocked(Notification{Kind: EventPredicted, State: s.state, Count: len(out)})
	return s.snapshotLocked(), nil
}

func (s *Session) snapshotLocked() Snapshot {
	rows := make([]schema.Row, len(s.rows))
	copy(rows, s.rows)
	return Snapshot{
		ID:           s.id,
		Schema:       s.pipeline.Schema().Name,
		State:        s.state,
		FileName:     s.fileName,
		Rows:         rows,
		Predicted:    append([]schema.Row(nil), s.predicted...),
		Seen:         s.seen,
		HasResponse:  s.hasResponse,
		Error:        s.errMsg,
		Warning:      s.warning,
		PredictError: s.predictErr,
	}
}

// close cancels any running parse and ends all subscriptions.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.gen++
	if s.cancel != nil {
		s.cancel()
	}
	for id, sub := range s.subs {
		sub.stop()
		delete(s.subs, id)
	}
}
