package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kalambet/insurepredict/internal/ingest"
	"github.com/kalambet/insurepredict/internal/metrics"
	"github.com/kalambet/insurepredict/internal/predict"
	"github.com/kalambet/insurepredict/internal/schema"
	"github.com/kalambet/insurepredict/internal/storage"
)

// ErrNotFound is returned for unknown or deleted sessions.
var ErrNotFound = errors.New("session not found")

// Manager owns all live sessions.
type Manager struct {
	pipeline  *ingest.Pipeline
	predictor predict.Predictor
	store     *storage.Store
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(p *ingest.Pipeline, pred predict.Predictor, store *storage.Store) *Manager {
	return &Manager{
		pipeline:  p,
		predictor: pred,
		store:     store,
		logger:    slog.Default(),
		sessions:  make(map[string]*Session),
	}
}

func (m *Manager) Schema() schema.Schema        { return m.pipeline.Schema() }
func (m *Manager) MaxRows() int                 { return m.pipeline.MaxRows() }
func (m *Manager) Predictor() predict.Predictor { return m.predictor }

// Create starts an empty session.
func (m *Manager) Create() *Session {
	s := newSession(uuid.New().String(), m.pipeline, m.predictor, m.store)

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	metrics.ActiveSessions.Inc()
	m.logger.Debug("session created", "session", s.id)
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete cancels the session's parse, ends its subscriptions and drops
// its spooled upload.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	s.close()
	metrics.ActiveSessions.Dec()
	if _, err := m.store.DeleteSessionUploads(ctx, id); err != nil {
		return err
	}
	m.logger.Debug("session deleted", "session", id)
	return nil
}

// IDs returns the live session ids, oldest first.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].createdAt.Before(list[j].createdAt) })
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.id
	}
	return ids
}

// Spooled reports how many uploads are held in storage and their total
// size in bytes.
func (m *Manager) Spooled(ctx context.Context) (int, int64, error) {
	return m.store.UploadStats(ctx)
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close deletes every session.
func (m *Manager) Close(ctx context.Context) {
	for _, id := range m.IDs() {
		if err := m.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			m.logger.Warn("closing session", "session", id, "error", err)
		}
	}
}
