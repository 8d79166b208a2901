// Package predict assigns a Response to every buffered row, either by
// posting the original upload to a remote model service or with a local
// random placeholder.
package predict

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/insurepredict/internal/config"
	"github.com/kalambet/insurepredict/internal/metrics"
	"github.com/kalambet/insurepredict/internal/schema"
)

// Upload is the original file as the user supplied it, before the preview
// cap was applied.
type Upload struct {
	Name    string
	Content []byte
}

// Request is one prediction action.
type Request struct {
	Schema schema.Schema
	Rows   []schema.Row
	File   Upload
}

// Predictor returns rows with the same length and order as req.Rows,
// differing only in Response. req.Rows is never modified.
type Predictor interface {
	Predict(ctx context.Context, req Request) ([]schema.Row, error)
	Mode() string
}

// New builds the predictor selected by cfg.Mode.
func New(cfg config.PredictConfig) (Predictor, error) {
	switch strings.ToLower(cfg.Mode) {
	case config.ModeRemote:
		return NewRemote(cfg.BaseURL, cfg.TimeoutDuration()), nil
	case config.ModeStub:
		kind, err := ParseStubKind(cfg.StubResponse)
		if err != nil {
			return nil, err
		}
		return NewStub(kind, nil), nil
	default:
		return nil, fmt.Errorf("unknown predict mode %q", cfg.Mode)
	}
}

// observe records the outcome of one Predict call.
func observe(logger *slog.Logger, mode string, start time.Time, rows int, err error) {
	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.PredictRequests.WithLabelValues(mode, outcome).Inc()
	metrics.PredictDuration.WithLabelValues(mode).Observe(elapsed.Seconds())

	if err != nil {
		logger.Warn("prediction failed", "mode", mode, "rows", rows, "duration_ms", elapsed.Milliseconds(), "error", err)
		return
	}
	logger.Info("prediction finished", "mode", mode, "rows", rows, "duration_ms", elapsed.Milliseconds())
}
