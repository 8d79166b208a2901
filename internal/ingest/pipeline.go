// Package ingest streams uploaded CSV files into a bounded preview of
// typed rows, validating the header once and reporting read errors.
package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/insurepredict/internal/metrics"
	"github.com/kalambet/insurepredict/internal/schema"
)

// Result is the outcome of one parse.
type Result struct {
	Rows        []schema.Row
	Seen        int // data rows parsed, including ones past the cap
	HasResponse bool
	State       State
	Warning     *PreviewTruncatedWarning
}

// Truncated reports whether the preview hit its cap.
func (r Result) Truncated() bool {
	return r.Warning != nil
}

// Pipeline parses files against one schema with one row cap.
type Pipeline struct {
	schema  schema.Schema
	maxRows int
	logger  *slog.Logger
}

// NewPipeline creates a Pipeline. If maxRows is <= 0, it defaults to
// DefaultMaxPreviewRows.
func NewPipeline(sch schema.Schema, maxRows int) *Pipeline {
	if maxRows <= 0 {
		maxRows = DefaultMaxPreviewRows
	}
	return &Pipeline{
		schema:  sch,
		maxRows: maxRows,
		logger:  slog.Default(),
	}
}

func (p *Pipeline) Schema() schema.Schema { return p.schema }
func (p *Pipeline) MaxRows() int          { return p.maxRows }

// Run parses r to completion. onRow, when non-nil, is called for every row
// accepted into the preview, in file order, while parsing is still under
// way; it is never called after Run returns or after a terminal error.
//
// A MissingColumnError yields an empty Result. A CsvReadError keeps the
// rows buffered before it. Cancelling ctx stops reading and returns
// ctx.Err().
func (p *Pipeline) Run(ctx context.Context, r io.Reader, onRow func(index int, row schema.Row)) (Result, error) {
	start := time.Now()
	res := Result{State: StateIdle}
	res.State = p.advance(res.State, StateHeaderPending)
	preview := NewPreview(p.maxRows)

	g, gCtx := errgroup.WithContext(ctx)
	events := make(chan Event, eventBuffer)

	g.Go(func() error {
		produce(gCtx, r, p.schema, events)
		return nil
	})

	g.Go(func() error {
		for ev := range events {
			if err := ctx.Err(); err != nil {
				return err
			}
			switch ev.Kind {
			case EventHeader:
				res.HasResponse = ev.HasResponse
				res.State = p.advance(res.State, StateHeaderValid)
			case EventRow:
				if res.State == StateHeaderValid {
					res.State = p.advance(res.State, StateRowStreaming)
				}
				if preview.Add(ev.Row) && onRow != nil {
					onRow(ev.Index, ev.Row)
				}
			case EventError:
				return ev.Err
			}
		}
		return ctx.Err()
	})

	err := g.Wait()
	res.Seen = preview.Seen()

	var missing *MissingColumnError
	switch {
	case errors.As(err, &missing):
		res.State = p.advance(res.State, StateHeaderInvalid)
		res.Rows = nil
	case err != nil:
		res.State = p.advance(res.State, StateFailed)
		res.Rows = preview.Rows()
	case preview.Full():
		res.State = p.advance(res.State, StateTruncatedCompleted)
		res.Rows = preview.Rows()
		res.Warning = &PreviewTruncatedWarning{Limit: p.maxRows}
	default:
		res.State = p.advance(res.State, StateCompleted)
		res.Rows = preview.Rows()
	}

	p.record(res, err, time.Since(start))
	return res, err
}

// advance moves a parse to the next state, logging transitions the state
// machine does not allow.
func (p *Pipeline) advance(from, to State) State {
	if !from.CanTransition(to) {
		p.logger.Warn("unexpected ingest state transition", "from", from.String(), "to", to.String())
	} else {
		p.logger.Debug("ingest state", "from", from.String(), "to", to.String())
	}
	return to
}

func (p *Pipeline) record(res Result, err error, elapsed time.Duration) {
	metrics.IngestRuns.WithLabelValues(res.State.String()).Inc()
	metrics.IngestRowsBuffered.Add(float64(len(res.Rows)))
	if dropped := res.Seen - len(res.Rows); dropped > 0 && res.State != StateHeaderInvalid {
		metrics.IngestRowsDropped.Add(float64(dropped))
	}
	metrics.IngestDuration.Observe(elapsed.Seconds())

	attrs := []any{
		"schema", p.schema.Name,
		"state", res.State.String(),
		"rows", len(res.Rows),
		"seen", res.Seen,
		"duration_ms", elapsed.Milliseconds(),
	}
	switch {
	case err != nil:
		p.logger.Warn("csv ingestion failed", append(attrs, "error", err)...)
	case res.Warning != nil:
		p.logger.Info("csv ingestion truncated", append(attrs, "limit", res.Warning.Limit)...)
	default:
		p.logger.Info("csv ingestion finished", attrs...)
	}
}
