package ingest

import (
	"errors"
	"fmt"
)

var errInvalidUTF8 = errors.New("invalid UTF-8 text")

// MissingColumnError aborts a parse whose header lacks a required column.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return "Missing column: " + e.Column
}

// CsvReadError reports a malformed file or a failed read. Rows produced
// before it remain valid.
type CsvReadError struct {
	Line int // 1-based; 0 when unknown
	Err  error
}

func (e *CsvReadError) Error() string {
	return fmt.Sprintf("error reading CSV: %v", e.Err)
}

func (e *CsvReadError) Unwrap() error {
	return e.Err
}

// PreviewTruncatedWarning is informational: the preview hit its row cap.
// It is reported in Result.Warning and never returned as an error.
type PreviewTruncatedWarning struct {
	Limit int
}

func (w *PreviewTruncatedWarning) Error() string {
	return fmt.Sprintf("Preview limited to %d rows. Full file can still be sent to backend.", w.Limit)
}
