package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/insurepredict/internal/schema"
)

// EventKind identifies what an Event carries.
type EventKind int

const (
	// EventHeader is sent once, when the first data row validated the header.
	EventHeader EventKind = iota
	// EventRow carries one coerced row.
	EventRow
	// EventError is terminal; no event follows it.
	EventError
)

// Event is one step of a streaming parse.
type Event struct {
	Kind        EventKind
	Index       int // 0-based data row index for EventRow
	Row         schema.Row
	HasResponse bool // set on EventHeader
	Err         error
}

const eventBuffer = 64

// produce parses r and sends its events to out, closing out when the file
// ends, after an EventError, or once ctx is cancelled.
func produce(ctx context.Context, r io.Reader, sch schema.Schema, out chan<- Event) {
	defer close(out)

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	rec, err := cr.Read()
	if err == io.EOF {
		return
	}
	if err != nil {
		send(Event{Kind: EventError, Err: readError(err)})
		return
	}
	if err := checkUTF8(cr, rec); err != nil {
		send(Event{Kind: EventError, Err: err})
		return
	}
	header := make([]string, len(rec))
	copy(header, rec)
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	validated := false
	hasResponse := false
	for index := 0; ; index++ {
		if ctx.Err() != nil {
			return
		}

		rec, err := cr.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			send(Event{Kind: EventError, Err: readError(err)})
			return
		}
		if err := checkUTF8(cr, rec); err != nil {
			send(Event{Kind: EventError, Err: err})
			return
		}

		raw := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				raw[h] = rec[i]
			}
		}

		// The header is judged by the keys the first row actually carries.
		if !validated {
			seen := make(map[string]bool, len(raw))
			for h := range raw {
				seen[h] = true
			}
			if missing := sch.Missing(seen); missing != "" {
				send(Event{Kind: EventError, Err: &MissingColumnError{Column: missing}})
				return
			}
			hasResponse = sch.HasResponse(seen)
			validated = true
			if !send(Event{Kind: EventHeader, HasResponse: hasResponse}) {
				return
			}
		}

		row := sch.CoerceRow(raw, hasResponse)
		if !send(Event{Kind: EventRow, Index: index, Row: row}) {
			return
		}
	}
}

func readError(err error) *CsvReadError {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &CsvReadError{Line: pe.Line, Err: err}
	}
	return &CsvReadError{Err: err}
}

func checkUTF8(cr *csv.Reader, rec []string) error {
	for i, f := range rec {
		if !utf8.ValidString(f) {
			line, _ := cr.FieldPos(i)
			return &CsvReadError{Line: line, Err: errInvalidUTF8}
		}
	}
	return nil
}
