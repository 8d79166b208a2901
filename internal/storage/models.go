package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Upload is an original CSV file as received, kept so it can be forwarded
// to the prediction service in full.
type Upload struct {
	ID        string
	SessionID string
	Name      string
	Size      int64
	Content   []byte
	CreatedAt time.Time
}
