// Package task defines the durable crawl task records and the repository
// that persists them in the state store. A record tracks one movie's crawl
// progress; info tasks and comment tasks live in separate key namespaces
// keyed by the same movie ID.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors returned by the repository. A corrupt record must never crash the
// crawl; callers treat it the same as a missing one.
var (
	ErrNotFound = errors.New("task: record not found")
	ErrCorrupt  = errors.New("task: record corrupt")
)

// Status is the lifecycle state of a crawl task.
type Status string

// Task statuses persisted in the state store. The only backward edges are
// FAILED -> PROCESSING and FAILED -> PENDING (retry on resume).
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusParsed     Status = "parsed"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus validates a raw status tag. An unknown tag is a recoverable
// corrupt-record condition, not a crash.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusProcessing, StatusParsed, StatusCompleted, StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrCorrupt, raw)
	}
}

// DefaultMaxRetries is the retry ceiling applied to newly minted tasks.
const DefaultMaxRetries = 3

// Record is the persisted state of one crawl task.
type Record struct {
	MovieID    string          `json:"movie_id"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	ErrorMsg   string          `json:"error_msg,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewRecord mints a PENDING record for movieID.
func NewRecord(movieID string, now time.Time) *Record {
	return &Record{
		MovieID:    movieID,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}
}

// Terminal reports whether the record has reached COMPLETED. The orchestrator
// never re-enters work for a terminal record.
func (r *Record) Terminal() bool {
	return r.Status == StatusCompleted
}

// Abandoned reports whether the record is FAILED with its retry budget spent.
func (r *Record) Abandoned() bool {
	return r.Status == StatusFailed && r.RetryCount >= r.MaxRetries
}

// Resumable reports whether a resume scan should re-drive this record.
func (r *Record) Resumable() bool {
	return !r.Terminal() && !r.Abandoned()
}

func encodeRecord(r *Record) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal task %s: %w", r.MovieID, err)
	}
	return string(data), nil
}

func decodeRecord(raw string) (*Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if _, err := ParseStatus(string(rec.Status)); err != nil {
		return nil, err
	}
	if rec.MovieID == "" {
		return nil, fmt.Errorf("%w: missing movie_id", ErrCorrupt)
	}
	return &rec, nil
}
