// Package catalog keeps a searchable index of finished recordings and their
// transcripts.
//
// [Store] is implemented by [MemStore] (the default when no database is
// configured) and by the PostgreSQL store in the postgres sub-package.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/earshot/internal/recorder"
)

// ErrNotFound is returned by [Store.Get] for an unknown recording ID.
var ErrNotFound = errors.New("catalog: recording not found")

// ErrInvalidEntry is returned by [Store.Save] for an entry without an ID.
var ErrInvalidEntry = errors.New("catalog: entry has no recording id")

// Entry describes one catalogued recording.
type Entry struct {
	RecordingID string        `json:"recording_id"`
	Path        string        `json:"path,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	Duration    time.Duration `json:"duration"`
	Bytes       int           `json:"bytes"`
	Status      string        `json:"status"`
	EndReason   string        `json:"end_reason"`

	// Transcript is empty until a transcription has been saved.
	Transcript string `json:"transcript,omitempty"`
	Language   string `json:"language,omitempty"`

	// Provider names the STT backend that produced Transcript.
	Provider string `json:"provider,omitempty"`
}

// FromRecording builds the catalog entry for rec. Transcript fields are left
// empty.
func FromRecording(rec *recorder.Recording) Entry {
	return Entry{
		RecordingID: rec.ID,
		Path:        rec.Path,
		StartedAt:   rec.StartedAt,
		EndedAt:     rec.EndedAt,
		Duration:    rec.Duration,
		Bytes:       rec.Bytes,
		Status:      string(rec.Status),
		EndReason:   string(rec.EndReason),
	}
}

// Query filters [Store.Search] results. Zero-valued fields are ignored.
type Query struct {
	// Text is matched against transcripts with full-text semantics.
	Text string

	After  time.Time
	Before time.Time
	Status string

	// Limit caps the number of results. Zero means DefaultLimit.
	Limit int
}

// DefaultLimit is used when a query or Recent call does not set one.
const DefaultLimit = 50

// Store persists catalog entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save inserts e, or replaces the entry with the same RecordingID.
	Save(ctx context.Context, e Entry) error

	// Get returns the entry for id or ErrNotFound.
	Get(ctx context.Context, id string) (Entry, error)

	// Recent returns up to limit entries, newest StartedAt first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Search returns entries matching q, newest first.
	Search(ctx context.Context, q Query) ([]Entry, error)
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}
