// Package transcript keeps the log of recognition outcomes produced during a
// session: every transcript line and every failed attempt, in delivery order.
//
// [Store] is the persistence contract. [MemoryStore] keeps entries in process
// and is always available; the postgres subpackage stores them in PostgreSQL
// when a DSN is configured.
//
// Implementations must be safe for concurrent use.
package transcript

import (
	"context"
	"time"
)

// Entry is one stored outcome.
type Entry struct {
	// SessionID groups the entries of one run.
	SessionID string

	// Kind is "transcript" for recognised text, otherwise the failure kind
	// ("unintelligible", "service_unavailable", "capture_failure", "other").
	Kind string

	// Text is the transcript, or the failure detail.
	Text string

	// Language is the recognition language used for the attempt.
	Language string

	// Attempt is the 1-based recognition attempt; 0 for capture failures.
	Attempt int

	// SegmentStart is the offset of the segment within its capture window.
	SegmentStart time.Duration

	// SegmentDuration is the length of the segment's audio.
	SegmentDuration time.Duration

	// At is when the outcome was delivered.
	At time.Time
}

// IsTranscript reports whether e holds recognised text.
func (e Entry) IsTranscript() bool { return e.Kind == KindTranscript }

// KindTranscript is the Kind of a successful recognition.
const KindTranscript = "transcript"

// SearchOpts filters [Store.Search].
type SearchOpts struct {
	// SessionID restricts results to one session. Empty searches all.
	SessionID string

	// TranscriptsOnly drops failure entries.
	TranscriptsOnly bool

	// After and Before bound At. Zero values are ignored.
	After  time.Time
	Before time.Time

	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// Store persists outcome entries.
type Store interface {
	// Write appends e.
	Write(ctx context.Context, e Entry) error

	// Recent returns the last limit entries of sessionID, oldest first. A
	// limit of zero returns the whole session.
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)

	// Search returns entries whose text contains every word of query,
	// case-insensitively, ordered by At.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error)
}
