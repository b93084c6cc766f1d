// Package eventlog persists the per-session, offset-keyed event log.
//
// The log is append-only. Rows are uniquely keyed by (session_id, offset);
// appending to an existing key is a programmer error and fails. ReadFrom
// observes every Append that returned successfully.
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/pagegen/pagegen/pkg/models"
)

// ErrDuplicateOffset is returned when an append targets an existing
// (session, offset) key. Offsets are allocated by a session's single
// processor task, so hitting this indicates a bug, not a race.
var ErrDuplicateOffset = errors.New("eventlog: offset already appended")

// Log is the durable store consumed by the processor and the subscription
// composer. Implementations must be safe for concurrent use; within one
// session, appends are already serialized by the processor.
type Log interface {
	// Append durably writes one row. After it returns nil the row is
	// readable by ReadFrom.
	Append(ctx context.Context, sessionID string, offset int64, event models.StreamEvent) error

	// ReadFrom returns rows with offset > fromOffsetExclusive, ascending.
	ReadFrom(ctx context.Context, sessionID string, fromOffsetExclusive int64) ([]models.LogRow, error)

	// LatestOffset returns the greatest stored offset, or -1 when the
	// session has no rows.
	LatestOffset(ctx context.Context, sessionID string) (int64, error)

	// LastFullOrDone returns the most recent row whose event type is Full
	// or Done, or nil when none exists. Used to restore the session's
	// current HTML when a processor is reconstructed.
	LastFullOrDone(ctx context.Context, sessionID string) (*models.LogRow, error)

	// Cleanup removes rows older than the threshold and reports how many.
	// Safe to call concurrently with appends.
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}
