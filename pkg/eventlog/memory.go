package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pagegen/pagegen/pkg/models"
)

// MemoryLog implements Log in process memory. It backs unit tests and
// single-node dev deployments where durability across restarts is not
// required; semantics match PostgresLog exactly.
type MemoryLog struct {
	mu   sync.RWMutex
	rows map[string][]models.LogRow // per session, ascending offset
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{rows: make(map[string][]models.LogRow)}
}

// Append stores one row, rejecting duplicate offsets.
func (l *MemoryLog) Append(_ context.Context, sessionID string, offset int64, event models.StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rows := l.rows[sessionID]
	idx := sort.Search(len(rows), func(i int) bool { return rows[i].Offset >= offset })
	if idx < len(rows) && rows[idx].Offset == offset {
		return fmt.Errorf("append (%s, %d): %w", sessionID, offset, ErrDuplicateOffset)
	}

	row := models.LogRow{
		SessionID: sessionID,
		Offset:    offset,
		Type:      event.Type,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	rows = append(rows, models.LogRow{})
	copy(rows[idx+1:], rows[idx:])
	rows[idx] = row
	l.rows[sessionID] = rows
	return nil
}

// ReadFrom returns rows after fromOffsetExclusive, ascending.
func (l *MemoryLog) ReadFrom(_ context.Context, sessionID string, fromOffsetExclusive int64) ([]models.LogRow, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows := l.rows[sessionID]
	idx := sort.Search(len(rows), func(i int) bool { return rows[i].Offset > fromOffsetExclusive })
	out := make([]models.LogRow, len(rows)-idx)
	copy(out, rows[idx:])
	return out, nil
}

// LatestOffset returns the head offset or -1.
func (l *MemoryLog) LatestOffset(_ context.Context, sessionID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows := l.rows[sessionID]
	if len(rows) == 0 {
		return -1, nil
	}
	return rows[len(rows)-1].Offset, nil
}

// LastFullOrDone returns the most recent full/done row or nil.
func (l *MemoryLog) LastFullOrDone(_ context.Context, sessionID string) (*models.LogRow, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows := l.rows[sessionID]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Type == models.EventFull || rows[i].Type == models.EventDone {
			row := rows[i]
			return &row, nil
		}
	}
	return nil, nil
}

// Cleanup removes rows older than the threshold across all sessions.
func (l *MemoryLog) Cleanup(_ context.Context, olderThan time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed int64
	for sid, rows := range l.rows {
		kept := rows[:0]
		for _, r := range rows {
			if r.CreatedAt.Before(olderThan) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(l.rows, sid)
		} else {
			l.rows[sid] = kept
		}
	}
	return removed, nil
}
