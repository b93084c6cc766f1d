package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pagegen/pagegen/pkg/models"
)

// opTimeout bounds individual log statements so a stalled database cannot
// wedge a processor task or a subscriber's replay.
const opTimeout = 5 * time.Second

// pgUniqueViolation is the PostgreSQL error code for unique_violation.
const pgUniqueViolation = "23505"

// PostgresLog implements Log over the events table using raw SQL.
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog creates a log backed by the given pool.
func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

// Append writes one row. A duplicate (session_id, offset) key fails with
// ErrDuplicateOffset. Appends are never retried internally: the caller has
// already published the offset and must not reuse it.
func (l *PostgresLog) Append(ctx context.Context, sessionID string, offset int64, event models.StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err = l.db.ExecContext(opCtx,
		`INSERT INTO events (session_id, "offset", type, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
		sessionID, offset, string(event.Type), payload, time.Now(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("append (%s, %d): %w", sessionID, offset, ErrDuplicateOffset)
		}
		return fmt.Errorf("append (%s, %d): %w", sessionID, offset, err)
	}
	return nil
}

// ReadFrom returns rows after fromOffsetExclusive in ascending offset
// order. Transient failures are retried once.
func (l *PostgresLog) ReadFrom(ctx context.Context, sessionID string, fromOffsetExclusive int64) ([]models.LogRow, error) {
	rows, err := l.readFromOnce(ctx, sessionID, fromOffsetExclusive)
	if err != nil && ctx.Err() == nil {
		rows, err = l.readFromOnce(ctx, sessionID, fromOffsetExclusive)
	}
	return rows, err
}

func (l *PostgresLog) readFromOnce(ctx context.Context, sessionID string, fromOffsetExclusive int64) ([]models.LogRow, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := l.db.QueryContext(opCtx,
		`SELECT session_id, "offset", type, payload, created_at
		 FROM events WHERE session_id = $1 AND "offset" > $2
		 ORDER BY "offset" ASC`,
		sessionID, fromOffsetExclusive,
	)
	if err != nil {
		return nil, fmt.Errorf("read from (%s, %d): %w", sessionID, fromOffsetExclusive, err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.LogRow
	for rows.Next() {
		var r models.LogRow
		var typ string
		if err := rows.Scan(&r.SessionID, &r.Offset, &typ, &r.Payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		r.Type = models.EventType(typ)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read from (%s, %d): %w", sessionID, fromOffsetExclusive, err)
	}
	return out, nil
}

// LatestOffset returns the session's head offset, or -1 when empty.
// Transient failures are retried once.
func (l *PostgresLog) LatestOffset(ctx context.Context, sessionID string) (int64, error) {
	off, err := l.latestOffsetOnce(ctx, sessionID)
	if err != nil && ctx.Err() == nil {
		off, err = l.latestOffsetOnce(ctx, sessionID)
	}
	return off, err
}

func (l *PostgresLog) latestOffsetOnce(ctx context.Context, sessionID string) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var offset int64
	err := l.db.QueryRowContext(opCtx,
		`SELECT COALESCE(MAX("offset"), -1) FROM events WHERE session_id = $1`,
		sessionID,
	).Scan(&offset)
	if err != nil {
		return -1, fmt.Errorf("latest offset (%s): %w", sessionID, err)
	}
	return offset, nil
}

// LastFullOrDone returns the most recent full or done row, or nil.
func (l *PostgresLog) LastFullOrDone(ctx context.Context, sessionID string) (*models.LogRow, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var r models.LogRow
	var typ string
	err := l.db.QueryRowContext(opCtx,
		`SELECT session_id, "offset", type, payload, created_at
		 FROM events WHERE session_id = $1 AND type IN ($2, $3)
		 ORDER BY "offset" DESC LIMIT 1`,
		sessionID, string(models.EventFull), string(models.EventDone),
	).Scan(&r.SessionID, &r.Offset, &typ, &r.Payload, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last full or done (%s): %w", sessionID, err)
	}
	r.Type = models.EventType(typ)
	return &r, nil
}

// Cleanup removes rows older than the threshold.
func (l *PostgresLog) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := l.db.ExecContext(opCtx, `DELETE FROM events WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rows affected: %w", err)
	}
	return count, nil
}
