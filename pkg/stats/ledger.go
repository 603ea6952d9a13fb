package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by Ledger.Get for sessions that were never recorded.
var ErrNotFound = errors.New("session stats not found")

// Ledger stores the stats of finished sessions in SQLite.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens or creates the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases consistent
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("Stats ledger opened")
	return l, nil
}

func (l *Ledger) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_stats (
			session_id TEXT PRIMARY KEY,
			start_time INTEGER NOT NULL,
			end_time INTEGER,
			total_messages INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL,
			total_cost REAL NOT NULL,
			recorded_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_stats_start ON session_stats(start_time);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record stores s, replacing an earlier record of the same session. A resumed session
// is recorded again with its new totals.
func (l *Ledger) Record(ctx context.Context, s SessionStats) error {
	if s.SessionID == "" {
		return errors.New("session id is required")
	}

	var end sql.NullInt64
	if s.EndTime != nil {
		end = sql.NullInt64{Int64: s.EndTime.UnixNano(), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO session_stats (session_id, start_time, end_time, total_messages, total_tokens, total_cost, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			total_messages = excluded.total_messages,
			total_tokens = excluded.total_tokens,
			total_cost = excluded.total_cost,
			recorded_at = excluded.recorded_at`,
		s.SessionID, s.StartTime.UnixNano(), end, s.TotalMessages, s.TotalTokens, s.TotalCost, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record stats for %s: %w", s.SessionID, err)
	}
	return nil
}

// Get returns the recorded stats of one session.
func (l *Ledger) Get(ctx context.Context, sessionID string) (SessionStats, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT session_id, start_time, end_time, total_messages, total_tokens, total_cost
		FROM session_stats WHERE session_id = ?`, sessionID)

	s, err := scanStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionStats{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return s, err
}

// List returns every recorded session, oldest first.
func (l *Ledger) List(ctx context.Context) ([]SessionStats, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT session_id, start_time, end_time, total_messages, total_tokens, total_cost
		FROM session_stats ORDER BY start_time, session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var out []SessionStats
	for rows.Next() {
		s, err := scanStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Total sums every recorded session into stats named "total". The start time is the
// earliest recorded start.
func (l *Ledger) Total(ctx context.Context) (SessionStats, error) {
	var (
		start    sql.NullInt64
		messages int64
		tokens   int64
		cost     float64
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT MIN(start_time), COALESCE(SUM(total_messages), 0), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(total_cost), 0)
		FROM session_stats`).Scan(&start, &messages, &tokens, &cost)
	if err != nil {
		return SessionStats{}, fmt.Errorf("failed to total stats: %w", err)
	}

	total := SessionStats{
		SessionID:     "total",
		TotalMessages: messages,
		TotalTokens:   tokens,
		TotalCost:     cost,
	}
	if start.Valid {
		total.StartTime = time.Unix(0, start.Int64).UTC()
	}
	return total, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStats(row scanner) (SessionStats, error) {
	var (
		s     SessionStats
		start int64
		end   sql.NullInt64
	)
	if err := row.Scan(&s.SessionID, &start, &end, &s.TotalMessages, &s.TotalTokens, &s.TotalCost); err != nil {
		return SessionStats{}, err
	}
	s.StartTime = time.Unix(0, start).UTC()
	if end.Valid {
		t := time.Unix(0, end.Int64).UTC()
		s.EndTime = &t
	}
	return s, nil
}
