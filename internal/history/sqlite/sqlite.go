package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/voicewatch/internal/history"
)

// Sink writes transition events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_transitions(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TIMESTAMP NOT NULL,
			service TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			reason TEXT NULL,
			detail TEXT NULL,
			restart_count INTEGER NOT NULL,
			consecutive_failures INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_transitions_service ON service_transitions(service);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_transitions(occurred_at, service, from_state, to_state, reason, detail, restart_count, consecutive_failures)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), e.Service, e.From, e.To, nullable(e.Reason), nullable(e.Detail), e.RestartCount, e.ConsecutiveFailures)
	return err
}

// Recent returns up to limit latest events, newest first. An empty service selects all.
func (s *Sink) Recent(ctx context.Context, service string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT occurred_at, service, from_state, to_state, reason, detail, restart_count, consecutive_failures
		FROM service_transitions`
	args := []any{}
	if service != "" {
		q += ` WHERE service = ?`
		args = append(args, service)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []history.Event
	for rows.Next() {
		var (
			e      history.Event
			at     time.Time
			reason sql.NullString
			detail sql.NullString
		)
		if err := rows.Scan(&at, &e.Service, &e.From, &e.To, &reason, &detail, &e.RestartCount, &e.ConsecutiveFailures); err != nil {
			return nil, err
		}
		e.OccurredAt = at
		e.Reason = reason.String
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
