// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides audit-event persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_events (
			event_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			from_state TEXT NOT NULL DEFAULT '',
			to_state TEXT NOT NULL DEFAULT '',
			task_id TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			ts TIMESTAMP NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_agent_events_agent ON agent_events(agent_id, ts);
		CREATE INDEX IF NOT EXISTS idx_agent_events_kind ON agent_events(kind, ts);
		CREATE INDEX IF NOT EXISTS idx_agent_events_ts ON agent_events(ts);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// AppendAgentEvent appends an event to the audit trail.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAgentEvent(ctx context.Context, e *AgentEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling event detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO agent_events (event_id, agent_id, kind, from_state, to_state, task_id, error, actor, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.AgentID,
		string(e.Kind),
		e.FromState,
		e.ToState,
		e.TaskID,
		e.Error,
		e.Actor,
		e.Timestamp,
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting agent event: %w", err)
	}
	return nil
}

// ListAgentEvents returns audit events matching the filter, newest first.
func (s *SQLiteStore) ListAgentEvents(ctx context.Context, filter EventFilter) ([]*AgentEvent, error) {
	var conditions []string
	var args []any

	if filter.Since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, filter.Since.UTC())
	}
	if filter.Until != nil {
		conditions = append(conditions, "ts <= ?")
		args = append(args, filter.Until.UTC())
	}
	if filter.AgentID != nil {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, *filter.AgentID)
	}
	if filter.Kind != nil {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(*filter.Kind))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := "SELECT event_id, agent_id, kind, from_state, to_state, task_id, error, actor, ts, detail_json FROM agent_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying agent events: %w", err)
	}
	defer rows.Close()

	var events []*AgentEvent
	for rows.Next() {
		var e AgentEvent
		var kind string
		var detailJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.AgentID, &kind, &e.FromState, &e.ToState, &e.TaskID, &e.Error, &e.Actor, &e.Timestamp, &detailJSON); err != nil {
			return nil, fmt.Errorf("scanning agent event: %w", err)
		}
		e.Kind = EventKind(kind)
		if detailJSON.Valid && detailJSON.String != "" {
			if err := json.Unmarshal([]byte(detailJSON.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling event detail: %w", err)
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent events: %w", err)
	}
	return events, nil
}

// CountAgentEvents returns the number of events of the given kind;
// an empty kind counts everything.
func (s *SQLiteStore) CountAgentEvents(ctx context.Context, kind EventKind) (int64, error) {
	var count int64
	var err error
	if kind == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agent_events").Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agent_events WHERE kind = ?", string(kind)).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting agent events: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
