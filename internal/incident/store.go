package incident

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an incident id does not exist.
var ErrNotFound = errors.New("incident not found")

// Store persists incidents in SQLite. Open incidents are rehydrated into
// the correlator on startup so a restart mid-outage does not double-open.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) an incident database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open incident db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS incidents (
		id            TEXT PRIMARY KEY,
		title         TEXT NOT NULL,
		severity      TEXT NOT NULL,
		state         TEXT NOT NULL,
		service_group TEXT NOT NULL DEFAULT '',
		monitor_ids   TEXT NOT NULL,
		started_at    TEXT NOT NULL,
		resolved_at   TEXT,
		updates       TEXT NOT NULL DEFAULT '[]'
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create incidents table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Save inserts or replaces an incident record.
func (s *Store) Save(inc *Incident) error {
	ids, err := json.Marshal(inc.MonitorIDs)
	if err != nil {
		return fmt.Errorf("encode monitor ids: %w", err)
	}
	updates, err := json.Marshal(inc.Updates)
	if err != nil {
		return fmt.Errorf("encode updates: %w", err)
	}
	var resolved any
	if inc.ResolvedAt != nil {
		resolved = inc.ResolvedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.Exec(`INSERT INTO incidents
		(id, title, severity, state, service_group, monitor_ids, started_at, resolved_at, updates)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			severity = excluded.severity,
			state = excluded.state,
			service_group = excluded.service_group,
			monitor_ids = excluded.monitor_ids,
			resolved_at = excluded.resolved_at,
			updates = excluded.updates`,
		inc.ID, inc.Title, string(inc.Severity), string(inc.State), inc.ServiceGroup,
		string(ids), inc.StartedAt.UTC().Format(time.RFC3339Nano), resolved, string(updates))
	if err != nil {
		return fmt.Errorf("save incident: %w", err)
	}
	return nil
}

// Get returns one incident by id.
func (s *Store) Get(id string) (*Incident, error) {
	row := s.db.QueryRow(selectColumns+` FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inc, err
}

// Open returns all unresolved incidents, oldest first.
func (s *Store) Open() ([]*Incident, error) {
	return s.list(selectColumns+` FROM incidents WHERE state = ? ORDER BY started_at`, string(StateOpen))
}

// Recent returns the latest incidents regardless of state, newest first.
func (s *Store) Recent(limit int) ([]*Incident, error) {
	return s.list(selectColumns+` FROM incidents ORDER BY started_at DESC LIMIT ?`, limit)
}

// RecentByState returns the latest incidents in one lifecycle state,
// newest first.
func (s *Store) RecentByState(state State, limit int) ([]*Incident, error) {
	return s.list(selectColumns+` FROM incidents WHERE state = ? ORDER BY started_at DESC LIMIT ?`,
		string(state), limit)
}

const selectColumns = `SELECT id, title, severity, state, service_group, monitor_ids, started_at, resolved_at, updates`

func (s *Store) list(query string, args ...any) ([]*Incident, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []*Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var (
		inc             Incident
		severity, state string
		ids, updates    string
		startedAt       string
		resolvedAt      sql.NullString
	)
	err := row.Scan(&inc.ID, &inc.Title, &severity, &state, &inc.ServiceGroup,
		&ids, &startedAt, &resolvedAt, &updates)
	if err != nil {
		return nil, err
	}

	inc.Severity = Severity(severity)
	inc.State = State(state)
	if err := json.Unmarshal([]byte(ids), &inc.MonitorIDs); err != nil {
		return nil, fmt.Errorf("decode monitor ids: %w", err)
	}
	if err := json.Unmarshal([]byte(updates), &inc.Updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	if inc.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if resolvedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, resolvedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse resolved_at: %w", err)
		}
		inc.ResolvedAt = &t
	}
	return &inc, nil
}
