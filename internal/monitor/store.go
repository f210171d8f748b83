package monitor

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a monitor id does not exist.
var ErrNotFound = errors.New("monitor not found")

// Store persists monitor definitions in SQLite. It is the configuration
// source for the engine: the scheduler consumes snapshots from ListActive
// on each refresh cycle.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a monitor database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open monitor db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS monitors (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		name           TEXT NOT NULL,
		display_name   TEXT NOT NULL UNIQUE,
		description    TEXT NOT NULL DEFAULT '',
		monitor_type   TEXT NOT NULL,
		target         TEXT NOT NULL DEFAULT '',
		check_interval INTEGER NOT NULL,
		timeout        INTEGER NOT NULL,
		is_active      INTEGER NOT NULL DEFAULT 1,
		metadata       TEXT NOT NULL DEFAULT '{}',
		maintenance    TEXT,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create monitors table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Create validates and inserts a monitor, returning it with id and timestamps.
func (s *Store) Create(m Monitor) (*Monitor, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	meta, err := encodeMetadata(m.Metadata)
	if err != nil {
		return nil, err
	}
	maint, err := encodeMaintenance(m.Maintenance)
	if err != nil {
		return nil, err
	}

	res, err := s.db.Exec(`INSERT INTO monitors
		(name, display_name, description, monitor_type, target, check_interval, timeout, is_active, metadata, maintenance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Name, m.DisplayName, m.Description, string(m.Type), m.Target,
		int64(m.CheckInterval/time.Second), int64(m.Timeout/time.Second),
		boolToInt(m.IsActive), meta, maint,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("display_name %q already in use", m.DisplayName)
		}
		return nil, fmt.Errorf("insert monitor: %w", err)
	}

	m.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("monitor id: %w", err)
	}
	return &m, nil
}

// Get returns the monitor with the given id.
func (s *Store) Get(id int64) (*Monitor, error) {
	row := s.db.QueryRow(selectColumns+` FROM monitors WHERE id = ?`, id)
	m, err := scanMonitor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Update replaces a monitor's definition. The id must exist.
func (s *Store) Update(m Monitor) (*Monitor, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.Get(m.ID)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = time.Now().UTC()

	meta, err := encodeMetadata(m.Metadata)
	if err != nil {
		return nil, err
	}
	maint, err := encodeMaintenance(m.Maintenance)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(`UPDATE monitors SET
		name = ?, display_name = ?, description = ?, monitor_type = ?, target = ?,
		check_interval = ?, timeout = ?, is_active = ?, metadata = ?, maintenance = ?, updated_at = ?
		WHERE id = ?`,
		m.Name, m.DisplayName, m.Description, string(m.Type), m.Target,
		int64(m.CheckInterval/time.Second), int64(m.Timeout/time.Second),
		boolToInt(m.IsActive), meta, maint,
		m.UpdatedAt.Format(time.RFC3339Nano), m.ID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("display_name %q already in use", m.DisplayName)
		}
		return nil, fmt.Errorf("update monitor: %w", err)
	}
	return &m, nil
}

// Delete removes a monitor definition.
func (s *Store) Delete(id int64) error {
	res, err := s.db.Exec(`DELETE FROM monitors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete monitor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all monitors ordered by display name.
func (s *Store) List() ([]Monitor, error) {
	return s.list(selectColumns + ` FROM monitors ORDER BY display_name`)
}

// ListActive returns active monitors only; these are the ones scheduled.
func (s *Store) ListActive() ([]Monitor, error) {
	return s.list(selectColumns + ` FROM monitors WHERE is_active = 1 ORDER BY display_name`)
}

const selectColumns = `SELECT id, name, display_name, description, monitor_type, target,
	check_interval, timeout, is_active, metadata, maintenance, created_at, updated_at`

func (s *Store) list(query string) ([]Monitor, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	defer rows.Close()

	var out []Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMonitor(row rowScanner) (*Monitor, error) {
	var (
		m                    Monitor
		typ                  string
		intervalS, timeoutS  int64
		active               int
		meta                 string
		maint                sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&m.ID, &m.Name, &m.DisplayName, &m.Description, &typ, &m.Target,
		&intervalS, &timeoutS, &active, &meta, &maint, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	m.Type = Type(typ)
	m.CheckInterval = time.Duration(intervalS) * time.Second
	m.Timeout = time.Duration(timeoutS) * time.Second
	m.IsActive = active != 0

	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode monitor metadata: %w", err)
		}
	}
	if maint.Valid && maint.String != "" {
		var w MaintenanceWindow
		if err := json.Unmarshal([]byte(maint.String), &w); err != nil {
			return nil, fmt.Errorf("decode maintenance window: %w", err)
		}
		m.Maintenance = &w
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &m, nil
}

func encodeMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

func encodeMaintenance(w *MaintenanceWindow) (any, error) {
	if w == nil {
		return nil, nil
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode maintenance window: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
