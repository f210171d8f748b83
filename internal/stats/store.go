// Package stats persists raw check results and maintains daily rollups for
// uptime percentages, response-time aggregates, and tracker history.
package stats

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marcus-qen/statuswatch/internal/monitor"
)

// RawRetention is how long individual check results are kept. Short
// windows (24h, 7d) are computed from raw rows; longer windows come from
// the daily rollups.
const RawRetention = 8 * 24 * time.Hour

// DailyRetention bounds the rollup history.
const DailyRetention = 92 * 24 * time.Hour

const dayFormat = "2006-01-02"

// DailyStat is one day's rollup for a monitor.
type DailyStat struct {
	Day           string         `json:"date"`
	Total         int64          `json:"total_checks"`
	Up            int64          `json:"successful_checks"`
	UptimePct     float64        `json:"uptime_percentage"`
	AvgResponseMS float64        `json:"avg_response_time_ms"`
	P95ResponseMS *int64         `json:"p95_response_time_ms,omitempty"`
	Worst         monitor.Status `json:"worst_status"`
}

// TrackerDay is one cell of the 90-day tracker strip.
type TrackerDay struct {
	Day    string         `json:"date"`
	Status monitor.Status `json:"status"`
	Label  string         `json:"label"`
}

// UptimeWindows carries the standard windowed uptime percentages.
type UptimeWindows struct {
	Day     float64 `json:"uptime_24h"`
	Week    float64 `json:"uptime_7d"`
	Month   float64 `json:"uptime_30d"`
	Quarter float64 `json:"uptime_90d"`
}

// Store owns the stats database: an append-only check_results table plus a
// daily_stats rollup keyed by (monitor_id, day). Rollups are updated
// transactionally with each recorded result, so readers never see a raw
// row whose day total does not include it.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a stats database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS check_results (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			monitor_id       INTEGER NOT NULL,
			observed_at      TEXT NOT NULL,
			outcome          TEXT NOT NULL,
			status           TEXT NOT NULL,
			response_time_ms INTEGER,
			status_code      INTEGER,
			error_message    TEXT NOT NULL DEFAULT '',
			source           TEXT NOT NULL DEFAULT 'probe'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_check_results_monitor_time
			ON check_results (monitor_id, observed_at)`,
		`CREATE TABLE IF NOT EXISTS daily_stats (
			monitor_id       INTEGER NOT NULL,
			day              TEXT NOT NULL,
			total            INTEGER NOT NULL DEFAULT 0,
			up               INTEGER NOT NULL DEFAULT 0,
			sum_response_ms  INTEGER NOT NULL DEFAULT 0,
			response_count   INTEGER NOT NULL DEFAULT 0,
			p95_response_ms  INTEGER,
			worst_status     TEXT NOT NULL DEFAULT 'unknown',
			PRIMARY KEY (monitor_id, day)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create stats schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Record appends a check result and folds it into that day's rollup.
func (s *Store) Record(res monitor.CheckResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin stats tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	observed := res.ObservedAt.UTC()
	_, err = tx.Exec(`INSERT INTO check_results
		(monitor_id, observed_at, outcome, status, response_time_ms, status_code, error_message, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.MonitorID, observed.Format(time.RFC3339Nano), string(res.Outcome), string(res.Status),
		res.ResponseTimeMS, res.StatusCode, res.ErrorMessage, string(res.Source))
	if err != nil {
		return fmt.Errorf("insert check result: %w", err)
	}

	day := observed.Format(dayFormat)
	var (
		total, up, sumMS, respCount int64
		worst                       string
	)
	err = tx.QueryRow(`SELECT total, up, sum_response_ms, response_count, worst_status
		FROM daily_stats WHERE monitor_id = ? AND day = ?`, res.MonitorID, day).
		Scan(&total, &up, &sumMS, &respCount, &worst)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read daily rollup: %w", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		worst = string(monitor.StatusUnknown)
	}

	total++
	if res.OK() {
		up++
	}
	if res.ResponseTimeMS != nil {
		sumMS += *res.ResponseTimeMS
		respCount++
	}
	newWorst := monitor.Worst(monitor.ParseStatus(worst), res.Status)

	p95, err := dayP95(tx, res.MonitorID, day)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`INSERT INTO daily_stats
		(monitor_id, day, total, up, sum_response_ms, response_count, p95_response_ms, worst_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (monitor_id, day) DO UPDATE SET
			total = excluded.total,
			up = excluded.up,
			sum_response_ms = excluded.sum_response_ms,
			response_count = excluded.response_count,
			p95_response_ms = excluded.p95_response_ms,
			worst_status = excluded.worst_status`,
		res.MonitorID, day, total, up, sumMS, respCount, p95, string(newWorst))
	if err != nil {
		return fmt.Errorf("upsert daily rollup: %w", err)
	}

	return tx.Commit()
}

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func dayP95(q querier, monitorID int64, day string) (*int64, error) {
	rows, err := q.Query(`SELECT response_time_ms FROM check_results
		WHERE monitor_id = ? AND observed_at >= ? AND observed_at < ?
		AND response_time_ms IS NOT NULL
		ORDER BY response_time_ms`,
		monitorID, day+"T00:00:00Z", day+"T23:59:59.999999999Z")
	if err != nil {
		return nil, fmt.Errorf("query day samples: %w", err)
	}
	defer rows.Close()

	var samples []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		samples = append(samples, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}
	p95 := percentile(samples, 0.95)
	return &p95, nil
}

// percentile expects sorted samples and uses nearest-rank.
func percentile(sorted []int64, p float64) int64 {
	idx := int(float64(len(sorted))*p+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Uptime computes the success percentage over the trailing window ending at
// now. With no checks in the window the monitor is assumed healthy and the
// result is 100.
func (s *Store) Uptime(monitorID int64, window time.Duration, now time.Time) (float64, error) {
	if window <= RawRetention {
		return s.uptimeRaw(monitorID, window, now)
	}
	return s.uptimeDaily(monitorID, window, now)
}

func (s *Store) uptimeRaw(monitorID int64, window time.Duration, now time.Time) (float64, error) {
	since := now.UTC().Add(-window).Format(time.RFC3339Nano)
	var total, up int64
	err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END), 0)
		FROM check_results WHERE monitor_id = ? AND observed_at >= ?`, monitorID, since).
		Scan(&total, &up)
	if err != nil {
		return 0, fmt.Errorf("uptime query: %w", err)
	}
	return uptimePct(up, total), nil
}

func (s *Store) uptimeDaily(monitorID int64, window time.Duration, now time.Time) (float64, error) {
	days := int(window / (24 * time.Hour))
	since := now.UTC().AddDate(0, 0, -days).Format(dayFormat)
	var total, up int64
	err := s.db.QueryRow(`SELECT COALESCE(SUM(total), 0), COALESCE(SUM(up), 0)
		FROM daily_stats WHERE monitor_id = ? AND day >= ?`, monitorID, since).
		Scan(&total, &up)
	if err != nil {
		return 0, fmt.Errorf("daily uptime query: %w", err)
	}
	return uptimePct(up, total), nil
}

func uptimePct(up, total int64) float64 {
	if total == 0 {
		return 100.0
	}
	return float64(up) / float64(total) * 100.0
}

// Windows returns uptime for the standard dashboard windows.
func (s *Store) Windows(monitorID int64, now time.Time) (UptimeWindows, error) {
	var w UptimeWindows
	var err error
	if w.Day, err = s.Uptime(monitorID, 24*time.Hour, now); err != nil {
		return w, err
	}
	if w.Week, err = s.Uptime(monitorID, 7*24*time.Hour, now); err != nil {
		return w, err
	}
	if w.Month, err = s.Uptime(monitorID, 30*24*time.Hour, now); err != nil {
		return w, err
	}
	w.Quarter, err = s.Uptime(monitorID, 90*24*time.Hour, now)
	return w, err
}

// Daily returns rollups for the trailing days window, newest last. Days
// without checks are omitted.
func (s *Store) Daily(monitorID int64, days int, now time.Time) ([]DailyStat, error) {
	since := now.UTC().AddDate(0, 0, -(days - 1)).Format(dayFormat)
	rows, err := s.db.Query(`SELECT day, total, up, sum_response_ms, response_count, p95_response_ms, worst_status
		FROM daily_stats WHERE monitor_id = ? AND day >= ? ORDER BY day`, monitorID, since)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	var out []DailyStat
	for rows.Next() {
		var (
			d               DailyStat
			sumMS, respCount int64
			p95             sql.NullInt64
			worst           string
		)
		if err := rows.Scan(&d.Day, &d.Total, &d.Up, &sumMS, &respCount, &p95, &worst); err != nil {
			return nil, err
		}
		d.UptimePct = uptimePct(d.Up, d.Total)
		if respCount > 0 {
			d.AvgResponseMS = float64(sumMS) / float64(respCount)
		}
		if p95.Valid {
			v := p95.Int64
			d.P95ResponseMS = &v
		}
		d.Worst = monitor.ParseStatus(worst)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Tracker returns one cell per calendar day for the trailing window, oldest
// first. Days with no checks report unknown.
func (s *Store) Tracker(monitorID int64, days int, now time.Time) ([]TrackerDay, error) {
	daily, err := s.Daily(monitorID, days, now)
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]monitor.Status, len(daily))
	for _, d := range daily {
		byDay[d.Day] = d.Worst
	}

	out := make([]TrackerDay, 0, days)
	start := now.UTC().AddDate(0, 0, -(days - 1))
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i).Format(dayFormat)
		status, ok := byDay[day]
		if !ok {
			status = monitor.StatusUnknown
		}
		out = append(out, TrackerDay{Day: day, Status: status, Label: status.Label()})
	}
	return out, nil
}

// Recent returns the latest raw results for a monitor, newest first.
func (s *Store) Recent(monitorID int64, limit int) ([]monitor.CheckResult, error) {
	rows, err := s.db.Query(`SELECT monitor_id, observed_at, outcome, status, response_time_ms, status_code, error_message, source
		FROM check_results WHERE monitor_id = ? ORDER BY observed_at DESC LIMIT ?`, monitorID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent results: %w", err)
	}
	defer rows.Close()

	var out []monitor.CheckResult
	for rows.Next() {
		var (
			res                monitor.CheckResult
			observed, outcome  string
			status, source     string
			respMS, statusCode sql.NullInt64
		)
		if err := rows.Scan(&res.MonitorID, &observed, &outcome, &status, &respMS, &statusCode, &res.ErrorMessage, &source); err != nil {
			return nil, err
		}
		if res.ObservedAt, err = time.Parse(time.RFC3339Nano, observed); err != nil {
			return nil, fmt.Errorf("parse observed_at: %w", err)
		}
		res.Outcome = monitor.Outcome(outcome)
		res.Status = monitor.ParseStatus(status)
		res.Source = monitor.Source(source)
		if respMS.Valid {
			v := respMS.Int64
			res.ResponseTimeMS = &v
		}
		if statusCode.Valid {
			v := int(statusCode.Int64)
			res.StatusCode = &v
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Recompute rebuilds the daily rollups a monitor has raw results for.
// Used after retention changes or suspected rollup drift.
func (s *Store) Recompute(monitorID int64) error {
	results, err := s.allResults(monitorID)
	if err != nil {
		return err
	}

	type acc struct {
		total, up, sumMS, respCount int64
		worst                       monitor.Status
		samples                     []int64
	}
	byDay := make(map[string]*acc)
	for _, res := range results {
		day := res.ObservedAt.UTC().Format(dayFormat)
		a := byDay[day]
		if a == nil {
			a = &acc{worst: monitor.StatusUnknown}
			byDay[day] = a
		}
		a.total++
		if res.OK() {
			a.up++
		}
		if res.ResponseTimeMS != nil {
			a.sumMS += *res.ResponseTimeMS
			a.respCount++
			a.samples = append(a.samples, *res.ResponseTimeMS)
		}
		a.worst = monitor.Worst(a.worst, res.Status)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin recompute tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for day, a := range byDay {
		var p95 *int64
		if len(a.samples) > 0 {
			sort.Slice(a.samples, func(i, j int) bool { return a.samples[i] < a.samples[j] })
			v := percentile(a.samples, 0.95)
			p95 = &v
		}
		_, err := tx.Exec(`INSERT INTO daily_stats
			(monitor_id, day, total, up, sum_response_ms, response_count, p95_response_ms, worst_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (monitor_id, day) DO UPDATE SET
				total = excluded.total,
				up = excluded.up,
				sum_response_ms = excluded.sum_response_ms,
				response_count = excluded.response_count,
				p95_response_ms = excluded.p95_response_ms,
				worst_status = excluded.worst_status`,
			monitorID, day, a.total, a.up, a.sumMS, a.respCount, p95, string(a.worst))
		if err != nil {
			return fmt.Errorf("recompute rollup for %s: %w", day, err)
		}
	}
	return tx.Commit()
}

func (s *Store) allResults(monitorID int64) ([]monitor.CheckResult, error) {
	rows, err := s.db.Query(`SELECT monitor_id, observed_at, outcome, status, response_time_ms, status_code, error_message, source
		FROM check_results WHERE monitor_id = ? ORDER BY observed_at`, monitorID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []monitor.CheckResult
	for rows.Next() {
		var (
			res                monitor.CheckResult
			observed, outcome  string
			status, source     string
			respMS, statusCode sql.NullInt64
		)
		if err := rows.Scan(&res.MonitorID, &observed, &outcome, &status, &respMS, &statusCode, &res.ErrorMessage, &source); err != nil {
			return nil, err
		}
		if res.ObservedAt, err = time.Parse(time.RFC3339Nano, observed); err != nil {
			return nil, fmt.Errorf("parse observed_at: %w", err)
		}
		res.Outcome = monitor.Outcome(outcome)
		res.Status = monitor.ParseStatus(status)
		res.Source = monitor.Source(source)
		if respMS.Valid {
			v := respMS.Int64
			res.ResponseTimeMS = &v
		}
		if statusCode.Valid {
			v := int(statusCode.Int64)
			res.StatusCode = &v
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Prune drops raw results and rollups past their retention.
func (s *Store) Prune(now time.Time) error {
	rawCutoff := now.UTC().Add(-RawRetention).Format(time.RFC3339Nano)
	if _, err := s.db.Exec(`DELETE FROM check_results WHERE observed_at < ?`, rawCutoff); err != nil {
		return fmt.Errorf("prune raw results: %w", err)
	}
	dailyCutoff := now.UTC().Add(-DailyRetention).Format(dayFormat)
	if _, err := s.db.Exec(`DELETE FROM daily_stats WHERE day < ?`, dailyCutoff); err != nil {
		return fmt.Errorf("prune daily rollups: %w", err)
	}
	return nil
}

// DeleteMonitor removes all stats for a deleted monitor.
func (s *Store) DeleteMonitor(monitorID int64) error {
	if _, err := s.db.Exec(`DELETE FROM check_results WHERE monitor_id = ?`, monitorID); err != nil {
		return fmt.Errorf("delete results: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM daily_stats WHERE monitor_id = ?`, monitorID); err != nil {
		return fmt.Errorf("delete rollups: %w", err)
	}
	return nil
}
