// Package engine wires the monitoring pipeline together: scheduler and
// probers feeding the state machine, stats aggregation, incident
// correlation, heartbeat ingestion, and the snapshot API the HTTP layer
// serves from.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/statuswatch/internal/config"
	"github.com/marcus-qen/statuswatch/internal/events"
	"github.com/marcus-qen/statuswatch/internal/heartbeat"
	"github.com/marcus-qen/statuswatch/internal/incident"
	"github.com/marcus-qen/statuswatch/internal/metrics"
	"github.com/marcus-qen/statuswatch/internal/monitor"
	"github.com/marcus-qen/statuswatch/internal/probe"
	"github.com/marcus-qen/statuswatch/internal/scheduler"
	"github.com/marcus-qen/statuswatch/internal/state"
	"github.com/marcus-qen/statuswatch/internal/stats"
)

// MonitorStatus is the per-monitor slice of the status page.
type MonitorStatus struct {
	Monitor        monitor.Monitor     `json:"monitor"`
	Status         monitor.Status      `json:"status"`
	StatusLabel    string              `json:"status_label"`
	LastCheckTime  time.Time           `json:"last_check_time,omitempty"`
	LastTransition time.Time           `json:"last_transition_at,omitempty"`
	Uptime         stats.UptimeWindows `json:"uptime"`
}

// StatusPage is the consistent snapshot served to dashboards.
type StatusPage struct {
	AllOperational bool                 `json:"all_operational"`
	LastUpdated    time.Time            `json:"last_updated"`
	Monitors       []MonitorStatus      `json:"monitors"`
	Incidents      []*incident.Incident `json:"incidents"`
}

// MonitorDetail extends MonitorStatus with history for the detail view.
type MonitorDetail struct {
	MonitorStatus
	Daily   []stats.DailyStat     `json:"daily_stats"`
	Tracker []stats.TrackerDay    `json:"tracker"`
	Recent  []monitor.CheckResult `json:"recent_results"`
}

// Engine owns the full monitoring pipeline. It implements
// monitor.ResultSink: every result, probed or pushed, flows through
// Submit.
type Engine struct {
	cfg    config.Config
	logger *zap.Logger

	monitors  *monitor.Store
	stats     *stats.Store
	incidents *incident.Store

	machine    *state.Machine
	correlator *incident.Correlator
	ingestor   *heartbeat.Ingestor
	sched      *scheduler.Scheduler
	bus        *events.Bus

	mu          sync.RWMutex
	cache       map[int64]monitor.Monitor
	manualMaint map[int64]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the data stores under cfg.DataDir and assembles the pipeline.
func New(cfg config.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	monStore, err := monitor.NewStore(filepath.Join(cfg.DataDir, "monitors.db"))
	if err != nil {
		return nil, fmt.Errorf("monitor store: %w", err)
	}
	statStore, err := stats.NewStore(filepath.Join(cfg.DataDir, "stats.db"))
	if err != nil {
		_ = monStore.Close()
		return nil, fmt.Errorf("stats store: %w", err)
	}
	incStore, err := incident.NewStore(filepath.Join(cfg.DataDir, "incidents.db"))
	if err != nil {
		_ = monStore.Close()
		_ = statStore.Close()
		return nil, fmt.Errorf("incident store: %w", err)
	}

	e := &Engine{
		cfg:         cfg,
		logger:      logger.Named("engine"),
		monitors:    monStore,
		stats:       statStore,
		incidents:   incStore,
		bus:         events.NewBus(64),
		cache:       make(map[int64]monitor.Monitor),
		manualMaint: make(map[int64]bool),
	}

	e.machine = state.NewMachine(state.Config{
		FailureThreshold:  cfg.FailureThreshold,
		RecoveryThreshold: cfg.RecoveryThreshold,
	}, logger)

	e.correlator = incident.NewCorrelator(incStore, e.bus, e.monitorInfo, cfg.CorrelationWindow(), logger)
	e.machine.OnTransition(e.correlator)
	e.machine.OnTransition(transitionPublisher{e})

	e.ingestor = heartbeat.NewIngestor(e, e.bus, cfg.HeartbeatGraceFactor, logger)
	e.sched = scheduler.New(probe.NewExecutor(logger), e, cfg.Workers, logger)

	return e, nil
}

// Bus returns the engine's event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Monitors returns the monitor definition store.
func (e *Engine) Monitors() *monitor.Store { return e.monitors }

// transitionPublisher forwards confirmed transitions onto the bus and
// into the metrics gauges.
type transitionPublisher struct{ e *Engine }

func (p transitionPublisher) HandleTransition(tr state.Transition) {
	name := fmt.Sprintf("monitor %d", tr.MonitorID)
	if m, ok := p.e.lookup(tr.MonitorID); ok {
		name = m.DisplayName
	}
	metrics.RecordTransition(tr.To)
	metrics.RecordStatus(name, tr.To)
	metrics.OpenIncidents.Set(float64(p.e.correlator.OpenCount()))

	p.e.bus.Publish(events.Event{
		Type:      events.StatusChanged,
		MonitorID: tr.MonitorID,
		Summary:   fmt.Sprintf("%s: %s -> %s", name, tr.From, tr.To),
		Detail:    tr,
		Timestamp: tr.At,
	})
}

// Start rehydrates persisted state and launches the refresh and
// retention loops.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.correlator.Rehydrate(); err != nil {
		return err
	}
	metrics.OpenIncidents.Set(float64(e.correlator.OpenCount()))

	ctx, e.cancel = context.WithCancel(ctx)
	e.refresh()

	e.wg.Add(2)
	go e.refreshLoop(ctx)
	go e.retentionLoop(ctx)
	return nil
}

// Close stops all background work and closes the stores.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.sched.Stop()
	e.ingestor.Stop()
	e.wg.Wait()

	err := e.monitors.Close()
	if err2 := e.stats.Close(); err == nil {
		err = err2
	}
	if err2 := e.incidents.Close(); err == nil {
		err = err2
	}
	return err
}

func (e *Engine) refreshLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.RefreshInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refresh()
		}
	}
}

func (e *Engine) retentionLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.stats.Prune(time.Now()); err != nil {
				e.logger.Error("prune stats", zap.Error(err))
			}
		}
	}
}

// refresh re-reads active monitor definitions and reconciles the
// scheduler, heartbeat watchdogs, state machine, and maintenance flags.
func (e *Engine) refresh() {
	active, err := e.monitors.ListActive()
	if err != nil {
		// Keep running on the previous snapshot.
		e.logger.Error("refresh monitors", zap.Error(err))
		return
	}

	now := time.Now()
	keep := make(map[int64]struct{}, len(active))
	probed := make([]monitor.Monitor, 0, len(active))
	beats := make(map[int64]time.Duration)
	cache := make(map[int64]monitor.Monitor, len(active))

	for _, m := range active {
		keep[m.ID] = struct{}{}
		cache[m.ID] = m
		if m.IsHeartbeat() {
			beats[m.ID] = m.CheckInterval
		} else {
			probed = append(probed, m)
		}
	}

	e.mu.Lock()
	e.cache = cache
	for id := range e.manualMaint {
		if _, ok := keep[id]; !ok {
			delete(e.manualMaint, id)
		}
	}
	e.mu.Unlock()

	e.machine.Sync(keep)
	e.sched.Apply(probed)
	e.ingestor.Sync(beats)

	for _, m := range active {
		e.machine.SetMaintenance(m.ID, e.maintenanceActive(m, now), now)
	}
}

// maintenanceActive combines the manual override with any configured
// cron window.
func (e *Engine) maintenanceActive(m monitor.Monitor, now time.Time) bool {
	e.mu.RLock()
	manual := e.manualMaint[m.ID]
	e.mu.RUnlock()
	return manual || m.InMaintenance(now)
}

func (e *Engine) lookup(id int64) (monitor.Monitor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.cache[id]
	return m, ok
}

// monitorInfo resolves names and groups for the incident correlator.
func (e *Engine) monitorInfo(id int64) (string, string, bool) {
	m, ok := e.lookup(id)
	if !ok {
		return "", "", false
	}
	return m.DisplayName, m.ServiceGroup(), true
}

// Submit implements monitor.ResultSink. Every check result, regardless of
// source, is persisted, folded into the rollups, applied to the state
// machine, and published.
func (e *Engine) Submit(res monitor.CheckResult) {
	if err := e.stats.Record(res); err != nil {
		e.logger.Error("record result", zap.Int64("monitor_id", res.MonitorID), zap.Error(err))
	}

	typ := string(monitor.TypeCustom)
	if m, ok := e.lookup(res.MonitorID); ok {
		typ = string(m.Type)
	}
	metrics.RecordCheck(typ, res)

	e.machine.Apply(res)

	e.bus.Publish(events.Event{
		Type:      events.CheckCompleted,
		MonitorID: res.MonitorID,
		Summary:   fmt.Sprintf("check %s", res.Outcome),
		Detail:    res,
		Timestamp: res.ObservedAt,
	})
}

// RecordHeartbeat ingests one push report for a heartbeat monitor.
func (e *Engine) RecordHeartbeat(id int64, beat heartbeat.Beat) error {
	m, ok := e.lookup(id)
	if !ok || !m.IsHeartbeat() {
		metrics.RecordHeartbeat("rejected")
		return heartbeat.ErrUnknownMonitor
	}
	if err := e.ingestor.Record(id, beat); err != nil {
		metrics.RecordHeartbeat("rejected")
		return err
	}
	metrics.RecordHeartbeat("accepted")
	return nil
}

// TriggerCheck runs a monitor's probe immediately.
func (e *Engine) TriggerCheck(id int64) error {
	return e.sched.TriggerNow(id)
}

// SetMaintenance flips the manual maintenance override for a monitor.
func (e *Engine) SetMaintenance(id int64, on bool) error {
	m, ok := e.lookup(id)
	if !ok {
		return monitor.ErrNotFound
	}
	e.mu.Lock()
	if on {
		e.manualMaint[id] = true
	} else {
		delete(e.manualMaint, id)
	}
	e.mu.Unlock()

	now := time.Now()
	e.machine.SetMaintenance(id, on || m.InMaintenance(now), now)
	return nil
}

// CreateMonitor persists a new monitor and schedules it immediately.
func (e *Engine) CreateMonitor(m monitor.Monitor) (*monitor.Monitor, error) {
	created, err := e.monitors.Create(m)
	if err != nil {
		return nil, err
	}
	e.refresh()
	return created, nil
}

// UpdateMonitor replaces a monitor definition and reconciles the schedule.
func (e *Engine) UpdateMonitor(m monitor.Monitor) (*monitor.Monitor, error) {
	updated, err := e.monitors.Update(m)
	if err != nil {
		return nil, err
	}
	e.refresh()
	return updated, nil
}

// DeleteMonitor removes a monitor and all of its history.
func (e *Engine) DeleteMonitor(id int64) error {
	if err := e.monitors.Delete(id); err != nil {
		return err
	}
	if err := e.stats.DeleteMonitor(id); err != nil {
		e.logger.Error("delete monitor stats", zap.Int64("monitor_id", id), zap.Error(err))
	}
	e.refresh()
	return nil
}

// Status assembles the full status-page snapshot: one consistent read of
// every active monitor's state, uptime windows, and the open incidents.
func (e *Engine) Status() (*StatusPage, error) {
	e.mu.RLock()
	monitors := make([]monitor.Monitor, 0, len(e.cache))
	for _, m := range e.cache {
		monitors = append(monitors, m)
	}
	e.mu.RUnlock()

	now := time.Now()
	page := &StatusPage{
		AllOperational: true,
		LastUpdated:    now.UTC(),
		Monitors:       make([]MonitorStatus, 0, len(monitors)),
	}

	for _, m := range monitors {
		ms, err := e.monitorStatus(m, now)
		if err != nil {
			return nil, err
		}
		if ms.Status.IsOutage() {
			page.AllOperational = false
		}
		page.Monitors = append(page.Monitors, ms)
	}
	sortMonitors(page.Monitors)

	page.Incidents = e.correlator.OpenIncidents()
	return page, nil
}

// Detail assembles the history view for one monitor.
func (e *Engine) Detail(id int64) (*MonitorDetail, error) {
	m, ok := e.lookup(id)
	if !ok {
		stored, err := e.monitors.Get(id)
		if err != nil {
			return nil, err
		}
		m = *stored
	}

	now := time.Now()
	ms, err := e.monitorStatus(m, now)
	if err != nil {
		return nil, err
	}

	daily, err := e.stats.Daily(id, 90, now)
	if err != nil {
		return nil, err
	}
	tracker, err := e.stats.Tracker(id, 90, now)
	if err != nil {
		return nil, err
	}
	recent, err := e.stats.Recent(id, 50)
	if err != nil {
		return nil, err
	}

	return &MonitorDetail{
		MonitorStatus: ms,
		Daily:         daily,
		Tracker:       tracker,
		Recent:        recent,
	}, nil
}

func (e *Engine) monitorStatus(m monitor.Monitor, now time.Time) (MonitorStatus, error) {
	snap := e.machine.Snapshot(m.ID)
	windows, err := e.stats.Windows(m.ID, now)
	if err != nil {
		return MonitorStatus{}, err
	}
	return MonitorStatus{
		Monitor:        m,
		Status:         snap.Current,
		StatusLabel:    snap.Current.Label(),
		LastCheckTime:  snap.LastCheckTime,
		LastTransition: snap.LastTransitionAt,
		Uptime:         windows,
	}, nil
}

// RecentIncidents returns the newest incidents, open or resolved.
func (e *Engine) RecentIncidents(limit int) ([]*incident.Incident, error) {
	return e.incidents.Recent(limit)
}

// RecentIncidentsByState returns the newest incidents in one lifecycle
// state only.
func (e *Engine) RecentIncidentsByState(state incident.State, limit int) ([]*incident.Incident, error) {
	return e.incidents.RecentByState(state, limit)
}

// Incident returns one incident by id.
func (e *Engine) Incident(id string) (*incident.Incident, error) {
	return e.incidents.Get(id)
}

func sortMonitors(ms []MonitorStatus) {
	sort.Slice(ms, func(i, j int) bool {
		return ms[i].Monitor.DisplayName < ms[j].Monitor.DisplayName
	})
}
