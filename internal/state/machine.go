// Package state converts streams of raw check results into discrete
// per-monitor statuses with hysteresis, so a single noisy probe never
// flips a monitor between states.
package state

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/statuswatch/internal/monitor"
)

// Config holds the hysteresis thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures required to
	// leave operational.
	FailureThreshold int
	// RecoveryThreshold is the number of consecutive successes required
	// to return to operational.
	RecoveryThreshold int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 3
	}
	if c.RecoveryThreshold < 1 {
		c.RecoveryThreshold = 2
	}
	return c
}

// Transition records one status change for a monitor. Transitions are the
// sole trigger forwarded to the incident correlator.
type Transition struct {
	MonitorID int64          `json:"monitor_id"`
	From      monitor.Status `json:"from"`
	To        monitor.Status `json:"to"`
	At        time.Time      `json:"at"`
	Reason    string         `json:"reason,omitempty"`
}

// Snapshot is a read-only copy of a monitor's state.
type Snapshot struct {
	MonitorID            int64          `json:"monitor_id"`
	Current              monitor.Status `json:"current_status"`
	ConsecutiveFailures  int            `json:"consecutive_failures"`
	ConsecutiveSuccesses int            `json:"consecutive_successes"`
	LastTransitionAt     time.Time      `json:"last_transition_at"`
	LastCheckTime        time.Time      `json:"last_check_time"`
	Maintenance          bool           `json:"maintenance"`
}

// TransitionHandler consumes transitions as they happen. Handlers are
// invoked under the per-monitor lock, so transitions for one monitor
// arrive in order; they must not block for long.
type TransitionHandler interface {
	HandleTransition(Transition)
}

// monitorState is the per-monitor mutable unit. Each has its own mutex so
// updates for different monitors never contend.
type monitorState struct {
	mu sync.Mutex

	current              monitor.Status
	consecutiveFailures  int
	consecutiveSuccesses int
	degradedStreak       int
	streakWorst          monitor.Status
	lastTransitionAt     time.Time
	lastCheck            time.Time
	lastObserved         time.Time

	maintenance bool
	beforeMaint monitor.Status
}

// Machine owns all per-monitor status state. Results for unregistered
// monitors are discarded: a straggling probe must not resurrect state for
// a deleted monitor.
type Machine struct {
	cfg      Config
	logger   *zap.Logger
	handlers []TransitionHandler

	mu     sync.RWMutex
	states map[int64]*monitorState
}

// NewMachine creates a status state machine.
func NewMachine(cfg Config, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		cfg:    cfg.withDefaults(),
		logger: logger,
		states: make(map[int64]*monitorState),
	}
}

// OnTransition registers a transition handler. Not safe to call after the
// machine starts receiving results.
func (m *Machine) OnTransition(h TransitionHandler) {
	m.handlers = append(m.handlers, h)
}

// Register ensures state exists for a monitor. New monitors start unknown.
func (m *Machine) Register(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[id]; !ok {
		m.states[id] = &monitorState{current: monitor.StatusUnknown, streakWorst: monitor.StatusUnknown}
	}
}

// Remove drops a monitor's state. In-flight results arriving afterwards
// are discarded.
func (m *Machine) Remove(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
}

// Sync registers every id in keep and removes everything else.
func (m *Machine) Sync(keep map[int64]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range keep {
		if _, ok := m.states[id]; !ok {
			m.states[id] = &monitorState{current: monitor.StatusUnknown, streakWorst: monitor.StatusUnknown}
		}
	}
	for id := range m.states {
		if _, ok := keep[id]; !ok {
			delete(m.states, id)
		}
	}
}

func (m *Machine) get(id int64) *monitorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[id]
}

// Apply feeds one result through the state machine and returns the
// transition it caused, if any. Results observed at or before the
// monitor's last applied observation are dropped as stale, so neither
// out-of-order arrivals (a straggling probe racing a heartbeat) nor
// duplicate deliveries can move the counters.
func (m *Machine) Apply(res monitor.CheckResult) (Transition, bool) {
	st := m.get(res.MonitorID)
	if st == nil {
		m.logger.Debug("discarding result for unknown monitor", zap.Int64("monitor_id", res.MonitorID))
		return Transition{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.lastObserved.IsZero() && !res.ObservedAt.After(st.lastObserved) {
		m.logger.Debug("discarding stale result",
			zap.Int64("monitor_id", res.MonitorID),
			zap.Time("observed_at", res.ObservedAt),
			zap.Time("last_observed", st.lastObserved),
		)
		return Transition{}, false
	}
	st.lastObserved = res.ObservedAt
	st.lastCheck = res.ObservedAt

	if res.OK() {
		st.consecutiveSuccesses++
		st.consecutiveFailures = 0
		st.streakWorst = monitor.StatusUnknown
		if res.Status == monitor.StatusDegraded {
			st.degradedStreak++
		} else {
			st.degradedStreak = 0
		}
	} else {
		st.consecutiveFailures++
		st.consecutiveSuccesses = 0
		st.degradedStreak = 0

		class := res.Status
		if !class.IsOutage() {
			class = monitor.StatusMajorOutage
		}
		st.streakWorst = monitor.Worst(st.streakWorst, class)
	}

	if st.maintenance {
		// Streaks keep moving so the status settles correctly once the
		// window ends, but no transitions are emitted.
		return Transition{}, false
	}

	var next monitor.Status
	var reason string

	if res.OK() {
		switch {
		case st.current == monitor.StatusUnknown:
			// First observation sets the status directly.
			next = monitor.StatusOperational
			if res.Status == monitor.StatusDegraded {
				next = monitor.StatusDegraded
			}
			reason = "first result"
		case st.current == monitor.StatusOperational:
			if st.degradedStreak >= m.cfg.FailureThreshold {
				next = monitor.StatusDegraded
				reason = "sustained slow responses"
			}
		default:
			if st.consecutiveSuccesses >= m.cfg.RecoveryThreshold {
				if st.degradedStreak >= m.cfg.RecoveryThreshold {
					next = monitor.StatusDegraded
					reason = "recovered but slow"
				} else {
					next = monitor.StatusOperational
					reason = "recovered"
				}
			}
		}
	} else {
		class := res.Status
		if !class.IsOutage() {
			class = monitor.StatusMajorOutage
		}

		switch {
		case st.current == monitor.StatusUnknown:
			next = class
			reason = "first result"
		case st.current == monitor.StatusOperational:
			if st.consecutiveFailures >= m.cfg.FailureThreshold {
				next = st.streakWorst
				reason = "failure threshold reached"
			}
		default:
			if class.WorseThan(st.current) {
				next = class
				reason = "escalated"
			}
		}
	}

	if next == "" || next == st.current {
		return Transition{}, false
	}

	tr := Transition{
		MonitorID: res.MonitorID,
		From:      st.current,
		To:        next,
		At:        res.ObservedAt,
		Reason:    reason,
	}
	st.current = next
	st.lastTransitionAt = res.ObservedAt

	m.emit(tr)
	return tr, true
}

// SetMaintenance turns the explicit maintenance override on or off. While
// active, results are recorded but transitions are suppressed. Leaving
// maintenance restores the status the monitor had on entry.
func (m *Machine) SetMaintenance(id int64, on bool, at time.Time) (Transition, bool) {
	st := m.get(id)
	if st == nil {
		return Transition{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if on == st.maintenance {
		return Transition{}, false
	}

	var tr Transition
	if on {
		st.maintenance = true
		st.beforeMaint = st.current
		tr = Transition{MonitorID: id, From: st.current, To: monitor.StatusMaintenance, At: at, Reason: "maintenance started"}
		st.current = monitor.StatusMaintenance
	} else {
		st.maintenance = false
		tr = Transition{MonitorID: id, From: monitor.StatusMaintenance, To: st.beforeMaint, At: at, Reason: "maintenance ended"}
		st.current = st.beforeMaint
	}
	st.lastTransitionAt = at
	m.emit(tr)
	return tr, true
}

// InMaintenance reports whether the override is active for a monitor.
func (m *Machine) InMaintenance(id int64) bool {
	st := m.get(id)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.maintenance
}

// Snapshot returns a copy of one monitor's state. Unregistered monitors
// report unknown.
func (m *Machine) Snapshot(id int64) Snapshot {
	st := m.get(id)
	if st == nil {
		return Snapshot{MonitorID: id, Current: monitor.StatusUnknown}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return Snapshot{
		MonitorID:            id,
		Current:              st.current,
		ConsecutiveFailures:  st.consecutiveFailures,
		ConsecutiveSuccesses: st.consecutiveSuccesses,
		LastTransitionAt:     st.lastTransitionAt,
		LastCheckTime:        st.lastCheck,
		Maintenance:          st.maintenance,
	}
}

// All returns snapshots for every registered monitor.
func (m *Machine) All() map[int64]Snapshot {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make(map[int64]Snapshot, len(ids))
	for _, id := range ids {
		out[id] = m.Snapshot(id)
	}
	return out
}

func (m *Machine) emit(tr Transition) {
	for _, h := range m.handlers {
		h.HandleTransition(tr)
	}
}
