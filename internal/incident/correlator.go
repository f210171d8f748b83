package incident

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcus-qen/statuswatch/internal/events"
	"github.com/marcus-qen/statuswatch/internal/monitor"
	"github.com/marcus-qen/statuswatch/internal/state"
)

// DefaultCorrelationWindow bounds how long after an incident opens that
// outages on other monitors in the same service group merge into it.
const DefaultCorrelationWindow = 5 * time.Minute

// MonitorInfoFunc resolves a monitor id to its display name and service
// group for incident titles and merging.
type MonitorInfoFunc func(id int64) (name, group string, ok bool)

// Correlator consumes status transitions and maintains the set of open
// incidents. It implements state.TransitionHandler.
type Correlator struct {
	store  *Store
	bus    *events.Bus
	info   MonitorInfoFunc
	window time.Duration
	logger *zap.Logger

	mu   sync.Mutex
	open map[string]*Incident
	down map[int64]monitor.Status
}

// NewCorrelator creates a correlator backed by the given store. bus and
// info may be nil.
func NewCorrelator(store *Store, bus *events.Bus, info MonitorInfoFunc, window time.Duration, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = DefaultCorrelationWindow
	}
	return &Correlator{
		store:  store,
		bus:    bus,
		info:   info,
		window: window,
		logger: logger,
		open:   make(map[string]*Incident),
		down:   make(map[int64]monitor.Status),
	}
}

// Rehydrate loads open incidents from the store. Monitors affected by an
// open incident are treated as down until a fresh result says otherwise,
// so a restart mid-outage resolves rather than double-opens.
func (c *Correlator) Rehydrate() error {
	incidents, err := c.store.Open()
	if err != nil {
		return fmt.Errorf("load open incidents: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, inc := range incidents {
		c.open[inc.ID] = inc
		for _, id := range inc.MonitorIDs {
			c.down[id] = monitor.StatusMajorOutage
		}
	}
	if len(incidents) > 0 {
		c.logger.Info("rehydrated open incidents", zap.Int("count", len(incidents)))
	}
	return nil
}

// HandleTransition feeds one confirmed status transition into the
// correlator. Maintenance transitions are ignored: entering maintenance
// neither opens nor resolves anything.
func (c *Correlator) HandleTransition(tr state.Transition) {
	if tr.To == monitor.StatusMaintenance {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if tr.To.IsOutage() {
		c.handleOutage(tr)
		return
	}
	if tr.To == monitor.StatusOperational {
		c.handleRecovery(tr)
	}
}

func (c *Correlator) handleOutage(tr state.Transition) {
	c.down[tr.MonitorID] = tr.To
	name, group := c.describe(tr.MonitorID)

	// Already part of an open incident: escalate if the new status is worse.
	if inc := c.covering(tr.MonitorID); inc != nil {
		sev := severityFor(tr.To)
		if sev.outranks(inc.Severity) {
			inc.Severity = sev
			c.appendUpdate(inc, tr.At, fmt.Sprintf("%s escalated to %s", name, tr.To))
			c.persist(inc, events.IncidentUpdated, tr.MonitorID)
		}
		return
	}

	// A fresh outage in the same service group merges into a recently
	// opened incident instead of opening a parallel one.
	if group != "" {
		if inc := c.groupMatch(group, tr.At); inc != nil {
			inc.MonitorIDs = append(inc.MonitorIDs, tr.MonitorID)
			if sev := severityFor(tr.To); sev.outranks(inc.Severity) {
				inc.Severity = sev
			}
			c.appendUpdate(inc, tr.At, fmt.Sprintf("%s is also affected (%s)", name, tr.To))
			c.persist(inc, events.IncidentUpdated, tr.MonitorID)
			return
		}
	}

	inc := &Incident{
		ID:           uuid.NewString(),
		Title:        fmt.Sprintf("%s outage", name),
		Severity:     severityFor(tr.To),
		State:        StateOpen,
		ServiceGroup: group,
		MonitorIDs:   []int64{tr.MonitorID},
		StartedAt:    tr.At,
	}
	c.appendUpdate(inc, tr.At, fmt.Sprintf("%s reported %s", name, tr.To))
	c.open[inc.ID] = inc
	c.persist(inc, events.IncidentOpened, tr.MonitorID)
	c.logger.Info("incident opened",
		zap.String("incident_id", inc.ID),
		zap.Int64("monitor_id", tr.MonitorID),
		zap.String("severity", string(inc.Severity)),
	)
}

func (c *Correlator) handleRecovery(tr state.Transition) {
	delete(c.down, tr.MonitorID)

	inc := c.covering(tr.MonitorID)
	if inc == nil {
		return
	}
	name, _ := c.describe(tr.MonitorID)
	c.appendUpdate(inc, tr.At, fmt.Sprintf("%s recovered", name))

	for _, id := range inc.MonitorIDs {
		if _, stillDown := c.down[id]; stillDown {
			c.persist(inc, events.IncidentUpdated, tr.MonitorID)
			return
		}
	}

	resolvedAt := tr.At
	inc.State = StateResolved
	inc.ResolvedAt = &resolvedAt
	delete(c.open, inc.ID)
	c.persist(inc, events.IncidentResolved, tr.MonitorID)
	c.logger.Info("incident resolved",
		zap.String("incident_id", inc.ID),
		zap.Duration("duration", resolvedAt.Sub(inc.StartedAt)),
	)
}

// covering returns the open incident that includes the monitor, if any.
func (c *Correlator) covering(monitorID int64) *Incident {
	for _, inc := range c.open {
		if inc.Covers(monitorID) {
			return inc
		}
	}
	return nil
}

// groupMatch returns an open incident in the group whose start is within
// the correlation window of at.
func (c *Correlator) groupMatch(group string, at time.Time) *Incident {
	for _, inc := range c.open {
		if inc.ServiceGroup == group && at.Sub(inc.StartedAt) <= c.window {
			return inc
		}
	}
	return nil
}

func (c *Correlator) describe(monitorID int64) (name, group string) {
	if c.info != nil {
		if n, g, ok := c.info(monitorID); ok {
			return n, g
		}
	}
	return fmt.Sprintf("monitor %d", monitorID), ""
}

func (c *Correlator) appendUpdate(inc *Incident, at time.Time, msg string) {
	inc.Updates = append(inc.Updates, Update{At: at, Message: msg})
}

func (c *Correlator) persist(inc *Incident, evt events.EventType, monitorID int64) {
	if err := c.store.Save(inc); err != nil {
		c.logger.Error("persist incident", zap.String("incident_id", inc.ID), zap.Error(err))
	}
	if c.bus != nil {
		c.bus.Publish(events.Event{
			Type:      evt,
			MonitorID: monitorID,
			Summary:   inc.Title,
			Detail:    inc,
		})
	}
}

// OpenIncidents returns copies of the currently open incidents.
func (c *Correlator) OpenIncidents() []*Incident {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Incident, 0, len(c.open))
	for _, inc := range c.open {
		cp := *inc
		cp.MonitorIDs = append([]int64(nil), inc.MonitorIDs...)
		cp.Updates = append([]Update(nil), inc.Updates...)
		out = append(out, &cp)
	}
	return out
}

// OpenCount reports the number of open incidents.
func (c *Correlator) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}
