// Package incident turns monitor status transitions into incident records:
// opening on confirmed outages, merging related monitors within a service
// group, and resolving once every affected monitor recovers.
package incident

import (
	"time"

	"github.com/marcus-qen/statuswatch/internal/monitor"
)

// Severity of an incident. Incidents only escalate, never downgrade.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// severityFor maps a monitor status to the incident severity it warrants.
func severityFor(s monitor.Status) Severity {
	if s == monitor.StatusMajorOutage {
		return SeverityCritical
	}
	return SeverityWarning
}

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

func (s Severity) outranks(other Severity) bool {
	return s.rank() > other.rank()
}

// State of an incident's lifecycle.
type State string

const (
	StateOpen     State = "open"
	StateResolved State = "resolved"
)

// Update is one timeline entry on an incident.
type Update struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Incident is one correlated outage episode. A resolved incident is
// immutable; a later outage on the same monitors opens a fresh one.
type Incident struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Severity     Severity   `json:"severity"`
	State        State      `json:"state"`
	ServiceGroup string     `json:"service_group,omitempty"`
	MonitorIDs   []int64    `json:"monitor_ids"`
	StartedAt    time.Time  `json:"started_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	Updates      []Update   `json:"updates,omitempty"`
}

// Covers reports whether the incident already includes a monitor.
func (i *Incident) Covers(monitorID int64) bool {
	for _, id := range i.MonitorIDs {
		if id == monitorID {
			return true
		}
	}
	return false
}
