package monitor

import "strings"

// Status is the discrete state of a monitor as shown on the status page.
type Status string

const (
	StatusOperational   Status = "operational"
	StatusDegraded      Status = "degraded"
	StatusPartialOutage Status = "partial_outage"
	StatusMajorOutage   Status = "major_outage"
	StatusMaintenance   Status = "maintenance"
	StatusUnknown       Status = "unknown"
)

// ParseStatus normalizes a status string; anything unrecognized is unknown.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "operational":
		return StatusOperational
	case "degraded":
		return StatusDegraded
	case "partial_outage":
		return StatusPartialOutage
	case "major_outage":
		return StatusMajorOutage
	case "maintenance":
		return StatusMaintenance
	default:
		return StatusUnknown
	}
}

// severityRank orders statuses from healthy to worst. Maintenance and unknown
// rank below degraded: they are absence of signal, not an outage.
var severityRank = map[Status]int{
	StatusOperational:   0,
	StatusUnknown:       1,
	StatusMaintenance:   1,
	StatusDegraded:      2,
	StatusPartialOutage: 3,
	StatusMajorOutage:   4,
}

// WorseThan reports whether s indicates a more severe condition than other.
func (s Status) WorseThan(other Status) bool {
	return severityRank[s] > severityRank[other]
}

// Worst returns the more severe of the two statuses.
func Worst(a, b Status) Status {
	if b.WorseThan(a) {
		return b
	}
	return a
}

// Rank returns the numeric severity, 0 (operational) through 4 (major).
func (s Status) Rank() int {
	return severityRank[s]
}

// IsOutage reports whether the status should drive incident correlation.
func (s Status) IsOutage() bool {
	switch s {
	case StatusDegraded, StatusPartialOutage, StatusMajorOutage:
		return true
	default:
		return false
	}
}

// Label returns the human-readable form used in status-page tooltips.
func (s Status) Label() string {
	switch s {
	case StatusOperational:
		return "Operational"
	case StatusDegraded:
		return "Degraded Performance"
	case StatusPartialOutage:
		return "Partial Outage"
	case StatusMajorOutage:
		return "Major Outage"
	case StatusMaintenance:
		return "Maintenance"
	default:
		return "Unknown"
	}
}
