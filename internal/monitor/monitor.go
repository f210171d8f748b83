// Package monitor defines the core domain model shared by the scheduler,
// probers, state machine, and aggregation layers: monitor definitions,
// discrete status values, and raw check results.
package monitor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Type identifies the probe strategy for a monitor.
type Type string

const (
	TypeHTTP   Type = "http"
	TypeTCP    Type = "tcp"
	TypePing   Type = "ping"
	TypeDNS    Type = "dns"
	TypeCustom Type = "custom"
)

// ParseType normalizes a monitor type string. Unrecognized values map to
// TypeCustom, matching how definitions from older config sources behaved.
func ParseType(s string) Type {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "http":
		return TypeHTTP
	case "tcp":
		return TypeTCP
	case "ping":
		return TypePing
	case "dns":
		return TypeDNS
	default:
		return TypeCustom
	}
}

// Bounds for monitor scheduling parameters.
const (
	MinCheckInterval = 60 * time.Second
	MaxCheckInterval = 3600 * time.Second
	MinTimeout       = 5 * time.Second
	MaxTimeout       = 300 * time.Second
)

// MetadataServiceGroup is the metadata key used to group monitors for
// presentation and incident correlation.
const MetadataServiceGroup = "service_group"

// MetadataHeartbeat marks a monitor as push-style: the target reports in via
// POST /heartbeat/{id} instead of being actively probed.
const MetadataHeartbeat = "heartbeat"

// MaintenanceWindow describes a recurring maintenance period. Schedule is a
// standard cron expression for the window start; DurationSeconds is how long
// the window stays open after each start.
type MaintenanceWindow struct {
	Schedule        string `json:"schedule"`
	DurationSeconds int64  `json:"duration_seconds"`
}

func (w MaintenanceWindow) duration() time.Duration {
	return time.Duration(w.DurationSeconds) * time.Second
}

// Active reports whether the window covers the given instant.
func (w MaintenanceWindow) Active(now time.Time) bool {
	if strings.TrimSpace(w.Schedule) == "" || w.DurationSeconds <= 0 {
		return false
	}
	spec, err := cron.ParseStandard(w.Schedule)
	if err != nil {
		return false
	}
	// If the most recent start is within the duration of now, the window is
	// open. cron only exposes Next, so anchor just before the earliest start
	// that could still cover now.
	start := spec.Next(now.Add(-w.duration() - time.Second))
	return !start.After(now) && now.Before(start.Add(w.duration()))
}

// Validate checks the cron expression parses.
func (w MaintenanceWindow) Validate() error {
	if strings.TrimSpace(w.Schedule) == "" {
		return fmt.Errorf("maintenance schedule is required")
	}
	if _, err := cron.ParseStandard(w.Schedule); err != nil {
		return fmt.Errorf("invalid maintenance schedule: %w", err)
	}
	if w.DurationSeconds <= 0 {
		return fmt.Errorf("maintenance duration must be > 0")
	}
	return nil
}

// Monitor is a single monitored target. The engine works with immutable
// snapshots; the store owns the mutable record.
type Monitor struct {
	ID            int64
	Name          string
	DisplayName   string
	Description   string
	Type          Type
	Target        string
	CheckInterval time.Duration
	Timeout       time.Duration
	IsActive      bool
	Metadata      map[string]string
	Maintenance   *MaintenanceWindow
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// monitorJSON is the wire shape: durations travel as whole seconds.
type monitorJSON struct {
	ID            int64              `json:"id"`
	Name          string             `json:"name"`
	DisplayName   string             `json:"display_name"`
	Description   string             `json:"description,omitempty"`
	Type          string             `json:"monitor_type"`
	Target        string             `json:"target"`
	CheckInterval int64              `json:"check_interval"`
	Timeout       int64              `json:"timeout"`
	IsActive      bool               `json:"is_active"`
	Metadata      map[string]string  `json:"metadata,omitempty"`
	Maintenance   *MaintenanceWindow `json:"maintenance,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// MarshalJSON renders durations as seconds, matching the dashboard contract.
func (m Monitor) MarshalJSON() ([]byte, error) {
	return json.Marshal(monitorJSON{
		ID:            m.ID,
		Name:          m.Name,
		DisplayName:   m.DisplayName,
		Description:   m.Description,
		Type:          string(m.Type),
		Target:        m.Target,
		CheckInterval: int64(m.CheckInterval / time.Second),
		Timeout:       int64(m.Timeout / time.Second),
		IsActive:      m.IsActive,
		Metadata:      m.Metadata,
		Maintenance:   m.Maintenance,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	})
}

// UnmarshalJSON parses the seconds-based wire shape.
func (m *Monitor) UnmarshalJSON(data []byte) error {
	var in monitorJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.ID = in.ID
	m.Name = in.Name
	m.DisplayName = in.DisplayName
	m.Description = in.Description
	m.Type = ParseType(in.Type)
	m.Target = in.Target
	m.CheckInterval = time.Duration(in.CheckInterval) * time.Second
	m.Timeout = time.Duration(in.Timeout) * time.Second
	m.IsActive = in.IsActive
	m.Metadata = in.Metadata
	m.Maintenance = in.Maintenance
	m.CreatedAt = in.CreatedAt
	m.UpdatedAt = in.UpdatedAt
	return nil
}

// ServiceGroup returns the presentation/correlation group, or "".
func (m Monitor) ServiceGroup() string {
	return strings.TrimSpace(m.Metadata[MetadataServiceGroup])
}

// IsHeartbeat reports whether the monitor is push-style. Heartbeat monitors
// are never actively probed; absence detection replaces the probe schedule.
func (m Monitor) IsHeartbeat() bool {
	return strings.EqualFold(m.Metadata[MetadataHeartbeat], "true")
}

// InMaintenance reports whether a configured maintenance window covers now.
func (m Monitor) InMaintenance(now time.Time) bool {
	return m.Maintenance != nil && m.Maintenance.Active(now)
}

// Validate enforces field requirements and the interval/timeout bounds.
func (m Monitor) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(m.DisplayName) == "" {
		return fmt.Errorf("display_name is required")
	}
	switch m.Type {
	case TypeHTTP, TypeTCP, TypePing, TypeDNS, TypeCustom:
	default:
		return fmt.Errorf("unknown monitor type %q", m.Type)
	}
	if m.Type != TypeCustom && strings.TrimSpace(m.Target) == "" {
		return fmt.Errorf("target is required for %s monitors", m.Type)
	}
	if m.CheckInterval < MinCheckInterval || m.CheckInterval > MaxCheckInterval {
		return fmt.Errorf("check_interval must be between %v and %v", MinCheckInterval, MaxCheckInterval)
	}
	if m.Timeout < MinTimeout || m.Timeout > MaxTimeout {
		return fmt.Errorf("timeout must be between %v and %v", MinTimeout, MaxTimeout)
	}
	if m.Maintenance != nil {
		if err := m.Maintenance.Validate(); err != nil {
			return err
		}
	}
	return nil
}
