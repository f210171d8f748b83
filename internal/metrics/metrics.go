// Package metrics defines Prometheus metrics for the status engine.
//
// Metric naming follows Prometheus conventions:
//   - statuswatch_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marcus-qen/statuswatch/internal/monitor"
)

var (
	// ChecksTotal counts completed checks by monitor type and outcome.
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statuswatch_checks_total",
			Help: "Total completed checks by monitor type and outcome.",
		},
		[]string{"monitor_type", "outcome"},
	)

	// CheckDurationSeconds is a histogram of probe round-trip time.
	CheckDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statuswatch_check_duration_seconds",
			Help:    "Probe round-trip time in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"monitor_type"},
	)

	// MonitorStatus is the numeric severity of each monitor's current
	// status (0 operational through 4 major outage).
	MonitorStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statuswatch_monitor_status",
			Help: "Current status severity per monitor (0=operational, 2=degraded, 3=partial_outage, 4=major_outage).",
		},
		[]string{"monitor"},
	)

	// TransitionsTotal counts confirmed status transitions by target status.
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statuswatch_transitions_total",
			Help: "Total confirmed status transitions by resulting status.",
		},
		[]string{"to"},
	)

	// HeartbeatsTotal counts heartbeat ingestion by result.
	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statuswatch_heartbeats_total",
			Help: "Total heartbeat reports by result (accepted, rejected, missed).",
		},
		[]string{"result"},
	)

	// OpenIncidents is the number of currently open incidents.
	OpenIncidents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "statuswatch_open_incidents",
			Help: "Number of currently open incidents.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ChecksTotal,
		CheckDurationSeconds,
		MonitorStatus,
		TransitionsTotal,
		HeartbeatsTotal,
		OpenIncidents,
	)
}

// RecordCheck records one completed check result.
func RecordCheck(monitorType string, res monitor.CheckResult) {
	ChecksTotal.WithLabelValues(monitorType, string(res.Outcome)).Inc()
	if res.ResponseTimeMS != nil {
		CheckDurationSeconds.WithLabelValues(monitorType).Observe(float64(*res.ResponseTimeMS) / 1000)
	}
}

// RecordStatus updates the status gauge for a monitor.
func RecordStatus(name string, status monitor.Status) {
	MonitorStatus.WithLabelValues(name).Set(float64(status.Rank()))
}

// RecordTransition records one confirmed transition.
func RecordTransition(to monitor.Status) {
	TransitionsTotal.WithLabelValues(string(to)).Inc()
}

// RecordHeartbeat records a heartbeat ingestion result.
func RecordHeartbeat(result string) {
	HeartbeatsTotal.WithLabelValues(result).Inc()
}
