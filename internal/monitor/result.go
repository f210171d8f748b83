package monitor

import "time"

// Outcome is the binary success/failure verdict of a single check.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Source records which pipeline produced a check result.
type Source string

const (
	SourceProbe     Source = "probe"     // active outbound check
	SourceHeartbeat Source = "heartbeat" // push signal from the target
	SourceSynthetic Source = "synthetic" // generated, e.g. missed-heartbeat failure
)

// CheckResult is one observation of a monitor. Results are append-only facts:
// they are created by a prober or the heartbeat ingestor and never mutated.
type CheckResult struct {
	MonitorID      int64     `json:"monitor_id"`
	ObservedAt     time.Time `json:"observed_at"`
	Outcome        Outcome   `json:"outcome"`
	Status         Status    `json:"status"`
	ResponseTimeMS *int64    `json:"response_time_ms,omitempty"`
	StatusCode     *int      `json:"status_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Source         Source    `json:"source"`
}

// OK reports whether the check succeeded.
func (r CheckResult) OK() bool { return r.Outcome == OutcomeSuccess }

// ResultSink consumes check results. The scheduler and heartbeat ingestor
// both feed the same sink so probe and push results travel one pipeline.
type ResultSink interface {
	Submit(CheckResult)
}
