package probe

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/marcus-qen/statuswatch/internal/monitor"
)

// TCPProber checks that a host:port accepts connections within the timeout.
// Slow connects classify as degraded.
type TCPProber struct {
	DegradedAfter time.Duration
}

// NewTCPProber creates a TCP prober with the default slow-connect threshold.
func NewTCPProber() *TCPProber {
	return &TCPProber{DegradedAfter: time.Second}
}

func (p *TCPProber) Probe(ctx context.Context, m monitor.Monitor) monitor.CheckResult {
	addr := strings.TrimPrefix(strings.TrimSpace(m.Target), "tcp://")

	dialer := &net.Dialer{}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	elapsed := time.Since(start)
	if err != nil {
		return Failure(m, monitor.StatusMajorOutage, err.Error())
	}
	_ = conn.Close()

	status := monitor.StatusOperational
	if p.DegradedAfter > 0 && elapsed > p.DegradedAfter {
		status = monitor.StatusDegraded
	}
	return success(m, status, elapsed)
}
