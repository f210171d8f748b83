package probe

import (
	"context"
	"net"
	"time"

	"github.com/marcus-qen/statuswatch/internal/monitor"
)

// PingProber checks host reachability. Raw ICMP sockets need elevated
// privileges, so the prober falls back to TCP reachability: if the target
// carries a port it is dialed directly, otherwise the common service ports
// are tried in order.
type PingProber struct {
	FallbackPorts []string
}

// NewPingProber creates a ping prober with the default port fallbacks.
func NewPingProber() *PingProber {
	return &PingProber{FallbackPorts: []string{"443", "80", "22"}}
}

func (p *PingProber) Probe(ctx context.Context, m monitor.Monitor) monitor.CheckResult {
	target := m.Target
	dialer := &net.Dialer{}

	if _, _, err := net.SplitHostPort(target); err == nil {
		start := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err != nil {
			return Failure(m, monitor.StatusMajorOutage, err.Error())
		}
		_ = conn.Close()
		return success(m, monitor.StatusOperational, time.Since(start))
	}

	var lastErr error
	start := time.Now()
	for _, port := range p.FallbackPorts {
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(target, port))
		if err == nil {
			_ = conn.Close()
			return success(m, monitor.StatusOperational, time.Since(start))
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = context.DeadlineExceeded
	}
	return Failure(m, monitor.StatusMajorOutage, lastErr.Error())
}
