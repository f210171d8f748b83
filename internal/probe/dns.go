package probe

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/marcus-qen/statuswatch/internal/monitor"
)

// DNSProber checks that a domain resolves to at least one address within
// the timeout. A server that answers with an empty set is a partial
// outage; NXDOMAIN and resolver timeouts are full outages.
type DNSProber struct {
	Resolver *net.Resolver
}

// NewDNSProber creates a DNS prober using the system resolver.
func NewDNSProber() *DNSProber {
	return &DNSProber{Resolver: net.DefaultResolver}
}

func (p *DNSProber) Probe(ctx context.Context, m monitor.Monitor) monitor.CheckResult {
	start := time.Now()
	addrs, err := p.Resolver.LookupHost(ctx, m.Target)
	elapsed := time.Since(start)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return Failure(m, monitor.StatusMajorOutage, dnsErr.Error())
		}
		return Failure(m, monitor.StatusMajorOutage, err.Error())
	}
	if len(addrs) == 0 {
		return Failure(m, monitor.StatusPartialOutage, "resolution returned no answers")
	}
	return success(m, monitor.StatusOperational, elapsed)
}
