package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/marcus-qen/statuswatch/internal/monitor"
)

const userAgent = "statuswatch/1.0"

// HTTPProber checks a URL: 2xx/3xx within the timeout is a success.
// Successful but slow responses classify as degraded; 5xx maps to
// major_outage and 4xx to partial_outage. Transport errors and timeouts
// are full outages.
type HTTPProber struct {
	Client        *http.Client
	DegradedAfter time.Duration
}

// NewHTTPProber creates an HTTP prober with a shared transport. Per-probe
// deadlines come from the request context, not the client.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		Client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        128,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		DegradedAfter: 3 * time.Second,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, m monitor.Monitor) monitor.CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.Target, nil)
	if err != nil {
		return Failure(m, monitor.StatusMajorOutage, fmt.Sprintf("invalid target: %v", err))
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := p.Client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return Failure(m, monitor.StatusMajorOutage, err.Error())
	}
	defer resp.Body.Close()

	res := monitor.CheckResult{
		MonitorID:  m.ID,
		ObservedAt: time.Now().UTC(),
		Source:     monitor.SourceProbe,
	}
	ms := elapsed.Milliseconds()
	res.ResponseTimeMS = &ms
	code := resp.StatusCode
	res.StatusCode = &code

	switch {
	case code >= 200 && code < 400:
		res.Outcome = monitor.OutcomeSuccess
		res.Status = monitor.StatusOperational
		if p.DegradedAfter > 0 && elapsed > p.DegradedAfter {
			res.Status = monitor.StatusDegraded
		}
	case code >= 500:
		res.Outcome = monitor.OutcomeFailure
		res.Status = monitor.StatusMajorOutage
		res.ErrorMessage = fmt.Sprintf("server error: HTTP %d", code)
	default:
		res.Outcome = monitor.OutcomeFailure
		res.Status = monitor.StatusPartialOutage
		res.ErrorMessage = fmt.Sprintf("unexpected status: HTTP %d", code)
	}
	return res
}
