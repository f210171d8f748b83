// Package probe implements the active check strategies (HTTP, TCP, ping,
// DNS, custom) and the dispatch boundary that guarantees every probe
// produces exactly one CheckResult, bounded by the monitor's timeout.
package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/statuswatch/internal/monitor"
)

// Prober performs one active check against a monitor's target. A failed
// check is a normal result, not an error: implementations must always
// return a CheckResult.
type Prober interface {
	Probe(ctx context.Context, m monitor.Monitor) monitor.CheckResult
}

// hardGrace is added on top of the monitor timeout before the executor
// abandons a prober goroutine. A prober that overruns this is treated as
// hung and its eventual result is discarded.
const hardGrace = 2 * time.Second

// Executor routes monitors to their prober and enforces the timeout
// contract with a hard cancellation: the probe runs in its own goroutine
// and the executor stops waiting when timeout+grace elapses, whether or
// not the prober cooperates with its context.
type Executor struct {
	mu      sync.RWMutex
	probers map[monitor.Type]Prober
	logger  *zap.Logger
}

// NewExecutor creates an executor with the built-in probers registered.
func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		probers: make(map[monitor.Type]Prober),
		logger:  logger,
	}
	e.Register(monitor.TypeHTTP, NewHTTPProber())
	e.Register(monitor.TypeTCP, NewTCPProber())
	e.Register(monitor.TypePing, NewPingProber())
	e.Register(monitor.TypeDNS, NewDNSProber())
	return e
}

// Register installs (or replaces) the prober for a monitor type. Custom
// monitors only work once a prober is registered for TypeCustom.
func (e *Executor) Register(t monitor.Type, p Prober) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.probers[t] = p
}

// Execute runs the probe for m and always returns exactly one result.
// Prober panics are recovered and converted into failure results; a hung
// prober resolves to a timeout failure after timeout+grace.
func (e *Executor) Execute(ctx context.Context, m monitor.Monitor) monitor.CheckResult {
	e.mu.RLock()
	p, ok := e.probers[m.Type]
	e.mu.RUnlock()
	if !ok {
		return Failure(m, monitor.StatusMajorOutage, fmt.Sprintf("no prober registered for type %q", m.Type))
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	ch := make(chan monitor.CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("prober panic",
					zap.Int64("monitor_id", m.ID),
					zap.String("type", string(m.Type)),
					zap.Any("panic", r),
				)
				ch <- Failure(m, monitor.StatusMajorOutage, fmt.Sprintf("prober panic: %v", r))
			}
		}()
		ch <- p.Probe(probeCtx, m)
	}()

	timer := time.NewTimer(m.Timeout + hardGrace)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res
	case <-timer.C:
		e.logger.Warn("prober exceeded hard deadline",
			zap.Int64("monitor_id", m.ID),
			zap.Duration("timeout", m.Timeout),
		)
		return Failure(m, monitor.StatusMajorOutage, fmt.Sprintf("check timed out after %s", m.Timeout))
	case <-ctx.Done():
		return Failure(m, monitor.StatusMajorOutage, "check canceled")
	}
}

// Failure builds a failure result for m with the given classification.
func Failure(m monitor.Monitor, status monitor.Status, msg string) monitor.CheckResult {
	return monitor.CheckResult{
		MonitorID:    m.ID,
		ObservedAt:   time.Now().UTC(),
		Outcome:      monitor.OutcomeFailure,
		Status:       status,
		ErrorMessage: msg,
		Source:       monitor.SourceProbe,
	}
}

// success builds a success result with the given classification and latency.
func success(m monitor.Monitor, status monitor.Status, elapsed time.Duration) monitor.CheckResult {
	ms := elapsed.Milliseconds()
	return monitor.CheckResult{
		MonitorID:      m.ID,
		ObservedAt:     time.Now().UTC(),
		Outcome:        monitor.OutcomeSuccess,
		Status:         status,
		ResponseTimeMS: &ms,
		Source:         monitor.SourceProbe,
	}
}
