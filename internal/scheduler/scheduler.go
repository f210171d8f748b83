// Package scheduler runs each active monitor's probe on its configured
// interval: one timer loop per monitor, a shared bounded worker pool for
// probe execution, and an in-flight claim so a slow probe is skipped
// rather than stacked.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/statuswatch/internal/monitor"
)

// DefaultWorkers bounds concurrent probe executions.
const DefaultWorkers = 8

// Executor runs one probe to completion. Implemented by probe.Executor.
type Executor interface {
	Execute(ctx context.Context, m monitor.Monitor) monitor.CheckResult
}

// entry is one scheduled monitor. The loop goroutine owns the timer; the
// inFlight claim is shared with pool workers.
type entry struct {
	mon      monitor.Monitor
	cancel   context.CancelFunc
	trigger  chan struct{}
	inFlight atomic.Bool
}

// Scheduler drives probes for the active monitor set.
type Scheduler struct {
	exec   Executor
	sink   monitor.ResultSink
	logger *zap.Logger
	sem    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[int64]*entry
}

// New creates a scheduler with the given worker pool size.
func New(exec Executor, sink monitor.ResultSink, workers int, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		exec:    exec,
		sink:    sink,
		logger:  logger.Named("scheduler"),
		sem:     make(chan struct{}, workers),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[int64]*entry),
	}
}

// Apply reconciles the scheduled set against a fresh monitor snapshot.
// New monitors start immediately, removed monitors stop, and monitors
// whose probe-relevant fields changed are restarted on the new settings.
func (s *Scheduler) Apply(monitors []monitor.Monitor) {
	next := make(map[int64]monitor.Monitor, len(monitors))
	for _, m := range monitors {
		next[m.ID] = m
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		m, keep := next[id]
		if keep && !probeConfigChanged(e.mon, m) {
			e.mon = m
			delete(next, id)
			continue
		}
		e.cancel()
		delete(s.entries, id)
		if keep {
			s.logger.Info("monitor rescheduled", zap.Int64("monitor_id", id))
		} else {
			s.logger.Info("monitor unscheduled", zap.Int64("monitor_id", id))
		}
	}

	for id, m := range next {
		s.startLocked(m)
		s.logger.Info("monitor scheduled",
			zap.Int64("monitor_id", id),
			zap.String("monitor_type", string(m.Type)),
			zap.Duration("interval", m.CheckInterval),
		)
	}
}

func probeConfigChanged(a, b monitor.Monitor) bool {
	return a.Type != b.Type || a.Target != b.Target ||
		a.CheckInterval != b.CheckInterval || a.Timeout != b.Timeout
}

// TriggerNow requests an immediate out-of-band check. The regular
// schedule is not shifted.
func (s *Scheduler) TriggerNow(id int64) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("monitor %d is not scheduled", id)
	}
	select {
	case e.trigger <- struct{}{}:
	default:
		// A trigger is already pending.
	}
	return nil
}

// Scheduled reports whether a monitor is currently scheduled.
func (s *Scheduler) Scheduled(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Stop cancels all monitor loops and waits for in-flight probes to
// finish or hit their hard deadline.
func (s *Scheduler) Stop() {
	s.cancel()
	s.mu.Lock()
	for id, e := range s.entries {
		e.cancel()
		delete(s.entries, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// startLocked launches the timer loop for one monitor. Caller holds s.mu.
func (s *Scheduler) startLocked(m monitor.Monitor) {
	ctx, cancel := context.WithCancel(s.ctx)
	e := &entry{mon: m, cancel: cancel, trigger: make(chan struct{}, 1)}
	s.entries[m.ID] = e

	s.wg.Add(1)
	go s.loop(ctx, e)
}

// loop fires the probe on a drift-free schedule: each deadline is the
// previous deadline plus the interval, never "now plus interval", so a
// slow probe does not push the whole schedule later. Deadlines that fall
// behind wall time are skipped, not replayed in a burst.
func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	next := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.dispatch(ctx, e)
			next = next.Add(e.mon.CheckInterval)
			for !next.After(time.Now()) {
				next = next.Add(e.mon.CheckInterval)
			}
			timer.Reset(time.Until(next))
		case <-e.trigger:
			s.dispatch(ctx, e)
		}
	}
}

// dispatch hands the probe to the worker pool. If the previous run for
// this monitor is still going, the tick is skipped.
func (s *Scheduler) dispatch(ctx context.Context, e *entry) {
	if !e.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("check still running, skipping tick", zap.Int64("monitor_id", e.mon.ID))
		return
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		e.inFlight.Store(false)
		return
	}

	mon := e.mon
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		defer e.inFlight.Store(false)

		res := s.exec.Execute(ctx, mon)
		if ctx.Err() != nil {
			// The monitor was unscheduled mid-probe. Late results for a
			// removed or reconfigured monitor are discarded.
			return
		}
		s.sink.Submit(res)
	}()
}
