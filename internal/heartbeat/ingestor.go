// Package heartbeat handles push-style monitors: targets report in on
// their own schedule, and a watchdog synthesizes failures when a report
// fails to arrive within the grace period.
package heartbeat

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/statuswatch/internal/events"
	"github.com/marcus-qen/statuswatch/internal/monitor"
)

// ErrUnknownMonitor is returned for beats addressed to monitors that are
// not tracked as heartbeat monitors.
var ErrUnknownMonitor = errors.New("unknown heartbeat monitor")

// DefaultGraceFactor scales the expected interval into the absence
// deadline: a beat is overdue after interval * grace.
const DefaultGraceFactor = 1.5

// Beat is one inbound heartbeat report.
type Beat struct {
	At       time.Time         `json:"timestamp"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Stats    map[string]any    `json:"stats,omitempty"`
}

// watch is the absence-detection state for one monitor. Deadlines are
// anchored to the last beat (or the last missed deadline), never to timer
// fire times, so detection does not drift. Anchors never sit behind the
// server clock.
type watch struct {
	interval time.Duration
	anchor   time.Time
	lastBeat time.Time
	timer    *time.Timer
}

// Ingestor accepts heartbeats, converts them into synthetic check results,
// and raises exactly one failure per missed reporting window.
type Ingestor struct {
	sink   monitor.ResultSink
	bus    *events.Bus
	grace  float64
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	watches map[int64]*watch
	stopped bool
}

// NewIngestor creates a heartbeat ingestor feeding the given sink. bus may
// be nil.
func NewIngestor(sink monitor.ResultSink, bus *events.Bus, graceFactor float64, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if graceFactor <= 1 {
		graceFactor = DefaultGraceFactor
	}
	return &Ingestor{
		sink:    sink,
		bus:     bus,
		grace:   graceFactor,
		logger:  logger.Named("heartbeat"),
		now:     time.Now,
		watches: make(map[int64]*watch),
	}
}

// Track starts absence detection for a monitor expected to beat every
// interval. Tracking an already tracked monitor updates its interval.
func (i *Ingestor) Track(id int64, interval time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return
	}

	w, ok := i.watches[id]
	if !ok {
		w = &watch{anchor: i.now()}
		i.watches[id] = w
	}
	w.interval = interval
	i.armLocked(id, w)
}

// Untrack stops absence detection for a monitor.
func (i *Ingestor) Untrack(id int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if w, ok := i.watches[id]; ok {
		if w.timer != nil {
			w.timer.Stop()
		}
		delete(i.watches, id)
	}
}

// Sync tracks every monitor in the given set and untracks the rest.
func (i *Ingestor) Sync(intervals map[int64]time.Duration) {
	i.mu.Lock()
	current := make([]int64, 0, len(i.watches))
	for id := range i.watches {
		current = append(current, id)
	}
	i.mu.Unlock()

	for _, id := range current {
		if _, keep := intervals[id]; !keep {
			i.Untrack(id)
		}
	}
	for id, interval := range intervals {
		i.Track(id, interval)
	}
}

// Record accepts a beat, emits a synthetic success result, and resets the
// monitor's absence deadline.
func (i *Ingestor) Record(id int64, beat Beat) error {
	i.mu.Lock()
	w, ok := i.watches[id]
	if !ok {
		i.mu.Unlock()
		return ErrUnknownMonitor
	}

	now := i.now()
	at := beat.At
	if at.IsZero() {
		at = now
	}
	w.lastBeat = at
	// Absence detection runs on server time. The client timestamp is kept
	// on the result, but a reporter with a skewed clock must not pull the
	// deadline into the past.
	w.anchor = at
	if w.anchor.Before(now) {
		w.anchor = now
	}
	i.armLocked(id, w)
	i.mu.Unlock()

	i.sink.Submit(monitor.CheckResult{
		MonitorID:  id,
		ObservedAt: at,
		Outcome:    monitor.OutcomeSuccess,
		Status:     monitor.StatusOperational,
		Source:     monitor.SourceHeartbeat,
	})
	if i.bus != nil {
		i.bus.Publish(events.Event{
			Type:      events.HeartbeatReceived,
			MonitorID: id,
			Summary:   "heartbeat received",
			Detail:    beat.Stats,
		})
	}
	return nil
}

// LastBeat returns the time of the monitor's last beat, if it had one.
func (i *Ingestor) LastBeat(id int64) (time.Time, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	w, ok := i.watches[id]
	if !ok || w.lastBeat.IsZero() {
		return time.Time{}, false
	}
	return w.lastBeat, true
}

// Stop cancels all watchdog timers.
func (i *Ingestor) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stopped = true
	for _, w := range i.watches {
		if w.timer != nil {
			w.timer.Stop()
		}
	}
}

// armLocked schedules the next deadline from the watch anchor. Caller
// holds i.mu.
func (i *Ingestor) armLocked(id int64, w *watch) {
	if w.timer != nil {
		w.timer.Stop()
	}
	deadline := w.anchor.Add(time.Duration(float64(w.interval) * i.grace))
	delay := deadline.Sub(i.now())
	if delay < 0 {
		delay = 0
	}
	w.timer = time.AfterFunc(delay, func() { i.expire(id, deadline) })
}

// expire fires when a monitor's deadline passes without a beat. It emits
// one failure for the missed window and re-arms from the deadline, so
// continued silence produces exactly one failure per window.
func (i *Ingestor) expire(id int64, deadline time.Time) {
	i.mu.Lock()
	w, ok := i.watches[id]
	if !ok || i.stopped {
		i.mu.Unlock()
		return
	}
	// A beat may have slipped in between the timer firing and this
	// goroutine taking the lock.
	if w.anchor.Add(time.Duration(float64(w.interval) * i.grace)).After(deadline) {
		i.mu.Unlock()
		return
	}
	w.anchor = deadline
	// After a process stall the missed deadline may be far behind the
	// clock; re-arming from it would fire a burst of zero-delay expiries.
	if now := i.now(); w.anchor.Before(now) {
		w.anchor = now
	}
	i.armLocked(id, w)
	i.mu.Unlock()

	i.logger.Warn("heartbeat missed", zap.Int64("monitor_id", id), zap.Time("deadline", deadline))
	i.sink.Submit(monitor.CheckResult{
		MonitorID:    id,
		ObservedAt:   deadline,
		Outcome:      monitor.OutcomeFailure,
		Status:       monitor.StatusMajorOutage,
		ErrorMessage: "heartbeat not received within grace period",
		Source:       monitor.SourceSynthetic,
	})
	if i.bus != nil {
		i.bus.Publish(events.Event{
			Type:      events.HeartbeatMissed,
			MonitorID: id,
			Summary:   "heartbeat missed",
		})
	}
}
