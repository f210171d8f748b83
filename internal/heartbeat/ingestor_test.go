package heartbeat

import (
	"sync"
	"testing"
	"time"

	"github.com/marcus-qen/statuswatch/internal/monitor"
)

type captureSink struct {
	mu      sync.Mutex
	results []monitor.CheckResult
}

func (c *captureSink) Submit(res monitor.CheckResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
}

func (c *captureSink) all() []monitor.CheckResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]monitor.CheckResult(nil), c.results...)
}

func (c *captureSink) failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.results {
		if !r.OK() {
			n++
		}
	}
	return n
}

func newTestIngestor(t *testing.T, sink *captureSink) *Ingestor {
	t.Helper()
	i := NewIngestor(sink, nil, DefaultGraceFactor, nil)
	t.Cleanup(i.Stop)
	return i
}

func TestRecordSynthesizesSuccess(t *testing.T) {
	sink := &captureSink{}
	i := newTestIngestor(t, sink)
	i.Track(1, time.Hour)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := i.Record(1, Beat{At: at}); err != nil {
		t.Fatalf("record: %v", err)
	}

	results := sink.all()
	if len(results) != 1 {
		t.Fatalf("expected one synthetic result, got %d", len(results))
	}
	res := results[0]
	if !res.OK() || res.Source != monitor.SourceHeartbeat {
		t.Fatalf("expected heartbeat success, got %+v", res)
	}
	if !res.ObservedAt.Equal(at) {
		t.Fatalf("expected client timestamp preserved, got %v", res.ObservedAt)
	}

	last, ok := i.LastBeat(1)
	if !ok || !last.Equal(at) {
		t.Fatalf("last beat not recorded: %v %v", last, ok)
	}
}

func TestRecordUnknownMonitor(t *testing.T) {
	i := newTestIngestor(t, &captureSink{})
	if err := i.Record(99, Beat{}); err != ErrUnknownMonitor {
		t.Fatalf("expected ErrUnknownMonitor, got %v", err)
	}
}

func TestMissedHeartbeatSynthesizesFailure(t *testing.T) {
	sink := &captureSink{}
	i := newTestIngestor(t, sink)
	i.Track(1, 40*time.Millisecond)

	deadline := time.Now().Add(time.Duration(float64(40*time.Millisecond) * DefaultGraceFactor))
	for time.Now().Before(deadline.Add(30 * time.Millisecond)) {
		time.Sleep(5 * time.Millisecond)
	}

	results := sink.all()
	if len(results) == 0 {
		t.Fatal("expected a synthesized failure for the missed beat")
	}
	res := results[0]
	if res.OK() || res.Source != monitor.SourceSynthetic {
		t.Fatalf("expected synthetic failure, got %+v", res)
	}
	if res.Status != monitor.StatusMajorOutage {
		t.Fatalf("expected major_outage, got %s", res.Status)
	}
}

func TestOneFailurePerMissedWindow(t *testing.T) {
	sink := &captureSink{}
	i := newTestIngestor(t, sink)
	i.Track(1, 30*time.Millisecond)

	// Sleep through roughly three grace windows of silence.
	time.Sleep(160 * time.Millisecond)
	i.Stop()

	got := sink.failures()
	if got < 2 || got > 4 {
		t.Fatalf("expected one failure per window (2-4 over 160ms), got %d", got)
	}
}

func TestSkewedClientClockDoesNotBackdateDeadline(t *testing.T) {
	sink := &captureSink{}
	i := newTestIngestor(t, sink)
	i.Track(1, time.Minute)

	// A live reporter whose clock is ten minutes behind: the beat is
	// accepted with its own timestamp, but the absence deadline must be
	// computed from server time, not flood synthetic failures.
	at := time.Now().Add(-10 * time.Minute)
	if err := i.Record(1, Beat{At: at}); err != nil {
		t.Fatalf("record: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := sink.failures(); got != 0 {
		t.Fatalf("skewed beat produced %d synthetic failures", got)
	}

	results := sink.all()
	if len(results) != 1 {
		t.Fatalf("expected only the beat's success, got %d results", len(results))
	}
	if !results[0].ObservedAt.Equal(at) {
		t.Fatalf("client timestamp should survive on the result, got %v", results[0].ObservedAt)
	}
}

func TestBeatResetsDeadline(t *testing.T) {
	sink := &captureSink{}
	i := newTestIngestor(t, sink)
	i.Track(1, 60*time.Millisecond)

	// Keep beating faster than the deadline for a while.
	for n := 0; n < 5; n++ {
		time.Sleep(30 * time.Millisecond)
		if err := i.Record(1, Beat{}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if got := sink.failures(); got != 0 {
		t.Fatalf("beats within the deadline must not synthesize failures, got %d", got)
	}
}

func TestUntrackStopsWatchdog(t *testing.T) {
	sink := &captureSink{}
	i := newTestIngestor(t, sink)
	i.Track(1, 30*time.Millisecond)
	i.Untrack(1)

	time.Sleep(100 * time.Millisecond)
	if got := sink.failures(); got != 0 {
		t.Fatalf("untracked monitor produced %d failures", got)
	}
	if err := i.Record(1, Beat{}); err != ErrUnknownMonitor {
		t.Fatalf("expected ErrUnknownMonitor after untrack, got %v", err)
	}
}

func TestSync(t *testing.T) {
	sink := &captureSink{}
	i := newTestIngestor(t, sink)
	i.Track(1, time.Hour)
	i.Track(2, time.Hour)

	i.Sync(map[int64]time.Duration{2: time.Hour, 3: time.Hour})

	if err := i.Record(1, Beat{}); err != ErrUnknownMonitor {
		t.Fatal("monitor 1 should be untracked after sync")
	}
	if err := i.Record(2, Beat{}); err != nil {
		t.Fatalf("monitor 2 should survive sync: %v", err)
	}
	if err := i.Record(3, Beat{}); err != nil {
		t.Fatalf("monitor 3 should be tracked after sync: %v", err)
	}
}
