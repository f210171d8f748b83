package incident

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus-qen/statuswatch/internal/monitor"
	"github.com/marcus-qen/statuswatch/internal/state"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "incidents.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testInfo(id int64) (string, string, bool) {
	switch id {
	case 1:
		return "API", "edge", true
	case 2:
		return "CDN", "edge", true
	case 3:
		return "Batch", "", true
	}
	return "", "", false
}

func newTestCorrelator(t *testing.T) (*Correlator, *Store) {
	t.Helper()
	s := newTestStore(t)
	return NewCorrelator(s, nil, testInfo, DefaultCorrelationWindow, nil), s
}

func down(id int64, seq int, status monitor.Status) state.Transition {
	return state.Transition{
		MonitorID: id,
		From:      monitor.StatusOperational,
		To:        status,
		At:        base.Add(time.Duration(seq) * time.Minute),
	}
}

func up(id int64, seq int) state.Transition {
	return state.Transition{
		MonitorID: id,
		From:      monitor.StatusMajorOutage,
		To:        monitor.StatusOperational,
		At:        base.Add(time.Duration(seq) * time.Minute),
	}
}

func TestOutageOpensOneIncident(t *testing.T) {
	c, s := newTestCorrelator(t)

	c.HandleTransition(down(1, 0, monitor.StatusMajorOutage))
	if c.OpenCount() != 1 {
		t.Fatalf("expected one open incident, got %d", c.OpenCount())
	}

	// A worse-or-equal repeat on the same monitor must not open another.
	c.HandleTransition(down(1, 1, monitor.StatusMajorOutage))
	if c.OpenCount() != 1 {
		t.Fatalf("repeat outage opened a second incident")
	}

	open, err := s.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one persisted incident, got %d", len(open))
	}
	inc := open[0]
	if inc.Severity != SeverityCritical {
		t.Fatalf("major outage should be critical, got %s", inc.Severity)
	}
	if inc.Title != "API outage" {
		t.Fatalf("unexpected title %q", inc.Title)
	}
}

func TestDegradedOpensWarning(t *testing.T) {
	c, _ := newTestCorrelator(t)

	c.HandleTransition(down(1, 0, monitor.StatusDegraded))
	incs := c.OpenIncidents()
	if len(incs) != 1 || incs[0].Severity != SeverityWarning {
		t.Fatalf("degraded should open a warning incident, got %+v", incs)
	}
}

func TestEscalationNeverDowngrades(t *testing.T) {
	c, _ := newTestCorrelator(t)

	c.HandleTransition(down(1, 0, monitor.StatusPartialOutage))
	c.HandleTransition(down(1, 1, monitor.StatusMajorOutage))

	incs := c.OpenIncidents()
	if len(incs) != 1 {
		t.Fatalf("escalation must not open a new incident, got %d", len(incs))
	}
	if incs[0].Severity != SeverityCritical {
		t.Fatalf("expected escalation to critical, got %s", incs[0].Severity)
	}

	// Going from major back to partial while still down keeps critical.
	c.HandleTransition(down(1, 2, monitor.StatusPartialOutage))
	if got := c.OpenIncidents()[0].Severity; got != SeverityCritical {
		t.Fatalf("severity downgraded to %s", got)
	}
}

func TestServiceGroupMerge(t *testing.T) {
	c, _ := newTestCorrelator(t)

	c.HandleTransition(down(1, 0, monitor.StatusMajorOutage))
	c.HandleTransition(down(2, 2, monitor.StatusPartialOutage))

	incs := c.OpenIncidents()
	if len(incs) != 1 {
		t.Fatalf("same-group outages within the window must merge, got %d incidents", len(incs))
	}
	inc := incs[0]
	if len(inc.MonitorIDs) != 2 {
		t.Fatalf("expected both monitors affected, got %v", inc.MonitorIDs)
	}
	if inc.Severity != SeverityCritical {
		t.Fatalf("merge must keep the worst severity, got %s", inc.Severity)
	}
}

func TestGroupMergeRespectsWindow(t *testing.T) {
	c, _ := newTestCorrelator(t)

	c.HandleTransition(down(1, 0, monitor.StatusMajorOutage))
	// 10 minutes later: beyond the 5 minute correlation window.
	c.HandleTransition(down(2, 10, monitor.StatusMajorOutage))

	if got := c.OpenCount(); got != 2 {
		t.Fatalf("late same-group outage should open its own incident, got %d", got)
	}
}

func TestUngroupedMonitorsNeverMerge(t *testing.T) {
	c, _ := newTestCorrelator(t)

	c.HandleTransition(down(3, 0, monitor.StatusMajorOutage))
	c.HandleTransition(down(1, 1, monitor.StatusMajorOutage))

	if got := c.OpenCount(); got != 2 {
		t.Fatalf("monitors without a shared group must not merge, got %d", got)
	}
}

func TestResolveWaitsForAllMonitors(t *testing.T) {
	c, s := newTestCorrelator(t)

	c.HandleTransition(down(1, 0, monitor.StatusMajorOutage))
	c.HandleTransition(down(2, 1, monitor.StatusMajorOutage))

	c.HandleTransition(up(1, 5))
	if c.OpenCount() != 1 {
		t.Fatal("incident resolved while a monitor was still down")
	}

	c.HandleTransition(up(2, 6))
	if c.OpenCount() != 0 {
		t.Fatal("incident should resolve once all monitors recover")
	}

	recent, err := s.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected one incident, got %d", len(recent))
	}
	inc := recent[0]
	if inc.State != StateResolved || inc.ResolvedAt == nil {
		t.Fatalf("incident not marked resolved: %+v", inc)
	}
	if want := base.Add(6 * time.Minute); !inc.ResolvedAt.Equal(want) {
		t.Fatalf("resolved_at should be the last recovery, got %v", inc.ResolvedAt)
	}
}

func TestResolvedIncidentNeverReopens(t *testing.T) {
	c, s := newTestCorrelator(t)

	c.HandleTransition(down(1, 0, monitor.StatusMajorOutage))
	c.HandleTransition(up(1, 5))
	c.HandleTransition(down(1, 20, monitor.StatusMajorOutage))

	recent, err := s.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("new outage must open a fresh incident, got %d records", len(recent))
	}
	if recent[1].State != StateResolved {
		t.Fatal("earlier incident must stay resolved")
	}
}

func TestMaintenanceTransitionsIgnored(t *testing.T) {
	c, _ := newTestCorrelator(t)

	c.HandleTransition(state.Transition{
		MonitorID: 1,
		From:      monitor.StatusOperational,
		To:        monitor.StatusMaintenance,
		At:        base,
	})
	if c.OpenCount() != 0 {
		t.Fatal("maintenance must not open incidents")
	}
}

func TestRehydrate(t *testing.T) {
	s := newTestStore(t)

	c1 := NewCorrelator(s, nil, testInfo, DefaultCorrelationWindow, nil)
	c1.HandleTransition(down(1, 0, monitor.StatusMajorOutage))

	// New correlator over the same store, as after a restart.
	c2 := NewCorrelator(s, nil, testInfo, DefaultCorrelationWindow, nil)
	if err := c2.Rehydrate(); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if c2.OpenCount() != 1 {
		t.Fatalf("expected rehydrated incident, got %d", c2.OpenCount())
	}

	// Recovery after restart resolves the carried-over incident.
	c2.HandleTransition(up(1, 5))
	if c2.OpenCount() != 0 {
		t.Fatal("rehydrated incident should resolve on recovery")
	}
}

func TestSeverityOrdering(t *testing.T) {
	if !SeverityCritical.outranks(SeverityWarning) || !SeverityWarning.outranks(SeverityInfo) {
		t.Fatal("expected info < warning < critical")
	}
	if SeverityInfo.outranks(SeverityWarning) || SeverityWarning.outranks(SeverityCritical) {
		t.Fatal("lower severities must not outrank higher ones")
	}
}

func TestRecentByStateFilters(t *testing.T) {
	s := newTestStore(t)

	resolved := base.Add(time.Hour)
	fixtures := []*Incident{
		{ID: "inc-open", Title: "API outage", Severity: SeverityCritical,
			State: StateOpen, MonitorIDs: []int64{1}, StartedAt: base.Add(2 * time.Hour)},
		{ID: "inc-resolved", Title: "CDN outage", Severity: SeverityWarning,
			State: StateResolved, MonitorIDs: []int64{2}, StartedAt: base, ResolvedAt: &resolved},
	}
	for _, in := range fixtures {
		if err := s.Save(in); err != nil {
			t.Fatalf("save %s: %v", in.ID, err)
		}
	}

	open, err := s.RecentByState(StateOpen, 10)
	if err != nil {
		t.Fatalf("recent open: %v", err)
	}
	if len(open) != 1 || open[0].ID != "inc-open" {
		t.Fatalf("expected only the open incident, got %+v", open)
	}

	done, err := s.RecentByState(StateResolved, 10)
	if err != nil {
		t.Fatalf("recent resolved: %v", err)
	}
	if len(done) != 1 || done[0].ID != "inc-resolved" {
		t.Fatalf("expected only the resolved incident, got %+v", done)
	}

	all, err := s.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both incidents unfiltered, got %d", len(all))
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)

	resolved := base.Add(time.Hour)
	in := &Incident{
		ID:           "inc-1",
		Title:        "API outage",
		Severity:     SeverityCritical,
		State:        StateResolved,
		ServiceGroup: "edge",
		MonitorIDs:   []int64{1, 2},
		StartedAt:    base,
		ResolvedAt:   &resolved,
		Updates:      []Update{{At: base, Message: "API reported major_outage"}},
	}
	if err := s.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get("inc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != in.Title || got.Severity != in.Severity || got.State != in.State {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.MonitorIDs) != 2 || len(got.Updates) != 1 {
		t.Fatalf("nested fields lost: %+v", got)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(resolved) {
		t.Fatalf("resolved_at mismatch: %v", got.ResolvedAt)
	}

	if _, err := s.Get("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
