package state

import (
	"testing"
	"time"

	"github.com/marcus-qen/statuswatch/internal/monitor"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func result(id int64, seq int, outcome monitor.Outcome, status monitor.Status) monitor.CheckResult {
	return monitor.CheckResult{
		MonitorID:  id,
		ObservedAt: base.Add(time.Duration(seq) * time.Minute),
		Outcome:    outcome,
		Status:     status,
		Source:     monitor.SourceProbe,
	}
}

func success(id int64, seq int) monitor.CheckResult {
	return result(id, seq, monitor.OutcomeSuccess, monitor.StatusOperational)
}

func failure(id int64, seq int, status monitor.Status) monitor.CheckResult {
	return result(id, seq, monitor.OutcomeFailure, status)
}

func newMachine(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine(Config{FailureThreshold: 3, RecoveryThreshold: 2}, nil)
	m.Register(1)
	return m
}

func TestFirstResultSetsStatusDirectly(t *testing.T) {
	m := newMachine(t)

	tr, ok := m.Apply(failure(1, 0, monitor.StatusMajorOutage))
	if !ok {
		t.Fatal("expected a transition on first result")
	}
	if tr.From != monitor.StatusUnknown || tr.To != monitor.StatusMajorOutage {
		t.Fatalf("expected unknown->major_outage, got %s->%s", tr.From, tr.To)
	}
}

func TestIsolatedFailureDoesNotTransition(t *testing.T) {
	m := newMachine(t)
	m.Apply(success(1, 0))

	if _, ok := m.Apply(failure(1, 1, monitor.StatusMajorOutage)); ok {
		t.Fatal("single failure must not leave operational")
	}
	if got := m.Snapshot(1).Current; got != monitor.StatusOperational {
		t.Fatalf("expected operational, got %s", got)
	}

	// A success resets the streak entirely.
	m.Apply(success(1, 2))
	m.Apply(failure(1, 3, monitor.StatusMajorOutage))
	m.Apply(failure(1, 4, monitor.StatusMajorOutage))
	if got := m.Snapshot(1).Current; got != monitor.StatusOperational {
		t.Fatalf("expected operational after reset streak, got %s", got)
	}
}

func TestTransitionAtExactlyThreshold(t *testing.T) {
	m := newMachine(t)
	m.Apply(success(1, 0))

	var transitions []Transition
	for i := 1; i <= 5; i++ {
		if tr, ok := m.Apply(failure(1, i, monitor.StatusMajorOutage)); ok {
			transitions = append(transitions, tr)
		}
	}
	if len(transitions) != 1 {
		t.Fatalf("expected exactly one transition, got %d", len(transitions))
	}
	tr := transitions[0]
	if tr.From != monitor.StatusOperational || tr.To != monitor.StatusMajorOutage {
		t.Fatalf("expected operational->major_outage, got %s->%s", tr.From, tr.To)
	}
	if want := base.Add(3 * time.Minute); !tr.At.Equal(want) {
		t.Fatalf("transition should land on the third failure, got %v", tr.At)
	}
}

func TestFailureStreakUsesWorstClassification(t *testing.T) {
	m := newMachine(t)
	m.Apply(success(1, 0))

	m.Apply(failure(1, 1, monitor.StatusPartialOutage))
	m.Apply(failure(1, 2, monitor.StatusMajorOutage))
	tr, ok := m.Apply(failure(1, 3, monitor.StatusPartialOutage))
	if !ok {
		t.Fatal("expected transition at threshold")
	}
	if tr.To != monitor.StatusMajorOutage {
		t.Fatalf("expected worst-of-streak major_outage, got %s", tr.To)
	}
}

func TestEscalationWhileDown(t *testing.T) {
	m := newMachine(t)
	m.Apply(success(1, 0))
	for i := 1; i <= 3; i++ {
		m.Apply(failure(1, i, monitor.StatusPartialOutage))
	}
	if got := m.Snapshot(1).Current; got != monitor.StatusPartialOutage {
		t.Fatalf("expected partial_outage, got %s", got)
	}

	// Worse failures escalate immediately, without a fresh streak.
	tr, ok := m.Apply(failure(1, 4, monitor.StatusMajorOutage))
	if !ok {
		t.Fatal("expected escalation transition")
	}
	if tr.From != monitor.StatusPartialOutage || tr.To != monitor.StatusMajorOutage {
		t.Fatalf("expected partial->major, got %s->%s", tr.From, tr.To)
	}

	// Milder failures never de-escalate.
	if _, ok := m.Apply(failure(1, 5, monitor.StatusPartialOutage)); ok {
		t.Fatal("milder failure must not de-escalate")
	}
}

func TestRecoveryRequiresThreshold(t *testing.T) {
	m := newMachine(t)
	m.Apply(success(1, 0))
	for i := 1; i <= 3; i++ {
		m.Apply(failure(1, i, monitor.StatusMajorOutage))
	}

	if _, ok := m.Apply(success(1, 4)); ok {
		t.Fatal("single success must not recover")
	}
	tr, ok := m.Apply(success(1, 5))
	if !ok {
		t.Fatal("expected recovery at threshold")
	}
	if tr.From != monitor.StatusMajorOutage || tr.To != monitor.StatusOperational {
		t.Fatalf("expected major->operational, got %s->%s", tr.From, tr.To)
	}
}

func TestSustainedSlownessDegrades(t *testing.T) {
	m := newMachine(t)
	m.Apply(success(1, 0))

	slow := func(seq int) monitor.CheckResult {
		return result(1, seq, monitor.OutcomeSuccess, monitor.StatusDegraded)
	}
	m.Apply(slow(1))
	m.Apply(slow(2))
	tr, ok := m.Apply(slow(3))
	if !ok {
		t.Fatal("expected degraded transition after sustained slowness")
	}
	if tr.To != monitor.StatusDegraded {
		t.Fatalf("expected degraded, got %s", tr.To)
	}

	// Fast successes recover.
	m.Apply(success(1, 4))
	tr, ok = m.Apply(success(1, 5))
	if !ok || tr.To != monitor.StatusOperational {
		t.Fatalf("expected recovery to operational, got ok=%v tr=%+v", ok, tr)
	}
}

func TestStaleResultIsDropped(t *testing.T) {
	m := newMachine(t)
	m.Apply(success(1, 5))

	// Older observation must not touch the counters.
	if _, ok := m.Apply(failure(1, 2, monitor.StatusMajorOutage)); ok {
		t.Fatal("stale result caused a transition")
	}
	snap := m.Snapshot(1)
	if snap.ConsecutiveFailures != 0 {
		t.Fatalf("stale result incremented failures: %d", snap.ConsecutiveFailures)
	}
}

func TestDuplicateResultIsDropped(t *testing.T) {
	m := NewMachine(Config{FailureThreshold: 2, RecoveryThreshold: 2}, nil)
	m.Register(1)
	m.Apply(success(1, 0))

	// The same failure delivered twice carries an identical observation
	// time; only the first delivery may count toward the streak.
	dup := failure(1, 1, monitor.StatusMajorOutage)
	if _, ok := m.Apply(dup); ok {
		t.Fatal("first failure below threshold must not transition")
	}
	if _, ok := m.Apply(dup); ok {
		t.Fatal("duplicate delivery crossed the threshold")
	}

	snap := m.Snapshot(1)
	if snap.ConsecutiveFailures != 1 {
		t.Fatalf("duplicate double-counted: consecutive_failures=%d", snap.ConsecutiveFailures)
	}
	if snap.Current != monitor.StatusOperational {
		t.Fatalf("expected operational, got %s", snap.Current)
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	sequence := []monitor.CheckResult{
		success(1, 0),
		failure(1, 1, monitor.StatusPartialOutage),
		failure(1, 2, monitor.StatusMajorOutage),
		failure(1, 3, monitor.StatusMajorOutage),
		success(1, 4),
		success(1, 5),
	}

	run := func() []Transition {
		m := newMachine(t)
		var out []Transition
		for _, res := range sequence {
			if tr, ok := m.Apply(res); ok {
				out = append(out, tr)
			}
		}
		return out
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("replay produced different transition counts: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("replay diverged at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestMaintenanceSuppressesTransitions(t *testing.T) {
	m := newMachine(t)
	m.Apply(success(1, 0))

	tr, ok := m.SetMaintenance(1, true, base.Add(time.Minute))
	if !ok || tr.To != monitor.StatusMaintenance {
		t.Fatalf("expected maintenance transition, got ok=%v tr=%+v", ok, tr)
	}

	for i := 2; i <= 6; i++ {
		if _, ok := m.Apply(failure(1, i, monitor.StatusMajorOutage)); ok {
			t.Fatal("failures during maintenance must not transition")
		}
	}
	snap := m.Snapshot(1)
	if snap.Current != monitor.StatusMaintenance {
		t.Fatalf("expected maintenance, got %s", snap.Current)
	}
	if snap.LastCheckTime.IsZero() {
		t.Fatal("results during maintenance should still record last check time")
	}

	tr, ok = m.SetMaintenance(1, false, base.Add(10*time.Minute))
	if !ok || tr.To != monitor.StatusOperational {
		t.Fatalf("expected restore to operational, got ok=%v tr=%+v", ok, tr)
	}

	// Toggling to the same value is a no-op.
	if _, ok := m.SetMaintenance(1, false, base.Add(11*time.Minute)); ok {
		t.Fatal("repeated disable must not emit a transition")
	}
}

func TestMaintenanceKeepsStreaksCurrent(t *testing.T) {
	m := newMachine(t)
	m.Apply(success(1, 0))
	m.SetMaintenance(1, true, base.Add(time.Minute))

	for i := 2; i <= 4; i++ {
		m.Apply(failure(1, i, monitor.StatusMajorOutage))
	}
	if got := m.Snapshot(1).ConsecutiveFailures; got != 3 {
		t.Fatalf("failures during maintenance should count, got %d", got)
	}

	// The window ends with the target still down: the very next failure
	// confirms the outage without restarting the streak.
	m.SetMaintenance(1, false, base.Add(5*time.Minute))
	tr, ok := m.Apply(failure(1, 6, monitor.StatusMajorOutage))
	if !ok {
		t.Fatal("expected transition right after maintenance ended")
	}
	if tr.From != monitor.StatusOperational || tr.To != monitor.StatusMajorOutage {
		t.Fatalf("expected operational->major_outage, got %s->%s", tr.From, tr.To)
	}
}

func TestRemovedMonitorDiscardsResults(t *testing.T) {
	m := newMachine(t)
	m.Apply(success(1, 0))
	m.Remove(1)

	if _, ok := m.Apply(failure(1, 1, monitor.StatusMajorOutage)); ok {
		t.Fatal("result for removed monitor caused a transition")
	}
	if got := m.Snapshot(1).Current; got != monitor.StatusUnknown {
		t.Fatalf("removed monitor should report unknown, got %s", got)
	}
}

func TestSyncAddsAndRemoves(t *testing.T) {
	m := NewMachine(Config{}, nil)
	m.Register(1)
	m.Register(2)

	m.Sync(map[int64]struct{}{2: {}, 3: {}})

	all := m.All()
	if _, ok := all[1]; ok {
		t.Fatal("monitor 1 should have been removed")
	}
	if _, ok := all[2]; !ok {
		t.Fatal("monitor 2 should survive sync")
	}
	if _, ok := all[3]; !ok {
		t.Fatal("monitor 3 should have been added")
	}
}

type captureHandler struct {
	transitions []Transition
}

func (c *captureHandler) HandleTransition(tr Transition) {
	c.transitions = append(c.transitions, tr)
}

func TestHandlersReceiveTransitionsInOrder(t *testing.T) {
	m := newMachine(t)
	h := &captureHandler{}
	m.OnTransition(h)

	m.Apply(success(1, 0))
	for i := 1; i <= 3; i++ {
		m.Apply(failure(1, i, monitor.StatusMajorOutage))
	}
	m.Apply(success(1, 4))
	m.Apply(success(1, 5))

	if len(h.transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(h.transitions))
	}
	wantTo := []monitor.Status{monitor.StatusOperational, monitor.StatusMajorOutage, monitor.StatusOperational}
	for i, tr := range h.transitions {
		if tr.To != wantTo[i] {
			t.Fatalf("transition %d: expected %s, got %s", i, wantTo[i], tr.To)
		}
	}
}
