package monitor

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "monitors.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	in := validMonitor()
	in.Metadata = map[string]string{MetadataServiceGroup: "edge"}
	in.Maintenance = &MaintenanceWindow{Schedule: "0 3 * * *", DurationSeconds: 3600}

	created, err := s.Create(in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}

	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DisplayName != in.DisplayName || got.Type != in.Type || got.Target != in.Target {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.CheckInterval != in.CheckInterval || got.Timeout != in.Timeout {
		t.Fatalf("durations lost: %v %v", got.CheckInterval, got.Timeout)
	}
	if got.ServiceGroup() != "edge" {
		t.Fatalf("metadata lost: %q", got.ServiceGroup())
	}
	if got.Maintenance == nil || got.Maintenance.Schedule != "0 3 * * *" {
		t.Fatalf("maintenance lost: %+v", got.Maintenance)
	}
}

func TestStoreRejectsInvalidMonitor(t *testing.T) {
	s := newTestStore(t)

	bad := validMonitor()
	bad.CheckInterval = time.Second
	if _, err := s.Create(bad); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestStoreDuplicateDisplayName(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create(validMonitor()); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := validMonitor()
	dup.Name = "api-2"
	_, err := s.Create(dup)
	if err == nil || !strings.Contains(err.Error(), "already in use") {
		t.Fatalf("expected duplicate display_name error, got %v", err)
	}
}

func TestStoreUpdate(t *testing.T) {
	s := newTestStore(t)

	created, err := s.Create(validMonitor())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	created.Target = "https://example.com/v2/health"
	created.IsActive = false
	updated, err := s.Update(*created)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatal("update must preserve created_at")
	}

	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Target != "https://example.com/v2/health" || got.IsActive {
		t.Fatalf("update not persisted: %+v", got)
	}
}

func TestStoreUpdateMissing(t *testing.T) {
	s := newTestStore(t)

	m := validMonitor()
	m.ID = 999
	if _, err := s.Update(m); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)

	created, err := s.Create(validMonitor())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete(created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStoreListActive(t *testing.T) {
	s := newTestStore(t)

	active := validMonitor()
	if _, err := s.Create(active); err != nil {
		t.Fatalf("create: %v", err)
	}
	paused := validMonitor()
	paused.Name = "batch"
	paused.DisplayName = "Batch"
	paused.IsActive = false
	if _, err := s.Create(paused); err != nil {
		t.Fatalf("create: %v", err)
	}

	all, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 monitors, got %d", len(all))
	}

	act, err := s.ListActive()
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(act) != 1 || act[0].DisplayName != "API" {
		t.Fatalf("expected only the active monitor, got %+v", act)
	}
}
