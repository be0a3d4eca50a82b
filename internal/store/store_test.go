package store

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// --- Sessions ---

func TestUpsertAndGetSession(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	rec := &SessionRecord{
		ID:           "sess-1",
		Persona:      "nova",
		ManifestJSON: `{"keyboard":"kitty"}`,
		CreatedAt:    now,
		LastSeenAt:   now,
	}
	if err := s.UpsertSession(rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("got nil session")
	}
	if got.Persona != "nova" {
		t.Errorf("persona = %q, want nova", got.Persona)
	}
	if got.ClosedAt != nil {
		t.Error("expected a freshly-upserted session to be open")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetSession("nonexistent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestListOpenSessionsExcludesClosed(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	s.UpsertSession(&SessionRecord{ID: "sess-open", Persona: "core", ManifestJSON: "{}", CreatedAt: now, LastSeenAt: now})
	s.UpsertSession(&SessionRecord{ID: "sess-closed", Persona: "core", ManifestJSON: "{}", CreatedAt: now, LastSeenAt: now})
	if err := s.CloseSession("sess-closed", now); err != nil {
		t.Fatalf("close: %v", err)
	}

	open, err := s.ListOpenSessions()
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 || open[0].ID != "sess-open" {
		t.Fatalf("ListOpenSessions = %+v, want only sess-open", open)
	}
}

func TestTouchSessionAdvancesLastSeen(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	s.UpsertSession(&SessionRecord{ID: "sess-1", Persona: "nova", ManifestJSON: "{}", CreatedAt: now, LastSeenAt: now})

	later := now.Add(time.Hour)
	if err := s.TouchSession("sess-1", later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ := s.GetSession("sess-1")
	if !got.LastSeenAt.Equal(later) {
		t.Errorf("last_seen_at = %v, want %v", got.LastSeenAt, later)
	}
}

// --- Terminal bindings ---

func TestUpsertAndGetBinding(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	s.UpsertSession(&SessionRecord{ID: "sess-1", Persona: "nova", ManifestJSON: "{}", CreatedAt: now, LastSeenAt: now})

	cwd := "/home/ci"
	rec := &BindingRecord{
		BindingID:    "bind-1",
		SessionID:    "sess-1",
		TerminalKind: "kitty",
		State:        "active",
		Cwd:          &cwd,
		CreatedAt:    now,
	}
	if err := s.UpsertBinding(rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetBinding("bind-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("got nil binding")
	}
	if got.State != "active" {
		t.Errorf("state = %q, want active", got.State)
	}
}

func TestListActiveBindingsExcludesClosed(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	s.UpsertSession(&SessionRecord{ID: "sess-1", Persona: "nova", ManifestJSON: "{}", CreatedAt: now, LastSeenAt: now})

	s.UpsertBinding(&BindingRecord{BindingID: "bind-active", SessionID: "sess-1", TerminalKind: "kitty", State: "active", CreatedAt: now})
	s.UpsertBinding(&BindingRecord{BindingID: "bind-closed", SessionID: "sess-1", TerminalKind: "kitty", State: "active", CreatedAt: now})
	if err := s.CloseBinding("bind-closed", "terminated", now); err != nil {
		t.Fatalf("close: %v", err)
	}

	active, err := s.ListActiveBindings()
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].BindingID != "bind-active" {
		t.Fatalf("ListActiveBindings = %+v, want only bind-active", active)
	}
}

func TestCloseBindingSetsStateAndClosedAt(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	s.UpsertSession(&SessionRecord{ID: "sess-1", Persona: "nova", ManifestJSON: "{}", CreatedAt: now, LastSeenAt: now})
	s.UpsertBinding(&BindingRecord{BindingID: "bind-1", SessionID: "sess-1", TerminalKind: "kitty", State: "active", CreatedAt: now})

	if err := s.CloseBinding("bind-1", "terminated", now); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, _ := s.GetBinding("bind-1")
	if got.State != "terminated" {
		t.Errorf("state = %q, want terminated", got.State)
	}
	if got.ClosedAt == nil {
		t.Error("expected closed_at to be set")
	}
}

// --- Policy generation history ---

func TestRecordAndListPolicyGenerations(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	path := "/etc/agentd/policy.yaml"

	for i := uint64(1); i <= 3; i++ {
		if err := s.RecordPolicyGeneration(i, int(i)*10, &path, now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("record generation %d: %v", i, err)
		}
	}

	recent, err := s.ListRecentPolicyGenerations(2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d generations, want 2", len(recent))
	}
	if recent[0].Generation != 3 || recent[1].Generation != 2 {
		t.Errorf("generations = %d, %d, want 3, 2 (newest first)", recent[0].Generation, recent[1].Generation)
	}
}

// --- Migration idempotency ---

func TestMigrationIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

// --- Schema verification ---

func TestAllTablesExist(t *testing.T) {
	s := openTestStore(t)
	tables := []string{"sessions", "terminal_bindings", "policy_generations", "schema_migrations"}
	for _, name := range tables {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
		if err != nil {
			t.Fatalf("check table %s: %v", name, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", name)
		}
	}
}
