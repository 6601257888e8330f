package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"markpaste/pkg/domain"
)

func createTestDB(t *testing.T) *SQLite {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", time.Now().UnixNano())
	s, err := NewSQLiteWithConfig(dsn, 4, 4, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPaste(id string, created time.Time) *domain.Paste {
	return &domain.Paste{
		ID:        id,
		Content:   "# Hello\n\n```go\nfmt.Println(\"hi\")\n```\n",
		CreatedAt: created,
		ExpiresAt: created.Add(domain.PasteTTL),
	}
}

func TestSQLiteCreateGet(t *testing.T) {
	s := createTestDB(t)
	ctx := context.Background()
	created := time.Date(2025, 6, 1, 10, 30, 0, 123000000, time.UTC)
	want := testPaste("abcd1234", created)

	if err := s.Create(ctx, want); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get(ctx, "abcd1234")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != want.Content {
		t.Errorf("Content = %q, want %q", got.Content, want.Content)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("times = %v/%v, want %v/%v", got.CreatedAt, got.ExpiresAt, want.CreatedAt, want.ExpiresAt)
	}
	if err := s.Create(ctx, want); err == nil {
		t.Error("duplicate id accepted")
	}
}

func TestSQLiteGetMissing(t *testing.T) {
	s := createTestDB(t)
	_, err := s.Get(context.Background(), "nope0000")
	if err != domain.ErrPasteNotFound {
		t.Fatalf("err = %v, want ErrPasteNotFound", err)
	}
}

func TestSQLiteGetReturnsExpiredRecord(t *testing.T) {
	s := createTestDB(t)
	ctx := context.Background()
	old := time.Now().Add(-100 * time.Hour)
	if err := s.Create(ctx, testPaste("expired1", old)); err != nil {
		t.Fatal(err)
	}
	p, err := s.Get(ctx, "expired1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !p.Expired(time.Now()) {
		t.Error("record should be expired")
	}
}

func TestSQLiteExistsDelete(t *testing.T) {
	s := createTestDB(t)
	ctx := context.Background()
	if err := s.Create(ctx, testPaste("exists01", time.Now())); err != nil {
		t.Fatal(err)
	}
	ok, err := s.Exists(ctx, "exists01")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	if err := s.Delete(ctx, "exists01"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err = s.Exists(ctx, "exists01")
	if err != nil || ok {
		t.Fatalf("Exists after delete = %v, %v", ok, err)
	}
}

func TestSQLiteCleanupExpired(t *testing.T) {
	s := createTestDB(t)
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 150; i++ {
		if err := s.Create(ctx, testPaste(fmt.Sprintf("old%05d", i), now.Add(-80*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Create(ctx, testPaste("fresh001", now)); err != nil {
		t.Fatal(err)
	}
	n, err := s.CleanupExpired(ctx, now)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 150 {
		t.Errorf("deleted %d, want 150", n)
	}
	if _, err := s.Get(ctx, "fresh001"); err != nil {
		t.Errorf("fresh paste removed: %v", err)
	}
}

func TestSQLiteCounters(t *testing.T) {
	s := createTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c, err := s.LoadCounters(ctx, now)
	if err != nil {
		t.Fatalf("LoadCounters: %v", err)
	}
	if c.TotalPastes != 0 || c.PastesByDay == nil {
		t.Fatalf("unexpected initial counters: %+v", c)
	}
	c.Apply(domain.EventCreated, domain.EventPayload{ContentLength: 42}, now)
	c.ActiveIPs = 3
	if err := s.SaveCounters(ctx, c); err != nil {
		t.Fatalf("SaveCounters: %v", err)
	}
	again, err := s.LoadCounters(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("LoadCounters: %v", err)
	}
	if again.TotalPastes != 1 || again.AvgPasteLength != 42 || again.ActiveIPs != 3 {
		t.Errorf("counters not persisted: %+v", again)
	}
	if again.PastesByDay[domain.DayKey(now)] != 1 {
		t.Errorf("PastesByDay = %v", again.PastesByDay)
	}
	if !again.LastUpdated.Equal(now) {
		t.Errorf("LastUpdated = %v, want %v", again.LastUpdated, now)
	}
}

func TestSQLiteCircuitBreaker(t *testing.T) {
	s := createTestDB(t)
	for i := 0; i < maxFailures; i++ {
		s.recordError(fmt.Errorf("disk error %d", i))
	}
	if err := s.checkCircuit(); err != ErrCircuitOpen {
		t.Fatalf("checkCircuit = %v, want ErrCircuitOpen", err)
	}
	if _, err := s.Get(context.Background(), "whatever"); err != ErrCircuitOpen {
		t.Errorf("Get err = %v, want ErrCircuitOpen", err)
	}
	s.recordError(nil)
	if err := s.checkCircuit(); err != nil {
		t.Errorf("circuit still open after success: %v", err)
	}
}

func TestSQLiteCheckpoint(t *testing.T) {
	s := createTestDB(t)
	if err := checkpoint(context.Background(), s.DB()); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestSQLiteWALMaintenanceStops(t *testing.T) {
	s := createTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunWALMaintenance(ctx, 10*time.Millisecond) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunWALMaintenance = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("maintenance loop did not stop")
	}
}
