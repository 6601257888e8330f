package svc

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"markpaste/cfg"
	"markpaste/pkg/domain"
	"markpaste/svc/cache"
	"markpaste/svc/db"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)}
}
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}
func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func createTestDB(t *testing.T) *db.SQLite {
	t.Helper()
	s, err := db.NewSQLiteWithConfig(filepath.Join(t.TempDir(), "svc.db"), 4, 4, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestConfig() *cfg.Cfg {
	return &cfg.Cfg{MaxPasteSize: 64 * 1024, LRUCacheSize: 100}
}

func newTestPaste(t *testing.T, store PasteStore, remote RemoteCache) (*Paste, *fakeClock) {
	t.Helper()
	lru, err := cache.NewLRU(100)
	if err != nil {
		t.Fatal(err)
	}
	p := NewPaste(store, lru, remote, createTestConfig())
	clk := newFakeClock()
	p.SetClock(clk.Now)
	return p, clk
}

// countingStore wraps a PasteStore and records Get and Delete calls.
type countingStore struct {
	PasteStore
	mu      sync.Mutex
	gets    int
	deletes int
}

func (s *countingStore) Get(ctx context.Context, id string) (*domain.Paste, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.PasteStore.Get(ctx, id)
}
func (s *countingStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
	return s.PasteStore.Delete(ctx, id)
}

var errStoreDown = errors.New("store down")

// brokenCounters fails every operation.
type brokenCounters struct{}

func (brokenCounters) LoadCounters(context.Context, time.Time) (*domain.Counters, error) {
	return nil, errStoreDown
}
func (brokenCounters) SaveCounters(context.Context, *domain.Counters) error {
	return errStoreDown
}

// memRemote is an in-memory RemoteCache.
type memRemote struct {
	mu     sync.Mutex
	pastes map[string]*domain.Paste
	fail   bool
}

func newMemRemote() *memRemote {
	return &memRemote{pastes: map[string]*domain.Paste{}}
}
func (m *memRemote) CachePaste(_ context.Context, p *domain.Paste, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStoreDown
	}
	if ttl > 0 {
		m.pastes[p.ID] = p
	}
	return nil
}
func (m *memRemote) GetPaste(_ context.Context, id string) (*domain.Paste, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errStoreDown
	}
	return m.pastes[id], nil
}
func (m *memRemote) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pastes, id)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}
func (r *recordingPublisher) Close() error { return nil }
