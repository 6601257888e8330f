package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"markpaste/pkg/domain"
)

// LRU is a bounded in-process paste cache. Entries are dropped once their
// paste has expired.
type LRU struct {
	c   *lru.Cache[string, *domain.Paste]
	mu  sync.Mutex
	now func() time.Time
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, *domain.Paste](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c, now: time.Now}, nil
}

// SetClock replaces the time source used for expiry checks.
func (l *LRU) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
func (l *LRU) Get(ctx context.Context, id string) *domain.Paste {
	select {
	case <-ctx.Done():
		return nil
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.c.Get(id)
	if !ok {
		return nil
	}
	if p.Expired(l.now()) {
		l.c.Remove(id)
		return nil
	}
	return p
}
func (l *LRU) Set(ctx context.Context, p *domain.Paste) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.Expired(l.now()) {
		return
	}
	l.c.Add(p.ID, p)
}
func (l *LRU) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Remove(id)
}
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.Len()
}
