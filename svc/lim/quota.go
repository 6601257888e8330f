package lim

import (
	"sync"
	"time"

	"markpaste/svc/util"
)

const quotaSweepInterval = 5 * time.Minute

// Quota is a fixed-window creation counter keyed by client address.
// A window opens on the first request from an address and lasts window;
// at most limit requests are admitted inside it.
type Quota struct {
	mu       sync.Mutex
	entries  map[string]*quotaEntry
	limit    int
	window   time.Duration
	now      func() time.Time
	quit     chan struct{}
	stopOnce sync.Once
}
type quotaEntry struct {
	count   int
	resetAt time.Time
}

// QuotaStatus is the outcome of a quota check.
type QuotaStatus struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

func NewQuota(limit int, window time.Duration) *Quota {
	q := newQuota(limit, window, time.Now)
	go q.janitor()
	return q
}
func newQuota(limit int, window time.Duration, now func() time.Time) *Quota {
	return &Quota{
		entries: make(map[string]*quotaEntry),
		limit:   limit,
		window:  window,
		now:     now,
		quit:    make(chan struct{}),
	}
}

// Allow consumes one slot for addr if the current window has room.
func (q *Quota) Allow(addr string) bool {
	return q.Take(addr).Allowed
}

// Take is Allow with the resulting window state.
func (q *Quota) Take(addr string) QuotaStatus {
	now := q.now()
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.current(addr, now)
	if e == nil {
		e = &quotaEntry{count: 1, resetAt: now.Add(q.window)}
		q.entries[addr] = e
		return q.status(e, true)
	}
	if e.count >= q.limit {
		return q.status(e, false)
	}
	e.count++
	return q.status(e, true)
}

// Status reports the window for addr without consuming anything.
func (q *Quota) Status(addr string) QuotaStatus {
	now := q.now()
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.current(addr, now)
	if e == nil {
		return QuotaStatus{Allowed: true, Limit: q.limit, Remaining: q.limit, Reset: now.Add(q.window)}
	}
	return q.status(e, e.count < q.limit)
}

// current returns the live entry for addr, discarding a lapsed one.
// Callers hold q.mu.
func (q *Quota) current(addr string, now time.Time) *quotaEntry {
	e, ok := q.entries[addr]
	if !ok {
		return nil
	}
	if !now.Before(e.resetAt) {
		delete(q.entries, addr)
		return nil
	}
	return e
}
func (q *Quota) status(e *quotaEntry, allowed bool) QuotaStatus {
	remaining := q.limit - e.count
	if remaining < 0 {
		remaining = 0
	}
	return QuotaStatus{Allowed: allowed, Limit: q.limit, Remaining: remaining, Reset: e.resetAt}
}
func (q *Quota) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
func (q *Quota) sweep() int {
	now := q.now()
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for addr, e := range q.entries {
		if !now.Before(e.resetAt) {
			delete(q.entries, addr)
			n++
		}
	}
	return n
}
func (q *Quota) janitor() {
	ticker := time.NewTicker(quotaSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := q.sweep(); n > 0 {
				util.Debug().Int("evicted", n).Msg("quota sweep")
			}
		case <-q.quit:
			return
		}
	}
}
func (q *Quota) Stop() {
	q.stopOnce.Do(func() { close(q.quit) })
}
