package svc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"markpaste/cfg"
	"markpaste/metrics"
	"markpaste/pkg/domain"
	"markpaste/svc/cache"
	"markpaste/svc/util"
)

var ErrShuttingDown = errors.New("service shutting down")

const loadTimeout = 5 * time.Second

type Paste struct {
	store    PasteStore
	lru      *cache.LRU
	remote   RemoteCache
	cfg      *cfg.Cfg
	group    singleflight.Group
	now      func() time.Time
	shutdown atomic.Bool
	cleaning atomic.Bool
	opWg     sync.WaitGroup
}

// NewPaste wires the paste lifecycle. remote may be nil.
func NewPaste(store PasteStore, lru *cache.LRU, remote RemoteCache, c *cfg.Cfg) *Paste {
	if store == nil || lru == nil || c == nil {
		panic("paste service: nil dependency (store, lru, or cfg)")
	}
	return &Paste{
		store:  store,
		lru:    lru,
		remote: remote,
		cfg:    c,
		now:    time.Now,
	}
}

// SetClock replaces the time source for this service and its LRU.
func (p *Paste) SetClock(now func() time.Time) {
	p.now = now
	p.lru.SetClock(now)
}

// clock is the current time at the precision every backend can store.
func (p *Paste) clock() time.Time {
	return p.now().UTC().Truncate(time.Millisecond)
}
func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	p.opWg.Wait()
	util.Debug().Msg("paste service shutdown complete")
}
func (p *Paste) Create(ctx context.Context, content string) (*domain.Paste, error) {
	if p.shutdown.Load() {
		return nil, ErrShuttingDown
	}
	p.opWg.Add(1)
	defer p.opWg.Done()
	if content == "" {
		return nil, domain.ErrContentRequired
	}
	if int64(len(content)) > p.cfg.MaxPasteSize {
		return nil, domain.ErrPasteTooLarge
	}
	id, err := util.GenID(func(id string) (bool, error) {
		return p.store.Exists(ctx, id)
	})
	if err == util.ErrIDCollision {
		return nil, errors.Wrap(domain.ErrIDGenerationFailed, err.Error())
	}
	if err != nil {
		return nil, errors.Wrap(err, "gen id")
	}
	now := p.clock()
	paste := &domain.Paste{
		ID:        id,
		Content:   content,
		CreatedAt: now,
		ExpiresAt: now.Add(domain.PasteTTL),
	}
	if err := p.store.Create(ctx, paste); err != nil {
		return nil, errors.Wrap(err, "create paste")
	}
	p.lru.Set(ctx, paste)
	if p.remote != nil {
		if err := p.remote.CachePaste(ctx, paste, domain.PasteTTL); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to cache in Redis")
		}
	}
	metrics.PasteCreated.Inc()
	return paste, nil
}

// Get returns the paste if it exists and has not expired. An expired paste
// is removed from every tier before ErrPasteNotFound is returned.
func (p *Paste) Get(ctx context.Context, id string) (*domain.Paste, error) {
	if !util.ValidID(id) {
		return nil, domain.ErrPasteNotFound
	}
	now := p.clock()
	if paste := p.lru.Get(ctx, id); paste != nil {
		if paste.Expired(now) {
			p.expire(ctx, id)
			return nil, domain.ErrPasteNotFound
		}
		metrics.CacheHits.WithLabelValues("lru").Inc()
		metrics.PasteRetrieved.Inc()
		return paste, nil
	}
	v, err, _ := p.group.Do(id, func() (any, error) {
		// Shared by every waiter on id, so it must outlive the leader's request.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return p.load(lctx, id, now)
	})
	if err != nil {
		return nil, err
	}
	paste := v.(*domain.Paste)
	if paste.Expired(now) {
		p.expire(ctx, id)
		return nil, domain.ErrPasteNotFound
	}
	metrics.PasteRetrieved.Inc()
	return paste, nil
}
func (p *Paste) load(ctx context.Context, id string, now time.Time) (*domain.Paste, error) {
	if p.remote != nil {
		paste, err := p.remote.GetPaste(ctx, id)
		if err != nil {
			util.Warn().Err(err).Str("id", id).Msg("redis lookup failed, falling back to store")
		}
		if paste != nil {
			metrics.CacheHits.WithLabelValues("redis").Inc()
			p.lru.Set(ctx, paste)
			return paste, nil
		}
	}
	metrics.CacheMisses.Inc()
	paste, err := p.store.Get(ctx, id)
	if err != nil {
		if errors.Cause(err) == domain.ErrPasteNotFound {
			return nil, domain.ErrPasteNotFound
		}
		return nil, errors.Wrap(err, "get paste")
	}
	if paste.Expired(now) {
		return paste, nil
	}
	p.lru.Set(ctx, paste)
	if p.remote != nil {
		if err := p.remote.CachePaste(ctx, paste, paste.Remaining(now)); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to cache in Redis")
		}
	}
	return paste, nil
}

// expire deletes id from every tier. Failures are logged and ignored.
func (p *Paste) expire(ctx context.Context, id string) {
	metrics.PasteExpired.Inc()
	p.lru.Delete(id)
	if p.remote != nil {
		if err := p.remote.Delete(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to delete expired paste from redis")
		}
	}
	if err := p.store.Delete(ctx, id); err != nil {
		util.Warn().Err(err).Str("id", id).Msg("failed to delete expired paste")
	}
}
