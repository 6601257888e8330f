package svc

import (
	"context"
	"time"

	"markpaste/pkg/domain"
)

// PasteStore persists paste records. Get returns ErrPasteNotFound for absent
// IDs and returns expired records unchanged; expiry is decided by callers.
type PasteStore interface {
	Create(ctx context.Context, p *domain.Paste) error
	Get(ctx context.Context, id string) (*domain.Paste, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	CleanupExpired(ctx context.Context, before time.Time) (int, error)
}

// CounterStore holds the single analytics record. LoadCounters creates it
// when absent.
type CounterStore interface {
	LoadCounters(ctx context.Context, now time.Time) (*domain.Counters, error)
	SaveCounters(ctx context.Context, c *domain.Counters) error
}

// Store is what a storage backend provides.
type Store interface {
	PasteStore
	CounterStore
	Ping(ctx context.Context) error
	Close() error
}

// RemoteCache is a shared cache in front of the store. GetPaste returns
// nil, nil on a miss.
type RemoteCache interface {
	CachePaste(ctx context.Context, p *domain.Paste, ttl time.Duration) error
	GetPaste(ctx context.Context, id string) (*domain.Paste, error)
	Delete(ctx context.Context, id string) error
}
