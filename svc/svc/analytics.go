package svc

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"markpaste/metrics"
	"markpaste/pkg/domain"
	"markpaste/svc/events"
	"markpaste/svc/util"
)

const (
	recordTimeout  = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Analytics maintains the global counters record. Record never fails from
// the caller's point of view; Snapshot reports storage errors.
type Analytics struct {
	store CounterStore
	pub   events.Publisher
	now   func() time.Time
	mu    sync.Mutex
	seen  map[[blake2b.Size256]byte]struct{}
}

func NewAnalytics(store CounterStore, pub events.Publisher) *Analytics {
	if store == nil {
		panic("analytics service: nil store")
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Analytics{
		store: store,
		pub:   pub,
		now:   time.Now,
		seen:  make(map[[blake2b.Size256]byte]struct{}),
	}
}
func (a *Analytics) SetClock(now func() time.Time) {
	a.now = now
}
func (a *Analytics) clock() time.Time {
	return a.now().UTC().Truncate(time.Millisecond)
}

// Record applies one event. Errors are logged and counted, never returned.
func (a *Analytics) Record(ctx context.Context, kind domain.EventKind, p domain.EventPayload) {
	requestID := util.GetRequestID(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	ev, err := a.record(ctx, kind, p)
	if err != nil {
		metrics.AnalyticsFailures.Inc()
		util.Error().
			Err(err).
			Str("kind", string(kind)).
			Str("request_id", requestID).
			Msg("analytics record failed")
		return
	}
	metrics.AnalyticsEvents.WithLabelValues(string(kind)).Inc()
	a.publish(ctx, ev)
}
func (a *Analytics) record(ctx context.Context, kind domain.EventKind, p domain.EventPayload) (domain.Event, error) {
	if !kind.Valid() {
		return domain.Event{}, errors.Errorf("unknown event kind %q", kind)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock()
	c, err := a.store.LoadCounters(ctx, now)
	if err != nil {
		return domain.Event{}, errors.Wrap(err, "load counters")
	}
	if p.Address != "" {
		a.seen[blake2b.Sum256([]byte(p.Address))] = struct{}{}
		c.ActiveIPs = len(a.seen)
	}
	c.Apply(kind, p, now)
	if err := a.store.SaveCounters(ctx, c); err != nil {
		return domain.Event{}, errors.Wrap(err, "save counters")
	}
	return domain.Event{Kind: kind, PasteID: p.PasteID, ContentLength: p.ContentLength, At: now}, nil
}
func (a *Analytics) publish(ctx context.Context, ev domain.Event) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := a.pub.Publish(ctx, ev); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		util.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("event publish failed")
		return
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
}

// Snapshot returns the stored counters, creating the record if needed.
func (a *Analytics) Snapshot(ctx context.Context) (*domain.Counters, error) {
	c, err := a.store.LoadCounters(ctx, a.clock())
	if err != nil {
		return nil, errors.Wrap(err, "load counters")
	}
	return c, nil
}

// SeenAddresses is the number of distinct addresses since start-up.
func (a *Analytics) SeenAddresses() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.seen)
}
