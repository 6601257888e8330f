package svc

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"markpaste/metrics"
	"markpaste/svc/util"
)

// Sweep removes every stored paste that has expired.
func (p *Paste) Sweep(ctx context.Context) (int, error) {
	metrics.PruneCycles.Inc()
	n, err := p.store.CleanupExpired(ctx, p.clock())
	if n > 0 {
		metrics.PastesSwept.Add(float64(n))
	}
	return n, err
}

// RunCleaner sweeps every interval until ctx is done.
func (p *Paste) RunCleaner(ctx context.Context, interval time.Duration) error {
	if !p.cleaning.CompareAndSwap(false, true) {
		return errors.New("cleaner already running")
	}
	defer p.cleaning.Store(false)
	cleanupRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, cleanupRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", cleanupRequestID).
		Dur("interval", interval).
		Msg("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", cleanupRequestID).
				Msg("cleanup worker shutting down")
			return nil
		case <-ticker.C:
			deleted, err := p.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				util.Error().
					Err(err).
					Str("request_id", cleanupRequestID).
					Msg("cleanup failed")
			} else if deleted > 0 {
				util.Info().
					Int("deleted", deleted).
					Str("request_id", cleanupRequestID).
					Msg("cleanup completed")
			}
		}
	}
}
