package lim

import (
	"sync"
	"time"

	"markpaste/metrics"
	"markpaste/svc/util"
)

const (
	anomalyBuckets     = 5
	anomalyMinRequests = 10
	anomalyErrorRate   = 5.0
)

// AnomalyDetector keeps per-minute request and 5xx counts over a five minute
// ring and calls onAnomaly when the error rate climbs.
type AnomalyDetector struct {
	mu           sync.Mutex
	window       []bucket
	currentIndex int
	onAnomaly    func()
	done         chan struct{}
	stopOnce     sync.Once
}
type bucket struct {
	requests int64
	errors   int64
}

func NewAnomalyDetector(onAnomaly func()) *AnomalyDetector {
	return &AnomalyDetector{
		window:    make([]bucket, anomalyBuckets),
		onAnomaly: onAnomaly,
		done:      make(chan struct{}),
	}
}
func (d *AnomalyDetector) Start() {
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.AdvanceWindow()
			case <-d.done:
				return
			}
		}
	}()
}
func (d *AnomalyDetector) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}
func (d *AnomalyDetector) RecordRequest() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window[d.currentIndex].requests++
}
func (d *AnomalyDetector) RecordError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window[d.currentIndex].errors++
}

// ErrorRate is the percentage of failed requests across the ring.
func (d *AnomalyDetector) ErrorRate() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	rate, _, _ := d.totals()
	return rate
}
func (d *AnomalyDetector) totals() (float64, int64, int64) {
	var reqs, errs int64
	for _, b := range d.window {
		reqs += b.requests
		errs += b.errors
	}
	if reqs == 0 {
		return 0, 0, errs
	}
	return float64(errs) / float64(reqs) * 100.0, reqs, errs
}
func (d *AnomalyDetector) AdvanceWindow() {
	d.mu.Lock()
	errorRate, totalReqs, totalErrs := d.totals()
	d.currentIndex = (d.currentIndex + 1) % len(d.window)
	d.window[d.currentIndex] = bucket{}
	d.mu.Unlock()
	metrics.RecentErrorRatePercent.Set(errorRate)
	if totalReqs > anomalyMinRequests && errorRate > anomalyErrorRate {
		util.Warn().
			Float64("error_rate", errorRate).
			Int64("total_reqs", totalReqs).
			Int64("total_errs", totalErrs).
			Msg("high error rate, tightening read limits")
		if d.onAnomaly != nil {
			d.onAnomaly()
		}
	}
}
