package lim

import "testing"

func TestAnomalyDetectorTriggers(t *testing.T) {
	fired := 0
	d := NewAnomalyDetector(func() { fired++ })
	for i := 0; i < 20; i++ {
		d.RecordRequest()
	}
	for i := 0; i < 5; i++ {
		d.RecordError()
	}
	if rate := d.ErrorRate(); rate != 25 {
		t.Errorf("ErrorRate = %v, want 25", rate)
	}
	d.AdvanceWindow()
	if fired != 1 {
		t.Errorf("onAnomaly fired %d times, want 1", fired)
	}
}

func TestAnomalyDetectorQuiet(t *testing.T) {
	fired := 0
	d := NewAnomalyDetector(func() { fired++ })
	for i := 0; i < 5; i++ {
		d.RecordRequest()
		d.RecordError()
	}
	d.AdvanceWindow()
	if fired != 0 {
		t.Error("fired below the request threshold")
	}
	for i := 0; i < 100; i++ {
		d.RecordRequest()
	}
	d.AdvanceWindow()
	if fired != 0 {
		t.Errorf("fired at %.1f%% error rate", d.ErrorRate())
	}
}

func TestAnomalyWindowRolls(t *testing.T) {
	d := NewAnomalyDetector(nil)
	d.RecordRequest()
	d.RecordError()
	for i := 0; i < anomalyBuckets; i++ {
		d.AdvanceWindow()
	}
	if rate := d.ErrorRate(); rate != 0 {
		t.Errorf("ErrorRate after full rotation = %v, want 0", rate)
	}
}
