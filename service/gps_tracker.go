package service

import (
	"sync"
	"time"

	"helmet-recorder/entities"
	"helmet-recorder/pkg/gpslog"
)

// GpsTracker keeps the latest fix pushed by the phone and decides when the
// next sample is due.
type GpsTracker struct {
	mu       sync.Mutex
	fix      entities.GpsFix
	interval time.Duration
	last     time.Time
}

func NewGpsTracker(interval time.Duration) *GpsTracker {
	return &GpsTracker{interval: interval}
}

func (g *GpsTracker) Update(fix entities.GpsFix) {
	g.mu.Lock()
	g.fix = fix
	g.mu.Unlock()
}

func (g *GpsTracker) Current() entities.GpsFix {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fix
}

// Reset makes the next SampleIfDue fire regardless of the interval.
func (g *GpsTracker) Reset() {
	g.mu.Lock()
	g.last = time.Time{}
	g.mu.Unlock()
}

// SampleIfDue appends the current fix to the open segment when at least one
// interval has passed since the last sample.
func (g *GpsTracker) SampleIfDue(now time.Time, sink *SegmentSink) (bool, error) {
	g.mu.Lock()
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		g.mu.Unlock()
		return false, nil
	}
	fix := g.fix
	g.mu.Unlock()

	written, err := sink.Append(gpslog.Sample(now, fix))
	if !written {
		return false, err
	}

	g.mu.Lock()
	g.last = now
	g.mu.Unlock()
	return true, err
}
