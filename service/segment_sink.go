package service

import (
	"sync"

	"helmet-recorder/entities"
	"helmet-recorder/pkg/gpslog"
)

// SegmentSink holds the open segment and its GPS samples. Every append
// rewrites the segment's log, so a crash loses at most the sample in flight.
type SegmentSink struct {
	mu      sync.Mutex
	segment *entities.Segment
	points  []entities.GpsSample
}

func NewSegmentSink() *SegmentSink {
	return &SegmentSink{}
}

// Open starts a fresh buffer for seg and writes its empty log.
func (s *SegmentSink) Open(seg entities.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := gpslog.Write(seg.GpsPath, nil); err != nil {
		return err
	}
	s.segment = &seg
	s.points = nil
	return nil
}

// Close detaches the open segment and returns it with its size refreshed.
func (s *SegmentSink) Close() (entities.Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.segment == nil {
		return entities.Segment{}, false
	}
	seg := *s.segment
	seg.Size = fileSize(seg.VideoPath)
	s.segment = nil
	s.points = nil
	return seg, true
}

func (s *SegmentSink) Current() (entities.Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.segment == nil {
		return entities.Segment{}, false
	}
	return *s.segment, true
}

// Append logs sample against the open segment. It reports false when no
// segment is open.
func (s *SegmentSink) Append(sample entities.GpsSample) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.segment == nil {
		return false, nil
	}
	s.points = append(s.points, sample)
	return true, gpslog.Write(s.segment.GpsPath, s.points)
}

func (s *SegmentSink) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}

// VideoSize polls the raw video on disk; 0 when nothing is open yet.
func (s *SegmentSink) VideoSize() int64 {
	s.mu.Lock()
	seg := s.segment
	s.mu.Unlock()
	if seg == nil {
		return 0
	}
	return fileSize(seg.VideoPath)
}
