package entities

import (
	"time"

	"github.com/google/uuid"
)

type Session struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at"`
	AudioEnabled bool       `json:"audio_enabled"`
	Segments     []Segment  `json:"segments"`
}

// Segment paths are absolute; the matching artifact row stores base names.
type Segment struct {
	SessionID  string     `json:"session_id"`
	Sequence   int        `json:"sequence"`
	ArtifactID uuid.UUID  `json:"artifact_id"`
	VideoPath  string     `json:"video_path"`
	AudioPath  string     `json:"audio_path,omitempty"`
	GpsPath    string     `json:"gps_path"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at"`
	Size       int64      `json:"size"`
}

func (s Segment) Open() bool {
	return s.EndedAt == nil
}
