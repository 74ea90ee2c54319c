package entities

import (
	"time"

	"github.com/google/uuid"

	"helmet-recorder/constant"
)

// Artifact is one row of the durable index. FileName, AudioFile and GpsFile
// always hold the current on-disk names (relative to the recording dir); they
// are rewritten together with State on every transition.
type Artifact struct {
	ID         uuid.UUID              `json:"id" gorm:"type:uuid;primaryKey"`
	Kind       constant.ArtifactKind  `json:"kind" gorm:"type:varchar(10);not null;default:'video'"`
	SessionKey string                 `json:"session_key" gorm:"type:varchar(20);not null;index:idx_artifacts_session"`
	Sequence   int                    `json:"sequence" gorm:"not null;default:0"`
	State      constant.ArtifactState `json:"state" gorm:"type:varchar(20);not null;index:idx_artifacts_state"`
	FileName   string                 `json:"file_name" gorm:"type:varchar(255);not null;uniqueIndex:idx_artifacts_file_name"`
	AudioFile  string                 `json:"audio_file" gorm:"type:varchar(255)"`
	GpsFile    string                 `json:"gps_file" gorm:"type:varchar(255)"`
	// Label is a display name; file names keep the timestamp key.
	Label      string                 `json:"label" gorm:"type:varchar(255);not null;default:''"`
	StartedAt  time.Time              `json:"started_at"`
	EndedAt    *time.Time             `json:"ended_at"`
	Attempts   int                    `json:"attempts" gorm:"not null;default:0"`
	LastError  string                 `json:"last_error" gorm:"type:text"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

func (Artifact) TableName() string {
	return "artifacts"
}
