package dto

import (
	"time"

	"github.com/google/uuid"

	"helmet-recorder/constant"
	"helmet-recorder/entities"
)

type CommandMessage struct {
	MessageId uuid.UUID        `json:"messageId"`
	Command   constant.Command `json:"command"`
	Base      string           `json:"base,omitempty"`
	FileName  string           `json:"fileName,omitempty"`
}

type ArtifactEvent struct {
	ArtifactId uuid.UUID              `json:"artifactId"`
	DeviceId   string                 `json:"deviceId"`
	SessionKey string                 `json:"sessionKey"`
	Sequence   int                    `json:"sequence"`
	FileName   string                 `json:"fileName"`
	State      constant.ArtifactState `json:"state"`
	Message    string                 `json:"message,omitempty"`
	At         time.Time              `json:"at"`
}

type UploadMetadata struct {
	DeviceId      string
	FileType      constant.ArtifactKind
	StartTime     time.Time
	EndTime       time.Time
	StartLocation string
	EndLocation   string
	GpsJSON       string
}

type UploadResult struct {
	ArtifactId uuid.UUID `json:"artifact_id"`
	FileName   string    `json:"file_name"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	Link       string    `json:"link,omitempty"`
}

type UploadStatus struct {
	FileName  string                `json:"file_name"`
	Status    constant.UploadStatus `json:"status"`
	Message   string                `json:"message"`
	UpdatedAt time.Time             `json:"updated_at"`
}

type RetryReport struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type RecoveryReport struct {
	Incomplete    []string `json:"incomplete"`
	RequeuedFails []string `json:"requeued"`
	Adopted       []string `json:"adopted"`
	Reconciled    []string `json:"reconciled"`
}

func (r RecoveryReport) Empty() bool {
	return len(r.Incomplete) == 0 && len(r.RequeuedFails) == 0 && len(r.Adopted) == 0 && len(r.Reconciled) == 0
}

type SegmentStatus struct {
	Name     string  `json:"name"`
	Raw      string  `json:"raw"`
	Sequence int     `json:"sequence"`
	SizeMB   float64 `json:"size"`
	Started  string  `json:"started"`
}

type RecorderStatus struct {
	Status         string                  `json:"status"`
	State          constant.SchedulerState `json:"state"`
	IsRecording    bool                    `json:"is_recording"`
	SessionId      string                  `json:"session_id,omitempty"`
	RecordingTime  int                     `json:"recording_time"`
	AudioEnabled   bool                    `json:"audio_enabled"`
	Current        []SegmentStatus         `json:"current_recording"`
	StorageFreeGB  float64                 `json:"storage_free_gb"`
	Gps            entities.GpsFix         `json:"gps"`
	ConvertingJobs []string                `json:"converting"`
}

type MediaFile struct {
	Name         string                 `json:"name"`
	Label        string                 `json:"label,omitempty"`
	Type         constant.ArtifactKind  `json:"type"`
	State        constant.ArtifactState `json:"state"`
	SizeMB       float64                `json:"size"`
	Failed       bool                   `json:"failed"`
	Converting   bool                   `json:"converting"`
	Incomplete   bool                   `json:"incomplete"`
	Uploaded     bool                   `json:"uploaded"`
	UploadStatus *UploadStatus          `json:"upload_status"`
	LastModified time.Time              `json:"last_modified"`
}

type MediaGroup struct {
	Base      string      `json:"base"`
	Label     string      `json:"label,omitempty"`
	Timestamp string      `json:"timestamp"`
	Chunks    []MediaFile `json:"chunks"`
	TotalSize float64     `json:"total_size"`
}

type MediaListing struct {
	Groups []MediaGroup `json:"groups"`
	Files  []MediaFile  `json:"files"`
}

type GpsUpdateRequest struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Accuracy float64 `json:"accuracy"`
	Speed    float64 `json:"speed"`
}

type UploadRequest struct {
	FileName string `json:"filename" binding:"required"`
}

type BatchUploadRequest struct {
	Base string `json:"base" binding:"required"`
}

type AudioToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type GpsTrack struct {
	Points []entities.GpsSample `json:"points"`
	Start  *entities.GpsSample  `json:"start"`
	End    *entities.GpsSample  `json:"end"`
}

type RenameRequest struct {
	FileName string `json:"old_name" binding:"required"`
	Label    string `json:"new_name" binding:"required"`
}

type RenameSessionRequest struct {
	Base  string `json:"base" binding:"required"`
	Label string `json:"new_name" binding:"required"`
}
