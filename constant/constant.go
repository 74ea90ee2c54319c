package constant

type ArtifactState string

const (
	ArtifactStateCapturing        ArtifactState = "capturing"
	ArtifactStateConverting       ArtifactState = "converting"
	ArtifactStateConversionFailed ArtifactState = "conversion_failed"
	ArtifactStatePendingUpload    ArtifactState = "pending_upload"
	ArtifactStateUploading        ArtifactState = "uploading"
	ArtifactStateUploaded         ArtifactState = "uploaded"
	ArtifactStateUploadFailed     ArtifactState = "upload_failed"
	ArtifactStateIncomplete       ArtifactState = "incomplete"
)

func (s ArtifactState) String() string {
	return string(s)
}

// Terminal reports whether no further pipeline stage will pick the artifact up
// on its own.
func (s ArtifactState) Terminal() bool {
	switch s {
	case ArtifactStateUploaded, ArtifactStateIncomplete, ArtifactStateConversionFailed:
		return true
	}
	return false
}

type ArtifactKind string

const (
	ArtifactKindVideo ArtifactKind = "video"
	ArtifactKindImage ArtifactKind = "image"
)

type SchedulerState string

const (
	SchedulerStateIdle            SchedulerState = "IDLE"
	SchedulerStateCapturing       SchedulerState = "CAPTURING"
	SchedulerStateStoppingSegment SchedulerState = "STOPPING_SEGMENT"
	SchedulerStateStoppingSession SchedulerState = "STOPPING_SESSION"
)

const (
	RecorderStatusRecording = "RECORDING"
	RecorderStatusStandby   = "STANDBY"
)

type UploadStatus string

const (
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusSuccess   UploadStatus = "success"
	UploadStatusFailed    UploadStatus = "failed"
)

type Command string

const (
	CommandStartSession   Command = "start"
	CommandStopSession    Command = "stop"
	CommandRetryFailed    Command = "retry_failed"
	CommandUploadBatch    Command = "upload_batch"
	CommandCapturePhoto   Command = "photo"
	CommandUploadArtifact Command = "upload"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

const (
	UploadBackendHTTP  = "http"
	UploadBackendMinio = "minio"
)

const (
	CaptureDriverRpicam = "rpicam"
	CaptureDriverMock   = "mock"
)
