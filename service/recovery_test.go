package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmet-recorder/constant"
	"helmet-recorder/entities"
	"helmet-recorder/pkg/uploader"
	"helmet-recorder/repository"
)

type recoveryFixture struct {
	dir      string
	repo     repository.ArtifactRepository
	uploads  UploadManager
	notifier *recordingNotifier
	scan     RecoveryScan
}

func newRecoveryFixture(t *testing.T) *recoveryFixture {
	t.Helper()
	_, srv := newRemoteStub(t, nil)
	fx := &recoveryFixture{
		dir:      t.TempDir(),
		repo:     newTestRepo(t),
		notifier: &recordingNotifier{},
	}
	fx.uploads = NewUploadManager(UploadOptions{Dir: fx.dir}, fx.repo, uploader.NewHTTP(srv.URL, "", time.Second), nil, nil)
	fx.scan = NewRecoveryScan(fx.dir, "helmet-01", fx.repo, fx.uploads, fx.notifier)
	return fx
}

func TestRecoveryQuarantinesInterruptedCapture(t *testing.T) {
	fx := newRecoveryFixture(t)
	ctx := context.Background()
	a := seedArtifact(t, fx.repo, fx.dir, &entities.Artifact{
		Kind:       constant.ArtifactKindVideo,
		SessionKey: "20240101_120000",
		State:      constant.ArtifactStateCapturing,
		FileName:   "temp_20240101_120000_chunk000.h264",
		AudioFile:  "audio_20240101_120000_chunk000.wav",
		GpsFile:    "gps_20240101_120000_chunk000.json",
	}, nil)

	report, err := fx.scan.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"incomplete_20240101_120000_chunk000.h264"}, report.Incomplete)
	assert.Empty(t, report.Adopted)

	row, err := fx.repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.ArtifactStateIncomplete, row.State)
	assert.Equal(t, "interrupted while capturing", row.LastError)
	assert.ElementsMatch(t, []string{
		"incomplete_20240101_120000_chunk000.h264",
		"incomplete_audio_20240101_120000_chunk000.wav",
		"incomplete_gps_20240101_120000_chunk000.json",
	}, listDir(t, fx.dir))
	assert.Equal(t, []constant.ArtifactState{constant.ArtifactStateIncomplete}, fx.notifier.States())
}

func TestRecoveryDropsPartialDeliverable(t *testing.T) {
	fx := newRecoveryFixture(t)
	ctx := context.Background()
	seedArtifact(t, fx.repo, fx.dir, &entities.Artifact{
		Kind:       constant.ArtifactKindVideo,
		SessionKey: "20240101_120000",
		State:      constant.ArtifactStateConverting,
		FileName:   "temp_20240101_120000_chunk000.h264",
		GpsFile:    "gps_20240101_120000_chunk000.json",
	}, nil)
	partial := filepath.Join(fx.dir, "video_20240101_120000_chunk000.mp4")
	require.NoError(t, os.WriteFile(partial, []byte("half"), 0o644))

	_, err := fx.scan.Run(ctx)
	require.NoError(t, err)
	assert.NoFileExists(t, partial)
	assert.FileExists(t, filepath.Join(fx.dir, "incomplete_20240101_120000_chunk000.h264"))
}

func TestRecoveryRequeuesInterruptedUpload(t *testing.T) {
	fx := newRecoveryFixture(t)
	ctx := context.Background()
	a := seedArtifact(t, fx.repo, fx.dir, &entities.Artifact{
		Kind:       constant.ArtifactKindVideo,
		SessionKey: "20240101_120000",
		State:      constant.ArtifactStateUploading,
		FileName:   "video_20240101_120000_chunk000.mp4",
		GpsFile:    "gps_20240101_120000_chunk000.json",
	}, nil)

	report, err := fx.scan.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"failed_upload_20240101_120000_chunk000.mp4"}, report.RequeuedFails)
	assert.Equal(t, 1, fx.uploads.Pending())

	row, err := fx.repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.ArtifactStateUploadFailed, row.State)
	assert.FileExists(t, filepath.Join(fx.dir, "failed_upload_gps_20240101_120000_chunk000.json"))

	retry, err := fx.uploads.RetryAllFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Succeeded)
}

func TestRecoveryAdoptsOrphanRaw(t *testing.T) {
	fx := newRecoveryFixture(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, "temp_20240102_080000_chunk003.h264"), []byte("h264"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, "audio_20240102_080000_chunk003.wav"), []byte("wav"), 0o644))

	report, err := fx.scan.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"incomplete_20240102_080000_chunk003.h264"}, report.Adopted)

	row, err := fx.repo.FindByFileName(ctx, "incomplete_20240102_080000_chunk003.h264")
	require.NoError(t, err)
	assert.Equal(t, constant.ArtifactStateIncomplete, row.State)
	assert.Equal(t, "20240102_080000", row.SessionKey)
	assert.Equal(t, 3, row.Sequence)
	assert.Equal(t, "incomplete_audio_20240102_080000_chunk003.wav", row.AudioFile)
	assert.Equal(t, 8, row.StartedAt.Hour())
}

func TestRecoveryRemovesLeftoverRaw(t *testing.T) {
	fx := newRecoveryFixture(t)
	ctx := context.Background()
	seedArtifact(t, fx.repo, fx.dir, &entities.Artifact{
		Kind:       constant.ArtifactKindVideo,
		SessionKey: "20240101_120000",
		State:      constant.ArtifactStatePendingUpload,
		FileName:   "video_20240101_120000_chunk000.mp4",
	}, nil)
	// crash between the index update and the raw cleanup
	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, "temp_20240101_120000_chunk000.h264"), []byte("h264"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, "audio_20240101_120000_chunk000.wav"), []byte("wav"), 0o644))

	report, err := fx.scan.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Empty())
	assert.Equal(t, []string{"video_20240101_120000_chunk000.mp4"}, listDir(t, fx.dir))
}

func TestRecoveryIsIdempotent(t *testing.T) {
	fx := newRecoveryFixture(t)
	ctx := context.Background()
	seedArtifact(t, fx.repo, fx.dir, &entities.Artifact{
		Kind:       constant.ArtifactKindVideo,
		SessionKey: "20240101_120000",
		State:      constant.ArtifactStateCapturing,
		FileName:   "temp_20240101_120000_chunk000.h264",
		GpsFile:    "gps_20240101_120000_chunk000.json",
	}, nil)
	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, "temp_20240102_080000_chunk000.h264"), []byte("h264"), 0o644))

	first, err := fx.scan.Run(ctx)
	require.NoError(t, err)
	assert.False(t, first.Empty())
	files := listDir(t, fx.dir)

	second, err := fx.scan.Run(ctx)
	require.NoError(t, err)
	assert.True(t, second.Empty())
	assert.Equal(t, files, listDir(t, fx.dir))

	all, err := fx.repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRecoveryReconcilesCommittedRenames(t *testing.T) {
	fx := newRecoveryFixture(t)
	ctx := context.Background()
	a := seedArtifact(t, fx.repo, fx.dir, &entities.Artifact{
		Kind:       constant.ArtifactKindVideo,
		SessionKey: "20240101_120000",
		State:      constant.ArtifactStateUploading,
		FileName:   "video_20240101_120000_chunk000.mp4",
		GpsFile:    "gps_20240101_120000_chunk000.json",
	}, nil)
	// the success renames reached the disk, the index update did not
	require.NoError(t, os.Rename(filepath.Join(fx.dir, "video_20240101_120000_chunk000.mp4"), filepath.Join(fx.dir, "uploaded_20240101_120000_chunk000.mp4")))

	report, err := fx.scan.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.RequeuedFails)
	assert.Equal(t, []string{"uploaded_20240101_120000_chunk000.mp4"}, report.Reconciled)
	assert.Equal(t, 0, fx.uploads.Pending())

	row, err := fx.repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.ArtifactStateUploaded, row.State)
	assert.Equal(t, "uploaded_20240101_120000_chunk000.mp4", row.FileName)
	assert.Equal(t, "uploaded_gps_20240101_120000_chunk000.json", row.GpsFile)
	assert.ElementsMatch(t, []string{
		"uploaded_20240101_120000_chunk000.mp4",
		"uploaded_gps_20240101_120000_chunk000.json",
	}, listDir(t, fx.dir))
}

func TestRecoveryFollowsFailureRenames(t *testing.T) {
	fx := newRecoveryFixture(t)
	ctx := context.Background()
	a := seedArtifact(t, fx.repo, fx.dir, &entities.Artifact{
		Kind:       constant.ArtifactKindVideo,
		SessionKey: "20240101_120000",
		State:      constant.ArtifactStateUploading,
		FileName:   "video_20240101_120000_chunk000.mp4",
		GpsFile:    "gps_20240101_120000_chunk000.json",
	}, nil)
	for old, renamed := range map[string]string{
		"video_20240101_120000_chunk000.mp4": "failed_upload_20240101_120000_chunk000.mp4",
		"gps_20240101_120000_chunk000.json":  "failed_upload_gps_20240101_120000_chunk000.json",
	} {
		require.NoError(t, os.Rename(filepath.Join(fx.dir, old), filepath.Join(fx.dir, renamed)))
	}

	report, err := fx.scan.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"failed_upload_20240101_120000_chunk000.mp4"}, report.RequeuedFails)

	retry, err := fx.uploads.RetryAllFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Succeeded)

	row, err := fx.repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.ArtifactStateUploaded, row.State)
	assert.FileExists(t, filepath.Join(fx.dir, row.FileName))
	assert.FileExists(t, filepath.Join(fx.dir, row.GpsFile))
}

func TestRenameAdoptsFileUnderAnotherPrefix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uploaded_20240101_120000_chunk000.mp4"), []byte("mp4"), 0o644))

	got, err := renameTo(dir, "video_20240101_120000_chunk000.mp4", "failed_upload_")
	require.NoError(t, err)
	assert.Equal(t, "failed_upload_20240101_120000_chunk000.mp4", got)
	assert.Equal(t, []string{"failed_upload_20240101_120000_chunk000.mp4"}, listDir(t, dir))

	// nothing on disk at all
	got, err = renameTo(dir, "video_20240102_080000_chunk000.mp4", "uploaded_")
	require.NoError(t, err)
	assert.Equal(t, "uploaded_20240102_080000_chunk000.mp4", got)
}
