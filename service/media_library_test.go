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
	"helmet-recorder/repository"
)

func seedState(t *testing.T, repo repository.ArtifactRepository, dir string, key string, seq int, kind constant.ArtifactKind, state constant.ArtifactState, name, gps string, points []entities.GpsSample) *entities.Artifact {
	t.Helper()
	return seedArtifact(t, repo, dir, &entities.Artifact{
		Kind: kind, SessionKey: key, Sequence: seq, State: state, FileName: name, GpsFile: gps,
	}, points)
}

func TestMediaListingGroupsBySession(t *testing.T) {
	dir := t.TempDir()
	repo := newTestRepo(t)
	video, image := constant.ArtifactKindVideo, constant.ArtifactKindImage
	seedState(t, repo, dir, "20240101_120000", 0, video, constant.ArtifactStateUploaded, "uploaded_20240101_120000_chunk000.mp4", "", nil)
	seedState(t, repo, dir, "20240101_120000", 1, video, constant.ArtifactStateUploadFailed, "failed_upload_20240101_120000_chunk001.mp4", "", nil)
	seedState(t, repo, dir, "20240102_090000", 0, video, constant.ArtifactStateConverting, "temp_20240102_090000_chunk000.h264", "", nil)
	seedState(t, repo, dir, "20240101_130000", 0, image, constant.ArtifactStatePendingUpload, "img_20240101_130000.jpg", "", nil)
	seedState(t, repo, dir, "20240101_140000", 0, image, constant.ArtifactStatePendingUpload, "img_20240101_140000.jpg", "", nil)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "img_20240101_130000.jpg"), old, old))

	listing, err := NewMediaLibrary(dir, repo, nil).List(context.Background())
	require.NoError(t, err)

	require.Len(t, listing.Groups, 2)
	assert.Equal(t, "20240102_090000", listing.Groups[0].Base)
	assert.True(t, listing.Groups[0].Chunks[0].Converting)

	first := listing.Groups[1]
	assert.Equal(t, "20240101_120000", first.Base)
	require.Len(t, first.Chunks, 2)
	assert.True(t, first.Chunks[0].Uploaded)
	assert.True(t, first.Chunks[1].Failed)

	require.Len(t, listing.Files, 2)
	assert.Equal(t, "img_20240101_140000.jpg", listing.Files[0].Name)
	assert.Equal(t, constant.ArtifactKindImage, listing.Files[1].Type)
}

func TestTrackKeepsValidSamplesOnly(t *testing.T) {
	dir := t.TempDir()
	repo := newTestRepo(t)
	lib := NewMediaLibrary(dir, repo, nil)
	ctx := context.Background()

	seedState(t, repo, dir, "20240101_120000", 0, constant.ArtifactKindVideo, constant.ArtifactStateUploaded,
		"uploaded_20240101_120000_chunk000.mp4", "uploaded_gps_20240101_120000_chunk000.json", []entities.GpsSample{
			fix("2024-01-01 12:00:00.000000", 0, 0),
			fix("2024-01-01 12:00:05.000000", 3, 4),
			fix("", 5, 6),
			fix("2024-01-01 12:00:10.000000", 7, 8),
		})
	seedState(t, repo, dir, "20240101_130000", 0, constant.ArtifactKindVideo, constant.ArtifactStatePendingUpload,
		"video_20240101_130000_chunk000.mp4", "gps_20240101_130000_chunk000.json", []entities.GpsSample{
			fix("2024-01-01 13:00:00.000000", 0, 0),
		})

	track, err := lib.Track(ctx, "uploaded_20240101_120000_chunk000.mp4")
	require.NoError(t, err)
	require.Len(t, track.Points, 2)
	assert.Equal(t, 3.0, track.Start.Lat)
	assert.Equal(t, 8.0, track.End.Lon)

	_, err = lib.Track(ctx, "video_20240101_130000_chunk000.mp4")
	assert.ErrorIs(t, err, ErrNoGpsData)

	_, err = lib.Track(ctx, "video_20000101_000000_chunk000.mp4")
	assert.ErrorIs(t, err, repository.ErrArtifactNotFound)
}

func TestPathServesIndexedFilesOnly(t *testing.T) {
	dir := t.TempDir()
	repo := newTestRepo(t)
	lib := NewMediaLibrary(dir, repo, nil)
	ctx := context.Background()
	seedState(t, repo, dir, "20240101_120000", 0, constant.ArtifactKindVideo, constant.ArtifactStatePendingUpload,
		"video_20240101_120000_chunk000.mp4", "", nil)

	p, err := lib.Path(ctx, "video_20240101_120000_chunk000.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "video_20240101_120000_chunk000.mp4"), p)

	_, err = lib.Path(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, repository.ErrArtifactNotFound)
}

func TestDeleteRefusesBusyArtifacts(t *testing.T) {
	dir := t.TempDir()
	repo := newTestRepo(t)
	lib := NewMediaLibrary(dir, repo, nil)
	ctx := context.Background()
	video := constant.ArtifactKindVideo
	seedState(t, repo, dir, "20240101_120000", 0, video, constant.ArtifactStateUploaded,
		"uploaded_20240101_120000_chunk000.mp4", "uploaded_gps_20240101_120000_chunk000.json", nil)
	seedState(t, repo, dir, "20240101_120000", 1, video, constant.ArtifactStateConverting,
		"temp_20240101_120000_chunk001.h264", "gps_20240101_120000_chunk001.json", nil)

	err := lib.Delete(ctx, "temp_20240101_120000_chunk001.h264")
	assert.ErrorIs(t, err, ErrArtifactBusy)

	_, err = lib.DeleteSession(ctx, "20240101_120000")
	assert.ErrorIs(t, err, ErrArtifactBusy)
	assert.Len(t, listDir(t, dir), 4)

	require.NoError(t, lib.Delete(ctx, "uploaded_20240101_120000_chunk000.mp4"))
	assert.ElementsMatch(t, []string{"temp_20240101_120000_chunk001.h264", "gps_20240101_120000_chunk001.json"}, listDir(t, dir))
}

func TestDeleteSession(t *testing.T) {
	dir := t.TempDir()
	repo := newTestRepo(t)
	lib := NewMediaLibrary(dir, repo, nil)
	ctx := context.Background()
	video := constant.ArtifactKindVideo
	seedState(t, repo, dir, "20240101_120000", 0, video, constant.ArtifactStateUploaded,
		"uploaded_20240101_120000_chunk000.mp4", "uploaded_gps_20240101_120000_chunk000.json", nil)
	seedState(t, repo, dir, "20240101_120000", 1, video, constant.ArtifactStateIncomplete,
		"incomplete_20240101_120000_chunk001.h264", "incomplete_gps_20240101_120000_chunk001.json", nil)
	seedState(t, repo, dir, "20240101_130000", 0, video, constant.ArtifactStatePendingUpload,
		"video_20240101_130000_chunk000.mp4", "", nil)

	n, err := lib.DeleteSession(ctx, "20240101_120000")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"video_20240101_130000_chunk000.mp4"}, listDir(t, dir))

	_, err = lib.DeleteSession(ctx, "20240101_120000")
	assert.ErrorIs(t, err, repository.ErrArtifactNotFound)
}

func TestFreeStorage(t *testing.T) {
	assert.Greater(t, FreeStorageGB(context.Background(), t.TempDir()), 0.0)
	assert.Equal(t, 0.0, FreeStorageGB(context.Background(), "/definitely/not/here"))
	assert.Equal(t, 1.5, megabytes(3<<19))
}

func TestRenameSessionLabelsVideosOnly(t *testing.T) {
	dir := t.TempDir()
	repo := newTestRepo(t)
	lib := NewMediaLibrary(dir, repo, nil)
	ctx := context.Background()
	video := constant.ArtifactKindVideo
	seedState(t, repo, dir, "20240101_120000", 0, video, constant.ArtifactStateUploaded,
		"uploaded_20240101_120000_chunk000.mp4", "uploaded_gps_20240101_120000_chunk000.json", nil)
	seedState(t, repo, dir, "20240101_120000", 1, video, constant.ArtifactStatePendingUpload,
		"video_20240101_120000_chunk001.mp4", "gps_20240101_120000_chunk001.json", nil)
	seedState(t, repo, dir, "20240101_130000", 0, video, constant.ArtifactStatePendingUpload,
		"video_20240101_130000_chunk000.mp4", "", nil)

	label, n, err := lib.RenameSession(ctx, "20240101_120000", " Morning Ride.mp4 ")
	require.NoError(t, err)
	assert.Equal(t, "Morning_Ride", label)
	assert.Equal(t, 2, n)

	listing, err := lib.List(ctx)
	require.NoError(t, err)
	require.Len(t, listing.Groups, 2)
	assert.Empty(t, listing.Groups[0].Label)
	assert.Equal(t, "Morning_Ride", listing.Groups[1].Label)
	for _, c := range listing.Groups[1].Chunks {
		assert.Equal(t, "Morning_Ride", c.Label)
	}
	assert.ElementsMatch(t, []string{
		"uploaded_20240101_120000_chunk000.mp4", "uploaded_gps_20240101_120000_chunk000.json",
		"video_20240101_120000_chunk001.mp4", "gps_20240101_120000_chunk001.json",
		"video_20240101_130000_chunk000.mp4",
	}, listDir(t, dir))

	_, _, err = lib.RenameSession(ctx, "20240101_120000", ".csv")
	assert.ErrorIs(t, err, ErrInvalidLabel)
	_, _, err = lib.RenameSession(ctx, "20000101_000000", "trip")
	assert.ErrorIs(t, err, repository.ErrArtifactNotFound)
}

func TestNormaliseLabel(t *testing.T) {
	for in, want := range map[string]string{
		"trip":             "trip",
		"  evening  ride ": "evening_ride",
		"dash.json":        "dash",
		"../../etc/passwd": "passwd",
		"track log.csv":    "track_log",
	} {
		got, err := normaliseLabel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "   ", ".mp4", "/"} {
		_, err := normaliseLabel(in)
		assert.ErrorIs(t, err, ErrInvalidLabel, in)
	}
}
