package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"helmet-recorder/constant"
	"helmet-recorder/dto"
	"helmet-recorder/entities"
	"helmet-recorder/pkg/gpslog"
	"helmet-recorder/pkg/layout"
	"helmet-recorder/pkg/uploader"
	"helmet-recorder/repository"
)

var (
	ErrUploadInProgress = errors.New("upload already in progress")
	ErrNotUploadable    = errors.New("artifact is not ready for upload")
	ErrRetryInProgress  = errors.New("retry pass already running")
)

var uploadable = []constant.ArtifactState{constant.ArtifactStatePendingUpload, constant.ArtifactStateUploadFailed}

type UploadManager interface {
	Upload(ctx context.Context, name string) (*dto.UploadResult, error)
	UploadArtifact(ctx context.Context, artifact *entities.Artifact) (*dto.UploadResult, error)
	StartUpload(ctx context.Context, name string) (uuid.UUID, error)
	RetryAllFailed(ctx context.Context) (dto.RetryReport, error)
	UploadBatch(ctx context.Context, sessionKey string) ([]dto.UploadResult, error)
	LoadRetryQueue(ctx context.Context) error
	Forget(id uuid.UUID)
	Pending() int
	Statuses() map[uuid.UUID]dto.UploadStatus
}

type UploadOptions struct {
	Dir          string
	DeviceID     string
	RetryDelay   time.Duration
	StatusLinger time.Duration
}

type uploadManager struct {
	opts     UploadOptions
	repo     repository.ArtifactRepository
	uploader uploader.Uploader
	shaper   MetadataShaper
	notifier Notifier
	queue    *RetryQueue
	retrying atomic.Bool

	mu       sync.Mutex
	statuses map[uuid.UUID]dto.UploadStatus
}

func NewUploadManager(
	opts UploadOptions,
	repo repository.ArtifactRepository,
	up uploader.Uploader,
	shaper MetadataShaper,
	notifier Notifier,
) UploadManager {
	if shaper == nil {
		shaper = MetadataShaperFunc(splitFields)
	}
	if notifier == nil {
		notifier = NewNoopNotifier()
	}
	return &uploadManager{
		opts:     opts,
		repo:     repo,
		uploader: up,
		shaper:   shaper,
		notifier: notifier,
		queue:    NewRetryQueue(),
		statuses: make(map[uuid.UUID]dto.UploadStatus),
	}
}

func (m *uploadManager) Upload(ctx context.Context, name string) (*dto.UploadResult, error) {
	artifact, err := m.repo.FindByFileName(ctx, filepath.Base(name))
	if err != nil {
		return nil, err
	}
	return m.UploadArtifact(ctx, artifact)
}

func (m *uploadManager) UploadArtifact(ctx context.Context, artifact *entities.Artifact) (*dto.UploadResult, error) {
	if err := m.claim(ctx, artifact); err != nil {
		return nil, err
	}
	return m.perform(context.WithoutCancel(ctx), artifact), nil
}

// StartUpload claims the artifact and uploads it in the background.
func (m *uploadManager) StartUpload(ctx context.Context, name string) (uuid.UUID, error) {
	artifact, err := m.repo.FindByFileName(ctx, filepath.Base(name))
	if err != nil {
		return uuid.Nil, err
	}
	if err := m.claim(ctx, artifact); err != nil {
		return uuid.Nil, err
	}
	go m.perform(context.WithoutCancel(ctx), artifact)
	return artifact.ID, nil
}

// claim moves the artifact into uploading. Only one caller can win.
func (m *uploadManager) claim(ctx context.Context, artifact *entities.Artifact) error {
	err := m.repo.Transition(ctx, artifact.ID, uploadable, constant.ArtifactStateUploading,
		map[string]any{"attempts": gorm.Expr("attempts + ?", 1)})
	if errors.Is(err, repository.ErrStaleState) {
		current, findErr := m.repo.FindByID(ctx, artifact.ID)
		if findErr == nil && current.State == constant.ArtifactStateUploading {
			return ErrUploadInProgress
		}
		if findErr == nil {
			return fmt.Errorf("%w: %s is %s", ErrNotUploadable, current.FileName, current.State)
		}
		return ErrNotUploadable
	}
	if err != nil {
		return err
	}
	artifact.State = constant.ArtifactStateUploading
	artifact.Attempts++
	m.setStatus(artifact.ID, artifact.FileName, constant.UploadStatusUploading, "Uploading...")
	return nil
}

func (m *uploadManager) perform(ctx context.Context, artifact *entities.Artifact) *dto.UploadResult {
	logger := zerolog.Ctx(ctx).With().Str("artifact_id", artifact.ID.String()).Str("file", artifact.FileName).Logger()

	meta, summary := m.metadata(ctx, artifact)
	req := uploader.Request{
		Path:      filepath.Join(m.opts.Dir, artifact.FileName),
		FileField: "video",
		ObjectKey: path.Join(m.opts.DeviceID, artifact.SessionKey, artifact.FileName),
		Fields:    m.shaper.Fields(meta),
		Sidecar:   summary.Raw,
	}
	req.ContentType = "video/mp4"
	if artifact.Kind == constant.ArtifactKindImage {
		req.FileField = "image"
		req.ContentType = "image/jpeg"
	}

	logger.Info().Int("attempt", artifact.Attempts).Msg("uploading artifact")
	resp, err := m.uploader.Upload(ctx, req)
	result := &dto.UploadResult{ArtifactId: artifact.ID}
	switch {
	case err != nil:
		result.Message = err.Error()
	case !resp.Success:
		result.Message = resp.Message
	default:
		result.Success = true
		result.Message = resp.Message
		result.Link = resp.Link
	}

	if result.Success {
		m.finish(ctx, artifact, constant.ArtifactStateUploaded, "")
		m.queue.Remove(artifact.ID)
		m.setStatus(artifact.ID, artifact.FileName, constant.UploadStatusSuccess, result.Message)
		logger.Info().Str("renamed", artifact.FileName).Msg("upload succeeded")
	} else {
		m.finish(ctx, artifact, constant.ArtifactStateUploadFailed, result.Message)
		m.queue.Push(artifact.ID)
		m.setStatus(artifact.ID, artifact.FileName, constant.UploadStatusFailed, result.Message)
		logger.Warn().Str("reason", result.Message).Msg("upload failed, queued for retry")
	}
	result.FileName = artifact.FileName
	return result
}

// finish mirrors the outcome into the filenames and the index.
func (m *uploadManager) finish(ctx context.Context, artifact *entities.Artifact, to constant.ArtifactState, message string) {
	updates, err := mirrorState(m.opts.Dir, artifact, to)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("artifact_id", artifact.ID.String()).Msg("failed to rename artifact files")
		updates = map[string]any{}
	}
	updates["last_error"] = message

	err = m.repo.Transition(ctx, artifact.ID, []constant.ArtifactState{constant.ArtifactStateUploading}, to, updates)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("artifact_id", artifact.ID.String()).Msg("failed to record upload outcome")
		return
	}
	apply(artifact, to, updates)
	notify(ctx, m.notifier, m.opts.DeviceID, artifact, to, message)
}

// metadata derives times and locations. Later sources win: the session key,
// then the segment times in the index, then the first and last GPS fix.
func (m *uploadManager) metadata(ctx context.Context, artifact *entities.Artifact) (dto.UploadMetadata, gpslog.Summary) {
	meta := dto.UploadMetadata{DeviceId: m.opts.DeviceID, FileType: artifact.Kind}

	now := time.Now()
	meta.StartTime, meta.EndTime = now, now
	if ts, err := layout.ParseTimestamp(layout.ExtractTimestamp(artifact.FileName)); err == nil {
		meta.StartTime, meta.EndTime = ts, ts
	}
	if !artifact.StartedAt.IsZero() {
		meta.StartTime = artifact.StartedAt
	}
	if artifact.EndedAt != nil {
		meta.EndTime = *artifact.EndedAt
	}

	var summary gpslog.Summary
	if artifact.GpsFile != "" {
		s, err := gpslog.Summarize(filepath.Join(m.opts.Dir, artifact.GpsFile))
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("file", artifact.GpsFile).Msg("unreadable gps log, uploading without location")
		}
		summary = s
	}
	if summary.StartTime != nil {
		meta.StartTime = *summary.StartTime
	}
	if summary.EndTime != nil {
		meta.EndTime = *summary.EndTime
	}
	meta.StartLocation = summary.StartLocation
	meta.EndLocation = summary.EndLocation
	meta.GpsJSON = string(summary.Raw)
	return meta, summary
}

// RetryAllFailed drains a snapshot of the retry queue, one upload at a time.
// Artifacts that fail again are pushed back for the next pass.
func (m *uploadManager) RetryAllFailed(ctx context.Context) (dto.RetryReport, error) {
	var report dto.RetryReport
	if !m.retrying.CompareAndSwap(false, true) {
		return report, ErrRetryInProgress
	}
	defer m.retrying.Store(false)

	ids := m.queue.Snapshot()
	if len(ids) == 0 {
		return report, nil
	}
	zerolog.Ctx(ctx).Info().Int("count", len(ids)).Msg("retrying failed uploads")

	for i, id := range ids {
		if i > 0 && m.opts.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(m.opts.RetryDelay):
			}
		}

		artifact, err := m.repo.FindByID(ctx, id)
		if errors.Is(err, repository.ErrArtifactNotFound) {
			m.queue.Remove(id)
			continue
		}
		if err != nil {
			return report, err
		}
		if artifact.State != constant.ArtifactStateUploadFailed {
			m.queue.Remove(id)
			continue
		}

		m.queue.Remove(id)
		report.Attempted++
		result, err := m.UploadArtifact(ctx, artifact)
		switch {
		case err != nil:
			m.queue.Push(id)
			report.Failed++
			zerolog.Ctx(ctx).Warn().Err(err).Str("artifact_id", id.String()).Msg("retry skipped")
		case result.Success:
			report.Succeeded++
		default:
			report.Failed++
		}
	}

	zerolog.Ctx(ctx).Info().
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Msg("retry pass finished")
	return report, nil
}

// UploadBatch uploads every ready video of a session in order. One failure
// does not stop the rest.
func (m *uploadManager) UploadBatch(ctx context.Context, sessionKey string) ([]dto.UploadResult, error) {
	artifacts, err := m.repo.ListBySession(ctx, sessionKey)
	if err != nil {
		return nil, err
	}

	var results []dto.UploadResult
	for _, a := range artifacts {
		if a.Kind != constant.ArtifactKindVideo {
			continue
		}
		if a.State != constant.ArtifactStatePendingUpload && a.State != constant.ArtifactStateUploadFailed {
			continue
		}
		result, err := m.UploadArtifact(ctx, a)
		if err != nil {
			results = append(results, dto.UploadResult{ArtifactId: a.ID, FileName: a.FileName, Message: err.Error()})
			continue
		}
		results = append(results, *result)
	}
	return results, nil
}

// LoadRetryQueue seeds the queue from the index, oldest session first.
func (m *uploadManager) LoadRetryQueue(ctx context.Context) error {
	failed, err := m.repo.ListByState(ctx, constant.ArtifactStateUploadFailed)
	if err != nil {
		return err
	}
	for _, a := range failed {
		m.queue.Push(a.ID)
	}
	return nil
}

// Forget drops every trace of a deleted artifact.
func (m *uploadManager) Forget(id uuid.UUID) {
	m.queue.Remove(id)
	m.mu.Lock()
	delete(m.statuses, id)
	m.mu.Unlock()
}

func (m *uploadManager) Pending() int {
	return m.queue.Len()
}

func (m *uploadManager) Statuses() map[uuid.UUID]dto.UploadStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]dto.UploadStatus, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = v
	}
	return out
}

// setStatus records the live status. Final states are dropped after the
// linger delay unless a newer status replaced them.
func (m *uploadManager) setStatus(id uuid.UUID, name string, status constant.UploadStatus, message string) {
	st := dto.UploadStatus{FileName: name, Status: status, Message: message, UpdatedAt: time.Now()}
	m.mu.Lock()
	m.statuses[id] = st
	m.mu.Unlock()

	if status == constant.UploadStatusUploading {
		return
	}
	time.AfterFunc(m.opts.StatusLinger, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.statuses[id]; ok && cur.UpdatedAt.Equal(st.UpdatedAt) {
			delete(m.statuses, id)
		}
	})
}
