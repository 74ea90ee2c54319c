package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"helmet-recorder/constant"
	"helmet-recorder/dto"
	"helmet-recorder/entities"
	"helmet-recorder/pkg/layout"
	"helmet-recorder/repository"
)

// RecoveryScan puts the recording directory back into a consistent state
// after an unclean stop. It must finish before capture or uploads start.
type RecoveryScan interface {
	Run(ctx context.Context) (dto.RecoveryReport, error)
}

type recoveryScan struct {
	dir      string
	deviceID string
	repo     repository.ArtifactRepository
	uploads  UploadManager
	notifier Notifier
}

func NewRecoveryScan(dir, deviceID string, repo repository.ArtifactRepository, uploads UploadManager, notifier Notifier) RecoveryScan {
	if notifier == nil {
		notifier = NewNoopNotifier()
	}
	return &recoveryScan{dir: dir, deviceID: deviceID, repo: repo, uploads: uploads, notifier: notifier}
}

func (r *recoveryScan) Run(ctx context.Context) (dto.RecoveryReport, error) {
	var report dto.RecoveryReport
	if err := os.MkdirAll(r.dir, os.ModePerm); err != nil {
		return report, err
	}

	interrupted, err := r.repo.ListByState(ctx, constant.ArtifactStateCapturing, constant.ArtifactStateConverting)
	if err != nil {
		return report, err
	}
	for _, a := range interrupted {
		if err := r.quarantine(ctx, a); err != nil {
			return report, err
		}
		report.Incomplete = append(report.Incomplete, a.FileName)
	}

	stuck, err := r.repo.ListByState(ctx, constant.ArtifactStateUploading)
	if err != nil {
		return report, err
	}
	for _, a := range stuck {
		to, err := r.requeue(ctx, a)
		if err != nil {
			return report, err
		}
		if to == constant.ArtifactStateUploaded {
			report.Reconciled = append(report.Reconciled, a.FileName)
			continue
		}
		report.RequeuedFails = append(report.RequeuedFails, a.FileName)
	}

	adopted, err := r.adoptOrphans(ctx)
	if err != nil {
		return report, err
	}
	report.Adopted = adopted

	if r.uploads != nil {
		if err := r.uploads.LoadRetryQueue(ctx); err != nil {
			return report, err
		}
	}

	if !report.Empty() {
		zerolog.Ctx(ctx).Info().
			Strs("incomplete", report.Incomplete).
			Strs("requeued", report.RequeuedFails).
			Strs("adopted", report.Adopted).
			Strs("reconciled", report.Reconciled).
			Msg("recovery finished")
	}
	return report, nil
}

// quarantine marks a segment cut short by the crash. Raw inputs are the
// source of truth, so a half-written deliverable is dropped.
func (r *recoveryScan) quarantine(ctx context.Context, a *entities.Artifact) error {
	if a.State == constant.ArtifactStateConverting {
		partial := layout.Deliverable(a.SessionKey, a.Sequence).String()
		if err := os.Remove(filepath.Join(r.dir, partial)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	updates, err := mirrorState(r.dir, a, constant.ArtifactStateIncomplete)
	if err != nil {
		return err
	}
	updates["last_error"] = fmt.Sprintf("interrupted while %s", a.State)
	from := a.State
	if err := r.repo.Transition(ctx, a.ID, []constant.ArtifactState{from}, constant.ArtifactStateIncomplete, updates); err != nil {
		return err
	}
	apply(a, constant.ArtifactStateIncomplete, updates)
	notify(ctx, r.notifier, r.deviceID, a, constant.ArtifactStateIncomplete, a.LastError)
	zerolog.Ctx(ctx).Warn().Str("file", a.FileName).Str("was", from.String()).Msg("quarantined interrupted segment")
	return nil
}

// requeue parks an upload cut short by the crash for retry. When the success
// rename reached the disk but the index update did not, the upload is
// recorded as done instead.
func (r *recoveryScan) requeue(ctx context.Context, a *entities.Artifact) (constant.ArtifactState, error) {
	to, message := constant.ArtifactStateUploadFailed, "interrupted while uploading"
	if r.uploadedOnDisk(a) {
		to, message = constant.ArtifactStateUploaded, ""
	}

	updates, err := mirrorState(r.dir, a, to)
	if err != nil {
		return to, err
	}
	updates["last_error"] = message
	err = r.repo.Transition(ctx, a.ID, []constant.ArtifactState{constant.ArtifactStateUploading}, to, updates)
	if err != nil {
		return to, err
	}
	apply(a, to, updates)
	notify(ctx, r.notifier, r.deviceID, a, to, message)
	return to, nil
}

func (r *recoveryScan) uploadedOnDisk(a *entities.Artifact) bool {
	if exists(filepath.Join(r.dir, a.FileName)) {
		return false
	}
	name, err := layout.Rename(a.FileName, layout.PrimaryPrefix(a.Kind, constant.ArtifactStateUploaded))
	if err != nil {
		return false
	}
	return exists(filepath.Join(r.dir, name))
}

// adoptOrphans handles raw captures the index does not know. A raw file whose
// segment already has a row is a leftover of a finished conversion and is
// removed; anything else becomes a new incomplete artifact.
func (r *recoveryScan) adoptOrphans(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	all, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(all)*2)
	segments := make(map[string]struct{}, len(all))
	for _, a := range all {
		known[a.FileName] = struct{}{}
		if a.AudioFile != "" {
			known[a.AudioFile] = struct{}{}
		}
		if a.Kind == constant.ArtifactKindVideo {
			segments[segmentKey(a.SessionKey, a.Sequence)] = struct{}{}
		}
	}

	var adopted []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), layout.PrefixRaw) {
			continue
		}
		if _, ok := known[e.Name()]; ok {
			continue
		}
		n, err := layout.Parse(e.Name())
		if err != nil || n.Prefix != layout.PrefixRaw || !n.HasChunk() {
			continue
		}

		audio := layout.RawAudio(n.Key, n.Chunk).String()
		if _, ok := segments[segmentKey(n.Key, n.Chunk)]; ok {
			zerolog.Ctx(ctx).Info().Str("file", e.Name()).Msg("removing leftover raw capture")
			_ = os.Remove(filepath.Join(r.dir, e.Name()))
			_ = os.Remove(filepath.Join(r.dir, audio))
			continue
		}

		a := &entities.Artifact{
			Kind:       constant.ArtifactKindVideo,
			SessionKey: n.Key,
			Sequence:   n.Chunk,
			State:      constant.ArtifactStateCapturing,
			FileName:   e.Name(),
			GpsFile:    layout.GpsLog(n.Key, n.Chunk).String(),
		}
		if _, err := os.Stat(filepath.Join(r.dir, audio)); err == nil {
			a.AudioFile = audio
		}
		if ts, err := layout.ParseTimestamp(n.Key); err == nil {
			a.StartedAt = ts
		}
		if err := r.repo.Create(ctx, a); err != nil {
			return adopted, err
		}
		if err := r.quarantine(ctx, a); err != nil {
			return adopted, err
		}
		adopted = append(adopted, a.FileName)
	}
	return adopted, nil
}

func segmentKey(sessionKey string, sequence int) string {
	return fmt.Sprintf("%s/%03d", sessionKey, sequence)
}
