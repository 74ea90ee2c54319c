package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"helmet-recorder/constant"
	"helmet-recorder/dto"
	"helmet-recorder/entities"
	"helmet-recorder/pkg/gpslog"
	"helmet-recorder/repository"
)

var (
	ErrArtifactBusy = errors.New("artifact is being captured, converted or uploaded")
	ErrNoGpsData    = errors.New("no valid gps data")
	ErrInvalidLabel = errors.New("label is empty")
)

// MediaLibrary is the read and housekeeping side of the recording directory.
type MediaLibrary interface {
	List(ctx context.Context) (dto.MediaListing, error)
	Track(ctx context.Context, name string) (dto.GpsTrack, error)
	Path(ctx context.Context, name string) (string, error)
	Delete(ctx context.Context, name string) error
	DeleteSession(ctx context.Context, sessionKey string) (int, error)
	Rename(ctx context.Context, name, label string) (string, error)
	RenameSession(ctx context.Context, sessionKey, label string) (string, int, error)
}

type mediaLibrary struct {
	dir     string
	repo    repository.ArtifactRepository
	uploads UploadManager
}

func NewMediaLibrary(dir string, repo repository.ArtifactRepository, uploads UploadManager) MediaLibrary {
	return &mediaLibrary{dir: dir, repo: repo, uploads: uploads}
}

// List returns the artifacts grouped by session key, newest session first.
// Videos are grouped; photos are listed on their own.
func (l *mediaLibrary) List(ctx context.Context) (dto.MediaListing, error) {
	listing := dto.MediaListing{Groups: []dto.MediaGroup{}, Files: []dto.MediaFile{}}
	artifacts, err := l.repo.List(ctx)
	if err != nil {
		return listing, err
	}

	var statuses map[uuid.UUID]dto.UploadStatus
	if l.uploads != nil {
		statuses = l.uploads.Statuses()
	}

	groups := map[string]*dto.MediaGroup{}
	var order []string
	for _, a := range artifacts {
		file := l.describe(a)
		if st, ok := statuses[a.ID]; ok {
			file.UploadStatus = &st
		}

		if a.Kind == constant.ArtifactKindImage {
			listing.Files = append(listing.Files, file)
			continue
		}
		g, ok := groups[a.SessionKey]
		if !ok {
			g = &dto.MediaGroup{Base: a.SessionKey, Timestamp: a.SessionKey}
			groups[a.SessionKey] = g
			order = append(order, a.SessionKey)
		}
		if g.Label == "" {
			g.Label = a.Label
		}
		g.Chunks = append(g.Chunks, file)
		g.TotalSize = round2(g.TotalSize + file.SizeMB)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(order)))
	for _, key := range order {
		listing.Groups = append(listing.Groups, *groups[key])
	}
	sort.Slice(listing.Files, func(i, j int) bool {
		return listing.Files[i].LastModified.After(listing.Files[j].LastModified)
	})
	return listing, nil
}

func (l *mediaLibrary) describe(a *entities.Artifact) dto.MediaFile {
	file := dto.MediaFile{
		Name:       a.FileName,
		Label:      a.Label,
		Type:       a.Kind,
		State:      a.State,
		Failed:     a.State == constant.ArtifactStateUploadFailed || a.State == constant.ArtifactStateConversionFailed,
		Converting: a.State == constant.ArtifactStateConverting,
		Incomplete: a.State == constant.ArtifactStateIncomplete,
		Uploaded:   a.State == constant.ArtifactStateUploaded,
	}
	if info, err := os.Stat(filepath.Join(l.dir, a.FileName)); err == nil {
		file.SizeMB = megabytes(info.Size())
		file.LastModified = info.ModTime()
	}
	return file
}

// Track returns the valid GPS samples logged for an artifact.
func (l *mediaLibrary) Track(ctx context.Context, name string) (dto.GpsTrack, error) {
	var track dto.GpsTrack
	a, err := l.repo.FindByFileName(ctx, filepath.Base(name))
	if err != nil {
		return track, err
	}
	if a.GpsFile == "" {
		return track, ErrNoGpsData
	}

	points, _, err := gpslog.Read(filepath.Join(l.dir, a.GpsFile))
	if errors.Is(err, os.ErrNotExist) {
		return track, ErrNoGpsData
	}
	if err != nil {
		return track, err
	}
	track.Points = gpslog.Valid(points)
	if len(track.Points) == 0 {
		return track, ErrNoGpsData
	}
	track.Start = &track.Points[0]
	track.End = &track.Points[len(track.Points)-1]
	return track, nil
}

// Path resolves an indexed file to its location on disk. Only names the index
// knows are served, so nothing outside the recording dir can be reached.
func (l *mediaLibrary) Path(ctx context.Context, name string) (string, error) {
	a, err := l.repo.FindByFileName(ctx, filepath.Base(name))
	if err != nil {
		return "", err
	}
	p := filepath.Join(l.dir, a.FileName)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %s", repository.ErrArtifactNotFound, a.FileName)
	}
	return p, nil
}

func (l *mediaLibrary) Delete(ctx context.Context, name string) error {
	a, err := l.repo.FindByFileName(ctx, filepath.Base(name))
	if err != nil {
		return err
	}
	return l.remove(ctx, a)
}

// DeleteSession removes every artifact of a session. Nothing is removed when
// any of them is still in flight.
func (l *mediaLibrary) DeleteSession(ctx context.Context, sessionKey string) (int, error) {
	artifacts, err := l.repo.ListBySession(ctx, sessionKey)
	if err != nil {
		return 0, err
	}
	if len(artifacts) == 0 {
		return 0, repository.ErrArtifactNotFound
	}
	for _, a := range artifacts {
		if busy(a.State) {
			return 0, fmt.Errorf("%w: %s", ErrArtifactBusy, a.FileName)
		}
	}

	var errs []error
	deleted := 0
	for _, a := range artifacts {
		if err := l.remove(ctx, a); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

func (l *mediaLibrary) remove(ctx context.Context, a *entities.Artifact) error {
	if busy(a.State) {
		return fmt.Errorf("%w: %s", ErrArtifactBusy, a.FileName)
	}
	for _, name := range []string{a.FileName, a.GpsFile, a.AudioFile} {
		if name == "" {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if l.uploads != nil {
		l.uploads.Forget(a.ID)
	}
	if err := l.repo.Delete(ctx, a.ID); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("file", a.FileName).Str("state", a.State.String()).Msg("artifact deleted")
	return nil
}

// Rename sets the display label of one artifact. Files keep their names, so
// the timestamp key that joins video, gps and audio stays intact.
func (l *mediaLibrary) Rename(ctx context.Context, name, label string) (string, error) {
	label, err := normaliseLabel(label)
	if err != nil {
		return "", err
	}
	a, err := l.repo.FindByFileName(ctx, filepath.Base(name))
	if err != nil {
		return "", err
	}
	if err := l.repo.SetLabel(ctx, a.ID, label); err != nil {
		return "", err
	}
	zerolog.Ctx(ctx).Info().Str("file", a.FileName).Str("label", label).Msg("artifact renamed")
	return label, nil
}

// RenameSession labels every video of a session.
func (l *mediaLibrary) RenameSession(ctx context.Context, sessionKey, label string) (string, int, error) {
	label, err := normaliseLabel(label)
	if err != nil {
		return "", 0, err
	}
	n, err := l.repo.SetSessionLabel(ctx, sessionKey, label)
	if err != nil {
		return "", 0, err
	}
	zerolog.Ctx(ctx).Info().Str("session", sessionKey).Str("label", label).Int64("chunks", n).Msg("session renamed")
	return label, int(n), nil
}

// normaliseLabel trims, drops media extensions and replaces spaces.
func normaliseLabel(label string) (string, error) {
	label = filepath.Base(strings.TrimSpace(label))
	for _, ext := range []string{".mp4", ".h264", ".json", ".csv", ".jpg"} {
		label = strings.TrimSuffix(label, ext)
	}
	label = strings.Join(strings.Fields(label), "_")
	if label == "" || label == "." || label == string(filepath.Separator) {
		return "", ErrInvalidLabel
	}
	return label, nil
}

func busy(state constant.ArtifactState) bool {
	switch state {
	case constant.ArtifactStateCapturing, constant.ArtifactStateConverting, constant.ArtifactStateUploading:
		return true
	}
	return false
}
