package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"helmet-recorder/constant"
	"helmet-recorder/dto"
	"helmet-recorder/entities"
	"helmet-recorder/pkg/layout"
)

// Notifier receives every artifact state change.
type Notifier interface {
	Publish(ctx context.Context, event dto.ArtifactEvent) error
}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, dto.ArtifactEvent) error { return nil }

func NewNoopNotifier() Notifier {
	return noopNotifier{}
}

func notify(ctx context.Context, n Notifier, deviceID string, a *entities.Artifact, state constant.ArtifactState, message string) {
	if n == nil {
		return
	}
	event := dto.ArtifactEvent{
		ArtifactId: a.ID,
		DeviceId:   deviceID,
		SessionKey: a.SessionKey,
		Sequence:   a.Sequence,
		FileName:   a.FileName,
		State:      state,
		Message:    message,
		At:         time.Now(),
	}
	if err := n.Publish(ctx, event); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("artifact_id", a.ID.String()).Msg("failed to publish artifact event")
	}
}

// mirrorState renames the artifact's files to the prefixes of state `to` and
// returns the index columns to update alongside the transition. A file that is
// already under its target name counts as renamed, so the call can be repeated
// after a crash.
func mirrorState(dir string, a *entities.Artifact, to constant.ArtifactState) (map[string]any, error) {
	updates := map[string]any{}

	primary, err := renameTo(dir, a.FileName, layout.PrimaryPrefix(a.Kind, to))
	if err != nil {
		return nil, err
	}
	updates["file_name"] = primary

	if a.GpsFile != "" {
		gps, err := renameTo(dir, a.GpsFile, layout.GpsPrefix(to))
		if err != nil {
			return nil, err
		}
		updates["gps_file"] = gps
	}
	if a.AudioFile != "" {
		audio, err := renameTo(dir, a.AudioFile, layout.AudioPrefix(to))
		if err != nil {
			return nil, err
		}
		updates["audio_file"] = audio
	}
	return updates, nil
}

func renameTo(dir, name, prefix string) (string, error) {
	target, err := layout.Rename(name, prefix)
	if err != nil {
		return "", err
	}
	if target == name {
		return name, nil
	}

	src := name
	if !exists(filepath.Join(dir, name)) {
		found, ok := locate(dir, name, target)
		if !ok {
			// never written
			return target, nil
		}
		if found == target {
			return target, nil
		}
		src = found
	}
	if err := os.Rename(filepath.Join(dir, src), filepath.Join(dir, target)); err != nil {
		return "", fmt.Errorf("rename %s: %w", src, err)
	}
	return target, nil
}

// locate finds the file the index calls name when a crash left it under
// another state's prefix. The requested target is checked first.
func locate(dir, name, target string) (string, bool) {
	if exists(filepath.Join(dir, target)) {
		return target, true
	}
	siblings, err := layout.Siblings(name)
	if err != nil {
		return "", false
	}
	for _, candidate := range siblings {
		if exists(filepath.Join(dir, candidate)) {
			return candidate, true
		}
	}
	return "", false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func apply(a *entities.Artifact, state constant.ArtifactState, updates map[string]any) {
	a.State = state
	if v, ok := updates["file_name"].(string); ok {
		a.FileName = v
	}
	if v, ok := updates["gps_file"].(string); ok {
		a.GpsFile = v
	}
	if v, ok := updates["audio_file"].(string); ok {
		a.AudioFile = v
	}
	if v, ok := updates["last_error"].(string); ok {
		a.LastError = v
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
