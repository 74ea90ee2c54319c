package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"helmet-recorder/constant"
	"helmet-recorder/entities"
	"helmet-recorder/pkg/layout"
	"helmet-recorder/pkg/transcoder"
	"helmet-recorder/repository"
)

var ErrEmptyDeliverable = errors.New("transcoder produced no output")

type ConversionQueue interface {
	Enqueue(ctx context.Context, segment entities.Segment) error
	Converting() []string
	Wait()
}

type ConversionOptions struct {
	Dir           string
	DeviceID      string
	SettleDelay   time.Duration
	MinAudioBytes int64
}

type conversionQueue struct {
	opts        ConversionOptions
	repo        repository.ArtifactRepository
	transcoder  transcoder.Transcoder
	notifier    Notifier
	onConverted func(ctx context.Context, artifact *entities.Artifact)

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// NewConversionQueue returns a queue that converts every enqueued segment in
// its own goroutine. onConverted, when set, receives each new deliverable.
func NewConversionQueue(
	opts ConversionOptions,
	repo repository.ArtifactRepository,
	tc transcoder.Transcoder,
	notifier Notifier,
	onConverted func(ctx context.Context, artifact *entities.Artifact),
) ConversionQueue {
	if notifier == nil {
		notifier = NewNoopNotifier()
	}
	return &conversionQueue{
		opts:        opts,
		repo:        repo,
		transcoder:  tc,
		notifier:    notifier,
		onConverted: onConverted,
		active:      make(map[string]struct{}),
	}
}

func (q *conversionQueue) Enqueue(ctx context.Context, segment entities.Segment) error {
	updates := map[string]any{}
	if segment.EndedAt != nil {
		updates["ended_at"] = *segment.EndedAt
	}
	err := q.repo.Transition(ctx, segment.ArtifactID,
		[]constant.ArtifactState{constant.ArtifactStateCapturing},
		constant.ArtifactStateConverting, updates)
	if err != nil {
		return fmt.Errorf("claim segment %d for conversion: %w", segment.Sequence, err)
	}

	out := layout.Deliverable(segment.SessionID, segment.Sequence).String()
	q.mu.Lock()
	q.active[out] = struct{}{}
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer func() {
			q.mu.Lock()
			delete(q.active, out)
			q.mu.Unlock()
		}()
		q.convert(context.WithoutCancel(ctx), segment, out)
	}()
	return nil
}

func (q *conversionQueue) convert(ctx context.Context, segment entities.Segment, out string) {
	logger := zerolog.Ctx(ctx).With().
		Str("session", segment.SessionID).
		Int("sequence", segment.Sequence).
		Str("file", out).
		Logger()

	if q.opts.SettleDelay > 0 {
		time.Sleep(q.opts.SettleDelay)
	}

	audio := ""
	if segment.AudioPath != "" && fileSize(segment.AudioPath) > q.opts.MinAudioBytes {
		audio = segment.AudioPath
	}

	outPath := filepath.Join(q.opts.Dir, out)
	err := q.transcoder.MergeOrRepackage(ctx, segment.VideoPath, audio, outPath)
	if err == nil && fileSize(outPath) == 0 {
		err = ErrEmptyDeliverable
	}
	if err != nil {
		logger.Error().Err(err).Msg("conversion failed, raw inputs kept")
		_ = os.Remove(outPath)
		q.fail(ctx, segment, err)
		return
	}

	updates := map[string]any{"file_name": out, "audio_file": "", "last_error": ""}
	err = q.repo.Transition(ctx, segment.ArtifactID,
		[]constant.ArtifactState{constant.ArtifactStateConverting},
		constant.ArtifactStatePendingUpload, updates)
	if err != nil {
		logger.Error().Err(err).Msg("failed to record conversion")
		return
	}

	for _, raw := range []string{segment.VideoPath, segment.AudioPath} {
		if raw == "" {
			continue
		}
		if err := os.Remove(raw); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str("raw", filepath.Base(raw)).Msg("failed to remove raw input")
		}
	}
	logger.Info().Bool("audio", audio != "").Msg("conversion finished")

	artifact, err := q.repo.FindByID(ctx, segment.ArtifactID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to reload artifact")
		return
	}
	notify(ctx, q.notifier, q.opts.DeviceID, artifact, constant.ArtifactStatePendingUpload, "")
	if q.onConverted != nil {
		q.onConverted(ctx, artifact)
	}
}

func (q *conversionQueue) fail(ctx context.Context, segment entities.Segment, cause error) {
	err := q.repo.Transition(ctx, segment.ArtifactID,
		[]constant.ArtifactState{constant.ArtifactStateConverting},
		constant.ArtifactStateConversionFailed, map[string]any{"last_error": cause.Error()})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("artifact_id", segment.ArtifactID.String()).Msg("failed to record conversion failure")
		return
	}
	if artifact, err := q.repo.FindByID(ctx, segment.ArtifactID); err == nil {
		notify(ctx, q.notifier, q.opts.DeviceID, artifact, constant.ArtifactStateConversionFailed, cause.Error())
	}
}

// Converting lists the deliverables being produced right now.
func (q *conversionQueue) Converting() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.active))
	for name := range q.active {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (q *conversionQueue) Wait() {
	q.wg.Wait()
}
