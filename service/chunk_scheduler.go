package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"helmet-recorder/constant"
	"helmet-recorder/dto"
	"helmet-recorder/entities"
	"helmet-recorder/pkg/capture"
	"helmet-recorder/pkg/layout"
	"helmet-recorder/repository"
)

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("not recording")
	ErrSchedulerStopped = errors.New("scheduler is not running")
)

// ChunkScheduler owns the capture device and the open segment. All calls are
// serialised through the loop started by Run.
type ChunkScheduler interface {
	Run(ctx context.Context) error
	StartSession(ctx context.Context) (string, error)
	StopSession(ctx context.Context) (*entities.Session, error)
	Poll(ctx context.Context) error
	CapturePhoto(ctx context.Context) (string, error)
	Status(ctx context.Context) (dto.RecorderStatus, error)
	SetAudio(enabled bool)
	AudioEnabled() bool
}

type SchedulerOptions struct {
	Dir                string
	ChunkSizeBytes     int64
	ChunkCheckInterval time.Duration
	GpsInterval        time.Duration
	AudioEnabled       bool
}

type SchedulerDeps struct {
	Repo       repository.ArtifactRepository
	Device     capture.Device
	Tracker    *GpsTracker
	Sink       *SegmentSink
	Conversion ConversionQueue
	// BeforeSession runs in the background whenever a session starts.
	BeforeSession func(ctx context.Context)
	// OnPhoto receives every stored photo.
	OnPhoto func(ctx context.Context, artifact *entities.Artifact)
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdPoll
	cmdPhoto
	cmdStatus
)

type command struct {
	kind  commandKind
	ctx   context.Context
	reply chan commandResult
	// stop requests only
	stopSeq uint64
}

type commandResult struct {
	session *entities.Session
	name    string
	status  dto.RecorderStatus
	err     error
}

type chunkScheduler struct {
	opts SchedulerOptions
	deps SchedulerDeps

	cmds    chan command
	done    chan struct{}
	running atomic.Bool

	audio atomic.Bool
	// stop requests queued but not yet taken by the loop
	stopWaiters atomic.Int32
	stopSeq     atomic.Uint64

	// loop-owned
	state       constant.SchedulerState
	session     *entities.Session
	handle      *capture.Handle
	pendingStop *entities.Session
	// last stop sequence issued when pendingStop was set
	pendingSeq uint64
	lastKey     time.Time
	lastPhoto   time.Time
}

func NewChunkScheduler(opts SchedulerOptions, deps SchedulerDeps) ChunkScheduler {
	if opts.ChunkCheckInterval <= 0 {
		opts.ChunkCheckInterval = 10 * time.Second
	}
	if opts.GpsInterval <= 0 {
		opts.GpsInterval = 5 * time.Second
	}
	if deps.Sink == nil {
		deps.Sink = NewSegmentSink()
	}
	if deps.Tracker == nil {
		deps.Tracker = NewGpsTracker(opts.GpsInterval)
	}
	s := &chunkScheduler{
		opts:  opts,
		deps:  deps,
		cmds:  make(chan command),
		done:  make(chan struct{}),
		state: constant.SchedulerStateIdle,
	}
	s.audio.Store(opts.AudioEnabled)
	return s
}

// Run processes commands and both tickers until ctx is done. An open session
// is closed and its last segment enqueued before Run returns.
func (s *chunkScheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler already running")
	}
	defer close(s.done)

	sizeTicker := time.NewTicker(s.opts.ChunkCheckInterval)
	defer sizeTicker.Stop()
	gpsTicker := time.NewTicker(s.opts.GpsInterval)
	defer gpsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.state != constant.SchedulerStateIdle {
				shutdownCtx := context.WithoutCancel(ctx)
				if _, err := s.stop(shutdownCtx, 0); err != nil {
					zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close session on shutdown")
				}
			}
			return ctx.Err()
		case cmd := <-s.cmds:
			cmd.reply <- s.dispatch(cmd)
		case <-sizeTicker.C:
			if err := s.poll(ctx); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("size check failed")
			}
		case now := <-gpsTicker.C:
			s.sampleGps(ctx, now)
		}
	}
}

func (s *chunkScheduler) dispatch(cmd command) commandResult {
	switch cmd.kind {
	case cmdStart:
		err := s.start(cmd.ctx)
		if err != nil {
			return commandResult{err: err}
		}
		return commandResult{name: s.session.ID}
	case cmdStop:
		session, err := s.stop(cmd.ctx, cmd.stopSeq)
		return commandResult{session: session, err: err}
	case cmdPoll:
		return commandResult{err: s.poll(cmd.ctx)}
	case cmdPhoto:
		name, err := s.photo(cmd.ctx)
		return commandResult{name: name, err: err}
	case cmdStatus:
		return commandResult{status: s.status(cmd.ctx)}
	default:
		return commandResult{err: fmt.Errorf("unknown command %d", cmd.kind)}
	}
}

func (s *chunkScheduler) send(ctx context.Context, kind commandKind) commandResult {
	return s.deliver(ctx, command{kind: kind})
}

func (s *chunkScheduler) deliver(ctx context.Context, cmd command) commandResult {
	if err := ctx.Err(); err != nil {
		return commandResult{err: err}
	}
	cmd.ctx, cmd.reply = ctx, make(chan commandResult, 1)
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return commandResult{err: ErrSchedulerStopped}
	case <-ctx.Done():
		return commandResult{err: ctx.Err()}
	}
	// the loop always answers an accepted command
	return <-cmd.reply
}

func (s *chunkScheduler) StartSession(ctx context.Context) (string, error) {
	res := s.send(ctx, cmdStart)
	return res.name, res.err
}

// StopSession registers itself as a waiter while queued, so a rollover already
// in progress does not open another segment. A stop that is never delivered
// withdraws and leaves the session recording. Only stops issued before such a
// rollover are handed the session it finished.
func (s *chunkScheduler) StopSession(ctx context.Context) (*entities.Session, error) {
	s.stopWaiters.Add(1)
	seq := s.stopSeq.Add(1)
	res := s.deliver(ctx, command{kind: cmdStop, stopSeq: seq})
	s.stopWaiters.Add(-1)
	return res.session, res.err
}

func (s *chunkScheduler) Poll(ctx context.Context) error {
	return s.send(ctx, cmdPoll).err
}

func (s *chunkScheduler) CapturePhoto(ctx context.Context) (string, error) {
	res := s.send(ctx, cmdPhoto)
	return res.name, res.err
}

func (s *chunkScheduler) Status(ctx context.Context) (dto.RecorderStatus, error) {
	res := s.send(ctx, cmdStatus)
	return res.status, res.err
}

func (s *chunkScheduler) SetAudio(enabled bool) {
	s.audio.Store(enabled)
}

func (s *chunkScheduler) AudioEnabled() bool {
	return s.audio.Load()
}

func (s *chunkScheduler) start(ctx context.Context) error {
	if s.state != constant.SchedulerStateIdle {
		return ErrAlreadyRecording
	}
	s.pendingStop = nil

	if s.deps.BeforeSession != nil {
		go s.deps.BeforeSession(context.WithoutCancel(ctx))
	}

	startedAt := s.nextKey(time.Now(), &s.lastKey)
	session := &entities.Session{
		ID:           layout.SessionKey(startedAt),
		StartedAt:    startedAt,
		AudioEnabled: s.audio.Load(),
	}
	if err := os.MkdirAll(s.opts.Dir, os.ModePerm); err != nil {
		return err
	}
	if err := s.openSegment(ctx, session, 0); err != nil {
		return err
	}

	s.session = session
	s.state = constant.SchedulerStateCapturing
	s.deps.Tracker.Reset()
	s.sampleGps(ctx, time.Now())
	zerolog.Ctx(ctx).Info().Str("session", session.ID).Bool("audio", session.AudioEnabled).Msg("recording started")
	return nil
}

// nextKey returns now truncated to the second, bumped past last so that
// session and photo keys never repeat within a process.
func (s *chunkScheduler) nextKey(now time.Time, last *time.Time) time.Time {
	t := now.Truncate(time.Second)
	if !t.After(*last) {
		t = last.Add(time.Second)
	}
	*last = t
	return t
}

// openSegment registers the segment in the index, writes its empty GPS log
// and starts capture. On failure nothing of the segment is left behind.
func (s *chunkScheduler) openSegment(ctx context.Context, session *entities.Session, sequence int) error {
	video := layout.RawVideo(session.ID, sequence).String()
	gps := layout.GpsLog(session.ID, sequence).String()
	audio := ""
	if session.AudioEnabled {
		audio = layout.RawAudio(session.ID, sequence).String()
	}

	now := time.Now()
	artifact := &entities.Artifact{
		Kind:       constant.ArtifactKindVideo,
		SessionKey: session.ID,
		Sequence:   sequence,
		State:      constant.ArtifactStateCapturing,
		FileName:   video,
		AudioFile:  audio,
		GpsFile:    gps,
		StartedAt:  now,
	}
	if err := s.deps.Repo.Create(ctx, artifact); err != nil {
		return fmt.Errorf("register segment: %w", err)
	}

	segment := entities.Segment{
		SessionID:  session.ID,
		Sequence:   sequence,
		ArtifactID: artifact.ID,
		VideoPath:  filepath.Join(s.opts.Dir, video),
		GpsPath:    filepath.Join(s.opts.Dir, gps),
		StartedAt:  now,
	}
	if audio != "" {
		segment.AudioPath = filepath.Join(s.opts.Dir, audio)
	}

	discard := func() {
		s.deps.Sink.Close()
		_ = os.Remove(segment.GpsPath)
		if err := s.deps.Repo.Delete(ctx, artifact.ID); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("artifact_id", artifact.ID.String()).Msg("failed to drop unopened segment")
		}
	}

	if err := s.deps.Sink.Open(segment); err != nil {
		discard()
		return fmt.Errorf("create gps log: %w", err)
	}

	handle, err := s.deps.Device.Start(ctx, capture.Target{VideoPath: segment.VideoPath, AudioPath: segment.AudioPath})
	if err != nil {
		discard()
		return fmt.Errorf("start capture: %w", err)
	}

	s.handle = handle
	session.Segments = append(session.Segments, segment)
	zerolog.Ctx(ctx).Debug().Str("session", session.ID).Int("sequence", sequence).Msg("segment opened")
	return nil
}

// closeSegment stops capture, stamps the segment and hands it to conversion.
func (s *chunkScheduler) closeSegment(ctx context.Context) {
	if err := s.deps.Device.Stop(ctx, s.handle); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("capture did not stop cleanly")
	}
	s.handle = nil

	segment, ok := s.deps.Sink.Close()
	if !ok {
		return
	}
	ended := time.Now()
	segment.EndedAt = &ended
	s.session.Segments[len(s.session.Segments)-1] = segment

	if err := s.deps.Conversion.Enqueue(ctx, segment); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("sequence", segment.Sequence).Msg("failed to enqueue segment")
	}
	zerolog.Ctx(ctx).Info().
		Str("session", segment.SessionID).
		Int("sequence", segment.Sequence).
		Int64("size", segment.Size).
		Msg("segment closed")
}

func (s *chunkScheduler) finishSession(ctx context.Context) *entities.Session {
	ended := time.Now()
	s.session.EndedAt = &ended
	finished := s.session
	s.session = nil
	s.state = constant.SchedulerStateIdle
	zerolog.Ctx(ctx).Info().Str("session", finished.ID).Int("segments", len(finished.Segments)).Msg("recording stopped")
	return finished
}

func (s *chunkScheduler) stop(ctx context.Context, seq uint64) (*entities.Session, error) {
	if s.state == constant.SchedulerStateIdle {
		// a rollover may already have honoured this stop
		if s.pendingStop == nil || seq > s.pendingSeq {
			return nil, nil
		}
		finished := s.pendingStop
		s.pendingStop = nil
		return finished, nil
	}
	s.state = constant.SchedulerStateStoppingSession
	s.closeSegment(ctx)
	return s.finishSession(ctx), nil
}

func (s *chunkScheduler) poll(ctx context.Context) error {
	if s.state != constant.SchedulerStateCapturing {
		return nil
	}
	if s.deps.Sink.VideoSize() < s.opts.ChunkSizeBytes {
		return nil
	}
	return s.rollover(ctx)
}

func (s *chunkScheduler) rollover(ctx context.Context) error {
	s.state = constant.SchedulerStateStoppingSegment
	next := len(s.session.Segments)
	s.closeSegment(ctx)

	if s.stopWaiters.Load() > 0 {
		s.pendingSeq = s.stopSeq.Load()
		s.pendingStop = s.finishSession(ctx)
		return nil
	}

	if err := s.openSegment(ctx, s.session, next); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("session", s.session.ID).Msg("capture device lost, ending session")
		s.finishSession(ctx)
		return err
	}
	s.state = constant.SchedulerStateCapturing
	return nil
}

func (s *chunkScheduler) sampleGps(ctx context.Context, now time.Time) {
	if s.state != constant.SchedulerStateCapturing {
		return
	}
	if _, err := s.deps.Tracker.SampleIfDue(now, s.deps.Sink); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to persist gps sample")
	}
}

func (s *chunkScheduler) photo(ctx context.Context) (string, error) {
	frame, err := s.deps.Device.Preview(ctx)
	if err != nil {
		return "", err
	}
	if len(frame) == 0 {
		return "", capture.ErrDeviceUnavailable
	}

	at := s.nextKey(time.Now(), &s.lastPhoto)
	key := layout.SessionKey(at)
	name := layout.Photo(key).String()
	if err := os.MkdirAll(s.opts.Dir, os.ModePerm); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.opts.Dir, name), frame, 0o644); err != nil {
		return "", err
	}

	artifact := &entities.Artifact{
		Kind:       constant.ArtifactKindImage,
		SessionKey: key,
		State:      constant.ArtifactStatePendingUpload,
		FileName:   name,
		StartedAt:  at,
		EndedAt:    &at,
	}
	if err := s.deps.Repo.Create(ctx, artifact); err != nil {
		_ = os.Remove(filepath.Join(s.opts.Dir, name))
		return "", err
	}
	zerolog.Ctx(ctx).Info().Str("file", name).Msg("photo captured")
	if s.deps.OnPhoto != nil {
		go s.deps.OnPhoto(context.WithoutCancel(ctx), artifact)
	}
	return name, nil
}

func (s *chunkScheduler) status(ctx context.Context) dto.RecorderStatus {
	st := dto.RecorderStatus{
		Status:        constant.RecorderStatusStandby,
		State:         s.state,
		AudioEnabled:  s.audio.Load(),
		Current:       []dto.SegmentStatus{},
		StorageFreeGB: FreeStorageGB(ctx, s.opts.Dir),
		Gps:           s.deps.Tracker.Current(),
	}
	if s.deps.Conversion != nil {
		st.ConvertingJobs = s.deps.Conversion.Converting()
	}
	if s.session == nil {
		return st
	}

	st.Status = constant.RecorderStatusRecording
	st.IsRecording = true
	st.SessionId = s.session.ID
	st.RecordingTime = int(time.Since(s.session.StartedAt).Seconds())
	if seg, ok := s.deps.Sink.Current(); ok {
		st.Current = append(st.Current, dto.SegmentStatus{
			Name:     layout.Deliverable(seg.SessionID, seg.Sequence).String(),
			Raw:      filepath.Base(seg.VideoPath),
			Sequence: seg.Sequence,
			SizeMB:   megabytes(fileSize(seg.VideoPath)),
			Started:  seg.StartedAt.Format(time.DateTime),
		})
	}
	return st
}
