package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"helmet-recorder/constant"
	"helmet-recorder/dto"
	"helmet-recorder/entities"
	"helmet-recorder/pkg/capture"
	"helmet-recorder/pkg/gpslog"
	"helmet-recorder/repository"
)

func newTestRepo(t *testing.T) repository.ArtifactRepository {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "index.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := repository.NewArtifactRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

type fakeDevice struct {
	failStart atomic.Bool
	starts    atomic.Int32
	stops     atomic.Int32
}

func (d *fakeDevice) Start(ctx context.Context, target capture.Target) (*capture.Handle, error) {
	if d.failStart.Load() {
		return nil, capture.ErrDeviceUnavailable
	}
	if err := os.WriteFile(target.VideoPath, []byte("h264"), 0o644); err != nil {
		return nil, err
	}
	if target.AudioPath != "" {
		if err := os.WriteFile(target.AudioPath, make([]byte, 2048), 0o644); err != nil {
			return nil, err
		}
	}
	d.starts.Add(1)
	return capture.NewHandle(target, target.AudioPath != "", func(context.Context) error {
		d.stops.Add(1)
		return nil
	}), nil
}

func (d *fakeDevice) Stop(ctx context.Context, h *capture.Handle) error {
	if h == nil {
		return nil
	}
	return h.Close(ctx)
}

func (d *fakeDevice) Preview(context.Context) ([]byte, error) {
	return []byte{0xff, 0xd8, 0xff, 0xd9}, nil
}

type fakeTranscoder struct {
	mu    sync.Mutex
	fail  bool
	empty bool
	calls []transcodeCall
}

type transcodeCall struct {
	video, audio, out string
}

func (f *fakeTranscoder) MergeOrRepackage(ctx context.Context, video, audio, out string) error {
	f.mu.Lock()
	f.calls = append(f.calls, transcodeCall{video, audio, out})
	fail, empty := f.fail, f.empty
	f.mu.Unlock()
	if fail {
		return errors.New("ffmpeg exploded")
	}
	if empty {
		return os.WriteFile(out, nil, 0o644)
	}
	return os.WriteFile(out, []byte("mp4"), 0o644)
}

func (f *fakeTranscoder) Calls() []transcodeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transcodeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	states []constant.ArtifactState
}

func (n *recordingNotifier) Publish(_ context.Context, e dto.ArtifactEvent) error {
	n.mu.Lock()
	n.states = append(n.states, e.State)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) States() []constant.ArtifactState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]constant.ArtifactState(nil), n.states...)
}

// seedArtifact writes the artifact's files and index row.
func seedArtifact(t *testing.T, repo repository.ArtifactRepository, dir string, a *entities.Artifact, points []entities.GpsSample) *entities.Artifact {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, a.FileName), []byte("payload"), 0o644))
	if a.GpsFile != "" {
		require.NoError(t, gpslog.Write(filepath.Join(dir, a.GpsFile), points))
	}
	if a.AudioFile != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, a.AudioFile), make([]byte, 10), 0o644))
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)
	}
	require.NoError(t, repo.Create(context.Background(), a))
	return a
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
