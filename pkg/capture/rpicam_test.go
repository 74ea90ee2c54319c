package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCamera writes an executable shell script standing in for rpicam-vid.
func fakeCamera(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rpicam-vid")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestRpicamStartFailsWhenCameraExitsEarly(t *testing.T) {
	bin := fakeCamera(t, "echo 'ERROR: no cameras available' >&2\nexit 1")
	dev := NewRpicam(RpicamOptions{VideoBinary: bin, StartupGrace: 2 * time.Second})
	target := Target{VideoPath: filepath.Join(t.TempDir(), "temp_20240101_120000_chunk000.h264")}

	start := time.Now()
	h, err := dev.Start(context.Background(), target)
	assert.Nil(t, h)
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Contains(t, err.Error(), "no cameras available")
	assert.Less(t, time.Since(start), 2*time.Second)

	// the device is free again
	_, err = dev.Start(context.Background(), target)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.NotErrorIs(t, err, ErrDeviceBusy)
}

func TestRpicamStartSucceedsWhenCameraStaysUp(t *testing.T) {
	bin := fakeCamera(t, "exec sleep 30")
	dev := NewRpicam(RpicamOptions{VideoBinary: bin, StartupGrace: 100 * time.Millisecond})
	target := Target{VideoPath: filepath.Join(t.TempDir(), "temp_20240101_120000_chunk000.h264")}
	ctx := context.Background()

	h, err := dev.Start(ctx, target)
	require.NoError(t, err)
	assert.False(t, h.AudioActive)

	_, err = dev.Start(ctx, target)
	assert.ErrorIs(t, err, ErrDeviceBusy)

	require.NoError(t, dev.Stop(ctx, h))
	require.NoError(t, dev.Stop(ctx, h))

	h, err = dev.Start(ctx, target)
	require.NoError(t, err)
	require.NoError(t, dev.Stop(ctx, h))
}

func TestTailWriterKeepsEnd(t *testing.T) {
	w := &tailWriter{max: 4}
	_, _ = w.Write([]byte("abc"))
	_, _ = w.Write([]byte("defg"))
	assert.Equal(t, "defg", w.String())
}
