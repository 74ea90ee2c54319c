package capture

import (
	"bytes"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGrowsAndStops(t *testing.T) {
	dir := t.TempDir()
	dev := NewMock(MockOptions{ChunkBytes: 1024, Interval: 5 * time.Millisecond})
	target := Target{
		VideoPath: filepath.Join(dir, "temp.h264"),
		AudioPath: filepath.Join(dir, "audio.wav"),
	}

	h, err := dev.Start(t.Context(), target)
	require.NoError(t, err)
	assert.True(t, h.AudioActive)

	_, err = dev.Start(t.Context(), target)
	assert.ErrorIs(t, err, ErrDeviceBusy)

	require.Eventually(t, func() bool {
		info, err := os.Stat(target.VideoPath)
		return err == nil && info.Size() >= 4096
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, dev.Stop(t.Context(), h))
	require.NoError(t, dev.Stop(t.Context(), h))

	info, err := os.Stat(target.VideoPath)
	require.NoError(t, err)
	size := info.Size()
	time.Sleep(20 * time.Millisecond)
	info, err = os.Stat(target.VideoPath)
	require.NoError(t, err)
	assert.Equal(t, size, info.Size())

	h, err = dev.Start(t.Context(), Target{VideoPath: filepath.Join(dir, "next.h264")})
	require.NoError(t, err)
	assert.False(t, h.AudioActive)
	require.NoError(t, h.Close(t.Context()))
}

func TestMockPreviewIsJPEG(t *testing.T) {
	raw, err := NewMock(MockOptions{}).Preview(t.Context())
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 160, img.Bounds().Dx())
}

func TestCardNumber(t *testing.T) {
	card, ok := cardNumber("hw:3,0")
	assert.True(t, ok)
	assert.Equal(t, "3", card)

	_, ok = cardNumber("default")
	assert.False(t, ok)
}
