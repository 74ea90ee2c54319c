package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MockOptions configure the synthetic device. Zero values pick sane rates.
type MockOptions struct {
	ChunkBytes int
	Interval   time.Duration
}

type mock struct {
	opts MockOptions

	mu     sync.Mutex
	active bool
}

// NewMock returns a Device that appends zero bytes to the target files at a
// fixed rate, for running the pipeline off-device.
func NewMock(opts MockOptions) Device {
	if opts.ChunkBytes <= 0 {
		opts.ChunkBytes = 256 * 1024
	}
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	return &mock{opts: opts}
}

func (m *mock) Start(ctx context.Context, target Target) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return nil, ErrDeviceBusy
	}

	video, err := os.Create(target.VideoPath)
	if err != nil {
		return nil, err
	}
	var audio *os.File
	if target.AudioPath != "" {
		if audio, err = os.Create(target.AudioPath); err != nil {
			video.Close()
			return nil, err
		}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()
		buf := make([]byte, m.opts.ChunkBytes)
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := video.Write(buf); err != nil {
					zerolog.Ctx(ctx).Error().Err(err).Msg("mock capture write failed")
					return
				}
				if audio != nil {
					_, _ = audio.Write(buf[:len(buf)/16])
				}
			}
		}
	}()

	m.active = true
	stop := func(ctx context.Context) error {
		close(done)
		<-finished
		m.mu.Lock()
		m.active = false
		m.mu.Unlock()
		if audio != nil {
			audio.Close()
		}
		return video.Close()
	}
	return NewHandle(target, audio != nil, stop), nil
}

func (m *mock) Stop(ctx context.Context, handle *Handle) error {
	if handle == nil {
		return nil
	}
	return handle.Close(ctx)
}

func (m *mock) Preview(ctx context.Context) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	shade := uint8(time.Now().Second() * 4)
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y * 2), B: shade, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
