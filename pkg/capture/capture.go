// Package capture drives the camera and microphone.
package capture

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrDeviceBusy        = errors.New("capture device busy")
)

// Target names the files one capture run writes. AudioPath is empty when
// audio is not wanted.
type Target struct {
	VideoPath string
	AudioPath string
}

// Handle is a running capture. AudioActive is false when audio was requested
// but no microphone could be opened; the video still records.
type Handle struct {
	Target      Target
	AudioActive bool

	once    sync.Once
	stop    func(ctx context.Context) error
	stopErr error
}

func NewHandle(target Target, audioActive bool, stop func(ctx context.Context) error) *Handle {
	return &Handle{Target: target, AudioActive: audioActive, stop: stop}
}

// Close stops the capture once; later calls return the first result.
func (h *Handle) Close(ctx context.Context) error {
	h.once.Do(func() {
		if h.stop != nil {
			h.stopErr = h.stop(ctx)
		}
	})
	return h.stopErr
}

type Device interface {
	Start(ctx context.Context, target Target) (*Handle, error)
	Stop(ctx context.Context, handle *Handle) error
	Preview(ctx context.Context) ([]byte, error)
}
