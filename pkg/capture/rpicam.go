package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	stopGrace    = 5 * time.Second
	startupGrace = time.Second
	stderrTail   = 2048
)

type RpicamOptions struct {
	Width       int
	Height      int
	FPS         int
	Bitrate     int
	AudioDevice string
	// VideoBinary defaults to rpicam-vid.
	VideoBinary string
	// StartupGrace is how long rpicam-vid must stay up before a start counts.
	StartupGrace time.Duration
}

type rpicam struct {
	opts RpicamOptions

	mu     sync.Mutex
	active bool
}

// NewRpicam returns a Device backed by the rpicam-vid, rpicam-still and
// arecord command line tools.
func NewRpicam(opts RpicamOptions) Device {
	if opts.VideoBinary == "" {
		opts.VideoBinary = "rpicam-vid"
	}
	if opts.StartupGrace <= 0 {
		opts.StartupGrace = startupGrace
	}
	return &rpicam{opts: opts}
}

func (r *rpicam) Start(ctx context.Context, target Target) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil, ErrDeviceBusy
	}

	args := []string{
		"-t", "0",
		"-n",
		"--width", strconv.Itoa(r.opts.Width),
		"--height", strconv.Itoa(r.opts.Height),
		"--framerate", strconv.Itoa(r.opts.FPS),
		"-b", strconv.Itoa(r.opts.Bitrate),
		"--codec", "h264",
		"--hflip", "--vflip",
		"-o", target.VideoPath,
	}
	video, err := startProcess(exec.Command(r.opts.VideoBinary, args...))
	if err != nil {
		return nil, errors.Join(ErrDeviceUnavailable, err)
	}
	zerolog.Ctx(ctx).Debug().Str("cmd", r.opts.VideoBinary+" "+strings.Join(args, " ")).Msg("video capture started")

	var audio *process
	if target.AudioPath != "" {
		audio = r.startAudio(ctx, target.AudioPath)
	}

	// a missing or claimed camera makes rpicam-vid exit right away
	select {
	case err := <-video.done:
		if audio != nil {
			_ = audio.interrupt()
		}
		return nil, errors.Join(ErrDeviceUnavailable, video.exitError(err))
	case <-time.After(r.opts.StartupGrace):
	}

	r.active = true
	stop := func(ctx context.Context) error {
		defer func() {
			r.mu.Lock()
			r.active = false
			r.mu.Unlock()
		}()
		var errs []error
		if audio != nil {
			if err := audio.interrupt(); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("audio capture did not exit cleanly")
			}
		}
		if err := video.interrupt(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", r.opts.VideoBinary, err))
		}
		return errors.Join(errs...)
	}
	return NewHandle(target, audio != nil, stop), nil
}

func (r *rpicam) Stop(ctx context.Context, handle *Handle) error {
	if handle == nil {
		return nil
	}
	return handle.Close(ctx)
}

// Preview grabs a single still. The camera cannot be shared with a running
// rpicam-vid, so it fails with ErrDeviceBusy while recording.
func (r *rpicam) Preview(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	busy := r.active
	r.mu.Unlock()
	if busy {
		return nil, ErrDeviceBusy
	}

	cmd := exec.CommandContext(ctx, "rpicam-still", "-n", "-t", "1",
		"--width", "640", "--height", "480",
		"--hflip", "--vflip", "-e", "jpg", "-o", "-")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, errors.Join(ErrDeviceUnavailable, err)
	}
	return out.Bytes(), nil
}

// startAudio returns nil when the microphone is missing; audio is optional.
func (r *rpicam) startAudio(ctx context.Context, path string) *process {
	if !r.microphonePresent(ctx) {
		zerolog.Ctx(ctx).Warn().Str("device", r.opts.AudioDevice).Msg("USB microphone not found, recording without audio")
		return nil
	}
	p, err := startProcess(exec.Command("arecord", "-D", r.opts.AudioDevice, "-f", "S16_LE", "-c", "1", "-r", "44100", path))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to start arecord")
		return nil
	}
	return p
}

func (r *rpicam) microphonePresent(ctx context.Context) bool {
	out, err := exec.CommandContext(ctx, "arecord", "-l").Output()
	if err != nil {
		return false
	}
	card, ok := cardNumber(r.opts.AudioDevice)
	if !ok {
		return false
	}
	return strings.Contains(string(out), "card "+card)
}

// cardNumber extracts "3" from an ALSA name like "hw:3,0".
func cardNumber(device string) (string, bool) {
	_, rest, ok := strings.Cut(device, ":")
	if !ok {
		return "", false
	}
	card, _, _ := strings.Cut(rest, ",")
	if card == "" {
		return "", false
	}
	return card, true
}

// process is a started command whose single Wait runs in the background.
type process struct {
	cmd    *exec.Cmd
	stderr *tailWriter
	done   chan error
	// set once done has been drained
	exited bool
}

func startProcess(cmd *exec.Cmd) (*process, error) {
	p := &process{cmd: cmd, stderr: &tailWriter{max: stderrTail}, done: make(chan error, 1)}
	cmd.Stderr = p.stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() { p.done <- cmd.Wait() }()
	return p, nil
}

// exitError records an early exit and describes it with the stderr tail.
func (p *process) exitError(err error) error {
	p.exited = true
	msg := strings.TrimSpace(p.stderr.String())
	if err == nil {
		err = errors.New("exited during startup")
	}
	if msg == "" {
		return fmt.Errorf("%s: %w", filepath.Base(p.cmd.Path), err)
	}
	return fmt.Errorf("%s: %w: %s", filepath.Base(p.cmd.Path), err, msg)
}

// interrupt sends SIGINT so the tool flushes its output, then kills it if it
// has not exited within stopGrace.
func (p *process) interrupt() error {
	if p.exited {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	select {
	case err := <-p.done:
		p.exited = true
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// SIGINT exits are expected
			return nil
		}
		return err
	case <-time.After(stopGrace):
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		<-p.done
		p.exited = true
		return fmt.Errorf("killed after %s", stopGrace)
	}
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (w *tailWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, b...)
	if over := len(w.buf) - w.max; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
	}
	return len(b), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}
