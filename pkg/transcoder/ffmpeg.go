package transcoder

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Transcoder turns a raw capture into an MP4 deliverable. audio is empty when
// there is no usable audio track; the video stream is copied, not re-encoded.
type Transcoder interface {
	MergeOrRepackage(ctx context.Context, video, audio, out string) error
}

type ffmpeg struct {
	binary string
	fps    int
	nice   bool
}

func NewFFmpeg(binary string, fps int, nice bool) Transcoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	if fps <= 0 {
		fps = 30
	}
	return &ffmpeg{binary: binary, fps: fps, nice: nice}
}

func (f *ffmpeg) MergeOrRepackage(ctx context.Context, video, audio, out string) error {
	name, args := f.command(video, audio, out)
	cmd := exec.CommandContext(ctx, name, args...)
	zerolog.Ctx(ctx).Debug().Str("cmd", name+" "+strings.Join(args, " ")).Msg("executing ffmpeg")

	output, err := cmd.CombinedOutput()
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("output", tail(output, 2048)).Msg("ffmpeg failed")
		return fmt.Errorf("ffmpeg execution failed: %w", err)
	}
	return nil
}

func (f *ffmpeg) command(video, audio, out string) (string, []string) {
	args := []string{"-r", strconv.Itoa(f.fps), "-i", video}
	if audio != "" {
		args = append(args,
			"-i", audio,
			"-c:v", "copy",
			"-c:a", "aac",
			"-b:a", "128k",
			"-shortest",
		)
	} else {
		args = append(args, "-c:v", "copy")
	}
	args = append(args, "-y", out)

	if f.nice {
		return "nice", append([]string{"-n", "19", f.binary}, args...)
	}
	return f.binary, args
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
