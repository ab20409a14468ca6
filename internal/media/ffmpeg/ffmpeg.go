// Package ffmpeg muxes audio into the reassembled video and probes the result,
// running the ffmpeg and ffprobe binaries as subprocesses.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/avatar-service/internal/process"
)

// ErrUnknownDuration is returned when ffprobe reports a stream without a usable duration.
var ErrUnknownDuration = errors.New("stream duration unavailable")

// Config configures both binaries.
type Config struct {
	FFmpeg     string
	FFprobe    string
	VideoCodec string
	AudioCodec string
	Timeout    time.Duration
}

// Tool implements frames.Muxer and frames.AudioProber.
type Tool struct {
	runner process.Runner
	config Config
}

// New creates a Tool.
func New(runner process.Runner, cfg Config) *Tool {
	return &Tool{runner: runner, config: cfg}
}

// Mux copies the first video stream of videoPath and the first audio stream of
// audioSource into an MP4 at output, re-encoding both with the configured codecs.
// The audio is never trimmed to the video length.
func (t *Tool) Mux(ctx context.Context, videoPath, audioSource, output string) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-i", audioSource,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", t.config.VideoCodec,
		"-pix_fmt", "yuv420p",
		"-c:a", t.config.AudioCodec,
		"-movflags", "+faststart",
		"-f", "mp4",
		output,
	}

	_, err := t.runner.Run(ctx, process.Command{
		Name:    t.config.FFmpeg,
		Args:    args,
		Timeout: t.config.Timeout,
	})
	if err != nil {
		return fmt.Errorf("ffmpeg mux of %s and %s: %w", videoPath, audioSource, err)
	}

	return nil
}

// AudioDuration returns the duration of the first audio stream in path, or zero
// when path has no audio stream.
func (t *Tool) AudioDuration(ctx context.Context, path string) (time.Duration, error) {
	result, err := t.runner.Run(ctx, process.Command{
		Name: t.config.FFprobe,
		Args: []string{
			"-v", "error",
			"-select_streams", "a:0",
			"-show_entries", "stream=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path,
		},
		Timeout: t.config.Timeout,
	})
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	return parseDuration(result.Stdout)
}

func parseDuration(output string) (time.Duration, error) {
	value := strings.TrimSpace(output)
	if value == "" {
		return 0, nil
	}

	value, _, _ = strings.Cut(value, "\n")

	seconds, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDuration, value)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}
