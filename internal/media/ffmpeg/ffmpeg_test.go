package ffmpeg_test

import (
	"context"
	"testing"
	"time"

	"github.com/book-expert/avatar-service/internal/media/ffmpeg"
	"github.com/book-expert/avatar-service/internal/process"
	"github.com/book-expert/avatar-service/internal/process/processtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() ffmpeg.Config {
	return ffmpeg.Config{
		FFmpeg:     "ffmpeg",
		FFprobe:    "ffprobe",
		VideoCodec: "libx264",
		AudioCodec: "aac",
		Timeout:    time.Minute,
	}
}

func TestMux_Arguments(t *testing.T) {
	t.Parallel()

	spy := &processtest.Spy{}
	tool := ffmpeg.New(spy, testConfig())

	require.NoError(t, tool.Mux(context.Background(), "silent.mp4", "job1.mp4", "job1_output.partial.mp4"))

	calls := spy.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ffmpeg", calls[0].Name)
	assert.Equal(t, time.Minute, calls[0].Timeout)
	assert.Equal(t, []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", "silent.mp4",
		"-i", "job1.mp4",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-f", "mp4",
		"job1_output.partial.mp4",
	}, calls[0].Args)
	assert.NotContains(t, calls[0].Args, "-shortest")
}

func TestMux_Failure(t *testing.T) {
	t.Parallel()

	spy := &processtest.Spy{Handler: func(cmd process.Command) (process.Result, error) {
		return processtest.Fail(cmd, 1, "Stream map '1:a:0' matches no streams.")
	}}

	err := ffmpeg.New(spy, testConfig()).Mux(context.Background(), "a.mp4", "b.mp4", "c.mp4")

	var exitErr *process.ExitError
	require.ErrorAs(t, err, &exitErr)
}

func TestAudioDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		stdout   string
		expected time.Duration
		err      error
	}{
		{name: "duration", stdout: "3.250000\n", expected: 3250 * time.Millisecond},
		{name: "no audio stream", stdout: ""},
		{name: "not available", stdout: "N/A\n", err: ffmpeg.ErrUnknownDuration},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			spy := &processtest.Spy{Handler: func(process.Command) (process.Result, error) {
				return process.Result{Stdout: testCase.stdout}, nil
			}}

			duration, err := ffmpeg.New(spy, testConfig()).AudioDuration(context.Background(), "out.mp4")
			if testCase.err != nil {
				require.ErrorIs(t, err, testCase.err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, testCase.expected, duration)
			assert.Equal(t, "ffprobe", spy.Calls()[0].Name)
			assert.Equal(t, "out.mp4", spy.Calls()[0].Args[len(spy.Calls()[0].Args)-1])
		})
	}
}
