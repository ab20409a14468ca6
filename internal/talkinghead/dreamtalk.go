// Package talkinghead drives the DreamTalk generator that animates a portrait
// with a speech track.
package talkinghead

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"time"

	"github.com/book-expert/avatar-service/internal/artifact"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/fileutil"
	"github.com/book-expert/avatar-service/internal/process"
	"github.com/book-expert/logger"
)

// outputDir is where DreamTalk writes {output_name}.mp4, relative to its root.
const outputDir = "output_video"

// Config is the fixed parameter set of every DreamTalk invocation.
// StyleClip and Pose are resolved against Root unless absolute.
type Config struct {
	Root      string
	Python    string
	Script    string
	StyleClip string
	Pose      string
	CfgScale  float64
	MaxGenLen int
	Timeout   time.Duration
}

// DreamTalk is the talking-head generator adapter.
type DreamTalk struct {
	runner process.Runner
	config Config
	log    *logger.Logger
}

// New creates a DreamTalk adapter.
func New(runner process.Runner, cfg Config, log *logger.Logger) *DreamTalk {
	return &DreamTalk{runner: runner, config: cfg, log: log}
}

// OutputPath is where the generator writes the video for outputName.
func (d *DreamTalk) OutputPath(outputName string) string {
	return filepath.Join(d.config.Root, outputDir, artifact.RawVideoName(outputName))
}

// Generate runs DreamTalk with the portrait at imagePath and the speech at
// audioPath and returns the path it was told to write. A nil error only means
// the process exited 0; callers must still check the file is there.
//
// The process runs with the installation root as its working directory, so the
// caller's own directory is never touched and concurrent calls do not interfere.
func (d *DreamTalk) Generate(ctx context.Context, imagePath, audioPath, outputName string) (string, error) {
	root, err := fileutil.Abs(d.config.Root)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrGenerationProcess, err)
	}

	stylePath := resolve(root, d.config.StyleClip)
	posePath := resolve(root, d.config.Pose)

	for _, asset := range []string{stylePath, posePath} {
		if !fileutil.Exists(asset) {
			return "", fmt.Errorf("%w: %s", core.ErrMissingAsset, asset)
		}
	}

	absImage, err := fileutil.Abs(imagePath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrGenerationProcess, err)
	}

	absAudio, err := fileutil.Abs(audioPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrGenerationProcess, err)
	}

	output := d.OutputPath(outputName)

	err = fileutil.RemoveIfExists(output)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrGenerationProcess, err)
	}

	cmd := process.Command{
		Name: d.config.Python,
		Args: []string{
			d.config.Script,
			"--wav_path", absAudio,
			"--style_clip_path", stylePath,
			"--pose_path", posePath,
			"--image_path", absImage,
			"--cfg_scale", formatScale(d.config.CfgScale),
			"--max_gen_len", strconv.Itoa(d.config.MaxGenLen),
			"--output_name", outputName,
		},
		Dir:     root,
		Timeout: d.config.Timeout,
	}

	d.log.Info("Generating talking-head video '%s' in %s", outputName, root)

	result, err := d.runner.Run(ctx, cmd)
	if err != nil {
		var exitErr *process.ExitError
		if errors.As(err, &exitErr) {
			d.log.Error("DreamTalk failed for '%s': %v\n%s", outputName, exitErr, exitErr.Diagnostics())
		} else {
			d.log.Error("DreamTalk failed for '%s': %v", outputName, err)
		}

		return "", fmt.Errorf("%w: %w", core.ErrGenerationProcess, err)
	}

	d.log.Info("DreamTalk finished '%s' in %s", outputName, result.Duration.Round(time.Millisecond))

	return output, nil
}

func resolve(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(root, path)
}

// formatScale keeps one decimal for whole numbers ("1.0") and full precision otherwise.
func formatScale(value float64) string {
	if value == math.Trunc(value) {
		return strconv.FormatFloat(value, 'f', 1, 64)
	}

	return strconv.FormatFloat(value, 'f', -1, 64)
}
