package frames

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/book-expert/avatar-service/internal/artifact"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/fileutil"
	"github.com/book-expert/avatar-service/internal/process"
	"github.com/book-expert/logger"
)

// EnhancerConfig configures the CodeFormer invocation.
type EnhancerConfig struct {
	Enabled          bool
	Root             string
	Python           string
	Script           string
	FidelityWeight   float64
	SkipFaceUpsample bool
	BgUpsampler      string
	Timeout          time.Duration
}

// EnhancedFrames describes a complete set of restored frames.
type EnhancedFrames struct {
	Dir   string
	Count int
}

// Enhancer is the best-effort face restoration stage.
type Enhancer struct {
	runner process.Runner
	config EnhancerConfig
	log    *logger.Logger
}

// NewEnhancer creates an Enhancer.
func NewEnhancer(runner process.Runner, cfg EnhancerConfig, log *logger.Logger) *Enhancer {
	return &Enhancer{runner: runner, config: cfg, log: log}
}

// Available reports whether CodeFormer is enabled and installed.
func (e *Enhancer) Available() bool {
	if !e.config.Enabled || e.config.Root == "" {
		return false
	}

	info, err := os.Stat(e.config.Root)

	return err == nil && info.IsDir()
}

// Enhance restores every frame in inputDir into outputBase/final_results.
//
// It returns (nil, nil) when the tool is not available. Any failure, including a
// result set whose size differs from the input, returns an error wrapping
// core.ErrEnhancement; callers fall back to the raw frames.
func (e *Enhancer) Enhance(ctx context.Context, inputDir, outputBase string) (*EnhancedFrames, error) {
	if !e.Available() {
		e.log.Info("Frame enhancement not available, using raw frames")

		return nil, nil
	}

	resultsDir := artifact.EnhancedResultsDir(outputBase)

	_, err := fileutil.ClearMatching(resultsDir, artifact.FrameGlob)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEnhancement, err)
	}

	rawFrames, err := fileutil.ListMatching(inputDir, artifact.FrameGlob)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEnhancement, err)
	}

	cmd, err := e.command(inputDir, outputBase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEnhancement, err)
	}

	e.log.Info("Enhancing %d frames from %s", len(rawFrames), inputDir)

	_, err = e.runner.Run(ctx, cmd)
	if err != nil {
		var exitErr *process.ExitError
		if errors.As(err, &exitErr) {
			e.log.Warn("CodeFormer failed: %v\n%s", exitErr, exitErr.Diagnostics())
		}

		return nil, fmt.Errorf("%w: %w", core.ErrEnhancement, err)
	}

	enhanced, err := fileutil.ListMatching(resultsDir, artifact.FrameGlob)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEnhancement, err)
	}

	if len(enhanced) == 0 || len(enhanced) != len(rawFrames) {
		return nil, fmt.Errorf("%w: produced %d of %d frames", core.ErrEnhancement, len(enhanced), len(rawFrames))
	}

	return &EnhancedFrames{Dir: resultsDir, Count: len(enhanced)}, nil
}

func (e *Enhancer) command(inputDir, outputBase string) (process.Command, error) {
	root, err := fileutil.Abs(e.config.Root)
	if err != nil {
		return process.Command{}, err
	}

	absInput, err := fileutil.Abs(inputDir)
	if err != nil {
		return process.Command{}, err
	}

	absOutput, err := fileutil.Abs(outputBase)
	if err != nil {
		return process.Command{}, err
	}

	args := []string{
		e.config.Script,
		"-i", absInput,
		"-o", absOutput,
		"-w", strconv.FormatFloat(e.config.FidelityWeight, 'f', -1, 64),
	}

	if !e.config.SkipFaceUpsample {
		args = append(args, "--face_upsample")
	}

	if e.config.BgUpsampler != "" {
		args = append(args, "--bg_upsampler", e.config.BgUpsampler)
	}

	return process.Command{
		Name:    e.config.Python,
		Args:    args,
		Dir:     root,
		Timeout: e.config.Timeout,
	}, nil
}

// FrameSet is the frame directory chosen for reassembly.
type FrameSet struct {
	Dir      string
	Enhanced bool
}

// SelectFrames prefers a non-empty enhanced set and falls back to rawDir.
func SelectFrames(rawDir string, enhanced *EnhancedFrames) FrameSet {
	if enhanced != nil && enhanced.Count > 0 && enhanced.Dir != "" {
		return FrameSet{Dir: enhanced.Dir, Enhanced: true}
	}

	return FrameSet{Dir: rawDir}
}
