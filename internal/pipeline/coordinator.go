// Package pipeline runs the stages that turn a job's text and portrait into the
// final talking-avatar video.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/avatar-service/internal/artifact"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/fileutil"
	"github.com/book-expert/avatar-service/internal/frames"
	"github.com/book-expert/logger"
)

// Synthesizer renders the script into a WAV file.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceSelector, destination string) (string, error)
}

// Generator animates the portrait with the speech track. OutputPath names the
// file Generate writes for outputName, whether or not the run succeeds.
type Generator interface {
	Generate(ctx context.Context, imagePath, audioPath, outputName string) (string, error)
	OutputPath(outputName string) string
}

// Extractor splits a video into numbered frames.
type Extractor interface {
	Extract(ctx context.Context, videoPath, outputDir string) (int, error)
}

// Enhancer restores faces in a frame directory. A nil result means no enhancement.
type Enhancer interface {
	Enhance(ctx context.Context, inputDir, outputBase string) (*frames.EnhancedFrames, error)
}

// Reassembler encodes frames back into a video with the original audio.
type Reassembler interface {
	Reassemble(ctx context.Context, req frames.ReassemblyRequest) error
}

// Stages groups the stage implementations. Enhancer may be nil.
type Stages struct {
	Synthesizer Synthesizer
	Generator   Generator
	Extractor   Extractor
	Enhancer    Enhancer
	Reassembler Reassembler
}

// Options tunes the coordinator.
type Options struct {
	// MaxConcurrentJobs bounds the jobs running at once; values < 1 mean 1.
	MaxConcurrentJobs int
	// KeepIntermediates leaves the scratch directory and raw video in place.
	KeepIntermediates bool
}

// Coordinator sequences the stages of a job and records every transition.
type Coordinator struct {
	stages            Stages
	store             core.JobStore
	layout            artifact.Layout
	keepIntermediates bool
	slots             chan struct{}
	now               func() time.Time
	log               *logger.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(
	stages Stages,
	store core.JobStore,
	layout artifact.Layout,
	opts Options,
	log *logger.Logger,
) *Coordinator {
	maxJobs := opts.MaxConcurrentJobs
	if maxJobs < 1 {
		maxJobs = 1
	}

	return &Coordinator{
		stages:            stages,
		store:             store,
		layout:            layout,
		keepIntermediates: opts.KeepIntermediates,
		slots:             make(chan struct{}, maxJobs),
		now:               time.Now,
		log:               log,
	}
}

// Run executes every stage for job, which must already be stored, and returns
// the final video path. A failure of any stage other than enhancement marks the
// job failed with a user-facing reason and returns a *core.StageError.
func (c *Coordinator) Run(ctx context.Context, job *core.GenerationJob) (string, error) {
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for a pipeline slot: %w", ctx.Err())
	}
	defer func() { <-c.slots }()

	started := c.now()
	c.log.Info("Job %s: starting pipeline", job.ID)

	scratch := c.layout.ScratchDir(job.ID)

	err := fileutil.ResetDir(scratch)
	if err != nil {
		return "", c.fail(ctx, job, &core.StageError{Stage: job.Stage, Err: err})
	}

	videoPath, rawVideo, err := c.execute(ctx, job)

	c.cleanup(job.ID, scratch, rawVideo)

	if err != nil {
		return "", c.fail(ctx, job, err)
	}

	err = c.advance(ctx, job, core.StageCompleted)
	if err != nil && !c.completedByCallback(ctx, job.ID, err) {
		return "", err
	}

	c.log.Info("Job %s: completed in %s, video at %s",
		job.ID, fileutil.FormatDuration(c.now().Sub(started).Seconds()), videoPath)

	return videoPath, nil
}

// execute returns the final video, the raw generator output (for cleanup) and
// the first fatal error.
func (c *Coordinator) execute(ctx context.Context, job *core.GenerationJob) (string, string, error) {
	err := c.advance(ctx, job, core.StageSynthesizingAudio)
	if err != nil {
		return "", "", err
	}

	audioPath, err := c.stages.Synthesizer.Synthesize(ctx, job.Text, job.Gender, job.AudioFile)
	if err != nil {
		return "", "", stageError(core.StageSynthesizingAudio, err)
	}

	err = c.advance(ctx, job, core.StageGeneratingVideo)
	if err != nil {
		return "", "", err
	}

	rawVideo, err := c.stages.Generator.Generate(ctx, job.ImageFile, audioPath, job.ID)
	if err != nil {
		// A crashed run may still leave a partial file behind.
		return "", c.stages.Generator.OutputPath(job.ID), stageError(core.StageGeneratingVideo, err)
	}

	err = requireArtifact(rawVideo)
	if err != nil {
		return "", rawVideo, stageError(core.StageGeneratingVideo, err)
	}

	err = c.advance(ctx, job, core.StageExtractingFrames)
	if err != nil {
		return "", rawVideo, err
	}

	framesDir := c.layout.FramesDir(job.ID)

	frameCount, err := c.stages.Extractor.Extract(ctx, rawVideo, framesDir)
	if err != nil {
		return "", rawVideo, stageError(core.StageExtractingFrames, err)
	}

	enhanced, err := c.enhance(ctx, job, framesDir)
	if err != nil {
		return "", rawVideo, err
	}

	err = c.advance(ctx, job, core.StageReassembling)
	if err != nil {
		return "", rawVideo, err
	}

	selected := frames.SelectFrames(framesDir, enhanced)
	c.log.Info("Job %s: reassembling %d frames (enhanced=%t)", job.ID, frameCount, selected.Enhanced)

	err = c.stages.Reassembler.Reassemble(ctx, frames.ReassemblyRequest{
		Frames:        selected,
		OriginalVideo: rawVideo,
		Output:        job.VideoFile,
		SilentVideo:   c.layout.SilentVideo(job.ID),
	})
	if err != nil {
		return "", rawVideo, stageError(core.StageReassembling, err)
	}

	err = requireArtifact(job.VideoFile)
	if err != nil {
		return "", rawVideo, stageError(core.StageReassembling, err)
	}

	return job.VideoFile, rawVideo, nil
}

// enhance runs the optional stage. Its failure is logged and never returned;
// only a store error aborts the job here.
func (c *Coordinator) enhance(ctx context.Context, job *core.GenerationJob, framesDir string) (*frames.EnhancedFrames, error) {
	if c.stages.Enhancer == nil {
		return nil, nil
	}

	err := c.advance(ctx, job, core.StageEnhancingFrames)
	if err != nil {
		return nil, err
	}

	enhanced, err := c.stages.Enhancer.Enhance(ctx, framesDir, c.layout.EnhancedBase(job.ID))
	if err != nil {
		c.log.Warn("Job %s: enhancement failed, falling back to raw frames: %v", job.ID, err)

		return nil, nil
	}

	return enhanced, nil
}

func (c *Coordinator) advance(ctx context.Context, job *core.GenerationJob, stage core.Stage) error {
	previous := job.Stage

	err := job.Transition(stage, "", c.now())
	if err != nil {
		return &core.StageError{Stage: previous, Err: err}
	}

	err = c.store.UpdateStatus(ctx, job.ID, stage, "")
	if err != nil {
		return &core.StageError{Stage: stage, Err: fmt.Errorf("recording stage: %w", err)}
	}

	c.log.Info("Job %s: %s -> %s", job.ID, previous, stage)

	return nil
}

// completedByCallback reports whether err only means the completion callback
// recorded the job as completed first.
func (c *Coordinator) completedByCallback(ctx context.Context, jobID string, err error) bool {
	if !errors.Is(err, core.ErrInvalidTransition) {
		return false
	}

	stored, getErr := c.store.Get(ctx, jobID)
	if getErr != nil || stored.Stage != core.StageCompleted {
		return false
	}

	c.log.Info("Job %s: already marked completed by callback", jobID)

	return true
}

// fail records the failure with a fixed user-facing reason and returns err.
func (c *Coordinator) fail(ctx context.Context, job *core.GenerationJob, err error) error {
	reason := core.UserMessage(err)
	c.log.Error("Job %s: failed: %v", job.ID, err)

	if job.Stage.IsTerminal() {
		return err
	}

	transitionErr := job.Transition(core.StageFailed, reason, c.now())
	if transitionErr != nil {
		c.log.Error("Job %s: %v", job.ID, transitionErr)

		return err
	}

	// The failure is recorded even when ctx was cancelled.
	storeErr := c.store.UpdateStatus(context.WithoutCancel(ctx), job.ID, core.StageFailed, reason)
	if storeErr != nil {
		c.log.Error("Job %s: failed to record failure: %v", job.ID, storeErr)
	}

	return err
}

func (c *Coordinator) cleanup(jobID, scratch, rawVideo string) {
	if c.keepIntermediates {
		return
	}

	err := os.RemoveAll(scratch)
	if err != nil {
		c.log.Warn("Job %s: failed to remove scratch directory %s: %v", jobID, scratch, err)
	}

	if rawVideo == "" {
		return
	}

	err = fileutil.RemoveIfExists(rawVideo)
	if err != nil {
		c.log.Warn("Job %s: failed to remove raw video %s: %v", jobID, rawVideo, err)
	}
}

func stageError(stage core.Stage, err error) error {
	var existing *core.StageError
	if errors.As(err, &existing) {
		return err
	}

	return &core.StageError{Stage: stage, Err: err}
}

// requireArtifact turns a missing or empty file into core.ErrArtifactNotFound.
func requireArtifact(path string) error {
	_, err := fileutil.RequireNonEmptyFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrArtifactNotFound, path, err)
	}

	return nil
}
