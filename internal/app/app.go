// Package app assembles the pipeline from configuration. Both binaries share it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/avatar-service/internal/artifact"
	"github.com/book-expert/avatar-service/internal/config"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/frames"
	"github.com/book-expert/avatar-service/internal/media/ffmpeg"
	"github.com/book-expert/avatar-service/internal/media/opencv"
	"github.com/book-expert/avatar-service/internal/pipeline"
	"github.com/book-expert/avatar-service/internal/process"
	"github.com/book-expert/avatar-service/internal/speech"
	"github.com/book-expert/avatar-service/internal/speech/text"
	"github.com/book-expert/avatar-service/internal/talkinghead"
	"github.com/book-expert/logger"
)

const healthCheckTimeout = 10 * time.Second

// Layout maps the configured directories onto an artifact layout.
func Layout(cfg *config.Config) artifact.Layout {
	return artifact.Layout{
		ImageDir: cfg.Paths.ImageDir,
		AudioDir: cfg.Paths.AudioDir,
		VideoDir: cfg.Paths.VideoDir,
		WorkDir:  cfg.Paths.WorkDir,
	}
}

// NewStages builds every pipeline stage. Subprocesses are launched through runner.
func NewStages(ctx context.Context, cfg *config.Config, runner process.Runner, log *logger.Logger) (pipeline.Stages, error) {
	engine, err := newSpeechEngine(ctx, cfg, runner, log)
	if err != nil {
		return pipeline.Stages{}, err
	}

	var normalizer *text.Normalizer
	if cfg.Speech.NormalizeText {
		normalizer = text.NewNormalizer()
	}

	voices := speech.NewVoiceProfiles(cfg.Speech.Voices, cfg.Speech.DefaultVoice)

	generator := talkinghead.New(runner, talkinghead.Config{
		Root:      cfg.TalkingHead.Root,
		Python:    cfg.TalkingHead.Python,
		Script:    cfg.TalkingHead.Script,
		StyleClip: cfg.TalkingHead.StyleClip,
		Pose:      cfg.TalkingHead.Pose,
		CfgScale:  cfg.TalkingHead.CfgScale,
		MaxGenLen: cfg.TalkingHead.MaxGenLen,
		Timeout:   config.Seconds(cfg.TalkingHead.TimeoutSeconds),
	}, log)

	enhancer := frames.NewEnhancer(runner, frames.EnhancerConfig{
		Enabled:          cfg.Enhancement.Enabled,
		Root:             cfg.Enhancement.Root,
		Python:           cfg.Enhancement.Python,
		Script:           cfg.Enhancement.Script,
		FidelityWeight:   cfg.Enhancement.Fidelity(),
		SkipFaceUpsample: cfg.Enhancement.SkipFaceUpsample,
		BgUpsampler:      cfg.Enhancement.BgUpsampler,
		Timeout:          config.Seconds(cfg.Enhancement.TimeoutSeconds),
	}, log)

	if cfg.Enhancement.Enabled && !enhancer.Available() {
		log.Warn("Enhancement enabled but %q is not a directory; raw frames will be used", cfg.Enhancement.Root)
	}

	media := ffmpeg.New(runner, ffmpeg.Config{
		FFmpeg:     cfg.Reassembly.FFmpeg,
		FFprobe:    cfg.Reassembly.FFprobe,
		VideoCodec: cfg.Reassembly.VideoCodec,
		AudioCodec: cfg.Reassembly.AudioCodec,
		Timeout:    config.Seconds(cfg.Reassembly.TimeoutSeconds),
	})

	return pipeline.Stages{
		Synthesizer: speech.NewSynthesizer(engine, voices, normalizer, log),
		Generator:   generator,
		Extractor:   frames.NewExtractor(opencv.NewDecoder(), log),
		Enhancer:    enhancer,
		Reassembler: frames.NewReassembler(
			opencv.NewProber(),
			opencv.NewEncoder(cfg.Reassembly.IntermediateFourCC),
			media,
			media,
			log,
		),
	}, nil
}

// NewCoordinator builds the stages and the coordinator that runs them against store.
func NewCoordinator(ctx context.Context, cfg *config.Config, store core.JobStore, log *logger.Logger) (*pipeline.Coordinator, error) {
	stages, err := NewStages(ctx, cfg, process.NewExecRunner(), log)
	if err != nil {
		return nil, err
	}

	return pipeline.NewCoordinator(stages, store, Layout(cfg), pipeline.Options{
		MaxConcurrentJobs: cfg.Pipeline.MaxConcurrentJobs,
		KeepIntermediates: cfg.Pipeline.KeepIntermediates,
	}, log), nil
}

func newSpeechEngine(ctx context.Context, cfg *config.Config, runner process.Runner, log *logger.Logger) (speech.Engine, error) {
	timeout := config.Seconds(cfg.Speech.TimeoutSeconds)

	if cfg.Speech.Engine != config.SpeechEngineHTTP {
		return speech.NewCLIEngine(runner, speech.CLIConfig{
			Binary:     cfg.Speech.Binary,
			ModelPath:  cfg.Speech.ModelPath,
			ConfigPath: cfg.Speech.ConfigPath,
			Language:   cfg.Speech.Language,
			Timeout:    timeout,
		}), nil
	}

	engine := speech.NewHTTPEngine(speech.HTTPConfig{
		BaseURL:     cfg.Speech.ServiceURL,
		Language:    cfg.Speech.Language,
		Temperature: cfg.Speech.Temperature,
		Timeout:     timeout,
	})

	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	err := engine.HealthCheck(healthCtx)
	if err != nil {
		return nil, fmt.Errorf("speech service at %s is not healthy: %w", cfg.Speech.ServiceURL, err)
	}

	log.Info("Speech service at %s is healthy", cfg.Speech.ServiceURL)

	return engine, nil
}
