// Package speech turns a script into a mono WAV track for the talking-head generator.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/avatar-service/internal/audio"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/fileutil"
	"github.com/book-expert/avatar-service/internal/process"
	"github.com/book-expert/avatar-service/internal/speech/text"
	"github.com/book-expert/logger"
)

// Synthesizer resolves voices, runs the engine and validates what it wrote.
type Synthesizer struct {
	engine     Engine
	voices     VoiceProfiles
	normalizer *text.Normalizer
	log        *logger.Logger
}

// NewSynthesizer creates a Synthesizer. A nil normalizer sends text to the engine as is.
func NewSynthesizer(engine Engine, voices VoiceProfiles, normalizer *text.Normalizer, log *logger.Logger) *Synthesizer {
	return &Synthesizer{
		engine:     engine,
		voices:     voices,
		normalizer: normalizer,
		log:        log,
	}
}

// Synthesize renders script with the voice picked by voiceSelector and returns
// destination. The engine writes to a partial file that is renamed onto
// destination only after it decodes as a mono WAV with a non-zero duration, so
// a failed call never leaves a file at destination. Re-running overwrites it.
func (s *Synthesizer) Synthesize(ctx context.Context, script, voiceSelector, destination string) (string, error) {
	if strings.TrimSpace(script) == "" {
		return "", fmt.Errorf("%w: text cannot be empty", core.ErrSynthesis)
	}

	if s.normalizer != nil {
		script = s.normalizer.Normalize(script)
	}

	speaker := s.voices.Resolve(voiceSelector)

	err := fileutil.EnsureParentDir(destination)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrSynthesis, err)
	}

	partial := fileutil.PartialPath(destination)
	s.discard(partial)

	err = s.engine.Synthesize(ctx, script, speaker, partial)
	if err != nil {
		s.logDiagnostics(err)
		s.discard(partial)

		return "", fmt.Errorf("%w: %w", core.ErrSynthesis, err)
	}

	info, err := audio.InspectAndValidate(partial, audio.Requirements{Channels: audio.MonoChannels})
	if err != nil {
		s.discard(partial)

		return "", fmt.Errorf("%w: %w", core.ErrSynthesis, err)
	}

	err = fileutil.Commit(partial, destination)
	if err != nil {
		s.discard(partial)

		return "", fmt.Errorf("%w: %w", core.ErrSynthesis, err)
	}

	s.log.Info("Synthesized %s of speech with voice '%s' at %d Hz into %s",
		fileutil.FormatDuration(info.Duration.Seconds()), speaker, info.SampleRate, destination)

	return destination, nil
}

func (s *Synthesizer) logDiagnostics(err error) {
	var exitErr *process.ExitError
	if errors.As(err, &exitErr) {
		s.log.Error("Speech engine failed: %v\n%s", exitErr, exitErr.Diagnostics())

		return
	}

	s.log.Error("Speech engine failed: %v", err)
}

func (s *Synthesizer) discard(path string) {
	err := fileutil.RemoveIfExists(path)
	if err != nil {
		s.log.Warn("Failed to remove partial audio '%s': %v", path, err)
	}
}
