package speech

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/avatar-service/internal/process"
)

// Engine renders text with one speaker into a WAV file at destination.
type Engine interface {
	Synthesize(ctx context.Context, text, speaker, destination string) error
}

// CLIConfig configures the Coqui `tts` command line engine.
type CLIConfig struct {
	Binary     string
	ModelPath  string
	ConfigPath string
	Language   string
	Timeout    time.Duration
}

// CLIEngine runs the speech model as a subprocess, once per call.
type CLIEngine struct {
	runner process.Runner
	config CLIConfig
}

// NewCLIEngine creates a CLIEngine that launches commands through runner.
func NewCLIEngine(runner process.Runner, cfg CLIConfig) *CLIEngine {
	return &CLIEngine{runner: runner, config: cfg}
}

// Synthesize implements Engine.
func (e *CLIEngine) Synthesize(ctx context.Context, text, speaker, destination string) error {
	args := []string{
		"--text", text,
		"--model_path", e.config.ModelPath,
		"--config_path", e.config.ConfigPath,
		"--speaker_idx", speaker,
		"--language_idx", e.config.Language,
		"--out_path", destination,
	}

	_, err := e.runner.Run(ctx, process.Command{
		Name:    e.config.Binary,
		Args:    args,
		Timeout: e.config.Timeout,
	})
	if err != nil {
		return fmt.Errorf("speech engine %s: %w", e.config.Binary, err)
	}

	return nil
}
