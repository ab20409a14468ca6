// Package frames holds the stages that operate on a frame sequence: extraction
// from the generated video, best-effort face enhancement and reassembly into the
// final container.
package frames

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/book-expert/avatar-service/internal/artifact"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/fileutil"
	"github.com/book-expert/logger"
)

// FramePath maps a zero-based frame index onto the file the frame is written to.
type FramePath func(index int) (string, error)

// FrameDecoder decodes a video in presentation order and writes every frame to
// the path returned for its index. It returns the number of frames written.
type FrameDecoder interface {
	Decode(ctx context.Context, videoPath string, path FramePath) (int, error)
}

// Extractor is the frame extraction stage.
type Extractor struct {
	decoder FrameDecoder
	log     *logger.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(decoder FrameDecoder, log *logger.Logger) *Extractor {
	return &Extractor{decoder: decoder, log: log}
}

// Extract writes every frame of videoPath into outputDir as frame_00000.png,
// frame_00001.png and so on. Frames left in outputDir by an earlier run are
// removed first.
func (e *Extractor) Extract(ctx context.Context, videoPath, outputDir string) (int, error) {
	err := fileutil.EnsureDir(outputDir)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrExtraction, err)
	}

	removed, err := fileutil.ClearMatching(outputDir, artifact.FrameGlob)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrExtraction, err)
	}

	if removed > 0 {
		e.log.Info("Removed %d stale frames from %s", removed, outputDir)
	}

	count, err := e.decoder.Decode(ctx, videoPath, func(index int) (string, error) {
		name, nameErr := artifact.FrameName(index)
		if nameErr != nil {
			return "", nameErr
		}

		return filepath.Join(outputDir, name), nil
	})
	if err != nil {
		return count, fmt.Errorf("%w: %s: %w", core.ErrExtraction, videoPath, err)
	}

	if count == 0 {
		return 0, fmt.Errorf("%w: %s yielded no frames", core.ErrExtraction, videoPath)
	}

	e.log.Info("Extracted %d frames from %s", count, videoPath)

	return count, nil
}
