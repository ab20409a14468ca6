// Package artifact derives every file path the pipeline reads or writes from a job
// identifier and a fixed naming template, so concurrent jobs never collide.
package artifact

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Naming templates. They are part of the external contract and must not change.
const (
	InputImageTemplate  = "%s_input.jpg"
	OutputAudioTemplate = "%s_output.wav"
	OutputVideoTemplate = "%s_output.mp4"
	RawVideoTemplate    = "%s.mp4"
	FrameTemplate       = "frame_%05d.png"
	FrameGlob           = "frame_*.png"

	// MaxFrameIndex is the largest index the five-digit frame template can express.
	MaxFrameIndex = 99999
)

// Scratch directory names below a job's scratch root.
const (
	framesDirName       = "frames"
	enhancedDirName     = "enhanced"
	enhancedResultsName = "final_results"
	silentVideoTemplate = "%s_silent.mp4"
)

// ErrFrameIndexOverflow is returned for frame indices beyond MaxFrameIndex.
var ErrFrameIndexOverflow = errors.New("frame index exceeds five-digit template")

// InputImageName returns the file name of a job's uploaded portrait.
func InputImageName(jobID string) string { return fmt.Sprintf(InputImageTemplate, jobID) }

// OutputAudioName returns the file name of a job's synthesized speech.
func OutputAudioName(jobID string) string { return fmt.Sprintf(OutputAudioTemplate, jobID) }

// OutputVideoName returns the file name of a job's final video.
func OutputVideoName(jobID string) string { return fmt.Sprintf(OutputVideoTemplate, jobID) }

// RawVideoName returns the file name the talking-head generator writes for a job.
func RawVideoName(jobID string) string { return fmt.Sprintf(RawVideoTemplate, jobID) }

// FrameName returns the zero-padded file name of the frame at index.
func FrameName(index int) (string, error) {
	if index < 0 || index > MaxFrameIndex {
		return "", fmt.Errorf("%w: %d", ErrFrameIndexOverflow, index)
	}

	return fmt.Sprintf(FrameTemplate, index), nil
}

// Layout maps job identifiers onto directories on durable storage.
type Layout struct {
	ImageDir string
	AudioDir string
	VideoDir string
	WorkDir  string
}

// InputImage returns the path of a job's uploaded portrait.
func (l Layout) InputImage(jobID string) string {
	return filepath.Join(l.ImageDir, InputImageName(jobID))
}

// OutputAudio returns the path of a job's synthesized speech.
func (l Layout) OutputAudio(jobID string) string {
	return filepath.Join(l.AudioDir, OutputAudioName(jobID))
}

// OutputVideo returns the canonical path of a job's final video.
func (l Layout) OutputVideo(jobID string) string {
	return filepath.Join(l.VideoDir, OutputVideoName(jobID))
}

// ScratchDir returns the per-job root for transient artifacts.
func (l Layout) ScratchDir(jobID string) string {
	return filepath.Join(l.WorkDir, jobID)
}

// FramesDir returns the directory that receives extracted frames.
func (l Layout) FramesDir(jobID string) string {
	return filepath.Join(l.ScratchDir(jobID), framesDirName)
}

// EnhancedBase returns the output base handed to the enhancement tool.
func (l Layout) EnhancedBase(jobID string) string {
	return filepath.Join(l.ScratchDir(jobID), enhancedDirName)
}

// EnhancedResultsDir returns the directory where the enhancement tool leaves restored frames.
func EnhancedResultsDir(enhancedBase string) string {
	return filepath.Join(enhancedBase, enhancedResultsName)
}

// SilentVideo returns the path of the intermediate video encoded without audio.
func (l Layout) SilentVideo(jobID string) string {
	return filepath.Join(l.ScratchDir(jobID), fmt.Sprintf(silentVideoTemplate, jobID))
}
