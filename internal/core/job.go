package core

import (
	"fmt"
	"time"
)

// Status is the coarse lifecycle state persisted on a job record.
type Status string

// Persisted job statuses.
const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Stage is one state of the per-job pipeline state machine.
type Stage string

// Pipeline stages in execution order. StageFailed is reachable from any
// non-terminal stage.
const (
	StagePending           Stage = "pending"
	StageSynthesizingAudio Stage = "synthesizing_audio"
	StageGeneratingVideo   Stage = "generating_video"
	StageExtractingFrames  Stage = "extracting_frames"
	StageEnhancingFrames   Stage = "enhancing_frames"
	StageReassembling      Stage = "reassembling"
	StageCompleted         Stage = "completed"
	StageFailed            Stage = "failed"
)

var stageOrder = map[Stage]int{
	StagePending:           0,
	StageSynthesizingAudio: 1,
	StageGeneratingVideo:   2,
	StageExtractingFrames:  3,
	StageEnhancingFrames:   4,
	StageReassembling:      5,
	StageCompleted:         6,
}

// Voice selectors understood by the default voice profile mapping.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// IsTerminal reports whether no further transition may leave the stage.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	if s == StageFailed {
		return true
	}

	_, ok := stageOrder[s]

	return ok
}

// Status maps the stage onto the persisted status.
func (s Stage) Status() Status {
	switch s {
	case StageCompleted:
		return StatusCompleted
	case StageFailed:
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
// Transitions only move forward; optional stages may be skipped, and an external
// completion callback may jump straight to completed.
func (s Stage) CanTransitionTo(next Stage) bool {
	if s.IsTerminal() || !s.Valid() || !next.Valid() {
		return false
	}

	if next == StageFailed {
		return true
	}

	return stageOrder[next] > stageOrder[s]
}

// GenerationJob is one end-to-end request to turn text and a portrait into a video.
type GenerationJob struct {
	ID            string    `json:"_id"`
	UserID        string    `json:"user_id"`
	Text          string    `json:"text"`
	Gender        string    `json:"gender"`
	ImageFile     string    `json:"image_file"`
	AudioFile     string    `json:"audio_file"`
	VideoFile     string    `json:"video_file"`
	Status        Status    `json:"status"`
	Stage         Stage     `json:"stage"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Transition moves the job to next, keeping Status in sync with Stage.
func (j *GenerationJob) Transition(next Stage, reason string, now time.Time) error {
	if !j.Stage.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s for job %s", ErrInvalidTransition, j.Stage, next, j.ID)
	}

	j.Stage = next
	j.Status = next.Status()
	j.UpdatedAt = now

	if next == StageFailed {
		j.FailureReason = reason
	}

	return nil
}
