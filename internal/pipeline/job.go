package pipeline

import (
	"time"

	"github.com/book-expert/avatar-service/internal/artifact"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/google/uuid"
)

// NewJob creates a pending job with a fresh identifier and every artifact path
// derived from it.
func NewJob(userID, text, gender string, layout artifact.Layout) *core.GenerationJob {
	jobID := uuid.NewString()
	now := time.Now().UTC()

	return &core.GenerationJob{
		ID:        jobID,
		UserID:    userID,
		Text:      text,
		Gender:    gender,
		ImageFile: layout.InputImage(jobID),
		AudioFile: layout.OutputAudio(jobID),
		VideoFile: layout.OutputVideo(jobID),
		Status:    core.StatusProcessing,
		Stage:     core.StagePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
