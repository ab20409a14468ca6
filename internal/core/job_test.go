package core_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/book-expert/avatar-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStage_CanTransitionTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to core.Stage
		allowed  bool
	}{
		{core.StagePending, core.StageSynthesizingAudio, true},
		{core.StageSynthesizingAudio, core.StageGeneratingVideo, true},
		{core.StageExtractingFrames, core.StageReassembling, true},
		{core.StageEnhancingFrames, core.StageReassembling, true},
		{core.StageReassembling, core.StageCompleted, true},
		{core.StagePending, core.StageCompleted, true},
		{core.StageGeneratingVideo, core.StageFailed, true},
		{core.StageGeneratingVideo, core.StageSynthesizingAudio, false},
		{core.StageCompleted, core.StageFailed, false},
		{core.StageFailed, core.StageCompleted, false},
		{core.StagePending, core.Stage("bogus"), false},
	}

	for _, testCase := range tests {
		t.Run(fmt.Sprintf("%s->%s", testCase.from, testCase.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, testCase.allowed, testCase.from.CanTransitionTo(testCase.to))
		})
	}
}

func TestGenerationJob_Transition(t *testing.T) {
	t.Parallel()

	now := time.Now()
	job := &core.GenerationJob{ID: "job-1", Stage: core.StagePending, Status: core.StatusProcessing}

	require.NoError(t, job.Transition(core.StageSynthesizingAudio, "", now))
	assert.Equal(t, core.StatusProcessing, job.Status)

	require.NoError(t, job.Transition(core.StageFailed, "bad input", now))
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Equal(t, "bad input", job.FailureReason)

	err := job.Transition(core.StageCompleted, "", now)
	require.ErrorIs(t, err, core.ErrInvalidTransition)
	assert.Equal(t, core.StageFailed, job.Stage)
}

func TestUserMessage_HidesEngineOutput(t *testing.T) {
	t.Parallel()

	raw := fmt.Errorf("%w: exit status 1 - output: --cfg_scale traceback", core.ErrGenerationProcess)
	wrapped := &core.StageError{Stage: core.StageGeneratingVideo, Err: raw}

	message := core.UserMessage(wrapped)
	assert.NotContains(t, message, "cfg_scale")
	assert.NotContains(t, message, "traceback")
	assert.NotEmpty(t, message)

	assert.NotEmpty(t, core.UserMessage(errors.New("anything")))
	assert.True(t, errors.Is(wrapped, core.ErrGenerationProcess))
}
