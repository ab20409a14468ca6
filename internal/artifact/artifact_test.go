package artifact_test

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/book-expert/avatar-service/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamingTemplates(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc_input.jpg", artifact.InputImageName("abc"))
	assert.Equal(t, "abc_output.wav", artifact.OutputAudioName("abc"))
	assert.Equal(t, "abc_output.mp4", artifact.OutputVideoName("abc"))
	assert.Equal(t, "abc.mp4", artifact.RawVideoName("abc"))

	name, err := artifact.FrameName(7)
	require.NoError(t, err)
	assert.Equal(t, "frame_00007.png", name)

	name, err = artifact.FrameName(artifact.MaxFrameIndex)
	require.NoError(t, err)
	assert.Equal(t, "frame_99999.png", name)

	_, err = artifact.FrameName(artifact.MaxFrameIndex + 1)
	require.ErrorIs(t, err, artifact.ErrFrameIndexOverflow)
}

func TestFrameName_LexicographicOrder(t *testing.T) {
	t.Parallel()

	indices := []int{10, 2, 9999, 100, 0, 1}
	names := make([]string, 0, len(indices))

	for _, index := range indices {
		name, err := artifact.FrameName(index)
		require.NoError(t, err)

		names = append(names, name)
	}

	sort.Strings(names)
	assert.Equal(t, []string{
		"frame_00000.png", "frame_00001.png", "frame_00002.png",
		"frame_00010.png", "frame_00100.png", "frame_09999.png",
	}, names)
}

func TestLayout_PathsArePerJob(t *testing.T) {
	t.Parallel()

	layout := artifact.Layout{ImageDir: "img", AudioDir: "aud", VideoDir: "vid", WorkDir: "work"}
	first := allPaths(layout, "job-a")
	second := allPaths(layout, "job-b")

	for _, path := range first {
		assert.Contains(t, path, "job-a")
		assert.NotContains(t, second, path)
	}

	assert.Equal(t, filepath.Join("work", "job-a", "enhanced", "final_results"),
		artifact.EnhancedResultsDir(layout.EnhancedBase("job-a")))
}

func allPaths(layout artifact.Layout, jobID string) []string {
	return []string{
		layout.InputImage(jobID),
		layout.OutputAudio(jobID),
		layout.OutputVideo(jobID),
		layout.FramesDir(jobID),
		layout.EnhancedBase(jobID),
		layout.SilentVideo(jobID),
	}
}
