package speech_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/avatar-service/internal/audio"
	"github.com/book-expert/avatar-service/internal/audio/audiotest"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/fileutil"
	"github.com/book-expert/avatar-service/internal/speech"
	"github.com/book-expert/avatar-service/internal/speech/text"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errEngineCrashed = errors.New("engine crashed")

type fakeEngine struct {
	mu       sync.Mutex
	channels int
	err      error
	texts    []string
	speakers []string
	dests    []string
}

func (f *fakeEngine) Synthesize(_ context.Context, script, speaker, destination string) error {
	f.mu.Lock()
	f.texts = append(f.texts, script)
	f.speakers = append(f.speakers, speaker)
	f.dests = append(f.dests, destination)
	f.mu.Unlock()

	if f.err != nil {
		// A crashing engine may still leave half a file behind.
		_ = os.WriteFile(destination, []byte("RIFF"), 0o600)

		return f.err
	}

	channels := f.channels
	if channels == 0 {
		channels = 1
	}

	return audiotest.WriteWAV(destination, 24000, channels, 800*time.Millisecond)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "speech-test.log")
	require.NoError(t, err)

	return log
}

func testVoices() speech.VoiceProfiles {
	return speech.NewVoiceProfiles(map[string]string{
		"male":   "Damien Black",
		"female": "Sarah Johnson",
	}, "Damien Black")
}

func TestVoiceProfiles_Resolve(t *testing.T) {
	t.Parallel()

	voices := testVoices()

	assert.Equal(t, "Sarah Johnson", voices.Resolve("female"))
	assert.Equal(t, "Sarah Johnson", voices.Resolve(" Female "))
	assert.Equal(t, "Damien Black", voices.Resolve("male"))
	assert.Equal(t, "Damien Black", voices.Resolve("nonbinary"))
	assert.Equal(t, "Damien Black", voices.Resolve(""))
}

func TestSynthesize_FemaleScenario(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	synth := speech.NewSynthesizer(engine, testVoices(), nil, newTestLogger(t))
	destination := filepath.Join(t.TempDir(), "static", "audio", "job1_output.wav")

	got, err := synth.Synthesize(context.Background(), "Hello world", "female", destination)
	require.NoError(t, err)
	assert.Equal(t, destination, got)

	require.Len(t, engine.speakers, 1)
	assert.Equal(t, "Sarah Johnson", engine.speakers[0])
	assert.Equal(t, "Hello world", engine.texts[0])
	assert.Equal(t, fileutil.PartialPath(destination), engine.dests[0])

	info, err := audio.Inspect(destination)
	require.NoError(t, err)
	assert.Positive(t, info.Duration)
	assert.False(t, fileutil.Exists(fileutil.PartialPath(destination)))
}

func TestSynthesize_NormalizesText(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	synth := speech.NewSynthesizer(engine, testVoices(), text.NewNormalizer(), newTestLogger(t))

	_, err := synth.Synthesize(context.Background(), "Dr. Who has 2 hearts", "male",
		filepath.Join(t.TempDir(), "out.wav"))
	require.NoError(t, err)
	assert.Equal(t, "Doctor Who has two hearts.", engine.texts[0])
}

func TestSynthesize_EmptyTextNeverCallsEngine(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	synth := speech.NewSynthesizer(engine, testVoices(), nil, newTestLogger(t))

	_, err := synth.Synthesize(context.Background(), "   ", "male", filepath.Join(t.TempDir(), "out.wav"))
	require.ErrorIs(t, err, core.ErrSynthesis)
	assert.Empty(t, engine.texts)
}

func TestSynthesize_EngineFailureLeavesNoOutput(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{err: errEngineCrashed}
	synth := speech.NewSynthesizer(engine, testVoices(), nil, newTestLogger(t))
	destination := filepath.Join(t.TempDir(), "out.wav")

	_, err := synth.Synthesize(context.Background(), "Hello", "male", destination)
	require.ErrorIs(t, err, core.ErrSynthesis)
	require.ErrorIs(t, err, errEngineCrashed)

	assert.False(t, fileutil.Exists(destination))
	assert.False(t, fileutil.Exists(fileutil.PartialPath(destination)))
}

func TestSynthesize_RejectsStereoOutput(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{channels: 2}
	synth := speech.NewSynthesizer(engine, testVoices(), nil, newTestLogger(t))
	destination := filepath.Join(t.TempDir(), "out.wav")

	_, err := synth.Synthesize(context.Background(), "Hello", "male", destination)
	require.ErrorIs(t, err, core.ErrSynthesis)
	require.ErrorIs(t, err, audio.ErrInvalidAudio)
	assert.False(t, fileutil.Exists(destination))
}

func TestSynthesize_OverwritesPreviousOutput(t *testing.T) {
	t.Parallel()

	destination := filepath.Join(t.TempDir(), "out.wav")
	require.NoError(t, os.WriteFile(destination, []byte("old"), 0o600))

	synth := speech.NewSynthesizer(&fakeEngine{}, testVoices(), nil, newTestLogger(t))

	_, err := synth.Synthesize(context.Background(), "Hello", "male", destination)
	require.NoError(t, err)

	_, err = audio.Inspect(destination)
	require.NoError(t, err)
}
