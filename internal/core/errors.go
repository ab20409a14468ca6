package core

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Stage code wraps these with fmt.Errorf("%w: ...").
var (
	// ErrSynthesis indicates the speech engine failed or the text was empty.
	ErrSynthesis = errors.New("speech synthesis failed")
	// ErrMissingAsset indicates a required style or pose reference asset is absent.
	ErrMissingAsset = errors.New("required reference asset is missing")
	// ErrGenerationProcess indicates the talking-head process exited unsuccessfully.
	ErrGenerationProcess = errors.New("talking-head generation process failed")
	// ErrExtraction indicates the source video could not be decoded into frames.
	ErrExtraction = errors.New("frame extraction failed")
	// ErrEnhancement indicates the face restoration process failed. It is never fatal.
	ErrEnhancement = errors.New("frame enhancement failed")
	// ErrReassembly indicates frames could not be re-encoded or muxed with audio.
	ErrReassembly = errors.New("frame reassembly failed")
	// ErrArtifactNotFound indicates an expected output is missing despite a success signal.
	ErrArtifactNotFound = errors.New("expected artifact not found")
	// ErrJobNotFound indicates no job exists for the given identifier.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition indicates a state machine transition that is not allowed.
	ErrInvalidTransition = errors.New("invalid job state transition")
	// ErrObjectNotFound indicates a key that is absent from the object store.
	ErrObjectNotFound = errors.New("object not found")
)

// StageError records the pipeline stage in which a job failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

var userMessages = []struct {
	err     error
	message string
}{
	{ErrSynthesis, "We could not turn your text into speech. Please check the text and try again."},
	{ErrMissingAsset, "The avatar generator is not fully installed. Please try again later."},
	{ErrGenerationProcess, "The avatar video could not be generated from this photo. Try a clear, front-facing portrait."},
	{ErrArtifactNotFound, "The avatar video could not be generated. Please try again."},
	{ErrExtraction, "The generated video could not be processed. Please try again."},
	{ErrReassembly, "The final video could not be assembled. Please try again."},
}

const defaultUserMessage = "Avatar generation failed. Please try again."

// UserMessage maps an error onto a fixed human-readable reason that is safe to show
// end users. Engine output and internal flags never leak through it.
func UserMessage(err error) string {
	for _, entry := range userMessages {
		if errors.Is(err, entry.err) {
			return entry.message
		}
	}

	return defaultUserMessage
}
