// Package audio inspects synthesized speech files before they are handed to the
// talking-head generator.
package audio

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// Limits accepted for synthesized speech.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
	MonoChannels  = 1
)

// Error format strings.
const (
	errFmtOpen        = "failed to open %s: %w"
	errFmtNotWAV      = "%w: %s is not a RIFF/WAVE file"
	errFmtDuration    = "failed to read duration of %s: %w"
	errFmtSampleRate  = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtChannels    = "%w: expected %d channel(s), got %d"
	errFmtZeroLength  = "%w: %s holds no samples"
	errFmtChannelSpan = "%w: channels must be between 1 and %d, got %d"
)

var (
	// ErrInvalidAudio indicates a file that is not usable speech audio.
	ErrInvalidAudio = errors.New("invalid audio")
)

// Info describes a decoded WAV header.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// Requirements constrains the speech accepted from an engine.
// A zero Channels accepts any channel count.
type Requirements struct {
	Channels int
}

// Inspect reads the WAV header at path.
func Inspect(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf(errFmtOpen, path, err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return Info{}, fmt.Errorf(errFmtNotWAV, ErrInvalidAudio, path)
	}

	duration, err := decoder.Duration()
	if err != nil {
		return Info{}, fmt.Errorf(errFmtDuration, path, err)
	}

	return Info{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
		Duration:   duration,
	}, nil
}

// Validate checks the header against the requirements.
func (i Info) Validate(req Requirements) error {
	if i.SampleRate <= 0 || i.SampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRate, ErrInvalidAudio, MaxSampleRate, i.SampleRate)
	}

	if i.Channels <= 0 || i.Channels > MaxChannels {
		return fmt.Errorf(errFmtChannelSpan, ErrInvalidAudio, MaxChannels, i.Channels)
	}

	if req.Channels > 0 && i.Channels != req.Channels {
		return fmt.Errorf(errFmtChannels, ErrInvalidAudio, req.Channels, i.Channels)
	}

	if i.Duration <= 0 {
		return fmt.Errorf(errFmtZeroLength, ErrInvalidAudio, "audio")
	}

	return nil
}

// InspectAndValidate combines Inspect and Validate.
func InspectAndValidate(path string, req Requirements) (Info, error) {
	info, err := Inspect(path)
	if err != nil {
		return Info{}, err
	}

	err = info.Validate(req)
	if err != nil {
		return Info{}, fmt.Errorf("%s: %w", path, err)
	}

	return info, nil
}
