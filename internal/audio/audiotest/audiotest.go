// Package audiotest writes small WAV fixtures for tests.
package audiotest

import (
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth      = 16
	pcmFormat     = 1
	toneAmplitude = 3000
)

// WriteWAV writes a 16-bit PCM file of the given length filled with a square wave.
func WriteWAV(path string, sampleRate, channels int, length time.Duration) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	encoder := wav.NewEncoder(file, sampleRate, bitDepth, channels, pcmFormat)

	frames := int(length.Seconds() * float64(sampleRate))
	data := make([]int, frames*channels)

	for i := range data {
		if (i/channels/50)%2 == 0 {
			data[i] = toneAmplitude
		} else {
			data[i] = -toneAmplitude
		}
	}

	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}

	writeErr := encoder.Write(buffer)
	closeErr := encoder.Close()
	fileErr := file.Close()

	if writeErr != nil {
		return writeErr
	}

	if closeErr != nil {
		return closeErr
	}

	return fileErr
}
