// Package opencv decodes and encodes frame sequences with OpenCV through gocv.
package opencv

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/avatar-service/internal/frames"
	"gocv.io/x/gocv"
)

// DefaultFourCC is the codec of the intermediate silent video.
const DefaultFourCC = "mp4v"

var (
	// ErrOpenVideo is returned when a video cannot be opened for reading or writing.
	ErrOpenVideo = errors.New("failed to open video")
	// ErrReadImage is returned when a frame image cannot be decoded.
	ErrReadImage = errors.New("failed to read image")
	// ErrWriteImage is returned when a frame image cannot be written.
	ErrWriteImage = errors.New("failed to write image")
	// ErrFrameSizeMismatch is returned when a frame differs in size from the first frame.
	ErrFrameSizeMismatch = errors.New("frame size differs from first frame")
)

// Decoder implements frames.FrameDecoder.
type Decoder struct{}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode reads videoPath frame by frame and writes each frame as an image.
func (d *Decoder) Decode(ctx context.Context, videoPath string, path frames.FramePath) (int, error) {
	capture, err := openCapture(videoPath)
	if err != nil {
		return 0, err
	}
	defer capture.Close()

	img := gocv.NewMat()
	defer img.Close()

	count := 0

	for capture.Read(&img) {
		if img.Empty() {
			break
		}

		err = ctx.Err()
		if err != nil {
			return count, err
		}

		name, nameErr := path(count)
		if nameErr != nil {
			return count, nameErr
		}

		if !gocv.IMWrite(name, img) {
			return count, fmt.Errorf("%w: %s", ErrWriteImage, name)
		}

		count++
	}

	return count, nil
}

func openCapture(videoPath string) (*gocv.VideoCapture, error) {
	capture, err := gocv.VideoCaptureFile(videoPath)
	if err != nil {
		if capture != nil {
			_ = capture.Close()
		}

		return nil, fmt.Errorf("%w: %s: %w", ErrOpenVideo, videoPath, err)
	}

	if !capture.IsOpened() {
		_ = capture.Close()

		return nil, fmt.Errorf("%w: %s", ErrOpenVideo, videoPath)
	}

	return capture, nil
}

// Prober implements frames.FrameRateProber.
type Prober struct{}

// NewProber creates a Prober.
func NewProber() *Prober {
	return &Prober{}
}

// FrameRate returns the frame rate reported by the container.
func (p *Prober) FrameRate(_ context.Context, videoPath string) (float64, error) {
	capture, err := openCapture(videoPath)
	if err != nil {
		return 0, err
	}
	defer capture.Close()

	return capture.Get(gocv.VideoCaptureFPS), nil
}

// Encoder implements frames.FrameEncoder.
type Encoder struct {
	fourCC string
}

// NewEncoder creates an Encoder writing with the given FourCC; empty means DefaultFourCC.
func NewEncoder(fourCC string) *Encoder {
	if fourCC == "" {
		fourCC = DefaultFourCC
	}

	return &Encoder{fourCC: fourCC}
}

// Encode writes frameFiles in order into output. Every frame must match the
// size of the first one.
func (e *Encoder) Encode(ctx context.Context, frameFiles []string, fps float64, output string) error {
	if len(frameFiles) == 0 {
		return fmt.Errorf("%w: no frames to encode", ErrReadImage)
	}

	first := gocv.IMRead(frameFiles[0], gocv.IMReadColor)
	if first.Empty() {
		first.Close()

		return fmt.Errorf("%w: %s", ErrReadImage, frameFiles[0])
	}

	width, height := first.Cols(), first.Rows()
	first.Close()

	writer, err := gocv.VideoWriterFile(output, e.fourCC, fps, width, height, true)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrOpenVideo, output, err)
	}

	for _, file := range frameFiles {
		err = ctx.Err()
		if err == nil {
			err = writeFrame(writer, file, width, height)
		}

		if err != nil {
			_ = writer.Close()

			return err
		}
	}

	err = writer.Close()
	if err != nil {
		return fmt.Errorf("failed to finalize %s: %w", output, err)
	}

	return nil
}

func writeFrame(writer *gocv.VideoWriter, file string, width, height int) error {
	img := gocv.IMRead(file, gocv.IMReadColor)
	defer img.Close()

	if img.Empty() {
		return fmt.Errorf("%w: %s", ErrReadImage, file)
	}

	if img.Cols() != width || img.Rows() != height {
		return fmt.Errorf("%w: %s is %dx%d, expected %dx%d",
			ErrFrameSizeMismatch, file, img.Cols(), img.Rows(), width, height)
	}

	err := writer.Write(img)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", file, err)
	}

	return nil
}
