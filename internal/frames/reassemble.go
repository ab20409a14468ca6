package frames

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/avatar-service/internal/artifact"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/fileutil"
	"github.com/book-expert/logger"
)

// FrameRateProber reads the frame rate of a video.
type FrameRateProber interface {
	FrameRate(ctx context.Context, videoPath string) (float64, error)
}

// FrameEncoder writes an ordered frame sequence into a silent video. The frame
// size is taken from the first frame.
type FrameEncoder interface {
	Encode(ctx context.Context, frames []string, fps float64, output string) error
}

// Muxer writes output with the video stream of videoPath and the audio stream of audioSource.
type Muxer interface {
	Mux(ctx context.Context, videoPath, audioSource, output string) error
}

// AudioProber reports the duration of the audio stream in a container.
type AudioProber interface {
	AudioDuration(ctx context.Context, path string) (time.Duration, error)
}

// ReassemblyRequest names the inputs and outputs of one reassembly.
// SilentVideo is a scratch path removed once the mux is done.
type ReassemblyRequest struct {
	Frames        FrameSet
	OriginalVideo string
	Output        string
	SilentVideo   string
}

// Reassembler is the frame reassembly stage.
type Reassembler struct {
	prober  FrameRateProber
	encoder FrameEncoder
	muxer   Muxer
	audio   AudioProber
	log     *logger.Logger
}

// NewReassembler creates a Reassembler. A nil audio prober skips the audio check
// on the muxed output.
func NewReassembler(
	prober FrameRateProber,
	encoder FrameEncoder,
	muxer Muxer,
	audio AudioProber,
	log *logger.Logger,
) *Reassembler {
	return &Reassembler{
		prober:  prober,
		encoder: encoder,
		muxer:   muxer,
		audio:   audio,
		log:     log,
	}
}

// Reassemble encodes the selected frames at the original video's frame rate,
// muxes in the original audio and moves the result onto req.Output. Anything at
// req.Output before the call is deleted, and nothing is written there unless the
// whole stage succeeds.
func (r *Reassembler) Reassemble(ctx context.Context, req ReassemblyRequest) error {
	partial := fileutil.PartialPath(req.Output)

	for _, stale := range []string{req.Output, partial} {
		err := fileutil.RemoveIfExists(stale)
		if err != nil {
			return fmt.Errorf("%w: %w", core.ErrReassembly, err)
		}
	}

	frames, err := fileutil.ListMatching(req.Frames.Dir, artifact.FrameGlob)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrReassembly, err)
	}

	if len(frames) == 0 {
		return fmt.Errorf("%w: no frames found in %s", core.ErrReassembly, req.Frames.Dir)
	}

	fps, err := r.prober.FrameRate(ctx, req.OriginalVideo)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrReassembly, err)
	}

	if fps <= 0 {
		return fmt.Errorf("%w: %s reports frame rate %.3f", core.ErrReassembly, req.OriginalVideo, fps)
	}

	err = r.encodeSilent(ctx, frames, fps, req.SilentVideo)

	defer r.removeScratch(req.SilentVideo)

	if err != nil {
		return err
	}

	size, err := r.mux(ctx, req, partial)
	if err != nil {
		r.removeScratch(partial)

		return err
	}

	err = fileutil.Commit(partial, req.Output)
	if err != nil {
		r.removeScratch(partial)

		return fmt.Errorf("%w: %w", core.ErrReassembly, err)
	}

	r.log.Info("Reassembled %d frames (enhanced=%t) at %.2f fps into %s (%s)",
		len(frames), req.Frames.Enhanced, fps, req.Output, fileutil.FormatFileSize(size))

	return nil
}

func (r *Reassembler) encodeSilent(ctx context.Context, frames []string, fps float64, silent string) error {
	err := fileutil.EnsureParentDir(silent)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrReassembly, err)
	}

	err = r.encoder.Encode(ctx, frames, fps, silent)
	if err != nil {
		return fmt.Errorf("%w: encoding frames: %w", core.ErrReassembly, err)
	}

	return nil
}

// mux writes the final video to partial and returns its size.
func (r *Reassembler) mux(ctx context.Context, req ReassemblyRequest, partial string) (int64, error) {
	err := fileutil.EnsureParentDir(req.Output)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrReassembly, err)
	}

	err = r.muxer.Mux(ctx, req.SilentVideo, req.OriginalVideo, partial)
	if err != nil {
		return 0, fmt.Errorf("%w: muxing audio: %w", core.ErrReassembly, err)
	}

	size, err := fileutil.RequireNonEmptyFile(partial)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrReassembly, err)
	}

	if r.audio == nil {
		return size, nil
	}

	duration, err := r.audio.AudioDuration(ctx, partial)
	if err != nil {
		return 0, fmt.Errorf("%w: probing audio: %w", core.ErrReassembly, err)
	}

	if duration <= 0 {
		return 0, fmt.Errorf("%w: %s has no audio track", core.ErrReassembly, req.Output)
	}

	return size, nil
}

func (r *Reassembler) removeScratch(path string) {
	err := fileutil.RemoveIfExists(path)
	if err != nil {
		r.log.Warn("Failed to remove '%s': %v", path, err)
	}
}
