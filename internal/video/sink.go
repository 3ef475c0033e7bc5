package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/videomatte/internal/ffmpeg"
	"github.com/kikiluvv/videomatte/pkg/util"
)

// frameEncoder consumes packed RGBA frames of a fixed size. Close flushes and
// reports the encoder's exit status; Abort stops it without flushing.
// *ffmpeg.FrameWriter implements it.
type frameEncoder interface {
	Write(frame []byte) error
	Close() error
	Abort()
}

// Sink encodes frames to a hidden file next to the destination and moves it
// into place on Finalize. The destination is never written on failure.
type Sink struct {
	dest   string
	asset  Asset
	out    Resolution
	tag    string
	enc    frameEncoder
	tools  Tools
	logger zerolog.Logger

	videoTemp string
	muxTemp   string
	scratch   *image.NRGBA
	next      int
	closed    bool
	done      bool
}

func (s *Sink) OutputResolution() Resolution { return s.out }
func (s *Sink) Written() int                 { return s.next }

// Write encodes f. Frames must arrive in index order starting at 0.
func (s *Sink) Write(f *Frame) error {
	if s.done {
		return fmt.Errorf("%w: sink already closed", ErrEncodeWrite)
	}
	if f.Index != s.next {
		return fmt.Errorf("%w: got frame %d, expected %d", ErrOutOfOrder, f.Index, s.next)
	}

	img := f.Image
	if img.Rect.Dx() != s.out.Width || img.Rect.Dy() != s.out.Height {
		if s.scratch == nil {
			s.scratch = image.NewNRGBA(image.Rect(0, 0, s.out.Width, s.out.Height))
		}
		img = fit(s.scratch, img)
	}

	if err := s.enc.Write(packed(img)); err != nil {
		return fmt.Errorf("%w: frame %d: %v", ErrEncodeWrite, f.Index, err)
	}
	s.next++
	return nil
}

// Finalize flushes the encoder, re-attaches the source audio and renames the
// result onto the destination.
func (s *Sink) Finalize(ctx context.Context) error {
	if s.done {
		return fmt.Errorf("%w: sink already closed", ErrEncodeWrite)
	}
	if s.next == 0 {
		s.Abort()
		return fmt.Errorf("%w: no frames written", ErrEncodeWrite)
	}

	if err := s.closeEncoder(); err != nil {
		s.Abort()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.logger.Error().Err(err).Str("output", s.dest).Msg("encoder failed")
		return fmt.Errorf("%w: %v", ErrEncodeWrite, err)
	}

	final := s.videoTemp
	if s.asset.HasAudio && s.tools != nil {
		s.muxTemp = util.SiblingPath(s.dest, s.tag+".mux")
		err := s.tools.MuxAudio(ctx, ffmpeg.MuxOptions{
			Video:  s.videoTemp,
			Audio:  s.asset.Audio.SourcePath,
			Output: s.muxTemp,
		})
		if err != nil {
			s.Abort()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %v", ErrEncodeWrite, err)
		}
		final = s.muxTemp
	}

	if err := os.Rename(final, s.dest); err != nil {
		s.Abort()
		return fmt.Errorf("%w: %v", ErrEncodeWrite, err)
	}

	s.done = true
	util.CleanupFiles(s.videoTemp, s.muxTemp)
	s.logger.Info().
		Str("output", s.dest).
		Int("frames", s.next).
		Str("resolution", s.out.String()).
		Msg("output written")
	return nil
}

// Abort stops encoding and removes every temporary file. Safe to call more
// than once and after Finalize.
func (s *Sink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	if !s.closed {
		s.closed = true
		s.enc.Abort()
	}
	util.CleanupFiles(s.videoTemp, s.muxTemp)
	s.logger.Debug().Str("output", s.dest).Int("frames", s.next).Msg("sink aborted")
	return nil
}

func (s *Sink) closeEncoder() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.enc.Close()
}

// destinationWritable reports whether a file can be created in dest's directory.
func destinationWritable(dest string) error {
	st, err := os.Stat(dest)
	switch {
	case err == nil && st.IsDir():
		return fmt.Errorf("%s is a directory", dest)
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return err
	}

	probe, err := os.CreateTemp(dirOf(dest), ".videomatte-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
