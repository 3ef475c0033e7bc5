package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/rs/zerolog"
)

// frameDecoder fills packed RGBA buffers of the asset's size.
// *ffmpeg.FrameReader implements it.
type frameDecoder interface {
	ReadFrame(buf []byte) error
	Close() error
}

// Source yields the frames of one asset in order. It is not restartable and
// not safe for concurrent use.
type Source struct {
	asset  Asset
	dec    frameDecoder
	logger zerolog.Logger

	next int
	done bool
}

func newSource(asset Asset, dec frameDecoder, logger zerolog.Logger) *Source {
	return &Source{
		asset:  asset,
		dec:    dec,
		logger: logger,
	}
}

func (s *Source) EstimatedFrames() int { return s.asset.EstimatedFrames() }

// Audio is the source's audio track, passed through to the sink as is. It is
// empty when the asset has none.
func (s *Source) Audio() AudioTrack { return s.asset.Audio }

// Next decodes the next frame. It returns io.EOF after the last frame, and
// ErrSourceRead if the decoder produced nothing at all or failed part way.
func (s *Source) Next(ctx context.Context) (*Frame, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, s.asset.Width, s.asset.Height))
	err := s.dec.ReadFrame(img.Pix)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		s.finish()
		if s.next == 0 {
			return nil, fmt.Errorf("%w: no frames decoded from %s", ErrSourceRead, s.asset.Path)
		}
		s.logger.Debug().Int("frames", s.next).Msg("source exhausted")
		return nil, io.EOF
	default:
		s.finish()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Error().Err(err).Int("frame", s.next).Msg("decoder failed")
		return nil, fmt.Errorf("%w: frame %d: %v", ErrSourceRead, s.next, err)
	}

	f := &Frame{
		Index:     s.next,
		Timestamp: timestampFor(s.next, s.asset.FPS),
		Image:     img,
	}
	s.next++
	return f, nil
}

// Close releases the decoder. Safe to call more than once.
func (s *Source) Close() error {
	s.finish()
	return nil
}

func (s *Source) finish() {
	if s.done {
		return
	}
	s.done = true
	s.dec.Close()
}
