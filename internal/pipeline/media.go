package pipeline

import (
	"context"
	"time"

	"github.com/kikiluvv/videomatte/internal/video"
)

// FrameSource yields decoded frames in index order until io.EOF.
type FrameSource interface {
	Next(ctx context.Context) (*video.Frame, error)
	EstimatedFrames() int
	// Audio is the track passed through to the sink untouched.
	Audio() video.AudioTrack
	Close() error
}

// FrameSink accepts frames in index order and publishes the result on
// Finalize. Abort discards everything written.
type FrameSink interface {
	Write(f *video.Frame) error
	Finalize(ctx context.Context) error
	Abort() error
}

// Media opens the inputs and outputs of a job.
type Media interface {
	Probe(ctx context.Context, path string) (video.Asset, error)
	OpenSource(ctx context.Context, a video.Asset) (FrameSource, error)
	OpenSink(ctx context.Context, dest string, a video.Asset) (FrameSink, error)
	Still(ctx context.Context, a video.Asset, at time.Duration) (*video.Frame, error)
}

type openerMedia struct {
	o *video.Opener
}

// NewMedia adapts a video.Opener.
func NewMedia(o *video.Opener) Media {
	return &openerMedia{o: o}
}

func (m *openerMedia) Probe(ctx context.Context, path string) (video.Asset, error) {
	return m.o.Probe(ctx, path)
}

func (m *openerMedia) OpenSource(ctx context.Context, a video.Asset) (FrameSource, error) {
	src, err := m.o.OpenSource(ctx, a)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (m *openerMedia) OpenSink(ctx context.Context, dest string, a video.Asset) (FrameSink, error) {
	sink, err := m.o.OpenSink(ctx, dest, a)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

func (m *openerMedia) Still(ctx context.Context, a video.Asset, at time.Duration) (*video.Frame, error) {
	return m.o.Still(ctx, a, at)
}
