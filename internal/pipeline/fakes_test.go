package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/videomatte/internal/matting"
	"github.com/kikiluvv/videomatte/internal/video"
)

var (
	keyGreen = color.NRGBA{G: 0xb1, B: 0x40, A: 0xff}
	red      = color.NRGBA{R: 0xff, A: 0xff}
	blue     = color.NRGBA{B: 0xff, A: 0xff}
)

func filled(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// fakeMedia serves synthetic frames and records what the coordinator did.
type fakeMedia struct {
	asset    video.Asset
	probeErr error

	frames    int
	colorOf   func(i int) color.NRGBA
	nextErrAt int
	nextErr   error

	sinkErr    error
	writeErrAt int

	// frames handed out by the source and not yet written
	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu     sync.Mutex
	probed int
	src    *fakeSource
	sink   *fakeSink
	// asset handed to OpenSink
	sinkAsset video.Asset
}

func newFakeMedia(asset video.Asset, frames int) *fakeMedia {
	return &fakeMedia{
		asset:      asset,
		frames:     frames,
		colorOf:    func(int) color.NRGBA { return red },
		nextErrAt:  -1,
		writeErrAt: -1,
	}
}

func (m *fakeMedia) Probe(ctx context.Context, path string) (video.Asset, error) {
	m.mu.Lock()
	m.probed++
	m.mu.Unlock()
	if m.probeErr != nil {
		return video.Asset{}, m.probeErr
	}
	a := m.asset
	a.Path = path
	return a, nil
}

func (m *fakeMedia) OpenSource(ctx context.Context, a video.Asset) (FrameSource, error) {
	if err := video.ValidateResolution(a.Width, a.Height); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.src = &fakeSource{m: m, asset: a}
	return m.src, nil
}

func (m *fakeMedia) OpenSink(ctx context.Context, dest string, a video.Asset) (FrameSink, error) {
	if m.sinkErr != nil {
		return nil, m.sinkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinkAsset = a
	m.sink = &fakeSink{m: m, dest: dest, failAt: m.writeErrAt}
	return m.sink, nil
}

func (m *fakeMedia) Still(ctx context.Context, a video.Asset, at time.Duration) (*video.Frame, error) {
	return &video.Frame{Image: filled(a.Width, a.Height, m.colorOf(0))}, nil
}

func (m *fakeMedia) opened() (*fakeSource, *fakeSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.src, m.sink
}

type fakeSource struct {
	m      *fakeMedia
	asset  video.Asset
	next   int
	closed atomic.Bool
}

func (s *fakeSource) Next(ctx context.Context) (*video.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next == s.m.nextErrAt {
		return nil, s.m.nextErr
	}
	if s.next >= s.m.frames {
		return nil, io.EOF
	}
	f := &video.Frame{
		Index:     s.next,
		Timestamp: time.Duration(s.next) * 40 * time.Millisecond,
		Image:     filled(s.asset.Width, s.asset.Height, s.m.colorOf(s.next)),
	}
	s.next++
	n := s.m.inFlight.Add(1)
	for {
		peak := s.m.maxInFlight.Load()
		if n <= peak || s.m.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	return f, nil
}

func (s *fakeSource) EstimatedFrames() int { return s.asset.EstimatedFrames() }

func (s *fakeSource) Audio() video.AudioTrack {
	if !s.asset.HasAudio {
		return video.AudioTrack{}
	}
	return video.AudioTrack{SourcePath: s.asset.Path, Codec: "aac"}
}

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeSink struct {
	m         *fakeMedia
	dest      string
	failAt    int
	written   []*video.Frame
	finalized bool
	aborted   bool
}

func (s *fakeSink) Write(f *video.Frame) error {
	if f.Index != len(s.written) {
		return video.ErrOutOfOrder
	}
	if f.Index == s.failAt {
		return errors.Join(video.ErrEncodeWrite, errors.New("disk full"))
	}
	s.written = append(s.written, f)
	s.m.inFlight.Add(-1)
	return nil
}

func (s *fakeSink) Finalize(ctx context.Context) error {
	s.finalized = true
	return os.WriteFile(s.dest, []byte("video"), 0644)
}

func (s *fakeSink) Abort() error {
	s.aborted = true
	return nil
}

// fakeEngine keys out the green frames. Odd frames are delayed so workers
// finish out of order.
type fakeEngine struct {
	inner   matting.Engine
	failAt  int
	block   chan struct{}
	closed  atomic.Int32
	started atomic.Int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		inner:  matting.NewKeyEngine(keyGreen, 0.1, 0.1),
		failAt: -1,
	}
}

func (e *fakeEngine) Infer(ctx context.Context, f *video.Frame) (*matting.AlphaMask, error) {
	e.started.Add(1)
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Index == e.failAt {
		return nil, errors.New("model exploded")
	}
	if f.Index%2 == 1 {
		time.Sleep(2 * time.Millisecond)
	}
	return e.inner.Infer(ctx, f)
}

func (e *fakeEngine) Close() error {
	e.closed.Add(1)
	return nil
}

func (e *fakeEngine) loader() matting.Loader {
	return func() (matting.Engine, error) { return e, nil }
}

func testLogger() zerolog.Logger { return zerolog.Nop() }
