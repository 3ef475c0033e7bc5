package video

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kikiluvv/videomatte/internal/ffmpeg"
)

type fakeDecoder struct {
	frames int
	read   int
	// failAt > 0 makes the decoder die before that frame
	failAt int
	closed int
}

func (d *fakeDecoder) ReadFrame(buf []byte) error {
	if d.failAt > 0 && d.read == d.failAt {
		return errors.New("ffmpeg execution failed: exit status 1: corrupt packet")
	}
	if d.read >= d.frames {
		return io.EOF
	}
	for i := range buf {
		buf[i] = byte(d.read)
	}
	d.read++
	return nil
}

func (d *fakeDecoder) Close() error {
	d.closed++
	return nil
}

type fakeEncoder struct {
	path     string
	frames   [][]byte
	fail     bool
	closeErr error
	closed   int
	aborted  int
}

func (e *fakeEncoder) Write(frame []byte) error {
	if e.fail {
		return errors.New("disk full")
	}
	e.frames = append(e.frames, append([]byte(nil), frame...))
	return os.WriteFile(e.path, []byte("partial"), 0644)
}

func (e *fakeEncoder) Close() error {
	e.closed++
	return e.closeErr
}

func (e *fakeEncoder) Abort() { e.aborted++ }

type fakeTools struct {
	info   *ffmpeg.VideoInfo
	err    error
	muxed  []ffmpeg.MuxOptions
	muxErr error
}

func (f *fakeTools) ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info := *f.info
	info.FilePath = path
	return &info, nil
}

func (f *fakeTools) MuxAudio(ctx context.Context, opts ffmpeg.MuxOptions) error {
	if f.muxErr != nil {
		return f.muxErr
	}
	f.muxed = append(f.muxed, opts)
	return os.WriteFile(opts.Output, []byte("muxed"), 0644)
}

func (f *fakeTools) ExtractFrame(ctx context.Context, input string, at time.Duration, output string) error {
	return errors.New("not implemented")
}

func (f *fakeTools) OpenFrameReader(ctx context.Context, opts ffmpeg.ReadOptions) (*ffmpeg.FrameReader, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTools) OpenFrameWriter(ctx context.Context, opts ffmpeg.WriteOptions) (*ffmpeg.FrameWriter, error) {
	return nil, errors.New("not implemented")
}

func newTestOpener(tools Tools, dec *fakeDecoder) (*Opener, *[]*fakeEncoder) {
	o := NewOpener(tools, OutputOptions{Codec: "libx264", Quality: 0.35}, zerolog.Nop())
	var encoders []*fakeEncoder
	o.openDecoder = func(context.Context, Asset) (frameDecoder, error) { return dec, nil }
	o.openEncoder = func(ctx context.Context, path string, res Resolution, fps float64) (frameEncoder, error) {
		e := &fakeEncoder{path: path}
		encoders = append(encoders, e)
		return e, nil
	}
	return o, &encoders
}

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("video"), 0644))
	return path
}

func solidFrame(index, w, h int, c color.NRGBA) *Frame {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return &Frame{Index: index, Image: img}
}

func TestValidateResolution(t *testing.T) {
	for _, r := range SupportedResolutions {
		assert.NoError(t, ValidateResolution(r.Width, r.Height), r.String())
	}

	for _, r := range []Resolution{{640, 480}, {720, 1280}, {1920, 1088}, {4096, 2160}, {0, 0}} {
		err := ValidateResolution(r.Width, r.Height)
		require.Error(t, err, r.String())
		assert.ErrorIs(t, err, ErrUnsupportedResolution)

		var resErr *ResolutionError
		require.True(t, errors.As(err, &resErr))
		assert.Equal(t, r.Width, resErr.Width)
		assert.Contains(t, err.Error(), "720p")
		assert.Contains(t, err.Error(), "1080p")
		assert.Contains(t, err.Error(), "4K")
	}
}

func TestOutputResolution(t *testing.T) {
	assert.Equal(t, Res1080p, OutputResolution(Res4K))
	assert.Equal(t, Res1080p, OutputResolution(Res1080p))
	assert.Equal(t, Res720p, OutputResolution(Res720p))
}

func TestAdvisories(t *testing.T) {
	assert.Empty(t, Advisories(Asset{Width: 1920, Height: 1080}))
	adv := Advisories(Asset{Width: 3840, Height: 2160})
	require.Len(t, adv, 1)
	assert.Contains(t, adv[0], "1920x1080")

	adv = Advisories(Asset{Width: 1920, Height: 1080, Rotation: 90})
	require.Len(t, adv, 1)
	assert.Contains(t, adv[0], "90°")
	assert.Contains(t, adv[0], "1920x1080")
}

func TestEstimatedFrames(t *testing.T) {
	assert.Equal(t, 300, Asset{Duration: 10 * time.Second, FPS: 30}.EstimatedFrames())
	assert.Equal(t, 60, Asset{Duration: 2002 * time.Millisecond, FPS: 30000.0 / 1001}.EstimatedFrames())
	assert.Equal(t, 0, Asset{Duration: time.Second}.EstimatedFrames())
}

func TestProbe(t *testing.T) {
	path := touch(t, filepath.Join(t.TempDir(), "in.mp4"))
	tools := &fakeTools{info: &ffmpeg.VideoInfo{
		Width: 1280, Height: 720, FPS: 25, Duration: 2 * time.Second,
		HasAudio: true, AudioCodec: "aac", VideoCodec: "h264",
	}}
	o, _ := newTestOpener(tools, nil)

	a, err := o.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, Res720p, a.Resolution())
	assert.Equal(t, 50, a.EstimatedFrames())
	assert.True(t, a.HasAudio)
	assert.Equal(t, AudioTrack{SourcePath: path, Codec: "aac"}, a.Audio)
	assert.Zero(t, a.Rotation)
}

func TestProbeRotatedPortraitIsAccepted(t *testing.T) {
	path := touch(t, filepath.Join(t.TempDir(), "phone.mov"))
	tools := &fakeTools{info: &ffmpeg.VideoInfo{
		Width: 1920, Height: 1080, FPS: 30, Duration: time.Second, Rotation: 90,
	}}
	o, _ := newTestOpener(tools, &fakeDecoder{frames: 1})

	a, err := o.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 90, a.Rotation)
	require.NoError(t, ValidateResolution(a.Width, a.Height))

	src, err := o.OpenSource(context.Background(), a)
	require.NoError(t, err)
	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1920, f.Width())
}

func TestProbeErrors(t *testing.T) {
	o, _ := newTestOpener(&fakeTools{err: errors.New("moov atom not found")}, nil)

	_, err := o.Probe(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	assert.ErrorIs(t, err, ErrSourceRead)

	path := touch(t, filepath.Join(t.TempDir(), "corrupt.mp4"))
	_, err = o.Probe(context.Background(), path)
	assert.ErrorIs(t, err, ErrSourceRead)
}

func TestOpenSourceRejectsBeforeDecoding(t *testing.T) {
	opened := false
	o, _ := newTestOpener(&fakeTools{}, nil)
	o.openDecoder = func(context.Context, Asset) (frameDecoder, error) {
		opened = true
		return nil, errors.New("unreachable")
	}

	_, err := o.OpenSource(context.Background(), Asset{Path: "x.mp4", Width: 640, Height: 480, FPS: 30})
	assert.ErrorIs(t, err, ErrUnsupportedResolution)
	assert.False(t, opened)
}

func TestSourceFrames(t *testing.T) {
	dec := &fakeDecoder{frames: 3}
	o, _ := newTestOpener(&fakeTools{}, dec)
	a := Asset{Path: "in.mp4", Width: 1280, Height: 720, FPS: 25, Duration: 120 * time.Millisecond}

	src, err := o.OpenSource(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 3, src.EstimatedFrames())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, f.Index)
		assert.Equal(t, time.Duration(i)*40*time.Millisecond, f.Timestamp)
		assert.Equal(t, byte(i), f.Image.Pix[0])
		assert.Equal(t, 1280, f.Width())
	}

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, src.Close())
	assert.Equal(t, 1, dec.closed)
	assert.Equal(t, 3, dec.read)
}

func TestSourceFramesAreIndependentCopies(t *testing.T) {
	dec := &fakeDecoder{frames: 2}
	o, _ := newTestOpener(&fakeTools{}, dec)
	src, err := o.OpenSource(context.Background(), Asset{Width: 1280, Height: 720, FPS: 25})
	require.NoError(t, err)

	first, err := src.Next(context.Background())
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(0), first.Image.Pix[0])
}

func TestSourceNoFrames(t *testing.T) {
	dec := &fakeDecoder{}
	o, _ := newTestOpener(&fakeTools{}, dec)
	src, err := o.OpenSource(context.Background(), Asset{Width: 1280, Height: 720, FPS: 25})
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrSourceRead)
}

func TestSourceDecoderDiesMidStream(t *testing.T) {
	dec := &fakeDecoder{frames: 10, failAt: 2}
	o, _ := newTestOpener(&fakeTools{}, dec)
	src, err := o.OpenSource(context.Background(), Asset{Path: "in.mp4", Width: 1280, Height: 720, FPS: 25})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := src.Next(ctx)
		require.NoError(t, err)
	}
	_, err = src.Next(ctx)
	require.ErrorIs(t, err, ErrSourceRead)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "frame 2")
	assert.Contains(t, err.Error(), "corrupt packet")
	assert.Equal(t, 1, dec.closed)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSourceCancelled(t *testing.T) {
	dec := &fakeDecoder{frames: 10}
	o, _ := newTestOpener(&fakeTools{}, dec)
	src, err := o.OpenSource(context.Background(), Asset{Width: 1280, Height: 720, FPS: 25})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, dec.read)
}

func TestSinkWritesInOrderAndFinalizes(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.mp4")
	o, encoders := newTestOpener(&fakeTools{}, nil)

	sink, err := o.OpenSink(context.Background(), dest, Asset{Width: 1280, Height: 720, FPS: 25})
	require.NoError(t, err)
	assert.Equal(t, Res720p, sink.OutputResolution())

	red := color.NRGBA{R: 255, A: 255}
	require.NoError(t, sink.Write(solidFrame(0, 1280, 720, red)))
	err = sink.Write(solidFrame(2, 1280, 720, red))
	assert.ErrorIs(t, err, ErrOutOfOrder)
	require.NoError(t, sink.Write(solidFrame(1, 1280, 720, red)))

	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "destination must not exist before Finalize")

	require.NoError(t, sink.Finalize(context.Background()))
	assert.True(t, fileExists(dest))
	assert.Equal(t, 2, sink.Written())

	enc := (*encoders)[0]
	assert.Len(t, enc.frames, 2)
	assert.Equal(t, 1, enc.closed)
	assert.Zero(t, enc.aborted)
	assertOnlyFile(t, dir, "out.mp4")
}

func TestSinkDownscales4K(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.mp4")
	o, encoders := newTestOpener(&fakeTools{}, nil)

	sink, err := o.OpenSink(context.Background(), dest, Asset{Width: 3840, Height: 2160, FPS: 25})
	require.NoError(t, err)
	assert.Equal(t, Res1080p, sink.OutputResolution())

	green := color.NRGBA{G: 255, A: 255}
	require.NoError(t, sink.Write(solidFrame(0, 3840, 2160, green)))

	enc := (*encoders)[0]
	require.Len(t, enc.frames, 1)
	assert.Len(t, enc.frames[0], 1920*1080*4)
	assert.Equal(t, []byte{0, 255, 0, 255}, enc.frames[0][:4])
	require.NoError(t, sink.Abort())
}

func TestSinkAbortRemovesTemp(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.mp4")
	o, encoders := newTestOpener(&fakeTools{}, nil)

	sink, err := o.OpenSink(context.Background(), dest, Asset{Width: 1280, Height: 720, FPS: 25})
	require.NoError(t, err)
	require.NoError(t, sink.Write(solidFrame(0, 1280, 720, color.NRGBA{A: 255})))
	assert.True(t, fileExists((*encoders)[0].path))

	require.NoError(t, sink.Abort())
	require.NoError(t, sink.Abort())
	assert.Equal(t, 1, (*encoders)[0].aborted)
	assert.Zero(t, (*encoders)[0].closed)
	assert.False(t, fileExists((*encoders)[0].path))
	assert.False(t, fileExists(dest))
	assertOnlyFile(t, dir)
}

func TestSinkEncodeFailure(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.mp4")
	o, encoders := newTestOpener(&fakeTools{}, nil)

	sink, err := o.OpenSink(context.Background(), dest, Asset{Width: 1280, Height: 720, FPS: 25})
	require.NoError(t, err)
	(*encoders)[0].fail = true

	err = sink.Write(solidFrame(0, 1280, 720, color.NRGBA{A: 255}))
	assert.ErrorIs(t, err, ErrEncodeWrite)
	require.NoError(t, sink.Abort())
}

func TestSinkEncoderFlushFailure(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.mp4")
	tools := &fakeTools{}
	o, encoders := newTestOpener(tools, nil)

	a := Asset{Width: 1280, Height: 720, FPS: 25, HasAudio: true, Audio: AudioTrack{SourcePath: "in.mp4"}}
	sink, err := o.OpenSink(context.Background(), dest, a)
	require.NoError(t, err)
	require.NoError(t, sink.Write(solidFrame(0, 1280, 720, color.NRGBA{A: 255})))
	(*encoders)[0].closeErr = errors.New("ffmpeg execution failed: exit status 1: No space left on device")

	err = sink.Finalize(context.Background())
	require.ErrorIs(t, err, ErrEncodeWrite)
	assert.Contains(t, err.Error(), "No space left on device")
	assert.Empty(t, tools.muxed, "nothing is muxed after a failed flush")
	assertOnlyFile(t, dir)
}

func TestSinkFinalizeCancelled(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.mp4")
	o, encoders := newTestOpener(&fakeTools{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sink, err := o.OpenSink(ctx, dest, Asset{Width: 1280, Height: 720, FPS: 25})
	require.NoError(t, err)
	require.NoError(t, sink.Write(solidFrame(0, 1280, 720, color.NRGBA{A: 255})))
	cancel()
	(*encoders)[0].closeErr = context.Canceled

	err = sink.Finalize(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrEncodeWrite)
	assertOnlyFile(t, dir)
}

func TestSinkMuxesAudio(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.mp4")
	tools := &fakeTools{}
	o, _ := newTestOpener(tools, nil)

	a := Asset{Path: "in.mp4", Width: 1280, Height: 720, FPS: 25, HasAudio: true,
		Audio: AudioTrack{SourcePath: "in.mp4", Codec: "aac"}}
	sink, err := o.OpenSink(context.Background(), dest, a)
	require.NoError(t, err)
	require.NoError(t, sink.Write(solidFrame(0, 1280, 720, color.NRGBA{A: 255})))
	require.NoError(t, sink.Finalize(context.Background()))

	require.Len(t, tools.muxed, 1)
	assert.Equal(t, "in.mp4", tools.muxed[0].Audio)
	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "muxed", string(content))
	assertOnlyFile(t, dir, "out.mp4")
}

func TestSinkMuxFailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.mp4")
	o, _ := newTestOpener(&fakeTools{muxErr: errors.New("boom")}, nil)

	a := Asset{Width: 1280, Height: 720, FPS: 25, HasAudio: true, Audio: AudioTrack{SourcePath: "in.mp4"}}
	sink, err := o.OpenSink(context.Background(), dest, a)
	require.NoError(t, err)
	require.NoError(t, sink.Write(solidFrame(0, 1280, 720, color.NRGBA{A: 255})))

	err = sink.Finalize(context.Background())
	assert.ErrorIs(t, err, ErrEncodeWrite)
	assertOnlyFile(t, dir)
}

func TestOpenSinkUnwritableDestination(t *testing.T) {
	o, _ := newTestOpener(&fakeTools{}, nil)
	dest := filepath.Join(t.TempDir(), "missing-dir", "out.mp4")
	_, err := o.OpenSink(context.Background(), dest, Asset{Width: 1280, Height: 720, FPS: 25})
	assert.ErrorIs(t, err, ErrEncodeWrite)
}

func TestPacked(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}
	sub := img.SubImage(image.Rect(1, 1, 3, 3)).(*image.NRGBA)
	buf := packed(sub)
	require.Len(t, buf, 2*2*4)
	assert.Equal(t, img.Pix[img.PixOffset(1, 1)], buf[0])
	assert.Equal(t, img.Pix[img.PixOffset(1, 2)], buf[8])
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func assertOnlyFile(t *testing.T, dir string, names ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	assert.ElementsMatch(t, names, got)
}
