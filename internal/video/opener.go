package video

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	vidio "github.com/AlexEidt/Vidio"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"github.com/kikiluvv/videomatte/internal/ffmpeg"
	"github.com/kikiluvv/videomatte/pkg/util"
)

// Tools is the ffmpeg surface the video package relies on. *ffmpeg.Executor
// implements it.
type Tools interface {
	ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
	MuxAudio(ctx context.Context, opts ffmpeg.MuxOptions) error
	ExtractFrame(ctx context.Context, input string, at time.Duration, output string) error
	OpenFrameReader(ctx context.Context, opts ffmpeg.ReadOptions) (*ffmpeg.FrameReader, error)
	OpenFrameWriter(ctx context.Context, opts ffmpeg.WriteOptions) (*ffmpeg.FrameWriter, error)
}

// OutputOptions configures the encoder.
type OutputOptions struct {
	Codec   string
	Quality float64
	TempDir string
}

// Opener creates sources and sinks for assets.
type Opener struct {
	tools  Tools
	out    OutputOptions
	logger zerolog.Logger

	// swapped out in tests
	openDecoder func(ctx context.Context, a Asset) (frameDecoder, error)
	openEncoder func(ctx context.Context, path string, res Resolution, fps float64) (frameEncoder, error)
}

func NewOpener(tools Tools, out OutputOptions, logger zerolog.Logger) *Opener {
	if out.TempDir == "" {
		out.TempDir = os.TempDir()
	}
	o := &Opener{
		tools:  tools,
		out:    out,
		logger: logger.With().Str("component", "video").Logger(),
	}
	o.openDecoder = o.ffmpegDecoder
	o.openEncoder = o.ffmpegEncoder
	return o
}

// The decoder and encoder children live as long as ctx; cancelling it kills
// them.
func (o *Opener) ffmpegDecoder(ctx context.Context, a Asset) (frameDecoder, error) {
	r, err := o.tools.OpenFrameReader(ctx, ffmpeg.ReadOptions{
		Input:  a.Path,
		Width:  a.Width,
		Height: a.Height,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (o *Opener) ffmpegEncoder(ctx context.Context, path string, res Resolution, fps float64) (frameEncoder, error) {
	w, err := o.tools.OpenFrameWriter(ctx, ffmpeg.WriteOptions{
		Output:  path,
		Width:   res.Width,
		Height:  res.Height,
		FPS:     fps,
		Codec:   o.out.Codec,
		Quality: o.out.Quality,
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Probe reads the metadata of path without decoding any frame.
func (o *Opener) Probe(ctx context.Context, path string) (Asset, error) {
	if !util.FileExists(path) {
		return Asset{}, fmt.Errorf("%w: %s does not exist", ErrSourceRead, path)
	}

	info, err := o.tools.ProbeVideo(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Asset{}, ctxErr
		}
		return Asset{}, fmt.Errorf("%w: %v", ErrSourceRead, err)
	}

	a := Asset{
		Path:       path,
		Width:      info.Width,
		Height:     info.Height,
		Duration:   info.Duration,
		FPS:        info.FPS,
		VideoCodec: info.VideoCodec,
		HasAudio:   info.HasAudio,
		Rotation:   info.Rotation,
	}
	if info.HasAudio {
		a.Audio = AudioTrack{SourcePath: path, Codec: info.AudioCodec}
	}
	// containers without a duration still carry a frame count
	if a.Duration == 0 && info.Frames > 0 && a.FPS > 0 {
		a.Duration = timestampFor(info.Frames, a.FPS)
	}
	return a, nil
}

// OpenSource starts decoding a. Unsupported sizes are rejected before any
// decoder is started.
func (o *Opener) OpenSource(ctx context.Context, a Asset) (*Source, error) {
	if err := ValidateResolution(a.Width, a.Height); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dec, err := o.openDecoder(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceRead, err)
	}

	o.logger.Debug().
		Str("file", a.Path).
		Int("estimated_frames", a.EstimatedFrames()).
		Int("rotation", a.Rotation).
		Msg("source opened")
	return newSource(a, dec, o.logger.With().Str("stage", "source").Logger()), nil
}

// OpenSink prepares an encoder for a at OutputResolution(a). Nothing is
// created at dest until Finalize.
func (o *Opener) OpenSink(ctx context.Context, dest string, a Asset) (*Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := destinationWritable(dest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeWrite, err)
	}

	tag := ksuid.New().String()
	out := OutputResolution(a.Resolution())
	temp := util.SiblingPath(dest, tag+".partial")

	enc, err := o.openEncoder(ctx, temp, out, a.FPS)
	if err != nil {
		util.CleanupFiles(temp)
		return nil, fmt.Errorf("%w: %v", ErrEncodeWrite, err)
	}

	o.logger.Debug().
		Str("output", dest).
		Str("temp", temp).
		Str("resolution", out.String()).
		Msg("sink opened")

	return &Sink{
		dest:      dest,
		asset:     a,
		out:       out,
		tag:       tag,
		enc:       enc,
		tools:     o.tools,
		logger:    o.logger.With().Str("stage", "sink").Logger(),
		videoTemp: temp,
	}, nil
}

// Still grabs the frame at offset at via ffmpeg without starting a decoder
// pipe. Index 0 is reported for the returned frame.
func (o *Opener) Still(ctx context.Context, a Asset, at time.Duration) (*Frame, error) {
	if err := util.EnsureDir(o.out.TempDir); err != nil {
		return nil, err
	}
	tmp := filepath.Join(o.out.TempDir, "still-"+ksuid.New().String()+".png")
	defer util.CleanupFiles(tmp)

	if err := o.tools.ExtractFrame(ctx, a.Path, at, tmp); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceRead, err)
	}

	w, h, pix, err := vidio.Read(tmp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceRead, err)
	}
	img := &image.NRGBA{Pix: pix, Stride: 4 * w, Rect: image.Rect(0, 0, w, h)}
	return &Frame{Index: 0, Timestamp: at, Image: img}, nil
}

func dirOf(path string) string {
	dir := filepath.Dir(path)
	if dir == "" {
		return "."
	}
	return dir
}
