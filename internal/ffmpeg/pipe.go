package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// ReadOptions describes a raw RGBA decode of the first video stream.
type ReadOptions struct {
	Input string
	// Format forces the input demuxer, e.g. "lavfi". Empty lets ffmpeg probe.
	Format string
	// Width and Height are the stored (unrotated) frame size.
	Width  int
	Height int
}

// FrameReader streams packed RGBA frames out of an ffmpeg child.
type FrameReader struct {
	proc      *process
	out       io.ReadCloser
	frameSize int
	err       error
	closed    bool
}

// OpenFrameReader starts decoding opts.Input. Display rotation is ignored so
// frames keep the size ffprobe reports.
func (e *Executor) OpenFrameReader(ctx context.Context, opts ReadOptions) (*FrameReader, error) {
	if opts.Input == "" || opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("frame reader requires an input and a frame size")
	}

	args := []string{"-noautorotate"}
	if opts.Format != "" {
		args = append(args, "-f", opts.Format)
	}
	args = append(args,
		"-i", opts.Input,
		"-map", "0:v:0",
		"-an", "-sn",
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)

	var out io.ReadCloser
	p, err := e.start(ctx, RunOptions{
		Args:            args,
		ProgressHandler: e.logProgress("decode"),
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("decode")
		},
	}, func(cmd *exec.Cmd) error {
		var err error
		out, err = cmd.StdoutPipe()
		return err
	})
	if err != nil {
		return nil, err
	}

	return &FrameReader{
		proc:      p,
		out:       out,
		frameSize: opts.Width * opts.Height * 4,
	}, nil
}

// ReadFrame fills buf with the next frame. It returns io.EOF once ffmpeg has
// written its last frame and exited cleanly. A decoder that dies, or stops
// mid-frame, is an error; a cancelled context is returned as is. Errors are
// sticky.
func (r *FrameReader) ReadFrame(buf []byte) error {
	if r.err != nil {
		return r.err
	}
	if len(buf) != r.frameSize {
		return fmt.Errorf("frame buffer is %d bytes, want %d", len(buf), r.frameSize)
	}

	_, err := io.ReadFull(r.out, buf)
	if err == nil {
		return nil
	}

	werr := r.proc.wait()
	switch {
	case werr != nil:
		r.err = werr
	case errors.Is(err, io.EOF):
		r.err = io.EOF
	default:
		r.err = fmt.Errorf("decoder stopped mid-frame: %w", err)
	}
	return r.err
}

// Close stops the decoder if it is still running. Safe to call more than once.
func (r *FrameReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.err == nil {
		r.err = io.EOF
		r.proc.kill()
	}
	return nil
}

// WriteOptions describes an encode of packed RGBA frames read from stdin.
type WriteOptions struct {
	Output string
	Width  int
	Height int
	FPS    float64
	Codec  string
	// Quality runs from 0 (best) to 1 (worst). For x264/x265 it maps to
	// crf 0-51, for other codecs to qscale 1-31.
	Quality float64
}

// FrameWriter feeds packed RGBA frames to an ffmpeg encoder.
type FrameWriter struct {
	proc     *process
	in       io.WriteCloser
	err      error
	closed   bool
	closeErr error
}

// OpenFrameWriter starts an encoder writing opts.Output. The output has no
// audio; see MuxAudio.
func (e *Executor) OpenFrameWriter(ctx context.Context, opts WriteOptions) (*FrameWriter, error) {
	if opts.Output == "" || opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("frame writer requires an output and a frame size")
	}
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("frame writer requires a frame rate, got %v", opts.FPS)
	}

	var in io.WriteCloser
	p, err := e.start(ctx, RunOptions{
		Args:            encodeArgs(opts),
		ProgressHandler: e.logProgress("encode"),
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("encode")
		},
	}, func(cmd *exec.Cmd) error {
		var err error
		in, err = cmd.StdinPipe()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &FrameWriter{proc: p, in: in}, nil
}

func encodeArgs(opts WriteOptions) []string {
	codec := opts.Codec
	if codec == "" {
		codec = "libx264"
	}
	q := min(max(opts.Quality, 0), 1)

	args := []string{
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-r", strconv.FormatFloat(opts.FPS, 'f', -1, 64),
		"-i", "pipe:0",
		"-an",
		"-c:v", codec,
		"-pix_fmt", "yuv420p",
	}
	switch codec {
	case "libx264", "libx265":
		args = append(args, "-crf", strconv.Itoa(int(q*51)))
	default:
		args = append(args, "-q:v", strconv.Itoa(int(q*30)+1))
	}
	return append(args, opts.Output)
}

// Write sends one frame. If the encoder has died its exit error is returned.
func (w *FrameWriter) Write(frame []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return fmt.Errorf("frame writer closed")
	}
	if _, err := w.in.Write(frame); err != nil {
		w.in.Close()
		if werr := w.proc.wait(); werr != nil {
			w.err = werr
		} else {
			w.err = err
		}
		return w.err
	}
	return nil
}

// Close ends the input and waits for the encoder to flush. It returns the
// encoder's exit error, so a failed flush is never mistaken for success.
func (w *FrameWriter) Close() error {
	if w.closed {
		return w.closeErr
	}
	w.closed = true
	w.in.Close()
	w.closeErr = w.proc.wait()
	if w.closeErr == nil {
		w.closeErr = w.err
	}
	return w.closeErr
}

// Abort kills the encoder without flushing. The output file is left for the
// caller to remove.
func (w *FrameWriter) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.proc.kill()
	w.in.Close()
}
