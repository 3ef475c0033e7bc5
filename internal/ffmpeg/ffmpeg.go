package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotInstalled is returned by New when ffmpeg or ffprobe is missing.
var ErrNotInstalled = errors.New("ffmpeg not installed")

// Executor runs ffmpeg and ffprobe as subprocesses.
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
}

// New locates ffmpeg and ffprobe in PATH.
func New(logger zerolog.Logger, threads int) (*Executor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found in PATH: %v", ErrNotInstalled, err)
	}

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe not found in PATH: %v", ErrNotInstalled, err)
	}

	return &Executor{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     threads,
	}, nil
}

// waitDelay bounds how long Wait keeps draining pipes after the child is
// killed.
const waitDelay = 5 * time.Second

// Run executes ffmpeg with the given arguments. Progress is requested on
// stderr and parsed into Progress blocks for opts.ProgressHandler.
func (e *Executor) Run(ctx context.Context, opts RunOptions) error {
	if len(opts.Args) == 0 {
		return fmt.Errorf("no arguments provided")
	}

	p, err := e.start(ctx, opts, nil)
	if err != nil {
		return err
	}
	if err := p.wait(); err != nil {
		return err
	}

	e.logger.Debug().Msg("ffmpeg execution completed")
	return nil
}

// globalArgs precede every invocation. Global options must come before the
// inputs.
func (e *Executor) globalArgs() []string {
	args := []string{"-y", "-hide_banner", "-nostdin", "-loglevel", "error"}
	if e.threads > 0 {
		args = append(args, "-threads", strconv.Itoa(e.threads))
	}
	return append(args, "-progress", "pipe:2")
}

// process is a running ffmpeg child whose stderr is parsed by streamOutput.
type process struct {
	parent  context.Context
	cancel  context.CancelFunc
	cmd     *exec.Cmd
	logDone chan struct{}
	lastErr string

	waited  bool
	waitErr error
}

// start launches ffmpeg. setup runs before Start and may attach stdin or
// stdout pipes. The child is killed when ctx ends.
func (e *Executor) start(ctx context.Context, opts RunOptions, setup func(*exec.Cmd) error) (*process, error) {
	args := append(e.globalArgs(), opts.Args...)
	e.logger.Debug().Strs("args", args).Msg("executing ffmpeg")

	pctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(pctx, e.ffmpegPath, args...)
	cmd.WaitDelay = waitDelay

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if setup != nil {
		if err := setup(cmd); err != nil {
			cancel()
			return nil, err
		}
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	p := &process{
		parent:  ctx,
		cancel:  cancel,
		cmd:     cmd,
		logDone: make(chan struct{}),
	}
	go func() {
		defer close(p.logDone)
		p.lastErr = streamOutput(stderr, opts.ProgressHandler, opts.LogHandler)
	}()
	return p, nil
}

// wait reaps the child once. A cancelled parent context is reported as is;
// otherwise a non-zero exit carries the last line ffmpeg logged.
func (p *process) wait() error {
	if p.waited {
		return p.waitErr
	}
	p.waited = true

	<-p.logDone
	err := p.cmd.Wait()
	p.cancel()

	switch {
	case p.parent.Err() != nil:
		p.waitErr = p.parent.Err()
	case err != nil && p.lastErr != "":
		p.waitErr = fmt.Errorf("ffmpeg execution failed: %w: %s", err, p.lastErr)
	case err != nil:
		p.waitErr = fmt.Errorf("ffmpeg execution failed: %w", err)
	}
	return p.waitErr
}

// kill stops the child without letting it flush and reaps it.
func (p *process) kill() {
	p.cancel()
	p.wait()
}

// streamOutput parses the key=value progress blocks ffmpeg writes with
// -progress and forwards every other line to logHandler. It returns the last
// non-progress line, which is usually the error ffmpeg died with.
func streamOutput(r io.Reader, progressHandler ProgressFunc, logHandler func(string)) string {
	scanner := bufio.NewScanner(r)
	p := &Progress{}
	var last string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.ContainsAny(key, " \t") {
			if line != "" {
				last = line
				if logHandler != nil {
					logHandler(line)
				}
			}
			continue
		}

		switch key {
		case "frame":
			p.Frame, _ = strconv.Atoi(value)
		case "fps":
			p.FPS, _ = strconv.ParseFloat(value, 64)
		case "bitrate":
			p.Bitrate = value
		case "out_time_us", "out_time_ms":
			// out_time_ms is microseconds too, ffmpeg has always mislabelled it
			if us, err := strconv.ParseInt(value, 10, 64); err == nil {
				p.OutTime = time.Duration(us) * time.Microsecond
			}
		case "speed":
			p.Speed = value
		case "progress":
			if progressHandler != nil {
				progressHandler(p)
			}
			p = &Progress{}
		default:
			if logHandler != nil {
				logHandler(line)
			}
		}
	}
	return last
}
