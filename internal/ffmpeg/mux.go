package ffmpeg

import (
	"context"
	"fmt"
	"time"

	"github.com/kikiluvv/videomatte/pkg/util"
)

// MuxAudio writes opts.Output with the first video stream of opts.Video and
// every audio stream of opts.Audio. Both are stream-copied, nothing is
// re-encoded.
func (e *Executor) MuxAudio(ctx context.Context, opts MuxOptions) error {
	if opts.Video == "" || opts.Audio == "" || opts.Output == "" {
		return fmt.Errorf("mux requires video, audio and output paths")
	}

	e.logger.Debug().
		Str("video", opts.Video).
		Str("audio", opts.Audio).
		Str("output", opts.Output).
		Msg("muxing audio")

	args := []string{
		"-i", opts.Video,
		"-i", opts.Audio,
		"-map", "0:v:0",
		"-map", "1:a?",
		"-c", "copy",
		opts.Output,
	}

	err := e.Run(ctx, RunOptions{
		Args:            args,
		ProgressHandler: e.logProgress("mux"),
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("mux")
		},
	})
	if err != nil {
		return fmt.Errorf("audio mux failed: %w", err)
	}
	return nil
}

// ExtractFrame writes the frame at the given offset as a still image. The
// output format follows the file extension. Like OpenFrameReader it keeps the
// stored orientation.
func (e *Executor) ExtractFrame(ctx context.Context, input string, at time.Duration, output string) error {
	args := []string{
		"-noautorotate",
		"-ss", util.FormatDuration(at),
		"-i", input,
		"-frames:v", "1",
		"-update", "1",
		output,
	}

	err := e.Run(ctx, RunOptions{
		Args:            args,
		ProgressHandler: e.logProgress("extract"),
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("frame extraction")
		},
	})
	if err != nil {
		return fmt.Errorf("frame extraction failed: %w", err)
	}
	return nil
}

// logProgress traces the -progress blocks of one operation.
func (e *Executor) logProgress(op string) ProgressFunc {
	return func(p *Progress) {
		e.logger.Trace().
			Str("op", op).
			Int("frame", p.Frame).
			Float64("fps", p.FPS).
			Str("bitrate", p.Bitrate).
			Dur("out_time", p.OutTime).
			Str("speed", p.Speed).
			Msg("ffmpeg progress")
	}
}
