package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kikiluvv/videomatte/internal/composite"
	"github.com/kikiluvv/videomatte/internal/matting"
	"github.com/kikiluvv/videomatte/internal/video"
)

// Coordinator runs background-removal jobs, one at a time.
type Coordinator struct {
	logger zerolog.Logger
	opts   Options
	media  Media
	loader matting.Loader

	now          func() time.Time
	memAvailable func(context.Context) (uint64, error)

	mu     sync.Mutex
	active *Job
}

// NewCoordinator wires the stages of a job together.
func NewCoordinator(media Media, loader matting.Loader, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	return &Coordinator{
		logger:       logger.With().Str("component", "pipeline").Logger(),
		opts:         opts,
		media:        media,
		loader:       loader,
		now:          time.Now,
		memAvailable: availableMemory,
	}
}

// Active returns the running job, or nil.
func (c *Coordinator) Active() *Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Inspect probes path and checks it can be processed. The advisories are the
// ones a job on this file would deliver.
func (c *Coordinator) Inspect(ctx context.Context, path string) (video.Asset, []string, error) {
	asset, err := c.media.Probe(ctx, path)
	if err != nil {
		return video.Asset{}, nil, err
	}
	if err := video.ValidateResolution(asset.Width, asset.Height); err != nil {
		return asset, nil, err
	}
	return asset, video.Advisories(asset), nil
}

// RemoveBackground returns img with its background made transparent. It is
// synchronous and independent of any running job.
func (c *Coordinator) RemoveBackground(ctx context.Context, img *image.NRGBA) (*image.NRGBA, error) {
	if img == nil || img.Rect.Empty() {
		return nil, fmt.Errorf("%w: empty image", matting.ErrSegmentation)
	}

	out, err := c.matteOne(ctx, &video.Frame{Image: img}, composite.Transparent())
	if err != nil {
		return nil, err
	}
	return out.Image, nil
}

// FirstFrame returns the untouched first frame of the video at path.
func (c *Coordinator) FirstFrame(ctx context.Context, path string) (*image.NRGBA, error) {
	frame, err := c.firstFrame(ctx, path)
	if err != nil {
		return nil, err
	}
	return frame.Image, nil
}

func (c *Coordinator) firstFrame(ctx context.Context, path string) (*video.Frame, error) {
	asset, _, err := c.Inspect(ctx, path)
	if err != nil {
		return nil, err
	}
	return c.media.Still(ctx, asset, 0)
}

// Preview composites the first frame of the video at path over bg.
func (c *Coordinator) Preview(ctx context.Context, path string, bg composite.BackgroundSpec) (*image.NRGBA, error) {
	frame, err := c.firstFrame(ctx, path)
	if err != nil {
		return nil, err
	}

	out, err := c.matteOne(ctx, frame, bg)
	if err != nil {
		return nil, err
	}
	return out.Image, nil
}

func (c *Coordinator) matteOne(ctx context.Context, f *video.Frame, bg composite.BackgroundSpec) (*video.Frame, error) {
	engine, err := c.loadEngine()
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	mask, err := infer(ctx, engine, f)
	if err != nil {
		return nil, err
	}
	return composite.Composite(f, mask, bg)
}

// ProcessVideo starts a job in the background and returns immediately. The
// only synchronous error is ErrJobActive; everything else arrives through
// cb.OnComplete.
func (c *Coordinator) ProcessVideo(ctx context.Context, req Request, cb Callbacks) (*Job, error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, ErrJobActive
	}
	job := newJob(req, cb, c.logger)
	jobCtx, cancel := context.WithCancel(ctx)
	job.cancel = cancel
	c.active = job
	c.mu.Unlock()

	job.logger.Info().
		Str("source", req.Source).
		Str("destination", req.Destination).
		Stringer("background", req.Background).
		Msg("job started")

	// a cancelled parent context counts as a cancel request
	stop := context.AfterFunc(jobCtx, func() { job.cancelled.Store(true) })

	go func() {
		defer cancel()
		r := c.run(jobCtx, job)
		stop()

		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()

		job.finish(r)
	}()
	return job, nil
}

// run drives a job to a terminal state. Every resource it acquires is
// released before it returns.
func (c *Coordinator) run(ctx context.Context, job *Job) Result {
	start := c.now()
	res := Result{JobID: job.ID}

	job.setState(StateValidating)
	asset, err := c.validate(ctx, job)
	if err != nil {
		return c.terminate(job, res, err)
	}

	engine, err := c.loadEngine()
	if err != nil {
		return c.terminate(job, res, err)
	}
	defer engine.Close()

	src, err := c.media.OpenSource(ctx, asset)
	if err != nil {
		return c.terminate(job, res, err)
	}
	defer src.Close()

	asset.Audio = src.Audio()
	sink, err := c.media.OpenSink(ctx, job.Request.Destination, asset)
	if err != nil {
		return c.terminate(job, res, err)
	}

	job.setState(StateStreaming)
	window := c.window(ctx, asset)
	track := newTracker(src.EstimatedFrames(), c.now)
	job.logger.Info().
		Int("estimated_frames", src.EstimatedFrames()).
		Int("workers", c.opts.Workers).
		Int("window", window).
		Msg("streaming")

	read, written, err := c.stream(ctx, job, src, sink, engine, window, track)
	res.FramesRead, res.FramesWritten = read, written
	res.Progress = track.last
	if err == nil && job.cancelRequested() {
		err = ErrCancelled
	}
	if err != nil {
		sink.Abort()
		return c.terminate(job, res, err)
	}

	job.setState(StateFinalizing)
	if err := sink.Finalize(ctx); err != nil {
		sink.Abort()
		return c.terminate(job, res, err)
	}

	final, changed := track.complete()
	if changed {
		job.report(final)
	}
	res.Progress = final
	res.State = StateCompleted
	res.Output = job.Request.Destination

	job.logger.Info().
		Int("frames", written).
		Dur("elapsed", c.now().Sub(start)).
		Str("output", res.Output).
		Msg("job completed")
	return res
}

func (c *Coordinator) validate(ctx context.Context, job *Job) (video.Asset, error) {
	req := job.Request
	if req.Background.Kind == composite.KindTransparent {
		return video.Asset{}, composite.ErrTransparentVideo
	}
	if req.Destination == "" {
		return video.Asset{}, fmt.Errorf("%w: no destination", video.ErrEncodeWrite)
	}
	if samePath(req.Source, req.Destination) {
		return video.Asset{}, fmt.Errorf("%w: destination is the source file", video.ErrEncodeWrite)
	}

	asset, advisories, err := c.Inspect(ctx, req.Source)
	if err != nil {
		return video.Asset{}, err
	}
	for _, a := range advisories {
		job.advise(a)
	}
	if job.cancelRequested() {
		return video.Asset{}, ErrCancelled
	}
	return asset, nil
}

// stream runs reader, workers and writer until the source is drained or any
// stage fails. Frames reach the sink in index order.
func (c *Coordinator) stream(ctx context.Context, job *Job, src FrameSource, sink FrameSink,
	engine matting.Engine, window int, track *tracker) (read, written int, err error) {

	g, gctx := errgroup.WithContext(ctx)
	slots := make(chan struct{}, window)
	decoded := make(chan *video.Frame, window)
	composited := make(chan *video.Frame, window)
	bg := job.Request.Background

	// reader
	g.Go(func() error {
		defer close(decoded)
		for {
			if job.cancelRequested() {
				return ErrCancelled
			}
			select {
			case slots <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}

			f, err := src.Next(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			read++

			select {
			case decoded <- f:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// workers
	var wg sync.WaitGroup
	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for f := range decoded {
				if err := gctx.Err(); err != nil {
					return err
				}
				out, err := c.process(gctx, job, engine, f, bg)
				if err != nil {
					return err
				}
				select {
				case composited <- out:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(composited)
	}()

	// writer
	g.Go(func() error {
		rb := newReorderBuffer()
		for f := range composited {
			for _, r := range rb.push(f) {
				if job.cancelRequested() {
					return ErrCancelled
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := sink.Write(r); err != nil {
					return err
				}
				written++
				<-slots
				job.report(track.advance(written))
			}
		}
		if gctx.Err() == nil && rb.waiting() > 0 {
			return fmt.Errorf("%w: %d frames never released, next expected %d",
				video.ErrOutOfOrder, rb.waiting(), rb.next)
		}
		return nil
	})

	err = g.Wait()
	return read, written, err
}

func (c *Coordinator) process(ctx context.Context, job *Job, engine matting.Engine, f *video.Frame,
	bg composite.BackgroundSpec) (*video.Frame, error) {

	start := c.now()
	mask, err := infer(ctx, engine, f)
	if err != nil {
		return nil, err
	}
	out, err := composite.CompositeVideoFrame(f, mask, bg)
	if err != nil {
		return nil, err
	}

	job.logger.Trace().
		Int("frame", f.Index).
		Dur("took", c.now().Sub(start)).
		Msg("frame processed")
	return out, nil
}

// infer runs engine on f and checks the matte covers the frame.
func infer(ctx context.Context, engine matting.Engine, f *video.Frame) (*matting.AlphaMask, error) {
	mask, err := engine.Infer(ctx, f)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, matting.ErrSegmentation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: frame %d: %v", matting.ErrSegmentation, f.Index, err)
	}
	if err := mask.CheckDimensions(f); err != nil {
		return nil, err
	}
	return mask, nil
}

func (c *Coordinator) loadEngine() (matting.Engine, error) {
	if c.loader == nil {
		return nil, fmt.Errorf("%w: no matting engine configured", matting.ErrSegmentation)
	}
	engine, err := c.loader()
	if err != nil {
		if errors.Is(err, matting.ErrSegmentation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", matting.ErrSegmentation, err)
	}
	return engine, nil
}

func (c *Coordinator) window(ctx context.Context, a video.Asset) int {
	frameBytes := uint64(a.Width) * uint64(a.Height) * 4
	avail, err := c.memAvailable(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("available memory unknown, using configured window")
		avail = 0
	}
	return sizeWindow(c.opts.Window, frameBytes, avail)
}

// terminate fills res for a job that did not complete.
func (c *Coordinator) terminate(job *Job, res Result, err error) Result {
	res.Err = err
	res.Message = Describe(err)

	if job.cancelRequested() || errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		res.State = StateCancelled
		res.Err = ErrCancelled
		res.Message = Describe(ErrCancelled)
		job.logger.Info().Int("frames_written", res.FramesWritten).Msg("job cancelled")
		return res
	}

	res.State = StateFailed
	job.logger.Error().Err(err).Int("frames_written", res.FramesWritten).Msg("job failed")
	return res
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}
