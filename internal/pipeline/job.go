package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"github.com/kikiluvv/videomatte/internal/logging"
)

// Job is one background-removal run. It is created by
// Coordinator.ProcessVideo and is safe for concurrent use.
type Job struct {
	ID      string
	Request Request

	logger    zerolog.Logger
	callbacks Callbacks
	cancel    context.CancelFunc
	cancelled atomic.Bool

	mu       sync.Mutex
	state    State
	progress ProgressState
	result   *Result

	done chan struct{}
}

func newJob(req Request, cb Callbacks, logger zerolog.Logger) *Job {
	id := ksuid.New().String()
	return &Job{
		ID:        id,
		Request:   req,
		logger:    logging.ForJob(logger, id),
		callbacks: cb,
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// Cancel asks the job to stop. It takes effect between frames; in-flight
// frames are dropped and the partial output is removed.
func (j *Job) Cancel() {
	if j.cancelled.CompareAndSwap(false, true) {
		j.logger.Info().Msg("cancellation requested")
	}
	if j.cancel != nil {
		j.cancel()
	}
}

func (j *Job) cancelRequested() bool { return j.cancelled.Load() }

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Progress returns the last snapshot delivered to OnProgress.
func (j *Job) Progress() ProgressState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Done is closed after OnComplete has returned.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result returns the terminal result once the job has finished.
func (j *Job) Result() (Result, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result == nil {
		return Result{}, false
	}
	return *j.result, true
}

// Wait blocks until the job finishes or ctx ends.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		r, _ := j.Result()
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	prev := j.state
	j.state = s
	j.mu.Unlock()

	j.logger.Debug().Stringer("from", prev).Stringer("to", s).Msg("job state")
}

func (j *Job) advise(msg string) {
	j.logger.Warn().Str("advisory", msg).Msg("advisory")
	if j.callbacks.OnAdvisory != nil {
		j.callbacks.OnAdvisory(msg)
	}
}

// report publishes p unless cancellation has been observed.
func (j *Job) report(p ProgressState) {
	if j.cancelRequested() {
		return
	}
	j.mu.Lock()
	j.progress = p
	j.mu.Unlock()

	if j.callbacks.OnProgress != nil {
		j.callbacks.OnProgress(p)
	}
}

func (j *Job) finish(r Result) {
	j.mu.Lock()
	j.state = r.State
	j.result = &r
	j.mu.Unlock()

	if j.callbacks.OnComplete != nil {
		j.callbacks.OnComplete(r)
	}
	close(j.done)
}
