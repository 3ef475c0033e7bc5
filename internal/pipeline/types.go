package pipeline

import (
	"fmt"

	"github.com/kikiluvv/videomatte/internal/composite"
)

// State is the lifecycle position of a Job.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateStreaming
	StateFinalizing
	StateCompleted
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateValidating: "validating",
	StateStreaming:  "streaming",
	StateFinalizing: "finalizing",
	StateCompleted:  "completed",
	StateFailed:     "failed",
	StateCancelled:  "cancelled",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Request is what the caller asks a job to do.
type Request struct {
	Source      string
	Destination string
	Background  composite.BackgroundSpec
}

// Callbacks receive job events. They run on pipeline goroutines; callers
// that own a UI thread must marshal onto it themselves. Any of them may be
// nil.
type Callbacks struct {
	// OnAdvisory delivers non-fatal notices before streaming starts.
	OnAdvisory func(message string)
	// OnProgress is called after every frame written, with a non-decreasing
	// fraction. It is never called once cancellation has been observed.
	OnProgress func(ProgressState)
	// OnComplete is called exactly once, after every resource of the job is
	// released. Nothing is delivered after it.
	OnComplete func(Result)
}

// Result is the terminal outcome of a job.
type Result struct {
	JobID         string
	State         State
	Output        string
	Progress      ProgressState
	FramesRead    int
	FramesWritten int
	// Err and Message are set for Failed and Cancelled jobs.
	Err     error
	Message string
}

// Options tunes the streaming stage.
type Options struct {
	// Workers is the number of concurrent matting workers; 0 means one per CPU.
	Workers int
	// Window bounds the frames in flight between decode and encode.
	Window int
}
