package video

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedResolution = errors.New("unsupported resolution")
	ErrSourceRead            = errors.New("source read failed")
	ErrEncodeWrite           = errors.New("encode write failed")
	// ErrOutOfOrder means a frame reached the sink before its predecessor.
	// It is a bug in the caller, never a media problem.
	ErrOutOfOrder = errors.New("frame out of order")
)

// ResolutionError reports an input size outside SupportedResolutions.
type ResolutionError struct {
	Width  int
	Height int
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s: %dx%d, only 720p (1280x720), 1080p (1920x1080) and 4K (3840x2160) videos are supported",
		ErrUnsupportedResolution, e.Width, e.Height)
}

func (e *ResolutionError) Unwrap() error { return ErrUnsupportedResolution }

// ValidateResolution accepts exactly the sizes in SupportedResolutions.
func ValidateResolution(width, height int) error {
	r := Resolution{Width: width, Height: height}
	for _, s := range SupportedResolutions {
		if r == s {
			return nil
		}
	}
	return &ResolutionError{Width: width, Height: height}
}
