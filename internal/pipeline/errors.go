package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kikiluvv/videomatte/internal/composite"
	"github.com/kikiluvv/videomatte/internal/matting"
	"github.com/kikiluvv/videomatte/internal/video"
)

var (
	ErrCancelled = errors.New("job cancelled")
	ErrJobActive = errors.New("a job is already running")
)

// Describe turns a job error into the single message shown to the user.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var resErr *video.ResolutionError
	switch {
	case errors.As(err, &resErr):
		return fmt.Sprintf("Unsupported video size %dx%d. Only 720p (1280x720), 1080p (1920x1080) and 4K (3840x2160) videos are supported.",
			resErr.Width, resErr.Height)
	case errors.Is(err, video.ErrUnsupportedResolution):
		return "Unsupported video size. Only 720p, 1080p and 4K videos are supported."
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "Processing was cancelled."
	case errors.Is(err, ErrJobActive):
		return "Another video is already being processed."
	case errors.Is(err, composite.ErrTransparentVideo):
		return "Transparent backgrounds are only available for still images. Pick a colour or keep the original background."
	case errors.Is(err, video.ErrSourceRead):
		return "Could not read the source video: " + err.Error()
	case errors.Is(err, matting.ErrSegmentation):
		return "Background removal failed: " + err.Error()
	case errors.Is(err, video.ErrEncodeWrite):
		return "Could not write the output video: " + err.Error()
	case errors.Is(err, matting.ErrMaskDimensions),
		errors.Is(err, composite.ErrMaskRange),
		errors.Is(err, video.ErrOutOfOrder):
		return "Internal error: " + err.Error()
	default:
		return err.Error()
	}
}
