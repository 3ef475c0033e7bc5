package video

import (
	"fmt"
	"image"
	"math"
	"time"
)

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

var (
	Res720p  = Resolution{Width: 1280, Height: 720}
	Res1080p = Resolution{Width: 1920, Height: 1080}
	Res4K    = Resolution{Width: 3840, Height: 2160}

	// SupportedResolutions is the fixed set of accepted input sizes.
	SupportedResolutions = []Resolution{Res720p, Res1080p, Res4K}
)

// AudioTrack is the original audio, passed through to the output untouched.
type AudioTrack struct {
	SourcePath string
	Codec      string
}

// Asset describes a probed input video. It is not modified after Probe.
type Asset struct {
	Path       string
	Width      int
	Height     int
	Duration   time.Duration
	FPS        float64
	VideoCodec string
	HasAudio   bool
	Audio      AudioTrack
	// Rotation is the display rotation in degrees. Frames are decoded and
	// written in the stored orientation regardless.
	Rotation int
}

func (a Asset) Resolution() Resolution {
	return Resolution{Width: a.Width, Height: a.Height}
}

// EstimatedFrames is round(duration × fps). The real count may differ by a
// few frames, so it is only good for progress.
func (a Asset) EstimatedFrames() int {
	if a.FPS <= 0 || a.Duration <= 0 {
		return 0
	}
	return int(math.Round(a.Duration.Seconds() * a.FPS))
}

// Frame is one decoded picture. Index is zero-based and contiguous within a
// source.
type Frame struct {
	Index     int
	Timestamp time.Duration
	Image     *image.NRGBA
}

func (f *Frame) Width() int  { return f.Image.Rect.Dx() }
func (f *Frame) Height() int { return f.Image.Rect.Dy() }

// timestampFor returns the presentation time of frame index at fps.
func timestampFor(index int, fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(index) / fps * float64(time.Second)))
}
