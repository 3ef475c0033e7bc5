package ffmpeg

import "time"

// VideoInfo contains metadata about a video file
type VideoInfo struct {
	FilePath   string
	Duration   time.Duration
	Width      int
	Height     int
	FPS        float64
	Frames     int // nb_frames as reported by the container, 0 when unknown
	// Rotation is the display rotation in degrees, 0-359. Width and Height
	// are the stored size, before rotation.
	Rotation   int
	VideoCodec string
	HasAudio   bool
	AudioCodec string
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame   int
	FPS     float64
	Bitrate string
	OutTime time.Duration
	Speed   string
}

// ProgressFunc is called once per -progress block while ffmpeg runs.
type ProgressFunc func(*Progress)

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler ProgressFunc
	LogHandler      func(line string)
}

// MuxOptions describes a stream-copy remux that takes video from one file
// and audio from another.
type MuxOptions struct {
	Video  string
	Audio  string
	Output string
}
