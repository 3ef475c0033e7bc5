package matting

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/videomatte/internal/video"
	"github.com/kikiluvv/videomatte/pkg/util"
)

var (
	// ErrSegmentation wraps any failure to produce a matte for a frame.
	ErrSegmentation = errors.New("segmentation failed")
	// ErrMaskDimensions means an engine returned a matte of the wrong size.
	ErrMaskDimensions = errors.New("mask dimensions do not match frame")
)

// AlphaMask is a per-pixel foreground probability, row-major, 1 = foreground.
type AlphaMask struct {
	Width  int
	Height int
	Values []float32
}

func NewAlphaMask(width, height int) *AlphaMask {
	return &AlphaMask{
		Width:  width,
		Height: height,
		Values: make([]float32, width*height),
	}
}

// Uniform returns a mask with every value set to v.
func Uniform(width, height int, v float32) *AlphaMask {
	m := NewAlphaMask(width, height)
	for i := range m.Values {
		m.Values[i] = v
	}
	return m
}

func (m *AlphaMask) At(x, y int) float32 {
	return m.Values[y*m.Width+x]
}

// CheckDimensions fails with ErrMaskDimensions unless m covers f exactly.
func (m *AlphaMask) CheckDimensions(f *video.Frame) error {
	if m == nil {
		return fmt.Errorf("%w: nil mask for frame %d", ErrMaskDimensions, f.Index)
	}
	if m.Width != f.Width() || m.Height != f.Height() || len(m.Values) != m.Width*m.Height {
		return fmt.Errorf("%w: mask %dx%d (%d values), frame %d is %dx%d",
			ErrMaskDimensions, m.Width, m.Height, len(m.Values), f.Index, f.Width(), f.Height())
	}
	return nil
}

// Engine computes a matte for one frame at a time. Infer must be safe for
// concurrent use and must not carry state between frames.
type Engine interface {
	Infer(ctx context.Context, f *video.Frame) (*AlphaMask, error)
	Close() error
}

// Loader acquires a ready engine. Every engine it returns is owned by the
// caller and must be closed.
type Loader func() (Engine, error)

// Options selects and configures an engine.
type Options struct {
	Kind        string // "onnx" or "chroma"
	ModelPath   string
	LibraryPath string
	InputWidth  int
	InputHeight int
	InputName   string
	OutputName  string
	Mean        [3]float32
	Std         [3]float32

	KeyColor     string
	KeyTolerance float64
	KeySoftness  float64
}

// NewLoader returns a Loader for opts. An onnx engine whose model file is
// missing falls back to the chroma key engine with a warning.
func NewLoader(opts Options, logger zerolog.Logger) Loader {
	logger = logger.With().Str("component", "matting").Logger()

	return func() (Engine, error) {
		if opts.Kind == "onnx" {
			if util.FileExists(opts.ModelPath) {
				return NewONNXEngine(opts, logger)
			}
			logger.Warn().
				Str("model", opts.ModelPath).
				Msg("matting model not found, falling back to chroma key")
		}

		key, err := util.ParseHexColor(opts.KeyColor)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSegmentation, err)
		}
		return NewKeyEngine(key, opts.KeyTolerance, opts.KeySoftness), nil
	}
}

func clamp01(v float32) float32 {
	switch {
	case v < 0 || math.IsNaN(float64(v)):
		return 0
	case v > 1:
		return 1
	}
	return v
}
