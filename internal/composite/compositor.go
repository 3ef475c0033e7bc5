package composite

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/kikiluvv/videomatte/internal/matting"
	"github.com/kikiluvv/videomatte/internal/video"
)

var (
	// ErrMaskRange means a matte value fell outside [0,1]. Engines clamp, so
	// this is a bug upstream.
	ErrMaskRange = errors.New("mask value out of range")
	// ErrTransparentVideo is returned when a transparent background is used
	// for video output, which the encoders cannot carry.
	ErrTransparentVideo = errors.New("transparent background is only supported for images")
)

// Composite blends f over bg using m. The input frame is not modified; the
// result carries the same index and timestamp.
func Composite(f *video.Frame, m *matting.AlphaMask, bg BackgroundSpec) (*video.Frame, error) {
	if err := m.CheckDimensions(f); err != nil {
		return nil, err
	}
	if err := checkRange(m); err != nil {
		return nil, err
	}

	var img *image.NRGBA
	switch bg.Kind {
	case KindNone:
		img = clone(f.Image)
	case KindTransparent:
		img = cutout(f.Image, m)
	case KindSolidColor:
		img = blend(f.Image, m, bg.Color)
	default:
		return nil, fmt.Errorf("unknown background kind %d", bg.Kind)
	}

	return &video.Frame{Index: f.Index, Timestamp: f.Timestamp, Image: img}, nil
}

// CompositeVideoFrame is Composite restricted to the modes a video file can
// hold.
func CompositeVideoFrame(f *video.Frame, m *matting.AlphaMask, bg BackgroundSpec) (*video.Frame, error) {
	if bg.Kind == KindTransparent {
		return nil, ErrTransparentVideo
	}
	return Composite(f, m, bg)
}

// Cutout returns img with the matte as its alpha channel.
func Cutout(img *image.NRGBA, m *matting.AlphaMask) (*image.NRGBA, error) {
	out, err := Composite(&video.Frame{Image: img}, m, Transparent())
	if err != nil {
		return nil, err
	}
	return out.Image, nil
}

// ColorImage returns a w×h image filled with c.
func ColorImage(c color.NRGBA, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w <= 0 || h <= 0 {
		return img
	}
	row := img.Pix[:4*w]
	for x := 0; x < w; x++ {
		row[4*x], row[4*x+1], row[4*x+2], row[4*x+3] = c.R, c.G, c.B, c.A
	}
	for y := 1; y < h; y++ {
		copy(img.Pix[y*img.Stride:], row)
	}
	return img
}

func checkRange(m *matting.AlphaMask) error {
	for i, v := range m.Values {
		if !(v >= 0 && v <= 1) {
			return fmt.Errorf("%w: %v at (%d,%d)", ErrMaskRange, v, i%m.Width, i/m.Width)
		}
	}
	return nil
}

func clone(src *image.NRGBA) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		off := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+4*w], src.Pix[off:off+4*w])
	}
	return dst
}

func cutout(src *image.NRGBA, m *matting.AlphaMask) *image.NRGBA {
	dst := clone(src)
	for i, v := range m.Values {
		dst.Pix[4*i+3] = round8(255 * v)
	}
	return dst
}

// blend computes out = f·m + c·(1−m) on every channel, alpha included.
func blend(src *image.NRGBA, m *matting.AlphaMask, c color.NRGBA) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	bg := [4]float32{float32(c.R), float32(c.G), float32(c.B), float32(c.A)}

	for y := 0; y < h; y++ {
		in := src.Pix[src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y):]
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			a := m.Values[y*w+x]
			inv := 1 - a
			for ch := 0; ch < 4; ch++ {
				out[4*x+ch] = round8(float32(in[4*x+ch])*a + bg[ch]*inv)
			}
		}
	}
	return dst
}

func round8(v float32) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(float64(v)))))
}
