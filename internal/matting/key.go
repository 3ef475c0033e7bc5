package matting

import (
	"context"
	"fmt"
	"image/color"
	"math"

	"github.com/kikiluvv/videomatte/internal/video"
)

// KeyEngine mattes by distance to a backdrop colour. Pixels within tolerance
// of the key are background, pixels beyond tolerance+softness are
// foreground, and the band in between ramps linearly.
type KeyEngine struct {
	key       color.NRGBA
	tolerance float64
	softness  float64
}

func NewKeyEngine(key color.NRGBA, tolerance, softness float64) *KeyEngine {
	return &KeyEngine{
		key:       key,
		tolerance: math.Max(0, tolerance),
		softness:  math.Max(0, softness),
	}
}

func (k *KeyEngine) Infer(ctx context.Context, f *video.Frame) (*AlphaMask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f == nil || f.Image == nil {
		return nil, fmt.Errorf("%w: empty frame", ErrSegmentation)
	}

	w, h := f.Width(), f.Height()
	m := NewAlphaMask(w, h)
	img := f.Image
	kr, kg, kb := float64(k.key.R), float64(k.key.G), float64(k.key.B)
	// max distance in RGB space
	const norm = 255 * 1.7320508075688772

	for y := 0; y < h; y++ {
		row := img.Pix[img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y):]
		for x := 0; x < w; x++ {
			p := row[4*x : 4*x+3]
			dr, dg, db := float64(p[0])-kr, float64(p[1])-kg, float64(p[2])-kb
			d := math.Sqrt(dr*dr+dg*dg+db*db) / norm
			m.Values[y*w+x] = k.alpha(d)
		}
	}
	return m, nil
}

func (k *KeyEngine) alpha(d float64) float32 {
	switch {
	case d <= k.tolerance:
		return 0
	case k.softness == 0 || d >= k.tolerance+k.softness:
		return 1
	default:
		return clamp01(float32((d - k.tolerance) / k.softness))
	}
}

func (k *KeyEngine) Close() error { return nil }
