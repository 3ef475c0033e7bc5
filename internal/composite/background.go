package composite

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/kikiluvv/videomatte/pkg/util"
)

// Kind is the background replacement mode.
type Kind int

const (
	// KindNone keeps the original pixels.
	KindNone Kind = iota
	// KindTransparent writes the matte into the alpha channel. Images only.
	KindTransparent
	// KindSolidColor blends the foreground over a flat colour.
	KindSolidColor
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransparent:
		return "transparent"
	case KindSolidColor:
		return "color"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// BackgroundSpec selects what replaces the background. Color is only used by
// KindSolidColor.
type BackgroundSpec struct {
	Kind  Kind
	Color color.NRGBA
}

func None() BackgroundSpec        { return BackgroundSpec{Kind: KindNone} }
func Transparent() BackgroundSpec { return BackgroundSpec{Kind: KindTransparent} }

func SolidColor(c color.NRGBA) BackgroundSpec {
	return BackgroundSpec{Kind: KindSolidColor, Color: c}
}

func (b BackgroundSpec) String() string {
	if b.Kind == KindSolidColor {
		return util.HexColor(b.Color)
	}
	return b.Kind.String()
}

var presets = map[string]color.NRGBA{
	"green": {R: 0x00, G: 0xb1, B: 0x40, A: 0xff},
	"blue":  {R: 0x00, G: 0x47, B: 0xbb, A: 0xff},
	"black": {R: 0x00, G: 0x00, B: 0x00, A: 0xff},
	"white": {R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	"red":   {R: 0xff, G: 0x00, B: 0x00, A: 0xff},
}

// ParseBackground accepts "none", "original", "transparent", a preset name,
// a hex colour (#RRGGBB or #RRGGBBAA) or "r,g,b[,a]" with 0-255 components.
func ParseBackground(s string) (BackgroundSpec, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "", "none", "original":
		return None(), nil
	case "transparent":
		return Transparent(), nil
	}

	if c, ok := presets[v]; ok {
		return SolidColor(c), nil
	}
	if strings.HasPrefix(v, "#") {
		c, err := util.ParseHexColor(v)
		if err != nil {
			return BackgroundSpec{}, err
		}
		return SolidColor(c), nil
	}
	if strings.Contains(v, ",") {
		c, err := parseComponents(v)
		if err != nil {
			return BackgroundSpec{}, err
		}
		return SolidColor(c), nil
	}
	return BackgroundSpec{}, fmt.Errorf("unknown background %q", s)
}

func parseComponents(s string) (color.NRGBA, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 && len(parts) != 4 {
		return color.NRGBA{}, fmt.Errorf("background %q: want r,g,b or r,g,b,a", s)
	}

	vals := [4]uint8{0, 0, 0, 0xff}
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("background %q: component %d: %w", s, i, err)
		}
		vals[i] = uint8(n)
	}
	return color.NRGBA{R: vals[0], G: vals[1], B: vals[2], A: vals[3]}, nil
}

// Presets returns the named colours ParseBackground accepts.
func Presets() map[string]color.NRGBA {
	out := make(map[string]color.NRGBA, len(presets))
	for k, v := range presets {
		out[k] = v
	}
	return out
}
