package video

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// OutputResolution is the encoded size for an input size. 4K is written at
// 1080p, everything else keeps its size.
func OutputResolution(in Resolution) Resolution {
	if in == Res4K {
		return Res1080p
	}
	return in
}

// Advisories lists non-fatal notices the user should see before a job starts.
func Advisories(a Asset) []string {
	var out []string
	if res := a.Resolution(); OutputResolution(res) != res {
		out = append(out, "4K video will be resized to "+OutputResolution(res).String())
	}
	if a.Rotation != 0 {
		out = append(out, fmt.Sprintf("Video is tagged to display rotated %d°; the output keeps the stored %s orientation",
			a.Rotation, a.Resolution()))
	}
	return out
}

// fit scales src into dst when their sizes differ and returns the image to
// encode. dst is reused across calls.
func fit(dst *image.NRGBA, src *image.NRGBA) *image.NRGBA {
	if src.Rect.Dx() == dst.Rect.Dx() && src.Rect.Dy() == dst.Rect.Dy() {
		return src
	}
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// packed returns the pixels of img as one contiguous RGBA buffer.
func packed(img *image.NRGBA) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if img.Stride == 4*w && len(img.Pix) == 4*w*h {
		return img.Pix
	}
	buf := make([]byte, 4*w*h)
	for y := 0; y < h; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		copy(buf[4*w*y:4*w*(y+1)], img.Pix[off:off+4*w])
	}
	return buf
}
