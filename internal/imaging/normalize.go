package imaging

import (
	"image"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// NormalizeContrast stretches the lightness of an image to the full range.
//
// Lightness is measured as CIE L*; the clipPercent darkest pixels map to
// black and the clipPercent brightest map to white, everything between is
// stretched linearly. The a*/b* chroma channels are left untouched, so a
// faded thermal receipt gets darker ink without shifting its colours.
//
// Parameters:
//   - img: Source image. Not modified.
//   - clipPercent: Percentage (0-49) of pixels clipped at each end. Typical: 1.
//
// Returns a new image. Images with an (almost) flat lightness histogram are
// returned as an unmodified copy.
func NormalizeContrast(img *image.NRGBA, clipPercent float64) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()*4], img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):])
	}
	total := b.Dx() * b.Dy()
	if total == 0 {
		return out
	}
	clipPercent = math.Max(0, math.Min(49, clipPercent))

	const bins = 1024
	var hist [bins]int
	for i := 0; i < len(out.Pix); i += 4 {
		l := lightness(out.Pix[i : i+3])
		hist[int(l*(bins-1)+0.5)]++
	}

	clip := int(float64(total) * clipPercent / 100)
	lo, hi := 0, bins-1
	for acc := 0; lo < bins-1; lo++ {
		acc += hist[lo]
		if acc > clip {
			break
		}
	}
	for acc := 0; hi > 0; hi-- {
		acc += hist[hi]
		if acc > clip {
			break
		}
	}
	if hi-lo < 2 {
		return out
	}

	minL := float64(lo) / (bins - 1)
	span := float64(hi-lo) / (bins - 1)
	for i := 0; i < len(out.Pix); i += 4 {
		p := out.Pix[i : i+3]
		c := colorful.Color{R: float64(p[0]) / 255, G: float64(p[1]) / 255, B: float64(p[2]) / 255}
		l, a, bb := c.Lab()
		nl := math.Max(0, math.Min(1, (l-minL)/span))
		r, g, bl := colorful.Lab(nl, a, bb).Clamped().RGB255()
		p[0], p[1], p[2] = r, g, bl
	}

	return out
}

// lightness returns CIE L* in [0,1] for an 8-bit RGB triple.
func lightness(rgb []uint8) float64 {
	c := colorful.Color{R: float64(rgb[0]) / 255, G: float64(rgb[1]) / 255, B: float64(rgb[2]) / 255}
	l, _, _ := c.Lab()
	return math.Max(0, math.Min(1, l))
}
