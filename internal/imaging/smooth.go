package imaging

import (
	"image"
	"math"
)

// BilateralFilter applies an edge-preserving bilateral filter to a luminance buffer.
//
// Each output pixel is a weighted mean of its circular neighbourhood, where
// the weight of a neighbour is the product of a spatial Gaussian (distance,
// sigmaSpace) and a range Gaussian (intensity difference, sigmaColor). Flat
// paper texture averages out, while the strong step between receipt and
// background keeps almost all of its contrast because pixels across the step
// receive near-zero range weight.
//
// Parameters:
//   - src: Source luminance buffer. Not modified.
//   - diameter: Neighbourhood diameter in pixels. Values below 3 are raised to 3.
//   - sigmaColor: Range sigma in 8-bit intensity units. Typical: 75.
//   - sigmaSpace: Spatial sigma in pixels. Typical: 75.
//
// Border pixels use clamped (replicated) neighbours.
func BilateralFilter(src *image.Gray, diameter int, sigmaColor, sigmaSpace float64) *image.Gray {
	pix, w, h := grayPlane(src)
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}

	radius := diameter / 2
	if radius < 1 {
		radius = 1
	}
	if sigmaColor <= 0 {
		sigmaColor = 1
	}
	if sigmaSpace <= 0 {
		sigmaSpace = 1
	}

	// Precompute the circular spatial kernel.
	type tap struct {
		dx, dy int
		w      float64
	}
	spaceCoeff := -0.5 / (sigmaSpace * sigmaSpace)
	taps := make([]tap, 0, (2*radius+1)*(2*radius+1))
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			r2 := float64(dx*dx + dy*dy)
			if r2 > float64(radius*radius) {
				continue
			}
			taps = append(taps, tap{dx: dx, dy: dy, w: math.Exp(r2 * spaceCoeff)})
		}
	}

	var colorWeight [256]float64
	colorCoeff := -0.5 / (sigmaColor * sigmaColor)
	for d := range colorWeight {
		colorWeight[d] = math.Exp(float64(d*d) * colorCoeff)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := int(pix[y*w+x])
			var sum, wsum float64
			for _, t := range taps {
				py := clamp(y+t.dy, 0, h-1)
				px := clamp(x+t.dx, 0, w-1)
				v := int(pix[py*w+px])
				d := v - center
				if d < 0 {
					d = -d
				}
				wt := t.w * colorWeight[d]
				sum += float64(v) * wt
				wsum += wt
			}
			out.Pix[y*out.Stride+x] = uint8(math.Min(255, sum/wsum+0.5))
		}
	}

	return out
}
