package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"math"
)

// EdgeDetectResult contains a preprocessed edge map encoded as base64 PNG.
//
// The result is a grayscale image where white pixels (255) represent detected
// edges and black pixels (0) represent non-edges.
type EdgeDetectResult struct {
	// Width of the edge map in pixels (working resolution).
	Width int `json:"width"`

	// Height of the edge map in pixels (working resolution).
	Height int `json:"height"`

	// Scale is the working/full resolution ratio (1 when not downscaled).
	Scale float64 `json:"scale"`

	// EdgePixels is the number of pixels marked as edges.
	EdgePixels int `json:"edge_pixels"`

	// ImageBase64 is the edge map encoded as base64 PNG.
	ImageBase64 string `json:"image_base64"`

	// MimeType is always "image/png" for edge detection results.
	MimeType string `json:"mime_type"`
}

// EdgeDetect runs the full detection preprocessing on an image and returns the
// resulting edge map, so a caller can see what the quadrilateral search sees.
//
// Parameters:
//   - img: Source image at full resolution.
//   - opts: Preprocessing options (downscale, smoothing, Canny thresholds,
//     closing kernel).
//
// Returns:
//   - *EdgeDetectResult: Binary edge map as base64 PNG plus statistics.
//   - error: Non-nil if PNG encoding fails.
//
// # Threshold Selection
//
// Lower thresholds detect more edges but increase noise. Higher thresholds
// produce cleaner results but may miss a low-contrast receipt edge (white
// paper on a light desk).
//
// Recommended starting points:
//   - Receipt on a dark surface: thresholdLow=50, thresholdHigh=150
//   - Receipt on a light surface: thresholdLow=20, thresholdHigh=60
func EdgeDetect(img *image.NRGBA, opts PreprocessOptions) (*EdgeDetectResult, error) {
	m := Preprocess(img, opts)
	b := m.Edges.Bounds()

	count := 0
	for _, v := range m.Edges.Pix {
		if v != 0 {
			count++
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, m.Edges); err != nil {
		return nil, fmt.Errorf("failed to encode edge image: %w", err)
	}

	return &EdgeDetectResult{
		Width:       b.Dx(),
		Height:      b.Dy(),
		Scale:       m.Scale,
		EdgePixels:  count,
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}

// tan(22.5°) and tan(67.5°) split gradient directions into four sectors.
const (
	tan22 = 0.41421356237
	tan67 = 2.41421356237
)

// Canny performs Canny edge detection on an 8-bit luminance buffer.
//
// Parameters:
//   - src: Smoothed luminance buffer. Not modified.
//   - low: Weak threshold on the L1 gradient magnitude |Gx|+|Gy|. Pixels at
//     or below it are never edges.
//   - high: Strong threshold. Pixels above it are always edges.
//
// Returns a new binary buffer (255 = edge) with the same size as src.
//
// # Algorithm
//
//  1. Gradient computation: 3x3 Sobel operators on clamped borders
//  2. Non-maximum suppression: keep a pixel only if it is the maximum along
//     its quantized gradient direction (ties go to the first neighbour, so
//     a plateau two pixels wide yields a single-pixel edge)
//  3. Hysteresis: strong pixels seed a breadth-first walk that promotes every
//     8-connected chain of weak pixels reachable from them
//
// Border pixels are never edges.
func Canny(src *image.Gray, low, high float64) *image.Gray {
	pix, w, h := grayPlane(src)
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w < 3 || h < 3 {
		return out
	}
	if low > high {
		low, high = high, low
	}

	gx := make([]float64, w*h)
	gy := make([]float64, w*h)
	mag := make([]float64, w*h)
	at := func(x, y int) float64 {
		return float64(pix[clamp(y, 0, h-1)*w+clamp(x, 0, w-1)])
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := (at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)) -
				(at(x-1, y-1) + 2*at(x-1, y) + at(x-1, y+1))
			dy := (at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)) -
				(at(x-1, y-1) + 2*at(x, y-1) + at(x+1, y-1))
			i := y*w + x
			gx[i] = dx
			gy[i] = dy
			mag[i] = math.Abs(dx) + math.Abs(dy)
		}
	}

	// 0 = suppressed, 1 = weak candidate, 2 = edge.
	state := make([]uint8, w*h)
	queue := make([]int, 0, w+h)

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}

			ax, ay := math.Abs(gx[i]), math.Abs(gy[i])
			var n1, n2 float64
			switch {
			case ay <= ax*tan22:
				n1, n2 = mag[i-1], mag[i+1]
			case ay >= ax*tan67:
				n1, n2 = mag[i-w], mag[i+w]
			case (gx[i] > 0) == (gy[i] > 0):
				n1, n2 = mag[i-w-1], mag[i+w+1]
			default:
				n1, n2 = mag[i-w+1], mag[i+w-1]
			}
			if m <= n1 || m < n2 {
				continue
			}

			if m > high {
				state[i] = 2
				queue = append(queue, i)
			} else {
				state[i] = 1
			}
		}
	}

	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		out.Pix[(i/w)*out.Stride+i%w] = 255

		x, y := i%w, i/w
		for ky := -1; ky <= 1; ky++ {
			for kx := -1; kx <= 1; kx++ {
				nx, ny := x+kx, y+ky
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if state[j] == 1 {
					state[j] = 2
					queue = append(queue, j)
				}
			}
		}
	}

	return out
}

// clamp constrains an integer value to the range [min, max].
// Used for boundary handling in convolution operations.
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
