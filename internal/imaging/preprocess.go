package imaging

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/blur"
	"github.com/disintegration/imaging"
)

// Smoothing selects the noise filter applied before edge detection.
type Smoothing int

const (
	// SmoothingBilateral smooths flat paper regions while keeping the
	// paper/background step sharp.
	SmoothingBilateral Smoothing = iota

	// SmoothingGaussian is a plain Gaussian blur. Cheaper, but it widens
	// every edge.
	SmoothingGaussian
)

// String returns the flag spelling of the smoothing mode.
func (s Smoothing) String() string {
	switch s {
	case SmoothingGaussian:
		return "gaussian"
	default:
		return "bilateral"
	}
}

// ParseSmoothing converts "bilateral" or "gaussian" into a Smoothing value.
func ParseSmoothing(name string) (Smoothing, bool) {
	switch name {
	case "bilateral", "":
		return SmoothingBilateral, true
	case "gaussian":
		return SmoothingGaussian, true
	}
	return SmoothingBilateral, false
}

// PreprocessOptions controls the conversion of a photo into a binary edge map.
type PreprocessOptions struct {
	// MaxWorkingDimension caps the longer image edge during detection.
	// Zero or negative disables downscaling.
	MaxWorkingDimension int

	// Smoothing selects the bilateral filter or the Gaussian fallback.
	Smoothing Smoothing

	// BilateralDiameter is the pixel neighbourhood diameter of the bilateral filter.
	BilateralDiameter int

	// SigmaColor is the bilateral range sigma in 8-bit intensity units.
	SigmaColor float64

	// SigmaSpace is the bilateral spatial sigma in pixels.
	SigmaSpace float64

	// GaussianRadius is the blur radius used by SmoothingGaussian.
	GaussianRadius float64

	// CannyLow and CannyHigh are the hysteresis thresholds applied to the
	// L1 Sobel gradient magnitude of the 8-bit luminance.
	CannyLow  float64
	CannyHigh float64

	// CloseKernel is the side of the square structuring element used to
	// bridge gaps in the edge map. Values below 2 disable closing.
	CloseKernel int
}

// DefaultPreprocessOptions returns the tuning used for handheld receipt photos.
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		MaxWorkingDimension: 1200,
		Smoothing:           SmoothingBilateral,
		BilateralDiameter:   9,
		SigmaColor:          75,
		SigmaSpace:          75,
		GaussianRadius:      2,
		CannyLow:            50,
		CannyHigh:           150,
		CloseKernel:         5,
	}
}

// EdgeMap is the binary edge image produced by Preprocess.
type EdgeMap struct {
	// Edges holds 255 for edge pixels and 0 elsewhere, at working resolution.
	Edges *image.Gray

	// Scale is working size divided by full size (1 when not downscaled).
	// Divide working coordinates by Scale to reach full resolution.
	Scale float64
}

// Area returns the working-resolution image area in square pixels.
func (m *EdgeMap) Area() float64 {
	b := m.Edges.Bounds()
	return float64(b.Dx()) * float64(b.Dy())
}

// Preprocess turns a full-resolution photo into a closed binary edge map.
//
// # Algorithm
//
//  1. Downscale so the longer edge is at most MaxWorkingDimension (box filter)
//  2. Luminance conversion (ITU-R BT.601 weights)
//  3. Edge-preserving bilateral filter, or a Gaussian blur fallback
//  4. Canny edge detection with hysteresis linking
//  5. Morphological closing (dilate, then erode) with a square element
//
// Every step allocates a new buffer; src is never modified. Near-uniform
// images simply produce an edge map with few or no edge pixels.
func Preprocess(src *image.NRGBA, opts PreprocessOptions) *EdgeMap {
	work, scale := Downscale(src, opts.MaxWorkingDimension)
	gray := Luminance(work)

	var smooth *image.Gray
	switch opts.Smoothing {
	case SmoothingGaussian:
		smooth = GaussianSmooth(gray, opts.GaussianRadius)
	default:
		smooth = BilateralFilter(gray, opts.BilateralDiameter, opts.SigmaColor, opts.SigmaSpace)
	}

	edges := Canny(smooth, opts.CannyLow, opts.CannyHigh)
	if opts.CloseKernel > 1 {
		edges = Close(edges, opts.CloseKernel)
	}

	return &EdgeMap{Edges: edges, Scale: scale}
}

// Downscale shrinks img so its longer edge is at most maxDim pixels.
//
// It returns the image to work on and the applied scale factor (<= 1). When
// no resize is needed img itself is returned with scale 1; callers must treat
// it as read-only.
func Downscale(img *image.NRGBA, maxDim int) (*image.NRGBA, float64) {
	b := img.Bounds()
	longer := b.Dx()
	if b.Dy() > longer {
		longer = b.Dy()
	}
	if maxDim <= 0 || longer <= maxDim {
		return img, 1
	}

	scale := float64(maxDim) / float64(longer)
	w := int(math.Max(1, math.Round(float64(b.Dx())*scale)))
	h := int(math.Max(1, math.Round(float64(b.Dy())*scale)))

	return imaging.Resize(img, w, h, imaging.Box), scale
}

// Luminance converts an image to a single-channel 8-bit luminance buffer.
func Luminance(img image.Image) *image.Gray {
	g := imaging.Grayscale(img)
	b := g.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := g.Pix[y*g.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx(); x++ {
			dst[x] = src[x*4]
		}
	}
	return out
}

// GaussianSmooth blurs a luminance buffer with a Gaussian of the given radius.
func GaussianSmooth(src *image.Gray, radius float64) *image.Gray {
	if radius <= 0 {
		return cloneGray(src)
	}
	blurred := blur.Gaussian(src, radius)
	b := blurred.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := blurred.Pix[blurred.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx(); x++ {
			dst[x] = row[x*4]
		}
	}
	return out
}

func cloneGray(src *image.Gray) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):])
	}
	return out
}

// grayPlane copies a luminance buffer into a dense row-major slice at origin.
func grayPlane(src *image.Gray) ([]uint8, int, int) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if src.Stride == w && b.Min == (image.Point{}) {
		return src.Pix[:w*h], w, h
	}
	pix := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		copy(pix[y*w:(y+1)*w], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):])
	}
	return pix, w, h
}
