package rectify

import (
	"fmt"
	"image"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/receipt-rectify-mcp/internal/detection"
)

// DestinationSize returns the output size for a corner set: the longer of
// each pair of opposite edges, rounded, and never less than 1.
func DestinationSize(c detection.CornerSet) (int, int) {
	w := math.Max(detection.Distance(c.TL, c.TR), detection.Distance(c.BL, c.BR))
	h := math.Max(detection.Distance(c.TL, c.BL), detection.Distance(c.TR, c.BR))
	return max(1, int(math.Round(w))), max(1, int(math.Round(h)))
}

// DestinationCorners returns the output rectangle corners for a w x h image
// in TL, TR, BR, BL order.
func DestinationCorners(w, h int) [4]detection.Point2D {
	fw, fh := float64(w-1), float64(h-1)
	return [4]detection.Point2D{{X: 0, Y: 0}, {X: fw, Y: 0}, {X: fw, Y: fh}, {X: 0, Y: fh}}
}

// Warp resamples the quadrilateral c of src into an upright w x h image.
//
// Parameters:
//   - src: Full-resolution source image.
//   - c: Document corners in src pixel coordinates.
//   - w, h: Output size, typically from DestinationSize.
//   - workers: Goroutines resampling row bands; 0 uses GOMAXPROCS.
//
// TL maps to (0,0), TR to (w−1,0), BR to (w−1,h−1) and BL to (0,h−1). Each
// output pixel is pulled through the inverse homography and sampled
// bilinearly; positions outside src become opaque black.
func Warp(src *image.NRGBA, c detection.CornerSet, w, h, workers int) (*image.NRGBA, error) {
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("invalid output size %dx%d", w, h)
	}

	fwd, err := ComputeHomography(c.Points(), DestinationCorners(w, h))
	if err != nil {
		return nil, err
	}
	inv, err := fwd.Inverse()
	if err != nil {
		return nil, err
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	band := max(16, (h+workers-1)/workers)

	var g errgroup.Group
	g.SetLimit(workers)
	for y0 := 0; y0 < h; y0 += band {
		y1 := min(h, y0+band)
		g.Go(func() error {
			warpRows(dst, src, inv, y0, y1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return dst, nil
}

// warpRows fills dst rows [y0, y1). Bands are disjoint, so concurrent calls
// never touch the same bytes.
func warpRows(dst, src *image.NRGBA, inv Homography, y0, y1 int) {
	w := dst.Bounds().Dx()
	for y := y0; y < y1; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		for x := 0; x < w; x++ {
			sx, sy := inv.Apply(float64(x), float64(y))
			sampleBilinear(src, sx, sy, row[x*4:x*4+4])
		}
	}
}

// sampleBilinear writes the interpolated NRGBA value at (x, y) into out.
// Positions beyond half a pixel outside the source are opaque black.
func sampleBilinear(src *image.NRGBA, x, y float64, out []uint8) {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()

	if math.IsNaN(x) || math.IsNaN(y) ||
		x < -0.5 || y < -0.5 || x > float64(sw)-0.5 || y > float64(sh)-0.5 {
		out[0], out[1], out[2], out[3] = 0, 0, 0, 255
		return
	}

	x = math.Max(0, math.Min(x, float64(sw-1)))
	y = math.Max(0, math.Min(y, float64(sh-1)))

	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, sw-1), min(y0+1, sh-1)
	fx, fy := x-float64(x0), y-float64(y0)

	p00 := src.PixOffset(b.Min.X+x0, b.Min.Y+y0)
	p10 := src.PixOffset(b.Min.X+x1, b.Min.Y+y0)
	p01 := src.PixOffset(b.Min.X+x0, b.Min.Y+y1)
	p11 := src.PixOffset(b.Min.X+x1, b.Min.Y+y1)

	for ch := 0; ch < 4; ch++ {
		top := lerp(float64(src.Pix[p00+ch]), float64(src.Pix[p10+ch]), fx)
		bottom := lerp(float64(src.Pix[p01+ch]), float64(src.Pix[p11+ch]), fx)
		out[ch] = uint8(lerp(top, bottom, fy) + 0.5)
	}
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
