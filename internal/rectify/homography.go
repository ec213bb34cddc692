package rectify

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ironsheep/receipt-rectify-mcp/internal/detection"
)

// ErrDegenerateQuad is returned when four correspondences do not define a
// projective transform, e.g. three corners are collinear.
var ErrDegenerateQuad = errors.New("degenerate quadrilateral")

// Homography is a 3x3 projective transform in row-major order, normalized
// so the last element is 1.
type Homography [9]float64

// ComputeHomography finds H with H·src[i] ≅ dst[i] for all four pairs.
//
// Parameters:
//   - src: Four source points, no three collinear.
//   - dst: The four points they map to, in the same order.
//
// Returns ErrDegenerateQuad (wrapped) when the system has no unique solution.
//
// # Algorithm
//
// Fixing h33 = 1 leaves eight unknowns; each correspondence contributes
//
//	x·h11 + y·h12 + h13 − u·x·h31 − u·y·h32 = u
//	x·h21 + y·h22 + h23 − v·x·h31 − v·y·h32 = v
//
// Both point sets are first translated to their centroid and scaled to unit
// mean distance, which keeps the 8x8 system well conditioned for
// multi-megapixel coordinates. The solution is then denormalized.
func ComputeHomography(src, dst [4]detection.Point2D) (Homography, error) {
	ts, ns := normalizePoints(src)
	td, nd := normalizePoints(dst)
	if collinear(ns) || collinear(nd) {
		return Homography{}, fmt.Errorf("three corners are collinear: %w", ErrDegenerateQuad)
	}

	A := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := ns[i].X, ns[i].Y
		u, v := nd[i].X, nd[i].Y

		A.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		b.SetVec(2*i, u)

		A.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		b.SetVec(2*i+1, v)
	}

	var h mat.VecDense
	if err := h.SolveVec(A, b); err != nil {
		return Homography{}, fmt.Errorf("failed to solve homography: %w: %v", ErrDegenerateQuad, err)
	}

	hn := mat.NewDense(3, 3, []float64{
		h.AtVec(0), h.AtVec(1), h.AtVec(2),
		h.AtVec(3), h.AtVec(4), h.AtVec(5),
		h.AtVec(6), h.AtVec(7), 1,
	})

	// H = Td⁻¹ · Hn · Ts
	var tdInv mat.Dense
	if err := tdInv.Inverse(td); err != nil {
		return Homography{}, fmt.Errorf("failed to invert normalization: %w: %v", ErrDegenerateQuad, err)
	}
	var full mat.Dense
	full.Product(&tdInv, hn, ts)

	return fromDense(&full)
}

// Inverse returns the homography mapping dst points back to src points.
func (h Homography) Inverse() (Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.dense()); err != nil {
		return Homography{}, fmt.Errorf("failed to invert homography: %w: %v", ErrDegenerateQuad, err)
	}
	return fromDense(&inv)
}

// Apply maps (x, y). Points sent to infinity come back as NaN.
func (h Homography) Apply(x, y float64) (float64, float64) {
	w := h[6]*x + h[7]*y + h[8]
	if w == 0 {
		return math.NaN(), math.NaN()
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w
}

// ApplyPoint is Apply for a detection.Point2D.
func (h Homography) ApplyPoint(p detection.Point2D) detection.Point2D {
	x, y := h.Apply(p.X, p.Y)
	return detection.Point2D{X: x, Y: y}
}

func (h Homography) dense() *mat.Dense {
	data := h
	return mat.NewDense(3, 3, data[:])
}

func fromDense(m *mat.Dense) (Homography, error) {
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = m.At(r, c)
		}
	}
	if out[8] == 0 || math.IsNaN(out[8]) || math.IsInf(out[8], 0) {
		return Homography{}, fmt.Errorf("homography maps the origin to infinity: %w", ErrDegenerateQuad)
	}
	for i := range out {
		out[i] /= out[8]
	}
	return out, nil
}

// collinear reports whether any three of the normalized points lie on a line.
func collinear(pts [4]detection.Point2D) bool {
	for skip := 0; skip < 4; skip++ {
		var tri []detection.Point2D
		for i, p := range pts {
			if i != skip {
				tri = append(tri, p)
			}
		}
		a, b, c := tri[0], tri[1], tri[2]
		if math.Abs((b.X-a.X)*(c.Y-a.Y)-(b.Y-a.Y)*(c.X-a.X)) < 1e-9 {
			return true
		}
	}
	return false
}

// normalizePoints returns the similarity transform T moving pts to zero
// centroid and mean distance √2, and the transformed points.
func normalizePoints(pts [4]detection.Point2D) (*mat.Dense, [4]detection.Point2D) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= 4
	cy /= 4

	var mean float64
	for _, p := range pts {
		mean += math.Hypot(p.X-cx, p.Y-cy)
	}
	mean /= 4

	s := 1.0
	if mean > 0 {
		s = math.Sqrt2 / mean
	}

	var out [4]detection.Point2D
	for i, p := range pts {
		out[i] = detection.Point2D{X: (p.X - cx) * s, Y: (p.Y - cy) * s}
	}
	T := mat.NewDense(3, 3, []float64{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	})
	return T, out
}
