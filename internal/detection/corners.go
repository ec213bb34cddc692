package detection

import (
	"errors"
	"image"
	"math"
)

// ErrAmbiguousCorners is returned when corner roles cannot be assigned one
// point each, which happens when the quad is rotated about 45° in the frame.
var ErrAmbiguousCorners = errors.New("corner roles are ambiguous: quadrilateral rotated near 45 degrees")

// CornerSet labels the four vertices of a quad by their role in the upright
// document.
type CornerSet struct {
	TL Point2D `json:"top_left"`
	TR Point2D `json:"top_right"`
	BR Point2D `json:"bottom_right"`
	BL Point2D `json:"bottom_left"`
}

// OrderCorners assigns top-left, top-right, bottom-right and bottom-left roles.
//
// For each point, sum = x+y and diff = y−x (y grows downward):
//   - minimum sum is top-left, maximum sum is bottom-right
//   - minimum diff is top-right, maximum diff is bottom-left
//
// Ties resolve to the earliest point.
//
// # Limitations
//
// The rule is correct for convex quads rotated by less than ±45° relative to
// the frame, which covers handheld capture. Beyond that it silently assigns
// the neighbouring corner and the rectified image comes out turned by 90°.
// At the boundary two roles can fall on the same point; that case is
// reported as ErrAmbiguousCorners instead of producing a twisted warp.
func OrderCorners(pts [4]Point2D) (CornerSet, error) {
	tl, br, tr, bl := 0, 0, 0, 0
	for i := 1; i < 4; i++ {
		p := pts[i]
		if p.X+p.Y < pts[tl].X+pts[tl].Y {
			tl = i
		}
		if p.X+p.Y > pts[br].X+pts[br].Y {
			br = i
		}
		if p.Y-p.X < pts[tr].Y-pts[tr].X {
			tr = i
		}
		if p.Y-p.X > pts[bl].Y-pts[bl].X {
			bl = i
		}
	}

	cs := CornerSet{TL: pts[tl], TR: pts[tr], BR: pts[br], BL: pts[bl]}
	if seen := 1<<tl | 1<<tr | 1<<br | 1<<bl; seen != 0b1111 {
		return cs, ErrAmbiguousCorners
	}
	return cs, nil
}

// Points returns the corners in TL, TR, BR, BL order.
func (c CornerSet) Points() [4]Point2D {
	return [4]Point2D{c.TL, c.TR, c.BR, c.BL}
}

// ImagePoints rounds the corners to pixel coordinates in TL, TR, BR, BL order.
func (c CornerSet) ImagePoints() [4]image.Point {
	var out [4]image.Point
	for i, p := range c.Points() {
		out[i] = image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
	}
	return out
}

// Points2D converts the candidate's vertices to sub-pixel points.
func (q QuadCandidate) Points2D() [4]Point2D {
	var out [4]Point2D
	for i, p := range q.Points {
		out[i] = p.ToPoint2D()
	}
	return out
}
