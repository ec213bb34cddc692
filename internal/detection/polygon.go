package detection

import "math"

// Point2D is a sub-pixel coordinate, used once corners are rescaled to the
// full-resolution image.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ToPoint2D converts an integer pixel coordinate.
func (p Point) ToPoint2D() Point2D {
	return Point2D{X: float64(p.X), Y: float64(p.Y)}
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point2D) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// ArcLength returns the perimeter of a closed point sequence.
func ArcLength(pts []Point) float64 {
	if len(pts) < 2 {
		return 0
	}
	var length float64
	prev := pts[len(pts)-1]
	for _, p := range pts {
		length += math.Hypot(float64(p.X-prev.X), float64(p.Y-prev.Y))
		prev = p
	}
	return length
}

// PolygonArea returns the unsigned shoelace area of a closed polygon.
func PolygonArea(pts []Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	var twice float64
	prev := pts[len(pts)-1]
	for _, p := range pts {
		twice += float64(prev.X)*float64(p.Y) - float64(p.X)*float64(prev.Y)
		prev = p
	}
	return math.Abs(twice) / 2
}

// BoundingBoxArea returns (maxX-minX)*(maxY-minY) of the points, so an
// axis-aligned rectangle has exactly its own area as bounding box area.
func BoundingBoxArea(pts []Point) float64 {
	if len(pts) == 0 {
		return 0
	}
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := minX, minY
	for _, p := range pts[1:] {
		minX = min(minX, p.X)
		maxX = max(maxX, p.X)
		minY = min(minY, p.Y)
		maxY = max(maxY, p.Y)
	}
	return float64(maxX-minX) * float64(maxY-minY)
}

// IsConvex reports whether the closed polygon turns the same way at every
// vertex. Collinear vertices are tolerated; a polygon with no turn at all
// (zero area) is not convex.
func IsConvex(pts []Point) bool {
	n := len(pts)
	if n < 3 {
		return false
	}

	sign := 0
	for i := 0; i < n; i++ {
		a, b, c := pts[i], pts[(i+1)%n], pts[(i+2)%n]
		cross := (b.X-a.X)*(c.Y-b.Y) - (b.Y-a.Y)*(c.X-b.X)
		if cross == 0 {
			continue
		}
		s := 1
		if cross < 0 {
			s = -1
		}
		if sign == 0 {
			sign = s
		} else if s != sign {
			return false
		}
	}
	return sign != 0
}

// ApproxPolygon simplifies a closed contour with the Douglas-Peucker algorithm.
//
// Parameters:
//   - contour: Closed boundary to simplify.
//   - epsilon: Maximum distance, in pixels, between the contour and the
//     simplified polygon. The quadrilateral search uses 2% of the perimeter.
//
// Returns the retained vertices in contour order, without repeating the first.
//
// # Closed Curves
//
// Douglas-Peucker needs two fixed endpoints. The contour is split at two
// extreme points: the point farthest from the first contour point, and the
// point farthest from that one. Extreme points are convex-hull vertices, so
// for a document outline they are real corners and never the middle of an
// edge. Each half is simplified independently and the results are joined.
func ApproxPolygon(contour Contour, epsilon float64) []Point {
	n := len(contour)
	if n < 3 {
		out := make([]Point, n)
		copy(out, contour)
		return out
	}

	ia := farthestFrom(contour, contour[0])
	ib := farthestFrom(contour, contour[ia])
	if ia == ib {
		return []Point{contour[ia]}
	}

	half := func(from, to int) []Point {
		chain := make([]Point, 0, n)
		for i := from; ; i = (i + 1) % n {
			chain = append(chain, contour[i])
			if i == to {
				break
			}
		}
		return douglasPeucker(chain, epsilon)
	}

	first := half(ia, ib)
	second := half(ib, ia)

	poly := make([]Point, 0, len(first)+len(second))
	poly = append(poly, first[:len(first)-1]...)
	poly = append(poly, second[:len(second)-1]...)
	return dedupe(poly)
}

func farthestFrom(pts []Point, ref Point) int {
	best, bestD := 0, -1
	for i, p := range pts {
		dx, dy := p.X-ref.X, p.Y-ref.Y
		if d := dx*dx + dy*dy; d > bestD {
			best, bestD = i, d
		}
	}
	return best
}

// douglasPeucker simplifies an open chain, always keeping both endpoints.
func douglasPeucker(chain []Point, epsilon float64) []Point {
	last := len(chain) - 1
	if last < 2 {
		return chain
	}

	keep := make([]bool, len(chain))
	keep[0], keep[last] = true, true
	stack := [][2]int{{0, last}}
	for len(stack) > 0 {
		s, e := stack[len(stack)-1][0], stack[len(stack)-1][1]
		stack = stack[:len(stack)-1]
		if e-s < 2 {
			continue
		}

		idx, maxD := -1, epsilon
		for i := s + 1; i < e; i++ {
			if d := lineDistance(chain[i], chain[s], chain[e]); d > maxD {
				idx, maxD = i, d
			}
		}
		if idx < 0 {
			continue
		}
		keep[idx] = true
		stack = append(stack, [2]int{s, idx}, [2]int{idx, e})
	}

	out := make([]Point, 0, 8)
	for i, k := range keep {
		if k {
			out = append(out, chain[i])
		}
	}
	return out
}

// lineDistance is the distance from p to the infinite line through a and b,
// or to a itself when a and b coincide.
func lineDistance(p, a, b Point) float64 {
	dx, dy := float64(b.X-a.X), float64(b.Y-a.Y)
	px, py := float64(p.X-a.X), float64(p.Y-a.Y)
	norm := math.Hypot(dx, dy)
	if norm == 0 {
		return math.Hypot(px, py)
	}
	return math.Abs(dx*py-dy*px) / norm
}

// dedupe drops consecutive duplicates, including a last point equal to the first.
func dedupe(pts []Point) []Point {
	out := pts[:0]
	for _, p := range pts {
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	for len(out) > 1 && out[len(out)-1] == out[0] {
		out = out[:len(out)-1]
	}
	return out
}
