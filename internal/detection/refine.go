package detection

import "math"

// sideTrim is the fraction of each side's contour points ignored at both
// ends when fitting, where Canny rounds the corners off.
const sideTrim = 0.1

// RefineCorners moves each vertex of a quad to the intersection of straight
// lines fitted to the contour on either side of it.
//
// Parameters:
//   - c: The contour the quad was approximated from.
//   - quad: Four vertices of c, in contour order.
//
// Returns sub-pixel corners in the same order as quad. A vertex is kept as
// is when a side has too few points, the adjacent lines are near parallel,
// or the intersection lands more than a quarter of the shorter adjacent side
// away from it.
//
// # Algorithm
//
// Douglas-Peucker vertices are contour pixels, so they inherit the rounding
// of the edge detector at corners. Each side between two vertices is instead
// fitted by orthogonal least squares over its middle 80% of points; the
// corner is where neighbouring fitted lines cross. This places the corner on
// the true edge lines independently of the working resolution.
func RefineCorners(c Contour, quad [4]Point) [4]Point2D {
	var out [4]Point2D
	for i, p := range quad {
		out[i] = p.ToPoint2D()
	}

	var idx [4]int
	for i, p := range quad {
		idx[i] = indexOf(c, p)
		if idx[i] < 0 {
			return out
		}
	}

	var lines [4]fittedLine
	var ok [4]bool
	for i := 0; i < 4; i++ {
		lines[i], ok[i] = fitSide(c, idx[i], idx[(i+1)%4])
	}

	for i := 0; i < 4; i++ {
		prev := (i + 3) % 4
		if !ok[prev] || !ok[i] {
			continue
		}
		p, hit := intersect(lines[prev], lines[i])
		if !hit {
			continue
		}
		limit := math.Min(
			Distance(out[i], quad[prev].ToPoint2D()),
			Distance(out[i], quad[(i+1)%4].ToPoint2D()),
		) / 4
		if Distance(p, out[i]) <= limit {
			out[i] = p
		}
	}
	return out
}

// fittedLine passes through P with unit direction (DX, DY).
type fittedLine struct {
	P      Point2D
	DX, DY float64
}

func indexOf(c Contour, p Point) int {
	for i, q := range c {
		if q == p {
			return i
		}
	}
	return -1
}

// fitSide fits a line to the contour points from index from to index to,
// walking forward around the closed contour.
func fitSide(c Contour, from, to int) (fittedLine, bool) {
	n := len(c)
	count := (to - from + n) % n
	if count == 0 {
		return fittedLine{}, false
	}
	trim := int(float64(count) * sideTrim)
	start, end := trim, count-trim
	if end-start < 2 {
		return fittedLine{}, false
	}

	var mx, my float64
	for k := start; k <= end; k++ {
		p := c[(from+k)%n]
		mx += float64(p.X)
		my += float64(p.Y)
	}
	m := float64(end - start + 1)
	mx /= m
	my /= m

	var sxx, sxy, syy float64
	for k := start; k <= end; k++ {
		p := c[(from+k)%n]
		dx, dy := float64(p.X)-mx, float64(p.Y)-my
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if sxx+syy == 0 {
		return fittedLine{}, false
	}

	// Principal axis of the scatter matrix.
	theta := 0.5 * math.Atan2(2*sxy, sxx-syy)
	return fittedLine{P: Point2D{X: mx, Y: my}, DX: math.Cos(theta), DY: math.Sin(theta)}, true
}

// intersect returns the crossing point of two lines, or false when they are
// within about half a degree of parallel.
func intersect(a, b fittedLine) (Point2D, bool) {
	det := a.DX*b.DY - a.DY*b.DX
	if math.Abs(det) < 1e-2 {
		return Point2D{}, false
	}
	wx, wy := b.P.X-a.P.X, b.P.Y-a.P.Y
	t := (wx*b.DY - wy*b.DX) / det
	return Point2D{X: a.P.X + t*a.DX, Y: a.P.Y + t*a.DY}, true
}
