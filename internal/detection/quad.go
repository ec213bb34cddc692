package detection

import (
	"iter"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"
)

// QuadCandidate is a convex four-vertex approximation of a traced boundary,
// considered as a possible receipt outline.
type QuadCandidate struct {
	// Points are the four vertices in approximation order (no corner roles).
	Points [4]Point `json:"points"`

	// Area is the shoelace area of the quadrilateral in working pixels².
	Area float64 `json:"area"`

	// BoundingBoxArea is the area of the axis-aligned box around Points.
	BoundingBoxArea float64 `json:"bounding_box_area"`

	// Rectangularity is Area / BoundingBoxArea, in [0, 1]. It is 1 for an
	// axis-aligned rectangle and drops as the quad rotates or skews.
	Rectangularity float64 `json:"rectangularity"`

	// Score is AreaWeight·(Area/imageArea) + RectangularityWeight·Rectangularity.
	Score float64 `json:"score"`

	// Subpixel holds the vertices refined against the source contour, in
	// the same order as Points. See RefineCorners.
	Subpixel [4]Point2D `json:"subpixel"`
}

// SelectOptions controls the quadrilateral search.
type SelectOptions struct {
	// EpsilonRatio is the polygon approximation tolerance as a fraction of
	// the contour perimeter.
	EpsilonRatio float64

	// MinAreaRatio rejects quads smaller than this fraction of the image.
	MinAreaRatio float64

	// AreaWeight and RectangularityWeight weight the two score terms.
	AreaWeight           float64
	RectangularityWeight float64

	// Workers > 1 evaluates contours concurrently with at most that many
	// goroutines.
	Workers int
}

// DefaultSelectOptions returns the weights tuned for receipt photos: area
// dominates, rectangularity breaks near-ties between similar-sized regions.
func DefaultSelectOptions() SelectOptions {
	return SelectOptions{
		EpsilonRatio:         0.02,
		MinAreaRatio:         0.05,
		AreaWeight:           0.8,
		RectangularityWeight: 0.2,
		Workers:              1,
	}
}

// NewQuadCandidate computes the area, rectangularity and score of a quad.
// Subpixel is set to the unrefined vertices.
// The score is always finite; a non-positive imageArea scores the area term as 0.
func NewQuadCandidate(pts [4]Point, imageArea float64, opts SelectOptions) QuadCandidate {
	area := PolygonArea(pts[:])
	bbox := BoundingBoxArea(pts[:])

	rect := 0.0
	if bbox > 0 {
		rect = math.Min(1, area/bbox)
	}
	areaRatio := 0.0
	if imageArea > 0 {
		areaRatio = math.Min(1, area/imageArea)
	}

	q := QuadCandidate{
		Points:          pts,
		Area:            area,
		BoundingBoxArea: bbox,
		Rectangularity:  rect,
		Score:           opts.AreaWeight*areaRatio + opts.RectangularityWeight*rect,
	}
	q.Subpixel = q.Points2D()
	return q
}

// Better reports whether q outranks o: higher score first, larger area on ties.
func (q QuadCandidate) Better(o QuadCandidate) bool {
	if q.Score != o.Score {
		return q.Score > o.Score
	}
	return q.Area > o.Area
}

// EvaluateContour turns a contour into a QuadCandidate if it qualifies.
//
// A contour qualifies when its Douglas-Peucker approximation (tolerance
// EpsilonRatio × perimeter) has exactly four vertices, is convex, and
// encloses at least MinAreaRatio × imageArea.
func EvaluateContour(c Contour, imageArea float64, opts SelectOptions) (QuadCandidate, bool) {
	if len(c) < 4 {
		return QuadCandidate{}, false
	}
	minArea := opts.MinAreaRatio * imageArea

	// The polygon lies inside the contour's bounding box, so a small box
	// can be rejected before approximating.
	if BoundingBoxArea(c) < minArea {
		return QuadCandidate{}, false
	}

	poly := ApproxPolygon(c, opts.EpsilonRatio*ArcLength(c))
	if len(poly) != 4 || !IsConvex(poly) {
		return QuadCandidate{}, false
	}
	if PolygonArea(poly) < minArea {
		return QuadCandidate{}, false
	}

	pts := [4]Point{poly[0], poly[1], poly[2], poly[3]}
	q := NewQuadCandidate(pts, imageArea, opts)
	q.Subpixel = RefineCorners(c, pts)
	return q, true
}

// SelectQuad returns the best-scoring qualifying quadrilateral.
//
// Parameters:
//   - contours: Boundaries to consider, typically from Contours.
//   - imageArea: Working-resolution image area in pixels².
//   - opts: Approximation tolerance, size filter, score weights, parallelism.
//
// Returns the winner and true, or a zero candidate and false when nothing
// qualifies. An empty result is a normal outcome, not an error.
//
// Ties on score go to the larger area, then to the contour seen first, so
// the result does not depend on Workers.
func SelectQuad(contours iter.Seq[Contour], imageArea float64, opts SelectOptions) (QuadCandidate, bool) {
	var (
		mu      sync.Mutex
		best    QuadCandidate
		bestIdx = -1
	)
	offer := func(q QuadCandidate, idx int) {
		mu.Lock()
		defer mu.Unlock()
		if bestIdx < 0 || q.Better(best) || (!best.Better(q) && idx < bestIdx) {
			best, bestIdx = q, idx
		}
	}

	if opts.Workers <= 1 {
		idx := 0
		for c := range contours {
			if q, ok := EvaluateContour(c, imageArea, opts); ok {
				offer(q, idx)
			}
			idx++
		}
		return best, bestIdx >= 0
	}

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	idx := 0
	for c := range contours {
		i := idx
		g.Go(func() error {
			if q, ok := EvaluateContour(c, imageArea, opts); ok {
				offer(q, i)
			}
			return nil
		})
		idx++
	}
	_ = g.Wait() // evaluations never fail

	return best, bestIdx >= 0
}
