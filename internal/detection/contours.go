package detection

import (
	"image"
	"iter"
)

// Point represents a 2D coordinate in pixel space.
type Point struct {
	X int `json:"x"` // Horizontal position (0 = leftmost)
	Y int `json:"y"` // Vertical position (0 = topmost)
}

// Contour is an ordered, closed boundary: the last point connects back to the first.
type Contour []Point

// mooreDirs lists the 8 neighbours clockwise (on screen, y down) starting east.
var mooreDirs = [8]Point{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}

// Contours traces the outer boundary of every 8-connected group of edge pixels.
//
// Parameters:
//   - edges: Binary edge map; any non-zero pixel is an edge.
//
// Returns a lazy, finite sequence. Each contour is traced only when the
// consumer asks for it, so a consumer that stops early does no further work.
// An edge map without edge pixels yields an empty sequence.
//
// # Algorithm
//
//  1. Raster-scan for an edge pixel not yet assigned to a group. Because the
//     scan runs top-down, left-right, the first pixel of each group has only
//     background above and to its left.
//  2. Moore-neighbour tracing from that pixel, searching clockwise from the
//     backtrack neighbour, until the first move is repeated (Jacob's
//     stopping criterion).
//  3. Flood-fill the group so its remaining pixels are skipped by the scan.
//
// Only outer boundaries are produced; holes and nesting are not tracked.
func Contours(edges *image.Gray) iter.Seq[Contour] {
	return func(yield func(Contour) bool) {
		b := edges.Bounds()
		width, height := b.Dx(), b.Dy()

		fg := make([]bool, width*height)
		hasEdges := false
		for y := 0; y < height; y++ {
			row := edges.Pix[edges.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < width; x++ {
				if row[x] != 0 {
					fg[y*width+x] = true
					hasEdges = true
				}
			}
		}
		if !hasEdges {
			return
		}

		visited := make([]bool, width*height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				i := y*width + x
				if !fg[i] || visited[i] {
					continue
				}
				contour := traceBoundary(fg, width, height, x, y)
				floodFill(fg, visited, x, y, width, height)
				if !yield(contour) {
					return
				}
			}
		}
	}
}

// traceBoundary follows the outer boundary of the group containing (startX,
// startY), which must be the group's first pixel in raster order.
func traceBoundary(fg []bool, width, height, startX, startY int) Contour {
	start := Point{X: startX, Y: startY}
	contour := Contour{start}

	isEdge := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < width && y < height && fg[y*width+x]
	}

	cur := start
	back := 4 // west of the start pixel is background
	var first Point
	moved := false

	// A boundary visits each pixel at most four times.
	limit := 4*width*height + 8
	for step := 0; step < limit; step++ {
		found := -1
		for k := 1; k <= 8; k++ {
			d := (back + k) % 8
			if isEdge(cur.X+mooreDirs[d].X, cur.Y+mooreDirs[d].Y) {
				found = d
				break
			}
		}
		if found < 0 {
			return contour // isolated pixel
		}

		next := Point{X: cur.X + mooreDirs[found].X, Y: cur.Y + mooreDirs[found].Y}
		if !moved {
			first = next
			moved = true
		} else if cur == start && next == first {
			break
		}

		// The neighbour examined just before next is background; express it
		// relative to next.
		if found%2 == 0 {
			back = (found + 6) % 8
		} else {
			back = (found + 5) % 8
		}
		cur = next
		contour = append(contour, cur)
	}

	if len(contour) > 1 && contour[len(contour)-1] == start {
		contour = contour[:len(contour)-1]
	}
	return contour
}

// floodFill marks every pixel 8-connected to (startX, startY) as visited.
//
// Uses a stack-based approach (not recursive) to avoid stack overflow
// on large groups.
func floodFill(fg, visited []bool, startX, startY, width, height int) {
	stack := []Point{{X: startX, Y: startY}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.X < 0 || p.X >= width || p.Y < 0 || p.Y >= height {
			continue
		}
		i := p.Y*width + p.X
		if visited[i] || !fg[i] {
			continue
		}
		visited[i] = true

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				stack = append(stack, Point{X: p.X + dx, Y: p.Y + dy})
			}
		}
	}
}
