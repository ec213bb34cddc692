package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// OverlayResult contains the image with a detected quadrilateral drawn on it.
type OverlayResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// DrawQuadOverlay draws a closed quadrilateral outline and corner labels on a
// copy of img and returns it as base64 PNG.
//
// quad is walked in order (quad[3] connects back to quad[0]); labels[i] is
// printed next to quad[i] and may be empty. The outline is 3 pixels wide.
// An unparseable colorHex falls back to opaque green.
func DrawQuadOverlay(img image.Image, quad [4]image.Point, labels [4]string, colorHex string) (*OverlayResult, error) {
	bounds := img.Bounds()

	lineColor, err := parseHexColor(colorHex)
	if err != nil {
		lineColor = color.RGBA{0, 200, 0, 255}
	}

	result := image.NewRGBA(bounds)
	draw.Draw(result, bounds, img, bounds.Min, draw.Src)

	for i := range quad {
		drawLine(result, quad[i], quad[(i+1)%4], lineColor, 1)
	}

	labelColor := color.RGBA{255, 255, 255, 255}
	bgColor := color.RGBA{0, 0, 0, 180}
	for i, p := range quad {
		if labels[i] == "" {
			continue
		}
		drawLabel(result, p.X+4, p.Y+4, labels[i], labelColor, bgColor)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, result); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &OverlayResult{
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}

// drawLine draws a Bresenham line with a square pen of the given half width.
func drawLine(img *image.RGBA, a, b image.Point, c color.RGBA, halfWidth int) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	x, y := a.X, a.Y
	for {
		for py := y - halfWidth; py <= y+halfWidth; py++ {
			for px := x - halfWidth; px <= x+halfWidth; px++ {
				if (image.Point{px, py}).In(img.Bounds()) {
					img.SetRGBA(px, py, c)
				}
			}
		}
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// parseHexColor parses "#RGB", "#RRGGBB" or "#RRGGBBAA"; the leading '#'
// is optional.
func parseHexColor(hex string) (color.RGBA, error) {
	if hex == "" {
		return color.RGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] != '#' {
		hex = "#" + hex
	}

	alpha := uint8(255)
	if len(hex) == 9 {
		v, err := strconv.ParseUint(hex[7:], 16, 8)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("invalid alpha in %q: %w", hex, err)
		}
		alpha = uint8(v)
		hex = hex[:7]
	}

	c, err := colorful.Hex(hex)
	if err != nil {
		return color.RGBA{}, err
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: alpha}, nil
}

// labelGlyphs is a 3x5 pixel font covering corner names and coordinates.
var labelGlyphs = map[rune][]string{
	'0': {"111", "101", "101", "101", "111"},
	'1': {"010", "110", "010", "010", "111"},
	'2': {"111", "001", "111", "100", "111"},
	'3': {"111", "001", "111", "001", "111"},
	'4': {"101", "101", "111", "001", "001"},
	'5': {"111", "100", "111", "001", "111"},
	'6': {"111", "100", "111", "101", "111"},
	'7': {"111", "001", "001", "001", "001"},
	'8': {"111", "101", "111", "101", "111"},
	'9': {"111", "101", "111", "001", "111"},
	',': {"000", "000", "000", "010", "010"},
	'T': {"111", "010", "010", "010", "010"},
	'L': {"100", "100", "100", "100", "111"},
	'R': {"110", "101", "110", "101", "101"},
	'B': {"110", "101", "110", "101", "110"},
}

// drawLabel draws a text label at the given position, scaled 2x so it stays
// readable on multi-megapixel photos.
func drawLabel(img *image.RGBA, x, y int, text string, fg, bg color.RGBA) {
	const px = 2
	bounds := img.Bounds()
	charWidth := 4 * px
	labelWidth := len(text) * charWidth
	labelHeight := 7 * px

	set := func(u, v int, c color.RGBA) {
		if u >= bounds.Min.X && u < bounds.Max.X && v >= bounds.Min.Y && v < bounds.Max.Y {
			img.Set(u, v, c)
		}
	}

	// Draw background
	for dy := -px; dy < labelHeight; dy++ {
		for dx := -px; dx < labelWidth; dx++ {
			set(x+dx, y+dy, bg)
		}
	}

	// Draw text
	cx := x
	for _, ch := range text {
		glyph, ok := labelGlyphs[ch]
		if !ok {
			cx += charWidth
			continue
		}
		for row, line := range glyph {
			for col, pixel := range line {
				if pixel != '1' {
					continue
				}
				for sy := 0; sy < px; sy++ {
					for sx := 0; sx < px; sx++ {
						set(cx+col*px+sx, y+row*px+sy, fg)
					}
				}
			}
		}
		cx += charWidth
	}
}
