package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// stepGray returns a w x h buffer that is 0 left of column x0 and v from x0 on.
func stepGray(w, h, x0 int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := x0; x < w; x++ {
			img.Pix[y*img.Stride+x] = v
		}
	}
	return img
}

// createSquareImage draws a white square covering [lo,hi) on black.
func createSquareImage(size, lo, hi int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.NRGBA{0, 0, 0, 255}
			if x >= lo && x < hi && y >= lo && y < hi {
				c = color.NRGBA{255, 255, 255, 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func countEdges(g *image.Gray) int {
	n := 0
	for _, v := range g.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

func TestCanny_StepIsOnePixelWide(t *testing.T) {
	edges := Canny(stepGray(40, 20, 20, 200), 50, 150)

	// Both sides of the step have equal magnitude; the left one is kept.
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			want := uint8(0)
			if x == 19 && y >= 1 && y <= 18 {
				want = 255
			}
			if got := edges.GrayAt(x, y).Y; got != want {
				t.Fatalf("pixel (%d,%d): got %d, want %d", x, y, got, want)
			}
		}
	}
}

func TestCanny_Hysteresis(t *testing.T) {
	// The step fades downward, so only its upper part is strong.
	img := image.NewGray(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		v := uint8(200 - 4*y)
		for x := 20; x < 40; x++ {
			img.Pix[y*img.Stride+x] = v
		}
	}

	tests := []struct {
		name      string
		low, high float64
		want      int
	}{
		{"weak pixels linked to a strong seed", 100, 600, 38},
		{"no strong seed", 100, 900, 0},
		{"everything below low", 900, 1000, 0},
		{"thresholds swapped", 600, 100, 38},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edges := Canny(img, tt.low, tt.high)
			if got := countEdges(edges); got != tt.want {
				t.Errorf("edge pixels: got %d, want %d", got, tt.want)
			}
			if tt.want > 0 {
				for y := 1; y < 39; y++ {
					if edges.GrayAt(20, y).Y != 255 {
						t.Errorf("column 20 row %d is not an edge", y)
					}
				}
			}
		})
	}
}

func TestCanny_UniformAndTiny(t *testing.T) {
	if n := countEdges(Canny(stepGray(30, 30, 30, 0), 50, 150)); n != 0 {
		t.Errorf("uniform image: got %d edge pixels, want 0", n)
	}

	tiny := Canny(stepGray(2, 2, 1, 255), 1, 2)
	if tiny.Bounds() != image.Rect(0, 0, 2, 2) || countEdges(tiny) != 0 {
		t.Errorf("tiny image: got %v with %d edges", tiny.Bounds(), countEdges(tiny))
	}
}

func TestCanny_SubImage(t *testing.T) {
	full := stepGray(60, 30, 30, 200)
	sub := full.SubImage(image.Rect(10, 5, 50, 25)).(*image.Gray)

	edges := Canny(sub, 50, 150)
	if edges.Bounds() != image.Rect(0, 0, 40, 20) {
		t.Fatalf("bounds: got %v, want origin-based 40x20", edges.Bounds())
	}
	if edges.GrayAt(19, 10).Y != 255 {
		t.Error("expected the step at local column 19")
	}
}

func TestEdgeDetect(t *testing.T) {
	opts := DefaultPreprocessOptions()
	result, err := EdgeDetect(createSquareImage(100, 20, 80), opts)
	if err != nil {
		t.Fatalf("EdgeDetect failed: %v", err)
	}

	if result.Width != 100 || result.Height != 100 {
		t.Errorf("dimensions: got %dx%d, want 100x100", result.Width, result.Height)
	}
	if result.Scale != 1 {
		t.Errorf("Scale: got %v, want 1", result.Scale)
	}
	if result.MimeType != "image/png" {
		t.Errorf("MimeType: got %s, want image/png", result.MimeType)
	}
	if result.EdgePixels == 0 {
		t.Error("expected edge pixels around the square")
	}

	decoded, err := base64.StdEncoding.DecodeString(result.ImageBase64)
	if err != nil {
		t.Fatalf("failed to decode base64: %v", err)
	}
	edgeImg, err := png.Decode(bytes.NewReader(decoded))
	if err != nil {
		t.Fatalf("failed to decode PNG: %v", err)
	}
	if edgeImg.Bounds().Dx() != 100 || edgeImg.Bounds().Dy() != 100 {
		t.Errorf("decoded image dimensions: got %v, want 100x100", edgeImg.Bounds())
	}
}

func TestEdgeDetect_Downscaled(t *testing.T) {
	opts := DefaultPreprocessOptions()
	opts.MaxWorkingDimension = 50

	result, err := EdgeDetect(createSquareImage(200, 40, 160), opts)
	if err != nil {
		t.Fatalf("EdgeDetect failed: %v", err)
	}
	if result.Width != 50 || result.Height != 50 {
		t.Errorf("working size: got %dx%d, want 50x50", result.Width, result.Height)
	}
	if result.Scale != 0.25 {
		t.Errorf("Scale: got %v, want 0.25", result.Scale)
	}
}

func TestEdgeDetect_UniformImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 50, 50))
	for i := range img.Pix {
		img.Pix[i] = 128
	}

	result, err := EdgeDetect(img, DefaultPreprocessOptions())
	if err != nil {
		t.Fatalf("EdgeDetect failed: %v", err)
	}
	if result.EdgePixels != 0 {
		t.Errorf("uniform image: got %d edge pixels, want 0", result.EdgePixels)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		val, min, max, want int
	}{
		{5, 0, 10, 5},
		{-5, 0, 10, 0},
		{15, 0, 10, 10},
		{0, 0, 10, 0},
		{10, 0, 10, 10},
	}

	for _, tt := range tests {
		if got := clamp(tt.val, tt.min, tt.max); got != tt.want {
			t.Errorf("clamp(%d, %d, %d): got %d, want %d", tt.val, tt.min, tt.max, got, tt.want)
		}
	}
}
