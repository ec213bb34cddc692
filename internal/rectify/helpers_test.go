package rectify

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ironsheep/receipt-rectify-mcp/internal/imaging"
)

const (
	backgroundGray = 110
	paperGray      = 240
	bandGray       = 0
)

func solidImage(w, h int, v uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

// flatScene draws an axis-aligned sheet covering [x0,x1) x [y0,y1).
func flatScene(w, h, x0, y0, x1, y1 int) *image.NRGBA {
	img := solidImage(w, h, backgroundGray)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.SetNRGBA(x, y, color.NRGBA{paperGray, paperGray, paperGray, 255})
		}
	}
	return img
}

// paperScene draws a sheet with half extents halfW x halfH centred in a
// size x size frame, turned clockwise by deg. The top band of the sheet,
// band pixels tall, is black so the sheet's orientation is visible after
// rectification.
func paperScene(size int, halfW, halfH, deg, band float64) *image.NRGBA {
	img := solidImage(size, size, backgroundGray)
	c := float64(size) / 2
	rad := deg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			lx := dx*cos + dy*sin
			ly := -dx*sin + dy*cos
			if math.Abs(lx) > halfW || math.Abs(ly) > halfH {
				continue
			}
			v := uint8(paperGray)
			if ly < -halfH+band {
				v = bandGray
			}
			img.SetNRGBA(x, y, color.NRGBA{v, v, v, 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeResult(t *testing.T, res *Result) *image.NRGBA {
	t.Helper()
	img, mt, err := imaging.Decode(res.Bytes, res.MimeType)
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", mt)
	return img
}

// lum returns the red channel, which equals luminance for grey images.
func lum(img *image.NRGBA, x, y int) uint8 {
	return img.Pix[img.PixOffset(x, y)]
}

func testPipeline(t *testing.T, mutate func(*Config)) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}
