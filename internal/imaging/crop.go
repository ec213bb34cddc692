package imaging

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// DefaultJPEGQuality is the quality used for every JPEG the pipeline emits.
const DefaultJPEGQuality = 95

// EncodeJPEG encodes an image as JPEG at the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// CropResult contains a manually cropped region encoded as JPEG.
type CropResult struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Bytes    []byte `json:"-"`
	MimeType string `json:"mime_type"`
}

// CropJPEG extracts a rectangular region from an image and encodes it as JPEG.
// This is the manual path for a receipt the detector could not isolate.
func CropJPEG(img image.Image, x1, y1, x2, y2, quality int) (*CropResult, error) {
	bounds := img.Bounds()

	// Validate coordinates
	if x1 < bounds.Min.X || y1 < bounds.Min.Y || x2 > bounds.Max.X || y2 > bounds.Max.Y {
		return nil, fmt.Errorf("crop region (%d,%d)-(%d,%d) outside image bounds (%d,%d)-(%d,%d)",
			x1, y1, x2, y2, bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	}
	if x1 >= x2 || y1 >= y2 {
		return nil, fmt.Errorf("invalid crop region: x1 must be < x2, y1 must be < y2")
	}

	cropped := imaging.Crop(img, image.Rect(x1, y1, x2, y2))

	data, err := EncodeJPEG(cropped, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cropped image: %w", err)
	}

	return &CropResult{
		Width:    cropped.Bounds().Dx(),
		Height:   cropped.Bounds().Dy(),
		Bytes:    data,
		MimeType: "image/jpeg",
	}, nil
}
