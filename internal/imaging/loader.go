package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"mime"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// ErrEmptyImage is wrapped by a DecodeError when no bytes were supplied.
var ErrEmptyImage = errors.New("empty image data")

// DecodeError reports that input bytes are not a supported image container.
//
// It is the only fatal error of the rectification pipeline: nothing is
// produced for the caller when ingestion fails. Use errors.As to detect it.
type DecodeError struct {
	// MimeType is the normalized MIME type that was declared or sniffed.
	MimeType string

	// Err is the underlying decoder error.
	Err error
}

func (e *DecodeError) Error() string {
	if e.MimeType == "" {
		return fmt.Sprintf("failed to decode image: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode %s image: %v", e.MimeType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode converts encoded image bytes into an upright NRGBA pixel buffer.
//
// Parameters:
//   - data: Encoded image bytes. JPEG, PNG, GIF, WebP, BMP, TIFF and HEIC/HEIF
//     are supported.
//   - mimeType: Declared MIME type. May be empty or generic
//     ("application/octet-stream"). When the content sniffs as a known image
//     type, the sniffed type is used instead.
//
// Returns:
//   - *image.NRGBA: A freshly allocated buffer with bounds starting at (0,0).
//     EXIF orientation is applied so the pixels are upright as displayed.
//   - string: The normalized MIME type that was used for decoding.
//   - error: A *DecodeError if the bytes cannot be decoded.
//
// # HEIC
//
// The standard library has no HEIC decoder. HEIC/HEIF content (common on
// iPhones) is detected by its ISO-BMFF "ftyp" brand or by MIME type and
// decoded with a pure Go decoder.
func Decode(data []byte, mimeType string) (*image.NRGBA, string, error) {
	mt := NormalizeMimeType(mimeType)
	if len(data) == 0 {
		return nil, mt, &DecodeError{MimeType: mt, Err: ErrEmptyImage}
	}
	// Content wins over the declared type when it is a recognizable image:
	// clients routinely label JPEG exports from photo apps as HEIC.
	if sniffed := SniffMimeType(data); strings.HasPrefix(sniffed, "image/") || mt == "" || mt == "application/octet-stream" {
		mt = sniffed
	}

	var img image.Image
	var err error
	if isHEICFormat(data) || isHEICMimeType(mt) {
		img, err = heic.Decode(bytes.NewReader(data))
	} else {
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	}
	if err != nil {
		return nil, mt, &DecodeError{MimeType: mt, Err: err}
	}

	// Clone gives every caller an exclusively owned buffer at origin (0,0).
	return imaging.Clone(img), mt, nil
}

// NormalizeMimeType lower-cases a MIME type and strips parameters.
func NormalizeMimeType(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if mt == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	if mt == "image/jpg" || mt == "image/pjpeg" {
		mt = "image/jpeg"
	}
	return mt
}

// SniffMimeType determines an image MIME type from its leading bytes.
// Unknown content yields "application/octet-stream".
func SniffMimeType(data []byte) string {
	if isHEICFormat(data) {
		return "image/heic"
	}
	// DetectContentType does not know TIFF.
	if len(data) >= 4 && (bytes.HasPrefix(data, []byte("II*\x00")) || bytes.HasPrefix(data, []byte("MM\x00*"))) {
		return "image/tiff"
	}
	return NormalizeMimeType(http.DetectContentType(data))
}

// isHEICFormat checks the ISO-BMFF ftyp box for a HEIC/HEIF brand.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// ImageCache provides thread-safe caching of decoded images keyed by file path.
//
// The cache belongs to long-lived tool servers; the rectification pipeline
// itself never caches. ImageCache is safe for concurrent use by multiple
// goroutines.
//
// # Example Usage
//
//	cache := imaging.NewImageCache()
//	img, err := cache.Load("/path/to/receipt.jpg")
//	if err != nil {
//	    return err
//	}
//	cache.Evict("/path/to/receipt.jpg") // Optional: free memory
//
// An entry is reused only while the file's size and modification time are
// unchanged; a file rewritten on disk is decoded again.
type ImageCache struct {
	mu     sync.RWMutex
	images map[string]*cachedImage
}

type cachedImage struct {
	img      *image.NRGBA
	mimeType string
	size     int64
	modTime  time.Time
}

// NewImageCache creates and initializes a new empty image cache.
func NewImageCache() *ImageCache {
	return &ImageCache{
		images: make(map[string]*cachedImage),
	}
}

// Load retrieves an image from the cache or reads and decodes it from disk.
//
// The returned buffer is shared with the cache and must not be modified;
// pipeline stages always write to new buffers so this holds for callers in
// this module.
//
// # Errors
//
//   - Returns error if the file does not exist or cannot be read
//   - Returns a *DecodeError if the content is not a supported image
func (c *ImageCache) Load(path string) (*image.NRGBA, error) {
	entry, err := c.load(path)
	if err != nil {
		return nil, err
	}
	return entry.img, nil
}

func (c *ImageCache) load(path string) (*cachedImage, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	c.mu.RLock()
	entry, ok := c.images[path]
	c.mu.RUnlock()
	if ok && entry.size == fi.Size() && entry.modTime.Equal(fi.ModTime()) {
		return entry, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	img, mt, err := Decode(data, "")
	if err != nil {
		c.Evict(path)
		return nil, err
	}

	entry = &cachedImage{img: img, mimeType: mt, size: int64(len(data)), modTime: fi.ModTime()}
	c.mu.Lock()
	c.images[path] = entry
	c.mu.Unlock()

	return entry, nil
}

// Evict removes a specific image from the cache by its path.
// If the path is not in the cache, this method does nothing.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	delete(c.images, path)
	c.mu.Unlock()
}

// ImageInfo contains metadata about a loaded image file.
type ImageInfo struct {
	// Width is the image width in pixels, after EXIF orientation.
	Width int `json:"width"`

	// Height is the image height in pixels, after EXIF orientation.
	Height int `json:"height"`

	// MimeType is the MIME type sniffed from the file content.
	MimeType string `json:"mime_type"`

	// Megapixels is Width*Height/1e6 rounded to two decimals.
	Megapixels float64 `json:"megapixels"`

	// FileSizeBytes is the size of the image file on disk in bytes.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// LoadImageInfo loads an image through the cache and returns its metadata.
//
// Unlike extension-based detection, the MIME type is taken from the file
// content, so a HEIC photo renamed to ".jpg" is still reported as image/heic.
func LoadImageInfo(cache *ImageCache, path string) (*ImageInfo, error) {
	entry, err := cache.load(path)
	if err != nil {
		return nil, err
	}

	bounds := entry.img.Bounds()
	mp := float64(bounds.Dx()*bounds.Dy()) / 1e6

	return &ImageInfo{
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		MimeType:      entry.mimeType,
		Megapixels:    float64(int(mp*100+0.5)) / 100,
		FileSizeBytes: entry.size,
	}, nil
}

// DimensionsResult contains the width and height of an image.
type DimensionsResult struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// GetDimensions returns the dimensions of an image without additional metadata.
func GetDimensions(cache *ImageCache, path string) (*DimensionsResult, error) {
	img, err := cache.Load(path)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	return &DimensionsResult{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
