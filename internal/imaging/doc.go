// Package imaging provides the pixel-level stages of receipt rectification.
//
// This package implements ingestion (decoding JPEG, PNG, GIF, WebP, BMP, TIFF
// and HEIC bytes into an upright NRGBA buffer), the detection preprocessor
// (downscale, luminance, bilateral or Gaussian smoothing, Canny edges,
// morphological closing), output encoding, optional contrast normalization,
// manual cropping and a detection overlay for previews.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - For regions, (x1,y1) is inclusive (top-left), (x2,y2) is exclusive (bottom-right)
//
// # Buffer Ownership
//
// Every stage returns a newly allocated buffer whose bounds start at (0,0)
// and never writes to its input. A buffer handed to the next stage is not
// read by any other stage, so no locking is needed even when many images are
// processed concurrently. The only exception is Downscale, which returns its
// input unchanged when no resize is needed.
//
// # Thread Safety
//
// The ImageCache type is safe for concurrent use. All other functions are
// stateless.
//
// # Error Handling
//
// Decode returns a *DecodeError for bytes that are not a supported image.
// The filters are total: a blank or pure-noise image yields an empty or noisy
// edge map, never an error.
package imaging
