package rectify

import (
	"errors"
	"fmt"

	"github.com/ironsheep/receipt-rectify-mcp/internal/detection"
	"github.com/ironsheep/receipt-rectify-mcp/internal/imaging"
)

// ErrInvalidConfig is wrapped by every Config.Validate failure.
var ErrInvalidConfig = errors.New("invalid rectify config")

// Config holds every tunable of the pipeline.
type Config struct {
	// Preprocess controls downscaling, smoothing, Canny and closing.
	Preprocess imaging.PreprocessOptions

	// Select controls polygon approximation, the area filter and scoring.
	Select detection.SelectOptions

	// JPEGQuality is the output encoder quality, 1-100.
	JPEGQuality int

	// NormalizeContrast stretches the lightness of rectified output.
	// The fallback path never alters the image.
	NormalizeContrast bool

	// ContrastClipPercent is the percentage of darkest and brightest pixels
	// ignored when NormalizeContrast picks its stretch range.
	ContrastClipPercent float64

	// WarpWorkers bounds the goroutines resampling output rows.
	// Zero uses GOMAXPROCS.
	WarpWorkers int
}

// DefaultConfig returns the configuration used by the package-level Rectify.
func DefaultConfig() Config {
	return Config{
		Preprocess:          imaging.DefaultPreprocessOptions(),
		Select:              detection.DefaultSelectOptions(),
		JPEGQuality:         imaging.DefaultJPEGQuality,
		NormalizeContrast:   false,
		ContrastClipPercent: 1,
		WarpWorkers:         0,
	}
}

// Validate reports the first out-of-range setting.
func (c Config) Validate() error {
	p, s := c.Preprocess, c.Select

	switch {
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return fmt.Errorf("%w: jpeg quality %d outside 1-100", ErrInvalidConfig, c.JPEGQuality)
	case c.ContrastClipPercent < 0 || c.ContrastClipPercent >= 50:
		return fmt.Errorf("%w: contrast clip %.2f%% outside [0, 50)", ErrInvalidConfig, c.ContrastClipPercent)
	case c.WarpWorkers < 0:
		return fmt.Errorf("%w: warp workers %d is negative", ErrInvalidConfig, c.WarpWorkers)

	case p.Smoothing == imaging.SmoothingBilateral && p.BilateralDiameter < 1:
		return fmt.Errorf("%w: bilateral diameter %d must be at least 1", ErrInvalidConfig, p.BilateralDiameter)
	case p.Smoothing == imaging.SmoothingBilateral && (p.SigmaColor <= 0 || p.SigmaSpace <= 0):
		return fmt.Errorf("%w: bilateral sigmas must be positive", ErrInvalidConfig)
	case p.Smoothing == imaging.SmoothingGaussian && p.GaussianRadius < 0:
		return fmt.Errorf("%w: gaussian radius %.2f is negative", ErrInvalidConfig, p.GaussianRadius)
	case p.CannyLow < 0 || p.CannyHigh < p.CannyLow:
		return fmt.Errorf("%w: canny thresholds need 0 <= low (%.1f) <= high (%.1f)", ErrInvalidConfig, p.CannyLow, p.CannyHigh)

	case s.EpsilonRatio <= 0 || s.EpsilonRatio >= 1:
		return fmt.Errorf("%w: epsilon ratio %.3f outside (0, 1)", ErrInvalidConfig, s.EpsilonRatio)
	case s.MinAreaRatio < 0 || s.MinAreaRatio >= 1:
		return fmt.Errorf("%w: min area ratio %.3f outside [0, 1)", ErrInvalidConfig, s.MinAreaRatio)
	case s.AreaWeight < 0 || s.RectangularityWeight < 0:
		return fmt.Errorf("%w: score weights must not be negative", ErrInvalidConfig)
	case s.AreaWeight+s.RectangularityWeight == 0:
		return fmt.Errorf("%w: score weights must not both be zero", ErrInvalidConfig)
	case s.Workers < 0:
		return fmt.Errorf("%w: select workers %d is negative", ErrInvalidConfig, s.Workers)
	}
	return nil
}
