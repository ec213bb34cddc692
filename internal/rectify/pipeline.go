package rectify

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/ironsheep/receipt-rectify-mcp/internal/detection"
	"github.com/ironsheep/receipt-rectify-mcp/internal/imaging"
)

// OutputMimeType is the MIME type of every Result.
const OutputMimeType = "image/jpeg"

// Result is the outcome of one rectification.
type Result struct {
	// Bytes is the encoded JPEG.
	Bytes []byte `json:"-"`

	// MimeType is always OutputMimeType.
	MimeType string `json:"mime_type"`

	// WasRectified is false when the original was re-encoded unchanged.
	WasRectified bool `json:"was_rectified"`

	// Width and Height are the dimensions of the encoded image.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Candidate is the winning quad at working resolution, if any.
	Candidate *detection.QuadCandidate `json:"candidate,omitempty"`

	// Corners are the ordered corners at full resolution, set when
	// WasRectified is true.
	Corners *detection.CornerSet `json:"corners,omitempty"`
}

// Detection is the outcome of the detection half of the pipeline.
type Detection struct {
	// EdgeMap is the preprocessed working-resolution edge image.
	EdgeMap *imaging.EdgeMap

	// Found reports whether any quad qualified.
	Found bool

	// Candidate is the best quad at working resolution. Valid when Found.
	Candidate detection.QuadCandidate

	// Corners are Candidate's ordered corners at full resolution. Valid
	// when Found and Detect returned no error.
	Corners detection.CornerSet
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for stage outcomes. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pipeline turns receipt photos into flattened receipt images.
//
// A Pipeline holds only its configuration; it is safe for concurrent use and
// every call works on its own buffers.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and returns a Pipeline.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the pipeline's configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

var defaultPipeline = sync.OnceValue(func() *Pipeline {
	p, err := New(DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("default rectify config is invalid: %v", err))
	}
	return p
})

// Rectify runs the pipeline with DefaultConfig.
func Rectify(data []byte, mimeType string) (*Result, error) {
	return defaultPipeline().Rectify(data, mimeType)
}

// Rectify decodes an image and returns the flattened receipt as JPEG.
//
// Parameters:
//   - data: Encoded image bytes.
//   - mimeType: Declared type; empty or "application/octet-stream" sniffs.
//
// Returns a *imaging.DecodeError when data is not a supported image. Failing
// to find a receipt is not an error: the decoded original is re-encoded and
// Result.WasRectified is false.
func (p *Pipeline) Rectify(data []byte, mimeType string) (*Result, error) {
	start := time.Now()

	img, mt, err := imaging.Decode(data, mimeType)
	if err != nil {
		p.logger.Debug("decode failed", "mime_type", mimeType, "bytes", len(data), "error", err)
		return nil, err
	}
	p.logger.Debug("decoded image",
		"mime_type", mt,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy(),
		"elapsed", time.Since(start))

	return p.RectifyImage(img)
}

// RectifyImage runs detection and rectification on an already decoded image.
// img is never modified.
func (p *Pipeline) RectifyImage(img *image.NRGBA) (*Result, error) {
	start := time.Now()

	det, err := p.Detect(img)
	switch {
	case errors.Is(err, detection.ErrAmbiguousCorners):
		p.logger.Warn("corner roles ambiguous, returning original",
			"points", det.Candidate.Points,
			"score", det.Candidate.Score)
		return p.fallback(img, &det.Candidate)
	case err != nil:
		return nil, err
	case !det.Found:
		p.logger.Info("no receipt outline found, returning original",
			"width", img.Bounds().Dx(),
			"height", img.Bounds().Dy())
		return p.fallback(img, nil)
	}

	w, h := DestinationSize(det.Corners)
	out, err := Warp(img, det.Corners, w, h, p.cfg.WarpWorkers)
	if errors.Is(err, ErrDegenerateQuad) {
		p.logger.Warn("degenerate quad, returning original", "corners", det.Corners, "error", err)
		return p.fallback(img, &det.Candidate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to warp: %w", err)
	}

	if p.cfg.NormalizeContrast {
		out = imaging.NormalizeContrast(out, p.cfg.ContrastClipPercent)
	}

	data, err := imaging.EncodeJPEG(out, p.cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("rectified receipt",
		"width", w,
		"height", h,
		"score", det.Candidate.Score,
		"rectangularity", det.Candidate.Rectangularity,
		"elapsed", time.Since(start))

	candidate, corners := det.Candidate, det.Corners
	return &Result{
		Bytes:        data,
		MimeType:     OutputMimeType,
		WasRectified: true,
		Width:        w,
		Height:       h,
		Candidate:    &candidate,
		Corners:      &corners,
	}, nil
}

// Detect runs preprocessing, contour extraction, quad selection and corner
// ordering without warping.
//
// The returned Detection is never nil. When the winning quad's corners
// cannot be ordered, Found is true and the error wraps
// detection.ErrAmbiguousCorners.
func (p *Pipeline) Detect(img *image.NRGBA) (*Detection, error) {
	start := time.Now()

	edges := imaging.Preprocess(img, p.cfg.Preprocess)
	p.logger.Debug("preprocessed",
		"working_width", edges.Edges.Bounds().Dx(),
		"working_height", edges.Edges.Bounds().Dy(),
		"scale", edges.Scale,
		"elapsed", time.Since(start))

	det := &Detection{EdgeMap: edges}

	best, ok := detection.SelectQuad(detection.Contours(edges.Edges), edges.Area(), p.cfg.Select)
	if !ok {
		return det, nil
	}
	det.Found = true
	det.Candidate = best
	p.logger.Debug("selected quad",
		"points", best.Points,
		"area", best.Area,
		"rectangularity", best.Rectangularity,
		"score", best.Score)

	corners, err := detection.OrderCorners(best.Subpixel)
	if err != nil {
		return det, fmt.Errorf("failed to order corners: %w", err)
	}
	det.Corners = toFullResolution(corners, edges.Scale)

	return det, nil
}

// fallback re-encodes the decoded original unchanged.
func (p *Pipeline) fallback(img *image.NRGBA, candidate *detection.QuadCandidate) (*Result, error) {
	data, err := imaging.EncodeJPEG(img, p.cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &Result{
		Bytes:        data,
		MimeType:     OutputMimeType,
		WasRectified: false,
		Width:        b.Dx(),
		Height:       b.Dy(),
		Candidate:    candidate,
	}, nil
}

// toFullResolution maps working-resolution pixel centres back to the source
// image, so a downscaled detection lands on the same pixels as a full-size one.
func toFullResolution(c detection.CornerSet, scale float64) detection.CornerSet {
	if scale == 1 || scale <= 0 {
		return c
	}
	f := func(p detection.Point2D) detection.Point2D {
		return detection.Point2D{X: (p.X+0.5)/scale - 0.5, Y: (p.Y+0.5)/scale - 0.5}
	}
	return detection.CornerSet{TL: f(c.TL), TR: f(c.TR), BR: f(c.BR), BL: f(c.BL)}
}
