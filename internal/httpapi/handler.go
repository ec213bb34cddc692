// Package httpapi exposes receipt rectification over HTTP.
//
// POST /v1/rectify takes an image either as the "image" field of a
// multipart form or as the raw request body, and answers with the JPEG
// itself. Whether the receipt was flattened is reported in the
// X-Receipt-Rectified header, so clients that only want the bytes can
// ignore it.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ironsheep/receipt-rectify-mcp/internal/imaging"
	"github.com/ironsheep/receipt-rectify-mcp/internal/rectify"
)

const (
	// DefaultMaxBodyBytes caps uploads; full-resolution phone photos stay
	// well below it.
	DefaultMaxBodyBytes int64 = 25 << 20

	// DefaultTimeout bounds one rectification.
	DefaultTimeout = 30 * time.Second
)

// Response headers set on every successful rectification.
const (
	HeaderRectified = "X-Receipt-Rectified"
	HeaderWidth     = "X-Image-Width"
	HeaderHeight    = "X-Image-Height"
)

// Rectifier turns an encoded photo into a JPEG of the receipt.
// *rectify.Pipeline implements it.
type Rectifier interface {
	Rectify(data []byte, mimeType string) (*rectify.Result, error)
}

// ErrorResponse is the JSON body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler serves the rectification endpoints.
type Handler struct {
	rectifier    Rectifier
	logger       *slog.Logger
	maxBodyBytes int64
	timeout      time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// WithTimeout overrides DefaultTimeout.
//
// The timeout bounds how long a client waits, not the work: the pipeline
// cannot be cancelled, so a timed-out rectification still runs to completion
// in the background and its result is discarded.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHandler returns a Handler that delegates to r.
func NewHandler(r Rectifier, opts ...Option) *Handler {
	h := &Handler{
		rectifier:    r,
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
		timeout:      DefaultTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type outcome struct {
	res *rectify.Result
	err error
}

// Rectify flattens an uploaded receipt photo.
//
// Endpoint: POST /v1/rectify
// Content-Type: multipart/form-data with an "image" file, or the image
// bytes directly with their MIME type.
//
// Status codes:
//   - 200: JPEG body, rectified or the re-encoded original
//   - 400: no image in the request
//   - 413: body larger than the configured limit
//   - 415: content is not a supported image
//   - 504: rectification did not finish in time
func (h *Handler) Rectify(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)

	data, mimeType, status, err := h.readImage(c)
	if err != nil {
		h.logger.Warn("rejected rectify request", "status", status, "error", err, "remote_addr", c.ClientIP())
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	// Buffered so the worker can always deliver and exit after a timeout.
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		res, err := h.rectifier.Rectify(data, mimeType)
		done <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		h.logger.Error("rectify timed out", "bytes", len(data), "timeout", h.timeout)
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "rectification timed out"})
		return
	}

	if out.err != nil {
		var decodeErr *imaging.DecodeError
		if errors.As(out.err, &decodeErr) {
			h.logger.Warn("undecodable upload", "mime_type", mimeType, "error", out.err)
			c.JSON(http.StatusUnsupportedMediaType, ErrorResponse{Error: out.err.Error()})
			return
		}
		h.logger.Error("rectify failed", "error", out.err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "rectification failed"})
		return
	}

	res := out.res
	h.logger.Info("rectified upload",
		"was_rectified", res.WasRectified,
		"width", res.Width,
		"height", res.Height,
		"elapsed", time.Since(start))

	c.Header(HeaderRectified, strconv.FormatBool(res.WasRectified))
	c.Header(HeaderWidth, strconv.Itoa(res.Width))
	c.Header(HeaderHeight, strconv.Itoa(res.Height))
	c.Data(http.StatusOK, res.MimeType, res.Bytes)
}

// readImage extracts the upload and its declared MIME type. On failure it
// returns the HTTP status to answer with.
func (h *Handler) readImage(c *gin.Context) ([]byte, string, int, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, err := c.FormFile("image")
		if err != nil {
			if tooLarge(err) || c.Request.ContentLength > h.maxBodyBytes {
				return nil, "", http.StatusRequestEntityTooLarge, errors.New("image too large")
			}
			return nil, "", http.StatusBadRequest, errors.New("image file is required")
		}
		data, err := readFormFile(file)
		if err != nil {
			return nil, "", http.StatusBadRequest, err
		}
		if len(data) == 0 {
			return nil, "", http.StatusBadRequest, errors.New("image file is empty")
		}
		return data, file.Header.Get("Content-Type"), 0, nil
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		if tooLarge(err) {
			return nil, "", http.StatusRequestEntityTooLarge, errors.New("image too large")
		}
		return nil, "", http.StatusBadRequest, err
	}
	if len(data) == 0 {
		return nil, "", http.StatusBadRequest, errors.New("request body is empty")
	}
	return data, c.ContentType(), 0, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// Health answers liveness checks.
func Health(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	switch c.Request.Method {
	case http.MethodHead:
		c.Status(http.StatusOK)
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
