package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"os"

	"github.com/ironsheep/receipt-rectify-mcp/internal/detection"
	"github.com/ironsheep/receipt-rectify-mcp/internal/imaging"
	"github.com/ironsheep/receipt-rectify-mcp/internal/rectify"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "image_load", "receipt_rectify").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(params.Name, params.Arguments)
	if errors.Is(err, errInvalidArguments) || errors.Is(err, rectify.ErrInvalidConfig) {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}
	if err != nil {
		s.logger.Warn("tool failed", "tool", params.Name, "error", err)
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
//
// Each tool handler:
//  1. Unmarshals arguments from JSON
//  2. Applies default values for optional parameters
//  3. Loads images from cache as needed
//  4. Calls the appropriate imaging/rectify function
//  5. Returns the result or error
func (s *Server) executeTool(name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Basic Image Information
	case "image_load":
		return s.handleImageLoad(args)
	case "image_dimensions":
		return s.handleImageDimensions(args)

	// Detection Diagnostics
	case "image_edge_detect":
		return s.handleImageEdgeDetect(args)
	case "receipt_detect":
		return s.handleReceiptDetect(args)

	// Output
	case "receipt_rectify":
		return s.handleReceiptRectify(args)
	case "receipt_crop":
		return s.handleReceiptCrop(args)

	default:
		return nil, fmt.Errorf("%w: unknown tool: %s", errInvalidArguments, name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// errInvalidArguments marks errors caused by the caller's arguments rather
// than by the image or the pipeline.
var errInvalidArguments = errors.New("invalid arguments")

// unmarshalArgs decodes tool arguments and requires a non-empty path.
func unmarshalArgs(args json.RawMessage, v interface{ path() string }) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidArguments, err)
	}
	if v.path() == "" {
		return fmt.Errorf("%w: path is required", errInvalidArguments)
	}
	return nil
}

// === Basic Image Information Handlers ===

type imageLoadArgs struct {
	Path string `json:"path"`
}

func (a *imageLoadArgs) path() string { return a.Path }

func (s *Server) handleImageLoad(args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	return imaging.LoadImageInfo(s.cache, a.Path)
}

func (s *Server) handleImageDimensions(args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	return imaging.GetDimensions(s.cache, a.Path)
}

// === Detection Diagnostic Handlers ===

type imageEdgeDetectArgs struct {
	Path                string   `json:"path"`
	MaxWorkingDimension *int     `json:"max_working_dimension"`
	Smoothing           string   `json:"smoothing"`
	ThresholdLow        *float64 `json:"threshold_low"`
	ThresholdHigh       *float64 `json:"threshold_high"`
}

func (a *imageEdgeDetectArgs) path() string { return a.Path }

func (s *Server) handleImageEdgeDetect(args json.RawMessage) (interface{}, error) {
	var a imageEdgeDetectArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}

	cfg := s.pipeline.Config()
	opts := cfg.Preprocess
	if a.MaxWorkingDimension != nil {
		opts.MaxWorkingDimension = *a.MaxWorkingDimension
	}
	if a.Smoothing != "" {
		sm, ok := imaging.ParseSmoothing(a.Smoothing)
		if !ok {
			return nil, fmt.Errorf("%w: unknown smoothing %q (want bilateral or gaussian)", errInvalidArguments, a.Smoothing)
		}
		opts.Smoothing = sm
	}
	if a.ThresholdLow != nil {
		opts.CannyLow = *a.ThresholdLow
	}
	if a.ThresholdHigh != nil {
		opts.CannyHigh = *a.ThresholdHigh
	}
	cfg.Preprocess = opts
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	return imaging.EdgeDetect(img, opts)
}

type receiptDetectArgs struct {
	Path  string `json:"path"`
	Color string `json:"color"`
}

func (a *receiptDetectArgs) path() string { return a.Path }

// receiptDetectResult reports what the pipeline would do with an image,
// without producing the rectified output.
type receiptDetectResult struct {
	Found     bool                     `json:"found"`
	Ambiguous bool                     `json:"ambiguous"`
	Scale     float64                  `json:"scale"`
	Candidate *detection.QuadCandidate `json:"candidate,omitempty"`
	Corners   *detection.CornerSet     `json:"corners,omitempty"`
	Overlay   *imaging.OverlayResult   `json:"overlay,omitempty"`
}

func (s *Server) handleReceiptDetect(args json.RawMessage) (interface{}, error) {
	var a receiptDetectArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Color == "" {
		a.Color = "#00FF00"
	}

	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}

	det, err := s.pipeline.Detect(img)
	ambiguous := errors.Is(err, detection.ErrAmbiguousCorners)
	if err != nil && !ambiguous {
		return nil, err
	}

	result := &receiptDetectResult{
		Found:     det.Found,
		Ambiguous: ambiguous,
		Scale:     det.EdgeMap.Scale,
	}
	if !det.Found {
		return result, nil
	}

	candidate := det.Candidate
	result.Candidate = &candidate

	var quad [4]image.Point
	var labels [4]string
	if ambiguous {
		// No roles to label; outline the raw vertices.
		for i, p := range candidate.Points {
			quad[i] = fullResolutionPoint(p, det.EdgeMap.Scale)
		}
	} else {
		corners := det.Corners
		result.Corners = &corners
		quad = corners.ImagePoints()
		labels = [4]string{"TL", "TR", "BR", "BL"}
	}

	overlay, err := imaging.DrawQuadOverlay(img, quad, labels, a.Color)
	if err != nil {
		return nil, err
	}
	result.Overlay = overlay
	return result, nil
}

// fullResolutionPoint maps a working-resolution pixel to the source image.
func fullResolutionPoint(p detection.Point, scale float64) image.Point {
	if scale <= 0 {
		scale = 1
	}
	return image.Point{
		X: int(math.Round((float64(p.X)+0.5)/scale - 0.5)),
		Y: int(math.Round((float64(p.Y)+0.5)/scale - 0.5)),
	}
}

// === Output Handlers ===

type receiptRectifyArgs struct {
	Path              string `json:"path"`
	OutputPath        string `json:"output_path"`
	NormalizeContrast *bool  `json:"normalize_contrast"`
	JPEGQuality       *int   `json:"jpeg_quality"`
}

func (a *receiptRectifyArgs) path() string { return a.Path }

// imageOutput is the encoded-image part of an output tool result. Exactly
// one of OutputPath and ImageBase64 is set.
type imageOutput struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	MimeType    string `json:"mime_type"`
	OutputPath  string `json:"output_path,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

type receiptRectifyResult struct {
	imageOutput
	WasRectified bool                 `json:"was_rectified"`
	Corners      *detection.CornerSet `json:"corners,omitempty"`
}

func (s *Server) handleReceiptRectify(args json.RawMessage) (interface{}, error) {
	var a receiptRectifyArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}

	p := s.pipeline
	if a.NormalizeContrast != nil || a.JPEGQuality != nil {
		cfg := p.Config()
		if a.NormalizeContrast != nil {
			cfg.NormalizeContrast = *a.NormalizeContrast
		}
		if a.JPEGQuality != nil {
			cfg.JPEGQuality = *a.JPEGQuality
		}
		var err error
		p, err = rectify.New(cfg, rectify.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
	}

	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}

	res, err := p.RectifyImage(img)
	if err != nil {
		return nil, err
	}

	out, err := s.emit(res.Bytes, res.Width, res.Height, res.MimeType, a.OutputPath)
	if err != nil {
		return nil, err
	}
	return &receiptRectifyResult{
		imageOutput:  *out,
		WasRectified: res.WasRectified,
		Corners:      res.Corners,
	}, nil
}

type receiptCropArgs struct {
	Path        string `json:"path"`
	X1          int    `json:"x1"`
	Y1          int    `json:"y1"`
	X2          int    `json:"x2"`
	Y2          int    `json:"y2"`
	OutputPath  string `json:"output_path"`
	JPEGQuality int    `json:"jpeg_quality"`
}

func (a *receiptCropArgs) path() string { return a.Path }

func (s *Server) handleReceiptCrop(args json.RawMessage) (interface{}, error) {
	var a receiptCropArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if a.JPEGQuality == 0 {
		a.JPEGQuality = s.pipeline.Config().JPEGQuality
	}
	if a.JPEGQuality < 1 || a.JPEGQuality > 100 {
		return nil, fmt.Errorf("%w: jpeg_quality %d outside 1..100", errInvalidArguments, a.JPEGQuality)
	}

	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	crop, err := imaging.CropJPEG(img, a.X1, a.Y1, a.X2, a.Y2, a.JPEGQuality)
	if err != nil {
		return nil, err
	}
	return s.emit(crop.Bytes, crop.Width, crop.Height, crop.MimeType, a.OutputPath)
}

// emit writes data to outputPath, or returns it inline as base64 when
// outputPath is empty.
func (s *Server) emit(data []byte, width, height int, mimeType, outputPath string) (*imageOutput, error) {
	out := &imageOutput{Width: width, Height: height, MimeType: mimeType}
	if outputPath == "" {
		out.ImageBase64 = base64.StdEncoding.EncodeToString(data)
		return out, nil
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write output: %w", err)
	}
	s.cache.Evict(outputPath)
	s.logger.Info("wrote image", "path", outputPath, "bytes", len(data))
	out.OutputPath = outputPath
	return out, nil
}
