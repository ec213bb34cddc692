package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

var pathProperty = map[string]interface{}{
	"type":        "string",
	"description": "Absolute path to the image file (JPEG, PNG, GIF, BMP, TIFF, WebP or HEIC)",
}

var outputPathProperty = map[string]interface{}{
	"type":        "string",
	"description": "Optional file to write the JPEG to. When omitted the image is returned as base64.",
}

var jpegQualityProperty = map[string]interface{}{
	"type":        "integer",
	"description": "JPEG quality 1-100. Default 95",
	"default":     95,
	"minimum":     1,
	"maximum":     100,
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Basic Image Information
		{
			Name:        "image_load",
			Description: "Load an image file and return its dimensions, sniffed MIME type and file size. EXIF orientation is applied, so dimensions are as displayed.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty,
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "image_dimensions",
			Description: "Get the width and height of an image file.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty,
				},
				"required": []string{"path"},
			},
		},

		// Detection Diagnostics
		{
			Name:        "image_edge_detect",
			Description: "Run the receipt detector's preprocessing (downscale, smoothing, Canny, closing) and return the binary edge map as base64 PNG. Use this to see why a receipt outline was or was not found.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty,
					"max_working_dimension": map[string]interface{}{
						"type":        "integer",
						"description": "Longer edge limit for the working copy; 0 disables downscaling. Default 1200",
						"default":     1200,
					},
					"smoothing": map[string]interface{}{
						"type":        "string",
						"description": "Noise filter before edge detection",
						"enum":        []string{"bilateral", "gaussian"},
						"default":     "bilateral",
					},
					"threshold_low": map[string]interface{}{
						"type":        "number",
						"description": "Canny low threshold. Default 50",
						"default":     50,
					},
					"threshold_high": map[string]interface{}{
						"type":        "number",
						"description": "Canny high threshold. Default 150",
						"default":     150,
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "receipt_detect",
			Description: "Find the receipt outline without rectifying. Returns the winning quadrilateral, its TL/TR/BR/BL corners at full resolution and a base64 PNG of the image with the outline drawn on it.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty,
					"color": map[string]interface{}{
						"type":        "string",
						"description": "Outline color as hex. Default #00FF00",
						"default":     "#00FF00",
					},
				},
				"required": []string{"path"},
			},
		},

		// Output
		{
			Name:        "receipt_rectify",
			Description: "Detect the receipt in a photo and return a flattened, perspective-corrected JPEG. When no receipt is found the original is returned re-encoded and was_rectified is false.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":        pathProperty,
					"output_path": outputPathProperty,
					"normalize_contrast": map[string]interface{}{
						"type":        "boolean",
						"description": "Stretch the output's luminance range to whiten the paper. Default false",
						"default":     false,
					},
					"jpeg_quality": jpegQualityProperty,
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "receipt_crop",
			Description: "Crop a rectangular region and return it as JPEG. The manual path for a receipt the detector could not isolate.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty,
					"x1": map[string]interface{}{
						"type":        "integer",
						"description": "Left edge X coordinate (0-based)",
					},
					"y1": map[string]interface{}{
						"type":        "integer",
						"description": "Top edge Y coordinate (0-based)",
					},
					"x2": map[string]interface{}{
						"type":        "integer",
						"description": "Right edge X coordinate (exclusive)",
					},
					"y2": map[string]interface{}{
						"type":        "integer",
						"description": "Bottom edge Y coordinate (exclusive)",
					},
					"output_path":  outputPathProperty,
					"jpeg_quality": jpegQualityProperty,
				},
				"required": []string{"path", "x1", "y1", "x2", "y2"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
