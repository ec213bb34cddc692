package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ironsheep/receipt-rectify-mcp/internal/detection"
)

// createTestImageFile creates a test image file and returns its path
func createTestImageFile(t *testing.T, width, height int, c color.Color) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return writePNG(t, img)
}

// createReceiptImageFile draws a bright sheet covering [x0,x1)x[y0,y1) on a
// dark background.
func createReceiptImageFile(t *testing.T, width, height, x0, y0, x1, y1 int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8(60)
			if x >= x0 && x < x1 && y >= y0 && y < y1 {
				v = 240
			}
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return writePNG(t, img)
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "handler-test.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return path
}

// callTool sends a tools/call request and decodes the text content of a
// successful response.
func callTool(t *testing.T, s *Server, name string, args map[string]interface{}) (map[string]interface{}, *MCPError) {
	t.Helper()

	paramsJSON, _ := json.Marshal(map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	resp := s.handleRequest(&MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  paramsJSON,
	})
	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("Result should be a map")
	}
	content, ok := result["content"].([]map[string]interface{})
	if !ok || len(content) != 1 {
		t.Fatalf("unexpected content: %v", result["content"])
	}
	if content[0]["type"] != "text" {
		t.Fatalf("content type: got %v, want text", content[0]["type"])
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(content[0]["text"].(string)), &out); err != nil {
		t.Fatalf("failed to decode tool result: %v", err)
	}
	return out, nil
}

func mustCallTool(t *testing.T, s *Server, name string, args map[string]interface{}) map[string]interface{} {
	t.Helper()

	out, mcpErr := callTool(t, s, name, args)
	if mcpErr != nil {
		t.Fatalf("%s failed: %s: %v", name, mcpErr.Message, mcpErr.Data)
	}
	return out
}

func TestHandleToolsCall_ImageLoad(t *testing.T) {
	s := New()
	imgPath := createTestImageFile(t, 100, 80, color.RGBA{255, 0, 0, 255})

	out := mustCallTool(t, s, "image_load", map[string]interface{}{"path": imgPath})

	if out["width"] != float64(100) || out["height"] != float64(80) {
		t.Errorf("dimensions: got %vx%v, want 100x80", out["width"], out["height"])
	}
	if out["mime_type"] != "image/png" {
		t.Errorf("mime_type: got %v, want image/png", out["mime_type"])
	}
}

func TestHandleToolsCall_ImageDimensions(t *testing.T) {
	s := New()
	imgPath := createTestImageFile(t, 200, 150, color.RGBA{0, 255, 0, 255})

	out := mustCallTool(t, s, "image_dimensions", map[string]interface{}{"path": imgPath})

	if out["width"] != float64(200) || out["height"] != float64(150) {
		t.Errorf("dimensions: got %vx%v, want 200x150", out["width"], out["height"])
	}
}

func TestHandleToolsCall_NonExistentFile(t *testing.T) {
	s := New()

	_, mcpErr := callTool(t, s, "image_load", map[string]interface{}{"path": "/nonexistent/image.png"})
	if mcpErr == nil {
		t.Fatal("expected error for non-existent file")
	}
	if mcpErr.Code != -32000 {
		t.Errorf("Error code: got %d, want -32000", mcpErr.Code)
	}
}

func TestHandleToolsCall_NotAnImage(t *testing.T) {
	s := New()
	path := filepath.Join(t.TempDir(), "notes.png")
	if err := os.WriteFile(path, []byte("just text"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, mcpErr := callTool(t, s, "receipt_rectify", map[string]interface{}{"path": path})
	if mcpErr == nil {
		t.Fatal("expected decode error")
	}
}

func TestHandleToolsCall_InvalidTool(t *testing.T) {
	s := New()

	_, mcpErr := callTool(t, s, "image_ocr_full", map[string]interface{}{"path": "/tmp/x.png"})
	if mcpErr == nil {
		t.Fatal("expected error for unknown tool")
	}
	if mcpErr.Code != -32602 {
		t.Errorf("Error code: got %d, want -32602", mcpErr.Code)
	}
	if !strings.Contains(mcpErr.Data.(string), "unknown tool") {
		t.Errorf("Error data: got %v", mcpErr.Data)
	}
}

func TestHandleToolsCall_MissingPath(t *testing.T) {
	s := New()

	for _, name := range []string{"image_load", "image_edge_detect", "receipt_detect", "receipt_rectify", "receipt_crop"} {
		t.Run(name, func(t *testing.T) {
			_, mcpErr := callTool(t, s, name, map[string]interface{}{})
			if mcpErr == nil {
				t.Fatal("expected error for missing path")
			}
			if mcpErr.Code != -32602 {
				t.Errorf("Error code: got %d, want -32602", mcpErr.Code)
			}
		})
	}
}

func TestHandleToolsCall_InvalidParams(t *testing.T) {
	s := New()
	req := &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Params:  json.RawMessage(`"not an object"`),
	}

	resp := s.handleToolsCall(req)

	if resp.Error == nil {
		t.Fatal("expected error for invalid params")
	}
	if resp.Error.Code != -32602 {
		t.Errorf("Error code: got %d, want -32602", resp.Error.Code)
	}
}

func TestHandleToolsCall_EdgeDetect(t *testing.T) {
	s := New()
	imgPath := createReceiptImageFile(t, 400, 300, 50, 40, 350, 260)

	out := mustCallTool(t, s, "image_edge_detect", map[string]interface{}{"path": imgPath})

	if out["edge_pixels"].(float64) <= 0 {
		t.Error("expected edge pixels on the sheet boundary")
	}
	if out["scale"] != float64(1) {
		t.Errorf("scale: got %v, want 1", out["scale"])
	}
	if out["image_base64"] == "" {
		t.Error("image_base64 is empty")
	}
}

func TestHandleToolsCall_EdgeDetect_WithOptions(t *testing.T) {
	s := New()
	imgPath := createReceiptImageFile(t, 400, 300, 50, 40, 350, 260)

	out := mustCallTool(t, s, "image_edge_detect", map[string]interface{}{
		"path":                  imgPath,
		"max_working_dimension": 200,
		"smoothing":             "gaussian",
		"threshold_low":         20,
		"threshold_high":        60,
	})

	if out["width"] != float64(200) || out["height"] != float64(150) {
		t.Errorf("working size: got %vx%v, want 200x150", out["width"], out["height"])
	}
	if out["scale"] != 0.5 {
		t.Errorf("scale: got %v, want 0.5", out["scale"])
	}
}

func TestHandleToolsCall_EdgeDetect_InvalidOptions(t *testing.T) {
	s := New()
	imgPath := createReceiptImageFile(t, 100, 100, 10, 10, 90, 90)

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"unknown smoothing", map[string]interface{}{"path": imgPath, "smoothing": "median"}},
		{"thresholds reversed", map[string]interface{}{"path": imgPath, "threshold_low": 200, "threshold_high": 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mcpErr := callTool(t, s, "image_edge_detect", tt.args)
			if mcpErr == nil {
				t.Fatal("expected error")
			}
			if mcpErr.Code != -32602 {
				t.Errorf("Error code: got %d, want -32602", mcpErr.Code)
			}
		})
	}
}

func TestHandleToolsCall_ReceiptDetect(t *testing.T) {
	s := New()
	imgPath := createReceiptImageFile(t, 400, 300, 50, 40, 350, 260)

	out := mustCallTool(t, s, "receipt_detect", map[string]interface{}{"path": imgPath})

	if out["found"] != true {
		t.Fatalf("found: got %v, want true", out["found"])
	}
	if out["ambiguous"] != false {
		t.Errorf("ambiguous: got %v, want false", out["ambiguous"])
	}

	corners, ok := out["corners"].(map[string]interface{})
	if !ok {
		t.Fatalf("corners missing: %v", out)
	}
	want := map[string][2]float64{
		"top_left": {50, 40}, "top_right": {350, 40}, "bottom_right": {350, 260}, "bottom_left": {50, 260},
	}
	for name, w := range want {
		p, ok := corners[name].(map[string]interface{})
		if !ok {
			t.Fatalf("corner %s missing: %v", name, corners)
		}
		if d := math.Hypot(p["x"].(float64)-w[0], p["y"].(float64)-w[1]); d > 2 {
			t.Errorf("corner %s at (%v,%v), want near (%v,%v)", name, p["x"], p["y"], w[0], w[1])
		}
	}

	overlay, ok := out["overlay"].(map[string]interface{})
	if !ok {
		t.Fatal("overlay missing")
	}
	if overlay["width"] != float64(400) || overlay["mime_type"] != "image/png" {
		t.Errorf("overlay: got %vpx %v", overlay["width"], overlay["mime_type"])
	}
}

func TestHandleToolsCall_ReceiptDetect_NothingFound(t *testing.T) {
	s := New()
	imgPath := createTestImageFile(t, 200, 200, color.RGBA{90, 90, 90, 255})

	out := mustCallTool(t, s, "receipt_detect", map[string]interface{}{"path": imgPath})

	if out["found"] != false {
		t.Errorf("found: got %v, want false", out["found"])
	}
	if _, ok := out["overlay"]; ok {
		t.Error("overlay should be omitted when nothing is found")
	}
}

func TestHandleToolsCall_ReceiptRectify(t *testing.T) {
	s := New()
	imgPath := createReceiptImageFile(t, 400, 300, 50, 40, 350, 260)

	out := mustCallTool(t, s, "receipt_rectify", map[string]interface{}{"path": imgPath})

	if out["was_rectified"] != true {
		t.Fatalf("was_rectified: got %v, want true", out["was_rectified"])
	}
	if out["mime_type"] != "image/jpeg" {
		t.Errorf("mime_type: got %v, want image/jpeg", out["mime_type"])
	}

	w, h := out["width"].(float64), out["height"].(float64)
	if math.Abs(w-300) > 2 || math.Abs(h-220) > 2 {
		t.Errorf("size: got %vx%v, want about 300x220", w, h)
	}

	data, err := base64.StdEncoding.DecodeString(out["image_base64"].(string))
	if err != nil {
		t.Fatalf("invalid base64: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if float64(img.Bounds().Dx()) != w || float64(img.Bounds().Dy()) != h {
		t.Errorf("decoded size %v does not match reported %vx%v", img.Bounds(), w, h)
	}
}

func TestHandleToolsCall_ReceiptRectify_Fallback(t *testing.T) {
	s := New()
	imgPath := createTestImageFile(t, 160, 120, color.RGBA{200, 200, 200, 255})

	out := mustCallTool(t, s, "receipt_rectify", map[string]interface{}{"path": imgPath})

	if out["was_rectified"] != false {
		t.Errorf("was_rectified: got %v, want false", out["was_rectified"])
	}
	if out["width"] != float64(160) || out["height"] != float64(120) {
		t.Errorf("size: got %vx%v, want 160x120", out["width"], out["height"])
	}
}

func TestHandleToolsCall_ReceiptRectify_WithOutputPath(t *testing.T) {
	s := New()
	imgPath := createReceiptImageFile(t, 400, 300, 50, 40, 350, 260)
	outPath := filepath.Join(t.TempDir(), "flat.jpg")

	out := mustCallTool(t, s, "receipt_rectify", map[string]interface{}{
		"path":               imgPath,
		"output_path":        outPath,
		"normalize_contrast": true,
		"jpeg_quality":       80,
	})

	if out["output_path"] != outPath {
		t.Errorf("output_path: got %v, want %s", out["output_path"], outPath)
	}
	if _, ok := out["image_base64"]; ok {
		t.Error("image_base64 should be omitted when writing a file")
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	defer f.Close()
	if _, err := jpeg.DecodeConfig(f); err != nil {
		t.Errorf("output is not a JPEG: %v", err)
	}
}

func TestHandleToolsCall_ReceiptRectify_OverwritesCachedPath(t *testing.T) {
	s := New()
	imgPath := createReceiptImageFile(t, 400, 300, 50, 40, 350, 260)
	outPath := createTestImageFile(t, 64, 48, color.RGBA{10, 10, 10, 255})

	before := mustCallTool(t, s, "image_dimensions", map[string]interface{}{"path": outPath})
	if before["width"] != float64(64) {
		t.Fatalf("width before: got %v, want 64", before["width"])
	}

	mustCallTool(t, s, "receipt_rectify", map[string]interface{}{"path": imgPath, "output_path": outPath})

	after := mustCallTool(t, s, "image_dimensions", map[string]interface{}{"path": outPath})
	if w := after["width"].(float64); w < 298 || w > 302 {
		t.Errorf("width after overwrite: got %v, want about 300", w)
	}
}

func TestHandleToolsCall_ReceiptRectify_InvalidQuality(t *testing.T) {
	s := New()
	imgPath := createReceiptImageFile(t, 100, 100, 10, 10, 90, 90)

	_, mcpErr := callTool(t, s, "receipt_rectify", map[string]interface{}{"path": imgPath, "jpeg_quality": 0})
	if mcpErr == nil {
		t.Fatal("expected error for jpeg_quality 0")
	}
}

func TestHandleToolsCall_ReceiptCrop(t *testing.T) {
	s := New()
	imgPath := createTestImageFile(t, 100, 100, color.RGBA{128, 128, 128, 255})

	out := mustCallTool(t, s, "receipt_crop", map[string]interface{}{
		"path": imgPath, "x1": 10, "y1": 20, "x2": 60, "y2": 50,
	})

	if out["width"] != float64(50) || out["height"] != float64(30) {
		t.Errorf("size: got %vx%v, want 50x30", out["width"], out["height"])
	}
	if out["mime_type"] != "image/jpeg" {
		t.Errorf("mime_type: got %v, want image/jpeg", out["mime_type"])
	}
}

func TestHandleToolsCall_ReceiptCrop_Invalid(t *testing.T) {
	s := New()
	imgPath := createTestImageFile(t, 100, 100, color.RGBA{128, 128, 128, 255})

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"outside bounds", map[string]interface{}{"path": imgPath, "x1": 0, "y1": 0, "x2": 200, "y2": 50}},
		{"inverted", map[string]interface{}{"path": imgPath, "x1": 60, "y1": 0, "x2": 10, "y2": 50}},
		{"quality", map[string]interface{}{"path": imgPath, "x1": 0, "y1": 0, "x2": 10, "y2": 10, "jpeg_quality": 101}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, mcpErr := callTool(t, s, "receipt_crop", tt.args); mcpErr == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestExecuteTool_AllTools(t *testing.T) {
	s := New()
	imgPath := createTestImageFile(t, 100, 100, color.RGBA{128, 128, 128, 255})

	// Test each tool to ensure executeTool correctly dispatches
	toolTests := []struct {
		name string
		args map[string]interface{}
	}{
		{"image_load", map[string]interface{}{"path": imgPath}},
		{"image_dimensions", map[string]interface{}{"path": imgPath}},
		{"image_edge_detect", map[string]interface{}{"path": imgPath}},
		{"receipt_detect", map[string]interface{}{"path": imgPath}},
		{"receipt_rectify", map[string]interface{}{"path": imgPath}},
		{"receipt_crop", map[string]interface{}{"path": imgPath, "x1": 0, "y1": 0, "x2": 50, "y2": 50}},
	}

	for _, tt := range toolTests {
		t.Run(tt.name, func(t *testing.T) {
			argsJSON, _ := json.Marshal(tt.args)
			result, err := s.executeTool(tt.name, argsJSON)
			if err != nil {
				t.Fatalf("executeTool(%s) failed: %v", tt.name, err)
			}
			if result == nil {
				t.Errorf("executeTool(%s) returned nil result", tt.name)
			}
		})
	}
}

func TestExecuteTool_UnknownTool(t *testing.T) {
	s := New()

	_, err := s.executeTool("unknown_tool", json.RawMessage(`{}`))
	if err == nil {
		t.Error("executeTool should fail for unknown tool")
	}
}

func TestExecuteTool_InvalidJSON(t *testing.T) {
	s := New()

	_, err := s.executeTool("image_load", json.RawMessage(`{invalid`))
	if err == nil {
		t.Error("executeTool should fail for invalid JSON")
	}
}

func TestFullResolutionPoint(t *testing.T) {
	tests := []struct {
		p     image.Point
		scale float64
		want  image.Point
	}{
		{image.Pt(10, 20), 1, image.Pt(10, 20)},
		{image.Pt(10, 20), 0.5, image.Pt(21, 41)},
		{image.Pt(0, 0), 0.25, image.Pt(2, 2)},
	}

	for _, tt := range tests {
		got := fullResolutionPoint(detection.Point{X: tt.p.X, Y: tt.p.Y}, tt.scale)
		if got != tt.want {
			t.Errorf("fullResolutionPoint(%v, %v): got %v, want %v", tt.p, tt.scale, got, tt.want)
		}
	}
}
