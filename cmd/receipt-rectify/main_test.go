package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ironsheep/receipt-rectify-mcp/internal/imaging"
)

func writeScene(t *testing.T) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 300, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 300; x++ {
			v := uint8(70)
			if x >= 30 && x < 270 && y >= 20 && y < 220 {
				v = 240
			}
			img.SetNRGBA(x, y, color.NRGBA{v, v, v, 255})
		}
	}

	path := filepath.Join(t.TempDir(), "scene.png")
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_File(t *testing.T) {
	in := writeScene(t)
	out := filepath.Join(t.TempDir(), "flat.jpg")
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), []string{"--log-level", "debug", in, out}, nil, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, stderr.String())
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if cfg.Width < 238 || cfg.Width > 242 || cfg.Height < 198 || cfg.Height > 202 {
		t.Errorf("output size %dx%d, want about 240x200", cfg.Width, cfg.Height)
	}
	if !strings.Contains(stderr.String(), "was_rectified=true") {
		t.Errorf("expected rectified log line, got:\n%s", stderr.String())
	}
}

func TestRun_Stdio(t *testing.T) {
	in := writeScene(t)
	data, err := os.ReadFile(in)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args func(out string) []string
		file bool
	}{
		{"stdin to stdout", func(string) []string { return []string{"-", "-"} }, false},
		{"after flags", func(string) []string { return []string{"--quality", "90", "-", "-"} }, false},
		{"after terminator", func(string) []string { return []string{"--", "-", "-"} }, false},
		{"stdin to file", func(out string) []string { return []string{"-", out} }, true},
		{"file to stdout", func(string) []string { return []string{in, "-"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "flat.jpg")
			var stdout, stderr bytes.Buffer

			err := run(context.Background(), tt.args(out), bytes.NewReader(data), &stdout, &stderr)
			if err != nil {
				t.Fatalf("run failed: %v\n%s", err, stderr.String())
			}

			encoded := stdout.Bytes()
			if tt.file {
				if stdout.Len() != 0 {
					t.Error("nothing should reach stdout when writing a file")
				}
				if encoded, err = os.ReadFile(out); err != nil {
					t.Fatalf("output not written: %v", err)
				}
			}
			if _, err := jpeg.Decode(bytes.NewReader(encoded)); err != nil {
				t.Errorf("output is not a JPEG: %v", err)
			}
		})
	}
}

func TestStdioArgs(t *testing.T) {
	args := []string{"--log-level", "debug", "-", "--", "in.jpg", "-"}

	protected := protectStdio(args)
	for _, a := range protected {
		if a == "-" {
			t.Fatalf("bare - survived protection: %q", protected)
		}
	}
	if got := restoreStdio(protected); strings.Join(got, " ") != strings.Join(args, " ") {
		t.Errorf("round trip: got %q, want %q", got, args)
	}
}

func TestRun_DecodeError(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), []string{"-", "-"}, strings.NewReader("not an image"), &stdout, &stderr)
	var decodeErr *imaging.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *imaging.DecodeError, got %v", err)
	}
	if stdout.Len() != 0 {
		t.Error("nothing should be written on decode failure")
	}
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer

	if err := run(context.Background(), []string{"--version"}, nil, &stdout, &stderr); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "receipt-rectify ") {
		t.Errorf("unexpected version output: %q", stdout.String())
	}
}

func TestRun_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing output", []string{"in.jpg"}},
		{"unknown flag", []string{"--frobnicate", "a", "b"}},
		{"bad log level", []string{"--log-level", "loud", "a", "b"}},
		{"bad smoothing", []string{"--smoothing", "median", "a", "b"}},
		{"bad quality", []string{"--quality", "0", "a", "b"}},
		{"reversed thresholds", []string{"--canny-low", "200", "--canny-high", "100", "a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if err := run(context.Background(), tt.args, nil, &stdout, &stderr); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRun_MCP(t *testing.T) {
	var stdout, stderr bytes.Buffer
	stdin := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n")

	if err := run(context.Background(), []string{"--mcp"}, stdin, &stdout, &stderr); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(stdout.String(), `"receipt-rectify-mcp"`) {
		t.Errorf("unexpected MCP output: %s", stdout.String())
	}
}

func TestFlagsConfig(t *testing.T) {
	fs, f := newFlagSet()
	if err := fs.Parse([]string{"--smoothing", "gaussian", "--workers", "3", "--normalize", "--max-dimension", "0"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := f.config()
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	if cfg.Preprocess.Smoothing != imaging.SmoothingGaussian {
		t.Errorf("smoothing: got %v", cfg.Preprocess.Smoothing)
	}
	if cfg.Select.Workers != 3 || cfg.WarpWorkers != 3 {
		t.Errorf("workers: got %d/%d, want 3/3", cfg.Select.Workers, cfg.WarpWorkers)
	}
	if !cfg.NormalizeContrast {
		t.Error("normalize should be set")
	}
	if cfg.Preprocess.MaxWorkingDimension != 0 {
		t.Errorf("max dimension: got %d, want 0", cfg.Preprocess.MaxWorkingDimension)
	}
}
