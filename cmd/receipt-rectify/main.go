package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/ironsheep/receipt-rectify-mcp/internal/httpapi"
	"github.com/ironsheep/receipt-rectify-mcp/internal/imaging"
	"github.com/ironsheep/receipt-rectify-mcp/internal/rectify"
	"github.com/ironsheep/receipt-rectify-mcp/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	mcp          *bool
	httpAddr     *string
	logLevel     *string
	showVersion  *bool
	maxDimension *int
	smoothing    *string
	cannyLow     *float64
	cannyHigh    *float64
	closeKernel  *int
	epsilon      *float64
	minArea      *float64
	areaWeight   *float64
	rectWeight   *float64
	workers      *int
	quality      *int
	normalize    *bool
	clipPercent  *float64
	maxBodyBytes *int
	timeout      *time.Duration
}

func newFlagSet() (*ff.FlagSet, *flags) {
	fs := ff.NewFlagSet("receipt-rectify")
	defaults := rectify.DefaultConfig()
	f := &flags{
		mcp:          fs.BoolLong("mcp", "Serve MCP tools over stdin/stdout"),
		httpAddr:     fs.StringLong("http-addr", "", "Serve the HTTP API on this address (e.g. :8080)"),
		logLevel:     fs.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		showVersion:  fs.BoolLong("version", "Print version information"),
		maxDimension: fs.IntLong("max-dimension", defaults.Preprocess.MaxWorkingDimension, "Longer edge of the detection working copy; 0 disables downscaling"),
		smoothing:    fs.StringLong("smoothing", defaults.Preprocess.Smoothing.String(), "Noise filter before edge detection: bilateral or gaussian"),
		cannyLow:     fs.Float64Long("canny-low", defaults.Preprocess.CannyLow, "Canny low threshold"),
		cannyHigh:    fs.Float64Long("canny-high", defaults.Preprocess.CannyHigh, "Canny high threshold"),
		closeKernel:  fs.IntLong("close-kernel", defaults.Preprocess.CloseKernel, "Side of the square closing kernel; below 2 disables closing"),
		epsilon:      fs.Float64Long("epsilon", defaults.Select.EpsilonRatio, "Polygon approximation tolerance as a fraction of the perimeter"),
		minArea:      fs.Float64Long("min-area", defaults.Select.MinAreaRatio, "Smallest receipt area as a fraction of the image"),
		areaWeight:   fs.Float64Long("area-weight", defaults.Select.AreaWeight, "Score weight of the area ratio"),
		rectWeight:   fs.Float64Long("rectangularity-weight", defaults.Select.RectangularityWeight, "Score weight of rectangularity"),
		workers:      fs.IntLong("workers", 0, "Goroutines for quad scoring and warping; 0 scores sequentially and warps on all CPUs"),
		quality:      fs.IntLong("quality", defaults.JPEGQuality, "Output JPEG quality 1-100"),
		normalize:    fs.BoolLong("normalize", "Stretch the output's luminance range"),
		clipPercent:  fs.Float64Long("clip", defaults.ContrastClipPercent, "Percent of pixels clipped at each end by --normalize"),
		maxBodyBytes: fs.IntLong("max-body-bytes", int(httpapi.DefaultMaxBodyBytes), "Largest accepted HTTP upload"),
		timeout:      fs.DurationLong("timeout", httpapi.DefaultTimeout, "Per-request rectification timeout for the HTTP API"),
	}
	return fs, f
}

// config turns parsed flags into a pipeline configuration.
func (f *flags) config() (rectify.Config, error) {
	cfg := rectify.DefaultConfig()

	sm, ok := imaging.ParseSmoothing(*f.smoothing)
	if !ok {
		return cfg, fmt.Errorf("unknown smoothing %q", *f.smoothing)
	}

	cfg.Preprocess.MaxWorkingDimension = *f.maxDimension
	cfg.Preprocess.Smoothing = sm
	cfg.Preprocess.CannyLow = *f.cannyLow
	cfg.Preprocess.CannyHigh = *f.cannyHigh
	cfg.Preprocess.CloseKernel = *f.closeKernel
	cfg.Select.EpsilonRatio = *f.epsilon
	cfg.Select.MinAreaRatio = *f.minArea
	cfg.Select.AreaWeight = *f.areaWeight
	cfg.Select.RectangularityWeight = *f.rectWeight
	cfg.Select.Workers = *f.workers
	cfg.WarpWorkers = *f.workers
	cfg.JPEGQuality = *f.quality
	cfg.NormalizeContrast = *f.normalize
	cfg.ContrastClipPercent = *f.clipPercent

	return cfg, cfg.Validate()
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

const usage = "receipt-rectify [flags] <input> <output>   (- reads stdin / writes stdout)"

// stdioArg stands in for a bare "-" while flags are parsed: ff consumes a
// lone "-" instead of returning it as a positional argument.
const stdioArg = "\x00stdio"

func protectStdio(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if a == "-" {
			a = stdioArg
		}
		out[i] = a
	}
	return out
}

func restoreStdio(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if a == stdioArg {
			a = "-"
		}
		out[i] = a
	}
	return out
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs, f := newFlagSet()
	if err := ff.Parse(fs, protectStdio(args), ff.WithEnvVarPrefix("RECEIPT_RECTIFY")); err != nil {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Flags(fs, usage))
		return err
	}

	if *f.showVersion {
		fmt.Fprintf(stdout, "receipt-rectify %s\n", Version)
		fmt.Fprintf(stdout, "  Build time: %s\n", BuildTime)
		fmt.Fprintf(stdout, "  Git commit: %s\n", GitCommit)
		return nil
	}

	// Logs go to stderr; stdout may carry MCP traffic or image bytes.
	logger, err := newLogger(stderr, *f.logLevel)
	if err != nil {
		return err
	}

	cfg, err := f.config()
	if err != nil {
		return err
	}
	pipeline, err := rectify.New(cfg, rectify.WithLogger(logger))
	if err != nil {
		return err
	}

	switch {
	case *f.mcp:
		logger.Debug("starting MCP server", "version", Version, "commit", GitCommit)
		srv := server.New(
			server.WithPipeline(pipeline),
			server.WithLogger(logger),
			server.WithVersion(Version),
		)
		return srv.Serve(stdin, stdout)

	case *f.httpAddr != "":
		h := httpapi.NewHandler(pipeline,
			httpapi.WithLogger(logger),
			httpapi.WithMaxBodyBytes(int64(*f.maxBodyBytes)),
			httpapi.WithTimeout(*f.timeout),
		)
		return serveHTTP(ctx, *f.httpAddr, httpapi.NewRouter(h, logger), logger)

	default:
		rest := restoreStdio(fs.GetArgs())
		if len(rest) != 2 {
			fmt.Fprintf(stderr, "%s\n", ffhelp.Flags(fs, usage))
			return errors.New("expected <input> and <output> (use - for stdin/stdout)")
		}
		return rectifyFile(pipeline, rest[0], rest[1], stdin, stdout, logger)
	}
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("HTTP server started", "address", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// rectifyFile rectifies one image. "-" selects stdin or stdout.
func rectifyFile(p *rectify.Pipeline, in, out string, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	var (
		data []byte
		err  error
	)
	if in == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(in)
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	res, err := p.Rectify(data, "")
	if err != nil {
		return err
	}

	if out == "-" {
		_, err = stdout.Write(res.Bytes)
	} else {
		err = os.WriteFile(out, res.Bytes, 0o644)
	}
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	logger.Info("done",
		"input", in,
		"output", out,
		"was_rectified", res.WasRectified,
		"width", res.Width,
		"height", res.Height)
	return nil
}
