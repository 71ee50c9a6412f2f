package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/maauso/wmstudio/internal/observability"
)

// DefaultDiagnosticsLimit bounds the stderr text carried by *Error.
const DefaultDiagnosticsLimit = 2000

// FFmpeg implements Engine using the ffmpeg CLI.
type FFmpeg struct {
	// path is the path to the ffmpeg binary. Defaults to "ffmpeg".
	path      string
	diagLimit int
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures an FFmpeg instance.
type Option func(*FFmpeg)

// WithDiagnosticsLimit sets how many characters of stderr survive in *Error.
func WithDiagnosticsLimit(n int) Option {
	return func(f *FFmpeg) {
		if n > 0 {
			f.diagLimit = n
		}
	}
}

// WithTimeout kills invocations that run longer than d. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(f *FFmpeg) {
		f.timeout = d
	}
}

// WithLogger sets the logger used for invocation records.
func WithLogger(logger *slog.Logger) Option {
	return func(f *FFmpeg) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFFmpeg creates a new FFmpeg engine.
// If path is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpeg(path string, opts ...Option) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	f := &FFmpeg{
		path:      path,
		diagLimit: DefaultDiagnosticsLimit,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SupportsFilter lists the compiled-in filters and looks for name in the catalog.
func (f *FFmpeg) SupportsFilter(ctx context.Context, name string) bool {
	// #nosec G204 - path is set by the application, not user input
	cmd := exec.CommandContext(ctx, f.path, "-hide_banner", "-filters")

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Discard

	if err := cmd.Run(); err != nil {
		f.logger.Warn("filter probe failed",
			slog.String("filter", name),
			slog.String("error", err.Error()),
		)
		observability.ProbeResultsTotal.WithLabelValues(name, "error").Inc()
		return false
	}

	found := catalogHasFilter(stdout.String(), name)
	result := "missing"
	if found {
		result = "supported"
	}
	observability.ProbeResultsTotal.WithLabelValues(name, result).Inc()
	return found
}

// catalogHasFilter parses `ffmpeg -filters` output. Entries look like
// " T.C delogo            V->V       Remove logo from input video."
// Legend lines (" T.. = Timeline support") never match because their
// second field is "=".
func catalogHasFilter(catalog, name string) bool {
	scanner := bufio.NewScanner(strings.NewReader(catalog))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		if fields[1] == name && strings.Contains(fields[2], "->") {
			return true
		}
	}
	return false
}

// Run executes ffmpeg with -hide_banner -y prepended to args.
// Stdout is discarded; stderr is kept for diagnostics.
func (f *FFmpeg) Run(ctx context.Context, args []string) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	argv := append([]string{"-hide_banner", "-y"}, args...)

	// #nosec G204 - path is set by the application; args are built by filtergraph
	cmd := exec.CommandContext(ctx, f.path, argv...)
	cmd.WaitDelay = 5 * time.Second

	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	observability.EngineDuration.Observe(elapsed.Seconds())

	if err != nil {
		if ctx.Err() != nil {
			observability.EngineRunsTotal.WithLabelValues("timeout").Inc()
			f.logger.Error("ffmpeg cancelled",
				slog.Duration("duration", elapsed),
				slog.String("error", ctx.Err().Error()),
			)
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}

		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}

		observability.EngineRunsTotal.WithLabelValues("failure").Inc()
		f.logger.Error("ffmpeg failed",
			slog.Int("exit_code", exitCode),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
		return &Error{
			Args:     argv,
			ExitCode: exitCode,
			Stderr:   Truncate(stderr.String(), f.diagLimit),
			Err:      err,
		}
	}

	observability.EngineRunsTotal.WithLabelValues("success").Inc()
	f.logger.Debug("ffmpeg finished",
		slog.Duration("duration", elapsed),
	)
	return nil
}

// Verify interface implementation at compile time.
var _ Engine = (*FFmpeg)(nil)
