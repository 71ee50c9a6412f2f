// Package watermark provides the three media operations the service exposes:
// redacting a region, stamping text and compositing an image. Each one
// resolves caller parameters, builds a filter graph, runs the engine inside
// a private workspace, hands the output to the caller and releases the
// workspace on every path.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/maauso/wmstudio/internal/config"
	"github.com/maauso/wmstudio/internal/engine"
	"github.com/maauso/wmstudio/internal/filtergraph"
	"github.com/maauso/wmstudio/internal/params"
	"github.com/maauso/wmstudio/internal/workspace"
)

// Operation names one of the watermark operations.
type Operation string

// Supported operations.
const (
	OpRemove   Operation = "remove"
	OpAddText  Operation = "add_text"
	OpAddImage Operation = "add_image"
)

// Output file name prefixes per operation.
const (
	PrefixRemove   = "cleaned"
	PrefixAddText  = "textwm"
	PrefixAddImage = "imgwm"
)

// ContentTypeMP4 is the media type reported for every output.
const ContentTypeMP4 = "video/mp4"

var (
	// ErrDependencyUnavailable is returned when the engine lacks a filter an
	// operation needs.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrBadRequest marks caller errors; it is the same sentinel the
	// parameter resolver wraps.
	ErrBadRequest = params.ErrBadRequest
	// ErrIO is returned when the workspace cannot be prepared.
	ErrIO = errors.New("workspace i/o failure")
)

// requiredFilters lists the filters an operation checks before reading input.
var requiredFilters = map[Operation]string{
	OpRemove: engine.FilterDelogo,
}

// Output describes a finished result inside the workspace. Path is only
// valid until the emit callback returns.
type Output struct {
	Path        string
	Filename    string
	ContentType string
}

// EmitFunc delivers an output to the caller. The workspace is released after
// it returns, so it must finish reading Path before returning.
type EmitFunc func(ctx context.Context, out Output) error

// RemoveInput holds the inputs of a redaction.
type RemoveInput struct {
	Video workspace.Upload
	// Params is optional JSON text overriding the rectangle.
	Params string
}

// TextInput holds the inputs of a text watermark.
type TextInput struct {
	Video workspace.Upload
	Form  params.Form
}

// ImageInput holds the inputs of an image watermark.
type ImageInput struct {
	Video     workspace.Upload
	Watermark workspace.Upload
	Form      params.Form
}

// Service runs watermark operations against an engine.
type Service struct {
	engine     engine.Engine
	workspaces *workspace.Manager
	resolver   *params.Resolver
	fontFile   func(ctx context.Context) string
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaultFont sets the font used when neither the request nor the
// FONTFILE environment variable names one.
func WithDefaultFont(path string) Option {
	return func(s *Service) {
		if path == "" {
			return
		}
		s.fontFile = func(ctx context.Context) string {
			if f := config.FontFileFromEnv(ctx); f != "" {
				return f
			}
			return path
		}
	}
}

// WithFontLookup replaces the fallback font lookup entirely.
func WithFontLookup(fn func(ctx context.Context) string) Option {
	return func(s *Service) {
		if fn != nil {
			s.fontFile = fn
		}
	}
}

// NewService creates a Service.
func NewService(eng engine.Engine, workspaces *workspace.Manager, opts ...Option) *Service {
	s := &Service{
		engine:     eng,
		workspaces: workspaces,
		resolver:   params.NewResolver(),
		logger:     slog.Default(),
	}
	WithDefaultFont(config.DefaultFontFile)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckCapability verifies the engine supports what op needs. Callers run
// it before reading any request body.
func (s *Service) CheckCapability(ctx context.Context, op Operation) error {
	filter, ok := requiredFilters[op]
	if !ok {
		return nil
	}
	if !s.engine.SupportsFilter(ctx, filter) {
		s.logger.Warn("engine filter unavailable",
			slog.String("operation", string(op)),
			slog.String("filter", filter),
		)
		return fmt.Errorf("%w: ffmpeg %q filter not available in this build", ErrDependencyUnavailable, filter)
	}
	return nil
}

// Remove blurs a rectangle out of the video.
func (s *Service) Remove(ctx context.Context, in RemoveInput, emit EmitFunc) error {
	rect, err := s.resolver.Rect(in.Params)
	if err != nil {
		return err
	}
	filter := filtergraph.Delogo(rect)

	return s.execute(ctx, job{
		op:      OpRemove,
		prefix:  PrefixRemove,
		uploads: []workspace.Upload{in.Video},
		args: func(inputs []string, output string) []string {
			return []string{"-i", inputs[0], "-vf", filter, "-c:a", "copy", output}
		},
	}, emit)
}

// AddText stamps a text watermark onto the video.
func (s *Service) AddText(ctx context.Context, in TextInput, emit EmitFunc) error {
	opts, err := s.resolver.TextOverlay(in.Form, s.fontFile(ctx))
	if err != nil {
		return err
	}
	filter, err := filtergraph.DrawText(opts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	return s.execute(ctx, job{
		op:      OpAddText,
		prefix:  PrefixAddText,
		uploads: []workspace.Upload{in.Video},
		args: func(inputs []string, output string) []string {
			return []string{"-i", inputs[0], "-vf", filter, "-c:a", "copy", output}
		},
	}, emit)
}

// AddImage composites an image watermark over the video. Audio is copied
// from the video when present.
func (s *Service) AddImage(ctx context.Context, in ImageInput, emit EmitFunc) error {
	opts, err := s.resolver.ImageOverlay(in.Form)
	if err != nil {
		return err
	}
	graph, err := filtergraph.Overlay(opts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	return s.execute(ctx, job{
		op:      OpAddImage,
		prefix:  PrefixAddImage,
		uploads: []workspace.Upload{in.Video, in.Watermark},
		check: func(inputs []string) error {
			return checkImage(inputs[1])
		},
		args: func(inputs []string, output string) []string {
			return []string{
				"-i", inputs[0],
				"-i", inputs[1],
				"-filter_complex", graph,
				"-map", filtergraph.LabelOutput,
				"-map", "0:a?",
				"-c:a", "copy",
				output,
			}
		},
	}, emit)
}

// job is one engine invocation over a set of uploads. The first upload is
// the primary video and names the output.
type job struct {
	op      Operation
	prefix  string
	uploads []workspace.Upload
	check   func(inputs []string) error
	args    func(inputs []string, output string) []string
}

func (s *Service) execute(ctx context.Context, j job, emit EmitFunc) error {
	ws, err := s.workspaces.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer func() {
		if err := ws.Release(); err != nil {
			s.logger.Error("failed to release workspace",
				slog.String("dir", ws.Dir()),
				slog.String("error", err.Error()),
			)
		}
	}()

	inputs := make([]string, 0, len(j.uploads))
	for _, u := range j.uploads {
		path, err := ws.Materialize(ctx, u)
		if err != nil {
			return classifyWorkspaceError(err)
		}
		inputs = append(inputs, path)
	}

	if j.check != nil {
		if err := j.check(inputs); err != nil {
			return err
		}
	}

	output, err := ws.OutputPath(j.prefix, j.uploads[0].Filename)
	if err != nil {
		return classifyWorkspaceError(err)
	}

	start := time.Now()
	if err := s.engine.Run(ctx, j.args(inputs, output)); err != nil {
		s.logger.Warn("engine run failed",
			slog.String("operation", string(j.op)),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("run engine: %w", err)
	}
	s.logger.Info("engine run completed",
		slog.String("operation", string(j.op)),
		slog.Duration("duration", time.Since(start)),
	)

	return emit(ctx, Output{
		Path:        output,
		Filename:    filepath.Base(output),
		ContentType: ContentTypeMP4,
	})
}

func classifyWorkspaceError(err error) error {
	if errors.Is(err, workspace.ErrInvalidName) {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}

// checkImage rejects a watermark upload whose content is not an image.
func checkImage(path string) error {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("%w: sniff watermark: %w", ErrIO, err)
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return fmt.Errorf("%w: watermark must be an image, got %s", ErrBadRequest, mt.String())
	}
	return nil
}
