// Package bootstrap wires the service's dependencies from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/wmstudio/internal/config"
	"github.com/maauso/wmstudio/internal/engine"
	"github.com/maauso/wmstudio/internal/watermark"
	"github.com/maauso/wmstudio/internal/workspace"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service    *watermark.Service
	Workspaces *workspace.Manager
	Engine     engine.Engine
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	workspaces, err := initWorkspaces(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	eng := initEngine(cfg, logger)

	svc := watermark.NewService(eng, workspaces,
		watermark.WithLogger(logger),
		watermark.WithDefaultFont(cfg.DefaultFontFile),
	)

	return &Dependencies{
		Service:    svc,
		Workspaces: workspaces,
		Engine:     eng,
	}, nil
}

// initWorkspaces creates the workspace root and removes workspaces a
// previous process left behind.
func initWorkspaces(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*workspace.Manager, error) {
	workspaces, err := workspace.NewManager(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create workspace manager: %w", err)
	}

	if cfg.WorkspaceMaxAge > 0 {
		removed, err := workspaces.Sweep(ctx, cfg.WorkspaceMaxAge)
		if err != nil {
			// Not fatal: the remaining directories are retried on the next start.
			logger.Warn("failed to sweep stale workspaces",
				slog.String("error", err.Error()),
			)
		}
		if removed > 0 {
			logger.Info("removed stale workspaces",
				slog.Int("count", removed),
			)
		}
	}

	logger.Info("workspace root configured",
		slog.String("temp_dir", workspaces.Root()),
	)
	return workspaces, nil
}

// initEngine creates the ffmpeg engine, cached when PROBE_CACHE_TTL is set.
func initEngine(cfg *config.Config, logger *slog.Logger) engine.Engine {
	ffmpeg := engine.NewFFmpeg(cfg.FFmpegPath,
		engine.WithDiagnosticsLimit(cfg.DiagnosticsLimit),
		engine.WithTimeout(cfg.EngineTimeout),
		engine.WithLogger(logger),
	)
	if cfg.ProbeCacheTTL > 0 {
		logger.Info("engine probe cache enabled",
			slog.Duration("ttl", cfg.ProbeCacheTTL),
		)
	}
	return engine.WithProbeCache(ffmpeg, cfg.ProbeCacheTTL)
}
