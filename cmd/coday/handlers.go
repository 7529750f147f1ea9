package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/coday-ai/coday/internal/config"
	"github.com/coday-ai/coday/internal/gateway"
	"github.com/coday-ai/coday/internal/observability"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe implements the serve command logic: logging and tracing
// setup, gateway lifecycle, and graceful shutdown.
func runServe(ctx context.Context, dir string, debug bool, logFormat string) error {
	level := "info"
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: logFormat,
	})
	slog.SetDefault(logger)

	slog.Info("starting coday gateway",
		"version", version,
		"commit", commit,
		"config_dir", dir,
		"debug", debug,
	)

	cfg := config.NewService(dir, logger)
	if _, err := cfg.Coday(); err != nil {
		return fmt.Errorf("load coday config: %w", err)
	}

	// The global provider is installed here; the agent runtime picks it
	// up via otel.Tracer. Without OTEL_ENDPOINT spans stay unrecorded.
	tracer, stopTracing := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "coday",
		ServiceVersion: version,
		Endpoint:       os.Getenv("OTEL_ENDPOINT"),
	})

	metrics := observability.NewMetrics()
	server, err := gateway.New(cfg,
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
		gateway.WithTracer(tracer),
	)
	if err != nil {
		return internalErr(fmt.Errorf("initialize gateway: %w", err))
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return internalErr(err)
	}
	slog.Info("gateway ready", "addr", server.Addr())

	// Sessions read the config fresh when they start, so a changed file
	// takes effect on its own; the watcher validates edits as they land.
	watcher, err := config.WatchFiles([]string{cfg.CodayPath()}, 0, func(path string) {
		if _, err := cfg.Coday(); err != nil {
			logger.Error("configuration reload failed, keeping the previous view", "path", path, "error", err)
			return
		}
		logger.Info("configuration reloaded, new sessions pick it up", "path", path)
	}, logger)
	if err != nil {
		logger.Warn("config watch unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	// Wait for a shutdown signal.
	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return internalErr(fmt.Errorf("shutdown failed: %w", err))
	}
	if err := stopTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", "error", err)
	}

	slog.Info("coday gateway stopped gracefully")
	return nil
}

// =============================================================================
// Threads Command Handlers
// =============================================================================

// runThreadsList prints the persisted threads of one project.
func runThreadsList(cmd *cobra.Command, dir, projectName string) error {
	cfg := config.NewService(dir, slog.Default())
	doc, err := cfg.Coday()
	if err != nil {
		return err
	}
	project, ok := config.FindProject(doc.Projects, projectName)
	if !ok {
		return fmt.Errorf("unknown project %q", projectName)
	}

	var storage config.Storage
	if doc.Storage != nil {
		storage = *doc.Storage
	}
	repo, err := gateway.OpenRepository(storage, project, slog.Default())
	if err != nil {
		return internalErr(err)
	}
	if closer, ok := repo.(io.Closer); ok {
		defer closer.Close()
	}

	summaries, err := repo.List(cmd.Context())
	if err != nil {
		return internalErr(fmt.Errorf("list threads: %w", err))
	}

	out := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintf(out, "No threads for project %q.\n", projectName)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODIFIED\tSUMMARY")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			s.ID, s.Name, s.ModifiedDate.Format("2006-01-02 15:04"), truncate(s.Summary, 60))
	}
	return w.Flush()
}

// truncate shortens s to max runes for table display.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// =============================================================================
// Config Command Handlers
// =============================================================================

// runConfigShow prints one configuration level as YAML.
func runConfigShow(cmd *cobra.Command, dir, levelStr, projectName string, masked bool) error {
	level, err := config.ParseLevel(levelStr)
	if err != nil {
		return err
	}
	if level != config.LevelCoday && projectName == "" {
		return fmt.Errorf("--project is required for the %s level", level)
	}

	cfg := config.NewService(dir, slog.Default())
	raw, err := cfg.ShowRaw(level, projectName, masked)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(raw) == 0 {
		fmt.Fprintln(out, "# empty level")
		return nil
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return internalErr(err)
	}
	_, err = out.Write(data)
	return err
}
