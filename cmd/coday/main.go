// Package main provides the CLI entry point for the Coday conversational
// gateway.
//
// Coday mediates conversations between human users and AI agents over a
// shared HTTP gateway: each browser client holds a session with its own
// event stream, conversations persist as threads under the selected
// project, and agents reach external tools through MCP servers.
//
// # Basic Usage
//
// Start the gateway:
//
//	coday serve
//
// Inspect persisted threads:
//
//	coday threads list --project myproject
//
// Show a configuration level with credentials masked:
//
//	coday config show --level user --project myproject
//
// # Environment Variables
//
//   - CODAY_CONFIG_DIR: Base configuration directory (default: ~/.config/coday)
//   - OTEL_ENDPOINT: OTLP collector endpoint; tracing stays off without it
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: referenced from config files via
//     ${VAR} expansion
package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/coday-ai/coday/internal/config"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// internalError marks failures of the system itself, as opposed to bad
// input. main maps it to exit code 2; everything else exits 1.
type internalError struct {
	err error
}

func (e internalError) Error() string { return e.err.Error() }
func (e internalError) Unwrap() error { return e.err }

func internalErr(err error) error {
	if err == nil {
		return nil
	}
	return internalError{err: err}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		var ie internalError
		if errors.As(err, &ie) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// configDir is the persistent --config-dir flag value shared by all
// subcommands.
var configDir string

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coday",
		Short: "Coday - conversational gateway between users and AI agents",
		Long: `Coday runs a multi-user HTTP gateway where each client session drives a
conversation with configured AI agents. Threads persist per project, agents
call tools over MCP, and every session event streams back over SSE.

Supported AI providers: Anthropic (Claude), OpenAI (GPT)`,
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configDir, "config-dir", "c", config.DefaultDir(),
		"Base configuration directory")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildThreadsCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}
