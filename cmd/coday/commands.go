package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the gateway.
// This is the primary command for running Coday.
func buildServeCmd() *cobra.Command {
	var (
		debug     bool
		logFormat string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Coday gateway",
		Long: `Start the Coday gateway over the configuration directory.

The gateway will:
1. Load the global configuration (coday.yaml in the config directory)
2. Serve the SSE event stream, answer ingress, and the thread REST API
3. Build each session's environment (providers, MCP tools, repository)
   lazily when a client connects
4. Expose /healthz and prometheus /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with the default config directory
  coday serve

  # Start against a specific config directory with debug logging
  coday serve --config-dir /etc/coday --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configDir, debug, logFormat)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	cmd.Flags().StringVar(&logFormat, "log-format", "json",
		"Log output format: json or text")

	return cmd
}

// =============================================================================
// Threads Commands
// =============================================================================

// buildThreadsCmd creates the "threads" command group.
func buildThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect persisted conversation threads",
	}
	cmd.AddCommand(buildThreadsListCmd())
	return cmd
}

func buildThreadsListCmd() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the threads of one project",
		Long: `List every thread persisted for a project, newest first.

The repository is read directly from disk with the storage backend the
configuration selects; the gateway does not need to be running.`,
		Example: `  coday threads list --project myproject`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreadsList(cmd, configDir, project)
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Project name (required)")
	cobra.CheckErr(cmd.MarkFlagRequired("project"))

	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration levels",
	}
	cmd.AddCommand(buildConfigShowCmd())
	return cmd
}

func buildConfigShowCmd() *cobra.Command {
	var (
		level   string
		project string
		masked  bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print one configuration level as YAML",
		Long: `Print the raw content of one configuration level.

Levels: coday (the global file), project (coday.yaml at the project
root), user (the per-project user file in the config directory). The
project and user levels require --project. Credentials are masked
unless --masked=false.`,
		Example: `  # Show the global level
  coday config show

  # Show the user level for a project, secrets revealed
  coday config show --level user --project myproject --masked=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd, configDir, level, project, masked)
		},
	}

	cmd.Flags().StringVarP(&level, "level", "l", "coday", "Configuration level: coday, project, or user")
	cmd.Flags().StringVarP(&project, "project", "p", "", "Project name (required for project and user levels)")
	cmd.Flags().BoolVar(&masked, "masked", true, "Mask credential-shaped values")

	return cmd
}

// =============================================================================
// Version Command
// =============================================================================

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "coday %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
