// Package main provides the CLI entry point for sessiond, the agent session
// execution daemon.
//
// sessiond drives agent sessions against an LLM backend with policy-gated
// tool use, retry and circuit-breaker protection, and full audit of
// permission decisions.
//
// # Basic Usage
//
// Run a one-shot background execution:
//
//	sessiond run "summarize the build failures" --config sessiond.yaml
//
// Start an interactive chat session:
//
//	sessiond chat
//
// # Environment Variables
//
//   - SESSIOND_CONFIG: Path to configuration file (default: sessiond.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sessiond",
		Short:         "Agent session execution daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		buildRunCmd(),
		buildChatCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}
