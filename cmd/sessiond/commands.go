// commands.go contains the cobra command definitions and their flag wiring.
// Each builder creates a command and routes it to its handler.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		model      string
		timeout    int
		fork       string
		cutoff     int
	)

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Execute a prompt as a one-shot background session",
		Long: `Execute a single prompt to completion and print the result as JSON.

Background executions never fail with a backend error: transient failures
are retried with exponential backoff, and the final outcome (success or
failure) is reported in the result document.`,
		Example: `  # One-shot execution
  sessiond run "list the open incidents"

  # Fork an existing session's context
  sessiond run "continue the analysis" --fork 2f1c... --cutoff 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), runOptions{
				configPath: resolveConfigPath(configPath),
				prompt:     args[0],
				model:      model,
				timeout:    timeout,
				parentID:   fork,
				forkCutoff: cutoff,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Override the backend model")
	cmd.Flags().IntVarP(&timeout, "timeout", "t", 0, "Per-attempt timeout in seconds")
	cmd.Flags().StringVar(&fork, "fork", "", "Fork the given session's conversation context")
	cmd.Flags().IntVar(&cutoff, "cutoff", 0, "Replay only the first N parent messages when forking")

	return cmd
}

func buildChatCmd() *cobra.Command {
	var (
		configPath string
		model      string
		partials   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive session that streams assistant messages to stdout.

Type a prompt and press enter; Ctrl-D or "exit" ends the session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), chatOptions{
				configPath: resolveConfigPath(configPath),
				model:      model,
				partials:   partials,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Override the backend model")
	cmd.Flags().BoolVar(&partials, "partials", false, "Print partial output as it streams")

	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sessiond %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath applies the flag > env > default precedence.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("SESSIOND_CONFIG"); env != "" {
		return env
	}
	return "sessiond.yaml"
}
