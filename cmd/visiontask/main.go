// Package main provides the CLI entry point for visiontask, a vision-driven
// browser agent that fills in a canvas-drawn form by looking at screenshots.
//
// # Basic Usage
//
// Run the sample task against a local page:
//
//	visiontask run --url http://localhost:8000/index2.html
//
// Print the configuration schema:
//
//	visiontask schema
//
// # Environment Variables
//
//   - VISIONTASK_CONFIG: Path to configuration file
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - AUTO_SAVE_SCREENSHOTS: Save a screenshot when the run ends (true/1/yes)
//   - AUTO_SAVE_SCREENSHOTS_DIR: Directory for saved screenshots
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
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
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "visiontask",
		Short: "visiontask - vision-driven browser automation",
		Long: `visiontask drives a Chromium page with a vision LLM.

Each step the agent screenshots the page, asks the model for the next
actions and performs them. Clicks are corrected from screenshot pixels to
page coordinates, JavaScript dialogs are answered automatically and token
usage is totalled across every model call.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildSchemaCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}
