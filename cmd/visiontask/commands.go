package main

import (
	"github.com/spf13/cobra"
)

// runOptions are the flags of the run command. Zero values leave the
// configuration untouched.
type runOptions struct {
	configPath    string
	url           string
	taskFile      string
	headless      *bool
	screenshotDir string
	backend       string
	debug         bool
}

// buildRunCmd creates the "run" command that executes one task.
func buildRunCmd() *cobra.Command {
	var (
		opts     runOptions
		headless bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the browser task",
		Long: `Run the configured task in a fresh browser.

The run will:
1. Load configuration (file, then environment, then defaults)
2. Launch Chromium through playwright or the DevTools protocol
3. Install the coordinate-correcting click and the dialog responder
4. Let the agent work until it reports done or runs out of steps
5. Print the result and the total token usage`,
		Example: `  # Run the built-in form task
  visiontask run

  # Point it at another page, headless
  visiontask run --url http://localhost:8000/index2.html --headless

  # Use a task written in a file and keep a final screenshot
  AUTO_SAVE_SCREENSHOTS=1 visiontask run --task-file task.txt --screenshot-dir out`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("headless") {
				opts.headless = &headless
			}
			return runTask(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to YAML or JSON5 configuration file (or set VISIONTASK_CONFIG)")
	cmd.Flags().StringVar(&opts.url, "url", "", "Page the task runs against")
	cmd.Flags().StringVar(&opts.taskFile, "task-file", "", "Read the task text from a file")
	cmd.Flags().BoolVar(&headless, "headless", false, "Run the browser without a window")
	cmd.Flags().StringVar(&opts.screenshotDir, "screenshot-dir", "", "Directory for the final screenshot")
	cmd.Flags().StringVar(&opts.backend, "backend", "", "Browser backend: playwright or cdp")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// buildSchemaCmd creates the "schema" command that prints the config schema.
func buildSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd.OutOrStdout())
		},
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd.OutOrStdout())
		},
	}
}
