package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/feedbackkit/fb/internal/config"
	"github.com/feedbackkit/fb/internal/debug"
	"github.com/feedbackkit/fb/internal/telemetry"
	"github.com/feedbackkit/fb/internal/ui"
)

var (
	configPath  string
	apiURL      string
	jsonOutput  bool
	logLevel    string
	verboseFlag bool
	quietFlag   bool
	noColor     bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "fb",
	Short: "fb - feedback from the terminal",
	Long: `Manage collected feedback and relay it to Jira or Google Sheets.

Settings come from ~/.config/fb/config.yaml and FB_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupSignalContext()

		if err := config.Initialize(configPath); err != nil {
			FatalError("%v", err)
		}
		level := logLevel
		if level == "" {
			level = config.GetString("log.level")
		}
		if err := debug.SetLevel(level); err != nil {
			FatalErrorWithHint(err.Error(), "use one of: debug, info, warn, error")
		}
		if err := debug.SetFormat(config.GetString("log.format")); err != nil {
			FatalError("%v", err)
		}
		applyVerbosityFlags()
		ui.ApplyColorProfile(noColor || !ui.ShouldUseColor())

		if err := telemetry.Init(rootCtx, telemetry.FromEnv("fb", Version)); err != nil {
			debug.Logf("telemetry disabled: %v", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(context.Background())
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.AddGroup(&cobra.Group{ID: "feedback", Title: "Working With Feedback:"})
	rootCmd.AddGroup(&cobra.Group{ID: "bridges", Title: "Integrations:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Configuration:"})

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/fb/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Feedback API base URL (overrides api.url)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

// setupSignalContext creates a context that cancels on SIGINT/SIGTERM for
// graceful shutdown of long-running operations.
func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// applyVerbosityFlags propagates --verbose and --quiet to the debug package.
func applyVerbosityFlags() {
	if verboseFlag {
		debug.SetVerbose(true)
	}
	if quietFlag {
		debug.SetQuiet(true)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
