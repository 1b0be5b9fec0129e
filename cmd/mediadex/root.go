package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"mediadex/pkg/config"
	"mediadex/pkg/logger"
	"mediadex/pkg/ui"
)

var (
	// Version information, injected at build time
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool
	quiet      bool
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mediadex",
	Short: "Sync remote media catalogs into a local searchable index",
	Long: `mediadex keeps a local catalog of what your media sources hold.

It scans chat-archive servers and IPTV panels, stores every discovered
item in a local index, and keeps that index current with incremental
syncs and live update feeds.

Features:
  - Concurrent catalog scans with per-source rate limiting
  - Incremental syncs that resume from per-unit high-water marks
  - Live update streams with bounded warm-up backfills
  - Secure credential storage using the system keychain
  - Fuzzy title search over everything synced
  - Full-screen terminal UI for long-running syncs`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || os.Getenv("NO_COLOR") != "" {
			ui.DisableColors()
		}
		if verbose && logLevel == "info" {
			logLevel = "debug"
		}
		if quiet {
			logLevel = "error"
		}

		// Don't show the logo for plumbing commands
		if !quiet && cmd.Name() != "version" && cmd.Name() != "help" && cmd.Name() != "completion" {
			ui.PrintLogo()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default searches ./mediadex.yaml, ~/.config/mediadex/)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")

	// Version template
	rootCmd.SetVersionTemplate(`mediadex {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads the layered configuration and initializes the global
// logger from it. extra carries command-specific flag overrides on top of
// the persistent ones.
func loadConfig(extra map[string]interface{}) (*config.Config, error) {
	flags := make(map[string]interface{})
	if logLevel != "info" {
		flags["log-level"] = logLevel
	}
	if noColor {
		flags["no-color"] = true
	}
	for k, v := range extra {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, err
	}

	return cfg, nil
}
