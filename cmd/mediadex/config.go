package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mediadex/pkg/config"
	"mediadex/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage mediadex configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as 'mediadex.yaml'
unless a different path is specified with the --config flag.`,
	Run: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the current configuration including values from all sources:
  - Command line flags
  - Environment variables
  - .env files
  - Configuration file
  - Default values

Sensitive values like credentials will be masked for security.`,
	Run: runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a configuration file for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Value types and ranges
  - Path accessibility`,
	Run: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	// Determine config file path
	configPath := configFile
	if configPath == "" {
		configPath = "mediadex.yaml"
	}

	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", configPath)
		os.Exit(1)
	}

	// Create example configuration
	exampleConfig := `# Mediadex Configuration File
#
# This file contains all available configuration options.
# You can also use environment variables prefixed with MEDIADEX_
# For example: MEDIADEX_CHATARCHIVE_URL, MEDIADEX_PARALLELISM

# Source connections
# Accounts stored with 'mediadex accounts add' take precedence over
# these; fill them in for scripted or containerized setups.
sources:
  chatarchive:
    # Archive server base URL
    base_url: ""

    # API token for the archive
    token: ""

    # Request timeout
    timeout: 30s

  paneltv:
    # Panel server base URL, including the port
    base_url: ""

    # Panel credentials
    username: ""
    password: ""

    # Request timeout
    timeout: 30s

# Sync engine tuning
sync:
  # Concurrent unit scans
  # Range: 1-32
  parallelism: 4

  # Items fetched per source page
  page_size: 100

  # Items per persistence batch
  batch_size: 50

  # Progress event cadence, in items
  emit_progress_every: 100

  # Cap on units scanned per run (0 = no cap)
  unit_limit: 200

  # How often partial batches are flushed
  flush_interval: 2s

# Live watch tuning
live:
  # Items fetched per unit during warm-up backfills
  warmup_limit: 200

  # Sample size for sorting units into quiet and active
  seed_sample_size: 20

  # Updates per minute above which a unit counts as noisy
  noisy_per_minute: 30

  # How recent an update keeps a unit active
  active_window: 30m

  # Concurrent warm-up workers
  backfill_workers: 2

  # Warm-up pacing, requests per second
  backfill_per_sec: 5

# Memory budget
memory:
  # Soft heap ceiling for a sync run, in MB
  heap_limit_mb: 1024

# Rate limiting
rate_limit:
  # Requests per minute against a source
  # Range: 1-600
  requests_per_minute: 60

  # Requests allowed to burst
  burst_size: 10

# Retry configuration
retry:
  # Maximum attempts per request
  # Range: 0-10
  max_attempts: 3

  # First backoff delay
  base_delay: 1s

  # Backoff ceiling
  max_delay: 30s

# Storage paths
storage:
  # Data directory for the catalog and checkpoint stores
  # Leave empty for the XDG data directory
  data_dir: ""

# Logging configuration
logging:
  # Log level: debug, info, warn, error
  level: "info"

  # Log format: console, json
  format: "console"

  # Log file path (optional)
  # Leave empty to log to the terminal only
  file: ""

  # Disable colored output
  no_color: false
`

	// Write configuration file
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		ui.PrintError("Failed to create configuration file", err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Edit the file, or link an account with 'mediadex accounts add'")
	fmt.Println("2. Run 'mediadex config validate' to check the configuration")
	fmt.Println("3. Start syncing with 'mediadex sync'")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	// Load configuration
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	// Create a sanitized version for display
	displayCfg := *cfg
	displayCfg.Sources.ChatArchive.Token = maskConfigSecret(displayCfg.Sources.ChatArchive.Token)
	displayCfg.Sources.PanelTV.Password = maskConfigSecret(displayCfg.Sources.PanelTV.Password)

	// Convert to YAML for display
	data, err := yaml.Marshal(&displayCfg)
	if err != nil {
		ui.PrintError("Failed to format configuration", err.Error())
		os.Exit(1)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	// Show configuration sources
	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (MEDIADEX_*)")
	fmt.Println("3. .env files")
	if configFile != "" {
		fmt.Printf("4. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("4. Configuration file: (not specified)")
	}
	fmt.Println("5. Default values")
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	// Check if config file is specified
	if configFile == "" {
		// Try to find config file in common locations
		possiblePaths := []string{
			"mediadex.yaml",
			"mediadex.yml",
			".mediadex.yaml",
			".mediadex.yml",
			filepath.Join(os.Getenv("HOME"), ".mediadex.yaml"),
			filepath.Join(os.Getenv("HOME"), ".config", "mediadex", "config.yaml"),
		}

		for _, path := range possiblePaths {
			if _, err := os.Stat(path); err == nil {
				configFile = path
				break
			}
		}

		if configFile == "" {
			ui.PrintError("No configuration file found", "Specify a file with --config flag")
			os.Exit(1)
		}
	}

	ui.PrintInfo("Validating configuration", configFile)

	// Try to load and validate configuration
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		ui.PrintError("Configuration validation failed", err.Error())
		os.Exit(1)
	}

	// Perform additional validation checks
	warnings := []string{}
	errors := []string{}

	// Check source connections
	archive := cfg.Sources.ChatArchive
	panel := cfg.Sources.PanelTV
	if archive.BaseURL == "" && panel.BaseURL == "" {
		warnings = append(warnings, "no sources configured in this file (stored accounts still work)")
	}
	if archive.BaseURL != "" && archive.Token == "" {
		warnings = append(warnings, "chat archive has a base_url but no token")
	}
	if panel.BaseURL != "" && (panel.Username == "" || panel.Password == "") {
		warnings = append(warnings, "panel has a base_url but incomplete credentials")
	}

	// Check paths
	if err := os.MkdirAll(cfg.Storage.DataDirPath(), 0755); err != nil {
		errors = append(errors, fmt.Sprintf("Cannot create data directory: %v", err))
	}
	if cfg.Logging.File != "" {
		dir := filepath.Dir(cfg.Logging.File)
		if err := os.MkdirAll(dir, 0755); err != nil {
			errors = append(errors, fmt.Sprintf("Cannot create log directory: %v", err))
		}
	}

	// Check value ranges
	if cfg.Sync.Parallelism < 1 || cfg.Sync.Parallelism > 32 {
		errors = append(errors, "parallelism must be between 1 and 32")
	}
	if cfg.Sync.PageSize < 1 || cfg.Sync.PageSize > 1000 {
		errors = append(errors, "page_size must be between 1 and 1000")
	}
	if cfg.RateLimit.RequestsPerMinute < 1 || cfg.RateLimit.RequestsPerMinute > 600 {
		errors = append(errors, "requests_per_minute must be between 1 and 600")
	}
	if cfg.Retry.MaxAttempts < 0 || cfg.Retry.MaxAttempts > 10 {
		errors = append(errors, "max_attempts must be between 0 and 10")
	}

	// Display results
	if len(errors) > 0 {
		ui.PrintError("Configuration has errors:", "")
		for _, err := range errors {
			fmt.Printf("  - %s\n", err)
		}
		os.Exit(1)
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, warn := range warnings {
			fmt.Printf("  - %s\n", warn)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	// Show summary
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Data directory: %s\n", cfg.Storage.DataDirPath())
	fmt.Printf("  Parallelism: %d unit scans\n", cfg.Sync.Parallelism)
	fmt.Printf("  Rate limit: %d requests/minute\n", cfg.RateLimit.RequestsPerMinute)
	fmt.Printf("  Max attempts: %d\n", cfg.Retry.MaxAttempts)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
}

// maskConfigSecret masks a credential for display.
func maskConfigSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) > 8 {
		return secret[:4] + "..." + secret[len(secret)-4:]
	}
	return "***"
}
