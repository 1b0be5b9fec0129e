package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the mediadex sync engine
type Config struct {
	// Source endpoints and credentials
	Sources SourcesConfig `yaml:"sources" json:"sources"`

	// Sync engine tuning
	Sync SyncConfig `yaml:"sync" json:"sync"`

	// Live update stream tuning
	Live LiveConfig `yaml:"live" json:"live"`

	// Memory pressure thresholds
	Memory MemoryConfig `yaml:"memory" json:"memory"`

	// Rate limiting for source API calls
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Retry policy for transient source failures
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Local store locations
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SourcesConfig holds per-source connection settings
type SourcesConfig struct {
	ChatArchive ChatArchiveConfig `yaml:"chatarchive" json:"chatarchive"`
	PanelTV     PanelTVConfig     `yaml:"paneltv" json:"paneltv"`
}

// ChatArchiveConfig holds chat-archive server settings
type ChatArchiveConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Token   string        `yaml:"token" json:"token"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// PanelTVConfig holds IPTV panel settings
type PanelTVConfig struct {
	BaseURL  string        `yaml:"base_url" json:"base_url"`
	Username string        `yaml:"username" json:"username"`
	Password string        `yaml:"password" json:"password"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// SyncConfig holds sync run tuning
type SyncConfig struct {
	Parallelism       int           `yaml:"parallelism" json:"parallelism"`
	PageSize          int           `yaml:"page_size" json:"page_size"`
	BatchSize         int           `yaml:"batch_size" json:"batch_size"`
	EmitProgressEvery int           `yaml:"emit_progress_every" json:"emit_progress_every"`
	UnitLimit         int           `yaml:"unit_limit" json:"unit_limit"`
	FlushInterval     time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

// LiveConfig holds live update stream tuning
type LiveConfig struct {
	WarmupLimit     int           `yaml:"warmup_limit" json:"warmup_limit"`
	SeedSampleSize  int           `yaml:"seed_sample_size" json:"seed_sample_size"`
	NoisyPerMinute  float64       `yaml:"noisy_per_minute" json:"noisy_per_minute"`
	ActiveWindow    time.Duration `yaml:"active_window" json:"active_window"`
	BackfillWorkers int           `yaml:"backfill_workers" json:"backfill_workers"`
	BackfillPerSec  float64       `yaml:"backfill_per_sec" json:"backfill_per_sec"`
}

// MemoryConfig holds heap budget settings for the pressure monitor
type MemoryConfig struct {
	HeapLimitMB int `yaml:"heap_limit_mb" json:"heap_limit_mb"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" json:"burst_size"`
}

// RetryConfig holds retry policy for source calls
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// StorageConfig holds local store locations. Empty fields resolve under the
// data directory; an empty data directory resolves to the XDG data home.
type StorageConfig struct {
	DataDir        string `yaml:"data_dir" json:"data_dir"`
	CatalogFile    string `yaml:"catalog_file" json:"catalog_file"`
	CheckpointFile string `yaml:"checkpoint_file" json:"checkpoint_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level"`
	Format  string `yaml:"format" json:"format"`
	File    string `yaml:"file" json:"file"`
	NoColor bool   `yaml:"no_color" json:"no_color"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Sources: SourcesConfig{
			ChatArchive: ChatArchiveConfig{
				Timeout: 30 * time.Second,
			},
			PanelTV: PanelTVConfig{
				Timeout: 30 * time.Second,
			},
		},
		Sync: SyncConfig{
			Parallelism:       4,
			PageSize:          100,
			BatchSize:         50,
			EmitProgressEvery: 100,
			UnitLimit:         200,
			FlushInterval:     2 * time.Second,
		},
		Live: LiveConfig{
			WarmupLimit:     200,
			SeedSampleSize:  20,
			NoisyPerMinute:  30,
			ActiveWindow:    30 * time.Minute,
			BackfillWorkers: 2,
			BackfillPerSec:  5,
		},
		Memory: MemoryConfig{
			HeapLimitMB: 1024,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    30 * time.Second,
		},
		Storage: StorageConfig{},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File:   "",
		},
	}
}

// DataDirPath resolves the data directory, defaulting to the XDG data home.
func (s StorageConfig) DataDirPath() string {
	if s.DataDir != "" {
		return s.DataDir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "mediadex")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "mediadex-data"
	}
	return filepath.Join(home, ".local", "share", "mediadex")
}

// CatalogPath resolves the bbolt catalog database location.
func (s StorageConfig) CatalogPath() string {
	if s.CatalogFile != "" {
		return s.CatalogFile
	}
	return filepath.Join(s.DataDirPath(), "catalog.db")
}

// CheckpointPath resolves the SQLite checkpoint database location.
func (s StorageConfig) CheckpointPath() string {
	if s.CheckpointFile != "" {
		return s.CheckpointFile
	}
	return filepath.Join(s.DataDirPath(), "checkpoints.db")
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// Source endpoints and credentials
	if url := os.Getenv("MEDIADEX_CHATARCHIVE_URL"); url != "" {
		c.Sources.ChatArchive.BaseURL = url
	}
	if token := os.Getenv("MEDIADEX_CHATARCHIVE_TOKEN"); token != "" {
		c.Sources.ChatArchive.Token = token
	}
	if url := os.Getenv("MEDIADEX_PANELTV_URL"); url != "" {
		c.Sources.PanelTV.BaseURL = url
	}
	if user := os.Getenv("MEDIADEX_PANELTV_USERNAME"); user != "" {
		c.Sources.PanelTV.Username = user
	}
	if pass := os.Getenv("MEDIADEX_PANELTV_PASSWORD"); pass != "" {
		c.Sources.PanelTV.Password = pass
	}

	// Sync tuning
	if par := os.Getenv("MEDIADEX_PARALLELISM"); par != "" {
		var val int
		fmt.Sscanf(par, "%d", &val)
		if val > 0 {
			c.Sync.Parallelism = val
		}
	}
	if bs := os.Getenv("MEDIADEX_BATCH_SIZE"); bs != "" {
		var val int
		fmt.Sscanf(bs, "%d", &val)
		if val > 0 {
			c.Sync.BatchSize = val
		}
	}

	// Rate limiting
	if rpm := os.Getenv("MEDIADEX_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		fmt.Sscanf(rpm, "%d", &val)
		if val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}

	// Memory budget
	if mb := os.Getenv("MEDIADEX_HEAP_LIMIT_MB"); mb != "" {
		var val int
		fmt.Sscanf(mb, "%d", &val)
		if val > 0 {
			c.Memory.HeapLimitMB = val
		}
	}

	// Storage
	if dir := os.Getenv("MEDIADEX_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}

	// Logging level
	if logLevel := os.Getenv("MEDIADEX_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	// Check in order of precedence
	locations := []string{
		"mediadex.yaml",
		"mediadex.yml",
		".mediadex.yaml",
		".mediadex.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "mediadex", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "mediadex", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".mediadex.yaml"),
		filepath.Join(os.Getenv("HOME"), ".mediadex.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// Validate sync tuning
	if c.Sync.Parallelism <= 0 {
		errs = append(errs, errors.New("parallelism must be positive"))
	}
	if c.Sync.Parallelism > 32 {
		errs = append(errs, errors.New("parallelism should not exceed 32"))
	}
	if c.Sync.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.Sync.EmitProgressEvery <= 0 {
		errs = append(errs, errors.New("emit progress interval must be positive"))
	}

	// Validate live stream tuning
	if c.Live.WarmupLimit < 0 {
		errs = append(errs, errors.New("warmup limit cannot be negative"))
	}
	if c.Live.SeedSampleSize <= 0 {
		errs = append(errs, errors.New("seed sample size must be positive"))
	}
	if c.Live.BackfillWorkers <= 0 {
		errs = append(errs, errors.New("backfill workers must be positive"))
	}

	// Validate memory budget
	if c.Memory.HeapLimitMB <= 0 {
		errs = append(errs, errors.New("heap limit must be positive"))
	}

	// Validate rate limiting
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("max attempts cannot be negative"))
	}

	// Validate logging
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	validFormats := map[string]bool{
		"console": true, "json": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, errors.New("invalid log format"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ValidateSource checks that the named source has enough configuration to
// open a connection. Called by commands that are about to talk to a source;
// Validate itself stays structural so read-only commands work unconfigured.
func (c *Config) ValidateSource(source string) error {
	switch source {
	case "chatarchive":
		if c.Sources.ChatArchive.BaseURL == "" {
			return errors.New("chatarchive base URL is required")
		}
	case "paneltv":
		if c.Sources.PanelTV.BaseURL == "" {
			return errors.New("paneltv base URL is required")
		}
		if c.Sources.PanelTV.Username == "" {
			return errors.New("paneltv username is required")
		}
	default:
		return fmt.Errorf("unknown source: %s", source)
	}
	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if parallelism, ok := flags["parallelism"].(int); ok && parallelism > 0 {
		c.Sync.Parallelism = parallelism
	}
	if batchSize, ok := flags["batch-size"].(int); ok && batchSize > 0 {
		c.Sync.BatchSize = batchSize
	}
	if pageSize, ok := flags["page-size"].(int); ok && pageSize > 0 {
		c.Sync.PageSize = pageSize
	}
	if unitLimit, ok := flags["unit-limit"].(int); ok && unitLimit > 0 {
		c.Sync.UnitLimit = unitLimit
	}
	if rpm, ok := flags["requests-per-minute"].(int); ok && rpm > 0 {
		c.RateLimit.RequestsPerMinute = rpm
	}
	if dataDir, ok := flags["data-dir"].(string); ok && dataDir != "" {
		c.Storage.DataDir = dataDir
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if noColor, ok := flags["no-color"].(bool); ok && noColor {
		c.Logging.NoColor = true
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".env"))
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".mediadex.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
