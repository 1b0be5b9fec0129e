// Package logger provides structured logging for the mediadex sync engine.
//
// It wraps the zerolog library to provide a clean, easy-to-use API with support for:
// - Multiple log levels (Debug, Info, Warn, Error, Fatal)
// - Structured logging with fields
// - Pretty console output with colors, or raw JSON
// - Optional file output
// - Global logger instance for easy access
//
// Basic Usage:
//
//	import "mediadex/pkg/logger"
//
//	// Initialize the global logger
//	cfg := &config.LoggingConfig{
//	    Level:  "info",
//	    Format: "console",
//	}
//	err := logger.Initialize(cfg)
//
//	// Use the global logger
//	logger.Info("Sync started")
//	logger.WithField("source", "chatarchive").Info("Scanning units")
//	logger.WithError(err).Error("Unit scan failed")
//
// Advanced Usage:
//
//	// Create a logger instance with fields
//	log := logger.GetLogger().
//	    WithField("component", "coordinator").
//	    WithField("run_id", runID)
//
//	// Use structured logging
//	log.InfoWithFields("Sync completed", map[string]interface{}{
//	    "items":    1024,
//	    "units":    12,
//	    "duration": time.Second * 5,
//	})
//
// The logger supports the following configuration options:
// - Level: Log level (debug, info, warn, error, fatal)
// - Format: "console" for pretty output, "json" for machine-readable logs
// - File: Path to log file (empty for console only)
// - NoColor: Disable ANSI colors in console output
package logger
