package flags

// Package flags defines canonical CLI flag names shared by the cobra wiring and
// the viper key bindings in internal/config.
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().String(flags.FlagFormat, "png", "...")
//	arg := "--" + flags.FlagFormat
const (
	// Global
	FlagConfig   = "config"
	FlagVerbose  = "verbose"
	FlagLogLevel = "log-level"
	FlagLogFile  = "log-file"

	// Fetch
	FlagFormat         = "format"
	FlagOutputDir      = "output-dir"
	FlagName           = "name"
	FlagNoSave         = "no-save"
	FlagLandscape      = "landscape"
	FlagMaxWidth       = "max-width"
	FlagFallback       = "fallback"
	FlagMaxBytes       = "max-bytes"
	FlagRequestTimeout = "request-timeout"

	// Cache
	FlagCacheDir = "cache-dir"
	FlagCacheTTL = "cache-ttl"
	FlagNoCache  = "no-cache"

	// Sources
	FlagUserAgent     = "user-agent"
	FlagGitHubBaseURL = "github-base-url"

	// Output
	FlagConsoleFormat       = "console-format"
	FlagConsoleFilterStatus = "console-filter-status"
	FlagReport              = "report"
	FlagOut                 = "out"
	FlagOutFormat           = "out-format"
	FlagEmit                = "emit"
	FlagNoConsole           = "no-console"

	// Runtime
	FlagConcurrency = "concurrency"
	FlagTimeout     = "timeout"
)
