package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"imageutils/internal/flags"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. IMAGEUTILS_FETCH_FORMAT.
const EnvPrefix = "IMAGEUTILS"

// flagKeys maps viper keys to the CLI flags that override them.
var flagKeys = map[string]string{
	"fetch.format":                 flags.FlagFormat,
	"fetch.output_dir":             flags.FlagOutputDir,
	"fetch.name":                   flags.FlagName,
	"fetch.no_save":                flags.FlagNoSave,
	"fetch.landscape":              flags.FlagLandscape,
	"fetch.max_width":              flags.FlagMaxWidth,
	"fetch.fallback":               flags.FlagFallback,
	"fetch.max_bytes":              flags.FlagMaxBytes,
	"fetch.timeout":                flags.FlagRequestTimeout,
	"cache.dir":                    flags.FlagCacheDir,
	"cache.ttl":                    flags.FlagCacheTTL,
	"cache.disabled":               flags.FlagNoCache,
	"sources.http.user_agent":      flags.FlagUserAgent,
	"sources.github.base_url":      flags.FlagGitHubBaseURL,
	"output.console_format":        flags.FlagConsoleFormat,
	"output.console_filter_status": flags.FlagConsoleFilterStatus,
	"output.report":                flags.FlagReport,
	"output.out":                   flags.FlagOut,
	"output.out_format":            flags.FlagOutFormat,
	"output.emit":                  flags.FlagEmit,
	"output.no_console":            flags.FlagNoConsole,
	"runtime.concurrency":          flags.FlagConcurrency,
	"runtime.timeout":              flags.FlagTimeout,
	"runtime.verbose":              flags.FlagVerbose,
	"logging.level":                flags.FlagLogLevel,
	"logging.file":                 flags.FlagLogFile,
}

// Load layers configuration from, lowest precedence first: New() defaults,
// the config file, IMAGEUTILS_* environment variables, and flags explicitly
// set on fs. path may be empty, in which case config.yaml is looked up in
// the user config directory and the working directory; a missing file is not
// an error then.
//
// The result is not validated.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, New())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir := DefaultConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if fs != nil {
		for key, name := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind --%s: %w", name, err)
			}
		}
	}

	cfg := New()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// DefaultConfigDir is where Load looks for config.yaml when no path is given.
func DefaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "imageutils")
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("fetch.locators", d.Fetch.Locators)
	v.SetDefault("fetch.format", d.Fetch.Format)
	v.SetDefault("fetch.output_dir", d.Fetch.OutputDir)
	v.SetDefault("fetch.name", d.Fetch.Name)
	v.SetDefault("fetch.no_save", d.Fetch.NoSave)
	v.SetDefault("fetch.landscape", d.Fetch.Landscape)
	v.SetDefault("fetch.max_width", d.Fetch.MaxWidth)
	v.SetDefault("fetch.fallback", d.Fetch.Fallback)
	v.SetDefault("fetch.max_bytes", d.Fetch.MaxBytes)
	v.SetDefault("fetch.timeout", d.Fetch.Timeout)

	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.entries", d.Cache.Entries)
	v.SetDefault("cache.disabled", d.Cache.Disabled)

	v.SetDefault("sources.http.user_agent", d.Sources.HTTP.UserAgent)
	v.SetDefault("sources.http.timeout", d.Sources.HTTP.Timeout)
	v.SetDefault("sources.http.token", d.Sources.HTTP.Token)
	v.SetDefault("sources.github.disabled", d.Sources.GitHub.Disabled)
	v.SetDefault("sources.github.token", d.Sources.GitHub.Token)
	v.SetDefault("sources.github.base_url", d.Sources.GitHub.BaseURL)

	v.SetDefault("output.console_format", d.Output.ConsoleFormat)
	v.SetDefault("output.console_filter_status", d.Output.ConsoleFilterStatus)
	v.SetDefault("output.report", d.Output.Report)
	v.SetDefault("output.out", d.Output.Out)
	v.SetDefault("output.out_format", d.Output.OutFormat)
	v.SetDefault("output.emit", d.Output.Emit)
	v.SetDefault("output.no_console", d.Output.NoConsole)

	v.SetDefault("runtime.concurrency", d.Runtime.Concurrency)
	v.SetDefault("runtime.timeout", d.Runtime.Timeout)
	v.SetDefault("runtime.verbose", d.Runtime.Verbose)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
}
