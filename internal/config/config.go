package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imageutils/internal/bitmap"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields, keep these in sync:
	// - CLI flags in internal/cli/fetch.go
	// - viper defaults and flag bindings in internal/config/load.go
	Fetch   Fetch   `mapstructure:"fetch"`
	Cache   Cache   `mapstructure:"cache"`
	Sources Sources `mapstructure:"sources"`
	Output  Output  `mapstructure:"output"`
	Runtime Runtime `mapstructure:"runtime"`
	Logging Logging `mapstructure:"logging"`
}

type Fetch struct {
	// Locators are the images to fetch. The CLI appends its positional
	// arguments; a config file may list more.
	Locators []string `mapstructure:"locators"`

	// Format is the encoding of saved files (see --format).
	// Allowed values: png, jpeg (jpg is accepted as an alias).
	Format string `mapstructure:"format" validate:"required,oneof=png jpeg"`

	// OutputDir is where fetched images are written (see --output-dir).
	OutputDir string `mapstructure:"output_dir" validate:"required"`

	// Name is the file name (without extension) for a single locator (see --name).
	// With several locators every file gets a random name.
	Name string `mapstructure:"name"`

	// NoSave decodes images without writing them (see --no-save).
	NoSave bool `mapstructure:"no_save"`

	// Landscape rotates portrait images by 270 degrees (see --landscape).
	Landscape bool `mapstructure:"landscape"`

	// MaxWidth downscales wider images; 0 keeps the original size (see --max-width).
	MaxWidth int `mapstructure:"max_width" validate:"gte=0"`

	// Fallback is a locator whose image is saved in place of any failed fetch (see --fallback).
	Fallback string `mapstructure:"fallback"`

	// MaxBytes caps the size of a single payload (see --max-bytes).
	MaxBytes int64 `mapstructure:"max_bytes" validate:"gt=0"`

	// Timeout bounds each individual load; 0 means only the run timeout applies (see --request-timeout).
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

type Cache struct {
	// Dir holds the persistent cache database (see --cache-dir).
	// Empty keeps the cache in memory for the lifetime of the process.
	Dir string `mapstructure:"dir"`

	// TTL expires persisted entries; 0 keeps them forever (see --cache-ttl).
	TTL time.Duration `mapstructure:"ttl" validate:"gte=0"`

	// Entries sizes the in-memory LRU layer.
	Entries int `mapstructure:"entries" validate:"gte=1"`

	// Disabled turns off the persistent cache (see --no-cache).
	Disabled bool `mapstructure:"disabled"`
}

type Sources struct {
	HTTP   HTTPSource   `mapstructure:"http"`
	GitHub GitHubSource `mapstructure:"github"`
}

type HTTPSource struct {
	// UserAgent is sent with every http(s) request (see --user-agent).
	UserAgent string `mapstructure:"user_agent"`

	// Timeout bounds a single http(s) round trip; 0 disables it.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`

	// Token, if set, is sent as an OAuth2 bearer token to every http(s) host.
	Token string `mapstructure:"token"`
}

type GitHubSource struct {
	// Disabled skips token resolution and leaves github:// locators unusable.
	Disabled bool `mapstructure:"disabled"`

	// Token overrides IMAGEUTILS_GITHUB_TOKEN / GITHUB_TOKEN / gh auth token.
	Token string `mapstructure:"token"`

	// BaseURL points the github source at GitHub Enterprise (see --github-base-url).
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
}

type Output struct {
	// ConsoleFormat controls the human-facing console sink format (see --console-format).
	// Allowed values: text, json, ndjson.
	ConsoleFormat string `mapstructure:"console_format"`

	// ConsoleFilterStatus filters console output by result status (see --console-filter-status).
	// Allowed values: OK, FAILED, DROPPED.
	ConsoleFilterStatus []string `mapstructure:"console_filter_status"`

	// Report writes a Markdown report to this path (see --report).
	Report string `mapstructure:"report"`

	// Out writes structured output to this path (see --out).
	Out string `mapstructure:"out"`

	// OutFormat selects the format for --out (see --out-format).
	// Allowed values: json, ndjson. If empty, it is inferred from the --out file extension.
	OutFormat string `mapstructure:"out_format"`

	// Emit writes an additional structured event stream to stdout (see --emit).
	// Allowed values: json, ndjson.
	Emit []string `mapstructure:"emit"`

	// NoConsole suppresses the console sink (see --no-console).
	NoConsole bool `mapstructure:"no_console"`
}

type Runtime struct {
	// Concurrency caps how many loads are in flight at once (see --concurrency).
	Concurrency int `mapstructure:"concurrency" validate:"gte=1"`

	// Timeout is the global run timeout (see --timeout). When it expires,
	// results that have not been delivered yet are dropped.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// Verbose logs every outbound request to stderr.
	Verbose bool `mapstructure:"verbose"`
}

type Logging struct {
	// File receives JSON log records; empty means stderr (see --log-file).
	File string `mapstructure:"file"`

	// Level is one of debug, info, warn, error (see --log-level).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// DefaultUserAgent is sent by the http source unless overridden.
const DefaultUserAgent = "imageutils/1.0"

func New() *Config {
	return &Config{
		Fetch: Fetch{
			Format:    string(bitmap.FormatPNG),
			OutputDir: DefaultOutputDir(),
			MaxBytes:  32 << 20,
		},
		Cache: Cache{
			Dir:     DefaultCacheDir(),
			TTL:     7 * 24 * time.Hour,
			Entries: 64,
		},
		Sources: Sources{
			HTTP: HTTPSource{
				UserAgent: DefaultUserAgent,
				Timeout:   time.Minute,
			},
		},
		Output: Output{
			ConsoleFormat: "text",
		},
		Runtime: Runtime{
			Concurrency: 4,
			Timeout:     10 * time.Minute,
		},
		Logging: Logging{
			Level: "warn",
		},
	}
}

// DefaultCacheDir is the per-user cache location, or "" when the platform
// has none.
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "imageutils")
}

func DefaultOutputDir() string {
	return filepath.Join(os.TempDir(), "imageutils")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	// Locators are not comma-split: URLs may contain commas.
	c.Fetch.Locators = trimList(c.Fetch.Locators)

	// Normalize comma-delimited list inputs.
	c.Output.ConsoleFilterStatus = splitCommaList(c.Output.ConsoleFilterStatus)
	c.Output.Emit = splitCommaList(c.Output.Emit)

	// Fetch validation
	if len(c.Fetch.Locators) == 0 {
		return errors.New("at least one locator must be provided")
	}
	c.Fetch.Format = normalizeEnumValue(c.Fetch.Format)
	if c.Fetch.Format == "" {
		c.Fetch.Format = string(bitmap.FormatPNG)
	}
	format, err := bitmap.ParseFormat(c.Fetch.Format)
	if err != nil {
		return fmt.Errorf("unsupported --format: %s (must be one of: png, jpeg)", c.Fetch.Format)
	}
	c.Fetch.Format = string(format)

	c.Fetch.Name = strings.TrimSpace(c.Fetch.Name)
	if c.Fetch.Name != "" {
		if len(c.Fetch.Locators) > 1 {
			return errors.New("--name can only be used with a single locator")
		}
		if c.Fetch.Name != filepath.Base(c.Fetch.Name) || c.Fetch.Name == "." || c.Fetch.Name == ".." {
			return fmt.Errorf("invalid --name value %q: must be a plain file name", c.Fetch.Name)
		}
	}
	if c.Fetch.NoSave && c.Fetch.Fallback != "" {
		return errors.New("--fallback has no effect with --no-save")
	}
	if c.Fetch.MaxWidth < 0 {
		return errors.New("--max-width must be >= 0")
	}

	// Output validation
	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	if c.Output.ConsoleFormat == "" {
		return errors.New("--console-format must be one of: text, json, ndjson")
	}
	if c.Output.ConsoleFormat != "text" && c.Output.ConsoleFormat != "json" && c.Output.ConsoleFormat != "ndjson" {
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, json, ndjson)", c.Output.ConsoleFormat)
	}

	for i, st := range c.Output.ConsoleFilterStatus {
		v := strings.ToUpper(strings.TrimSpace(st))
		if v != "OK" && v != "FAILED" && v != "DROPPED" {
			return fmt.Errorf("unsupported --console-filter-status value: %s (must be one of: OK, FAILED, DROPPED)", st)
		}
		c.Output.ConsoleFilterStatus[i] = v
	}

	for i, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if v != "json" && v != "ndjson" {
			return fmt.Errorf("unsupported --emit value: %s (must be one of: json, ndjson)", emit)
		}
		c.Output.Emit[i] = v
	}

	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			ext := strings.ToLower(filepath.Ext(c.Output.Out))
			switch ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.OutFormat = "ndjson"
			default:
				if ext == "" {
					return errors.New("cannot infer output format from file extension (missing extension); use --out-format")
				}
				return fmt.Errorf("cannot infer output format from file extension %q; use --out-format", ext)
			}
		} else if c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
			return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
		}
	}

	// Runtime validation
	if c.Runtime.Concurrency <= 0 {
		return errors.New("--concurrency must be >= 1")
	}
	if c.Runtime.Timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}

	// Logging validation
	c.Logging.Level = normalizeEnumValue(c.Logging.Level)
	switch c.Logging.Level {
	case "":
		c.Logging.Level = "warn"
	case "warning":
		c.Logging.Level = "warn"
	}

	c.Sources.GitHub.BaseURL = strings.TrimSpace(c.Sources.GitHub.BaseURL)

	// Remaining bounds are declared as struct tags.
	if err := validate.Struct(c); err != nil {
		return describeValidationError(err)
	}
	return nil
}

func describeValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Errorf("invalid configuration: %s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Errorf("invalid configuration: %s failed %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func trimList(values []string) []string {
	var out []string
	for _, v := range values {
		if p := strings.TrimSpace(v); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
