package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"imageutils/internal/config"
	"imageutils/internal/engine"
	"imageutils/internal/flags"
	"imageutils/internal/logging"

	"github.com/spf13/cobra"
)

const fetchHelpTemplate = `{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}Usage:
  {{.UseLine}}

{{if .HasAvailableLocalFlags}}Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableInheritedFlags}}Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}Environment:
	Every setting can be overridden with an IMAGEUTILS_* variable named after
	its config key, e.g. IMAGEUTILS_FETCH_FORMAT=jpeg or IMAGEUTILS_RUNTIME_CONCURRENCY=8.

	github:// locators authenticate with a GitHub access token.

	Sources (in order):
	1) sources.github.token in the config file
	2) IMAGEUTILS_GITHUB_TOKEN environment variable
	3) GITHUB_TOKEN environment variable
	4) GitHub CLI (gh) authentication via gh auth token (if gh is installed and logged in)

	Without a token public repositories are read anonymously, with GitHub's
	low unauthenticated rate limit.

  Examples:
    # macOS/Linux
    export GITHUB_TOKEN="<your_token>"
    imageutils fetch github://acme/site/img/logo.png

    # Windows PowerShell
    $env:GITHUB_TOKEN = "<your_token>"
    imageutils fetch github://acme/site/img/logo.png

{{if .HasAvailableSubCommands}}Available Commands:
{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasHelpSubCommands}}Additional help topics:
{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasAvailableSubCommands}}Use "{{.CommandPath}} [command] --help" for more information about a command.
{{end}}`

const fetchLong = `Fetch images and save them to disk.

Each LOCATOR is one of:
  https://host/path.png         image over http(s)
  /abs/path.jpg, ./rel.png      local file (file:// URLs are accepted too)
  github://OWNER/REPO/PATH[@REF] file in a GitHub repository

Images are decoded, rotated to landscape with --landscape, downscaled to
--max-width, then encoded as --format into --output-dir. With --no-save they are
only decoded and reported. Downloads are cached on disk (see "imageutils cache").

Output:
	Console output is controlled by --console-format (default: text).
	Structured outputs can be written via:
	- --out / --out-format: write an aggregate JSON array or NDJSON stream to a file
	- --emit: write an additional structured stream to stdout (json or ndjson)
	- --report: write a Markdown summary
	- --no-console: suppress the console sink (use with --emit/--out for machine output)

	NDJSON mode emits one JSON object per line. Objects are lifecycle Events with a
	"type" field (run.started, fetch.succeeded, fetch.failed, fetch.dropped, run.finished).

Exit codes:
	0 = every image fetched
	2 = partial failure (some fetches failed or were dropped)
	3 = fatal error (fetch did not run)

Examples:
  imageutils fetch https://example.com/cat.jpg

  # One locator, fixed file name, JPEG, landscape, at most 1024px wide
  imageutils fetch ./portrait.png --name cover --format jpeg --landscape --max-width 1024

  # Replace failed downloads with a placeholder
  imageutils fetch https://example.com/a.png https://example.com/b.png --fallback ./placeholder.png

  # AI Agent: stream machine-readable events to stdout
  imageutils fetch https://example.com/a.png --no-console --emit ndjson
`

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [LOCATOR...]",
		Short: "Fetch images and save them to disk",
		Long:  fetchLong,
		Run: func(cmd *cobra.Command, args []string) {
			if code := runFetch(cmd, args); code >= 0 {
				osExit(code)
			}
		},
	}
	cmd.SetHelpTemplate(fetchHelpTemplate)
	addFetchFlags(cmd)
	return cmd
}

// runFetch returns the process exit code, or -1 when help was shown instead.
func runFetch(cmd *cobra.Command, args []string) int {
	stderr := cmd.ErrOrStderr()

	cfg, err := config.Load(configPath(cmd), cmd.Flags())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}
	if len(args) == 0 && cmd.Flags().NFlag() == 0 && len(cfg.Fetch.Locators) == 0 {
		_ = cmd.Help()
		return -1
	}
	cfg.Fetch.Locators = append(cfg.Fetch.Locators, args...)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}

	logger, closeLog, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.NewEngine(
		engine.WithOutput(cmd.OutOrStdout(), stderr),
		engine.WithLogger(logger),
	)
	return eng.Run(ctx, cfg)
}

func addFetchFlags(cmd *cobra.Command) {
	// MAINTAINER NOTE: every flag here needs a matching entry in
	// internal/config/load.go:flagKeys, or it will be ignored.
	d := config.New()
	fs := cmd.Flags()

	// Fetch
	fs.String(flags.FlagFormat, d.Fetch.Format, "Encoding of saved images: png|jpeg (default: png)")
	fs.String(flags.FlagOutputDir, d.Fetch.OutputDir, "Directory saved images are written to")
	fs.String(flags.FlagName, "", "File name without extension (single locator only; default: random)")
	fs.Bool(flags.FlagNoSave, false, "Decode and report images without writing them")
	fs.Bool(flags.FlagLandscape, false, "Rotate portrait images by 270 degrees")
	fs.Int(flags.FlagMaxWidth, 0, "Downscale images wider than this many pixels (0 = keep size)")
	fs.String(flags.FlagFallback, "", "Locator of an image saved in place of any failed fetch")
	fs.Int64(flags.FlagMaxBytes, d.Fetch.MaxBytes, "Maximum size of a single download in bytes")
	fs.Duration(flags.FlagRequestTimeout, 0, "Timeout for each individual fetch (0 = only --timeout applies)")

	// Cache
	fs.String(flags.FlagCacheDir, d.Cache.Dir, "Directory of the persistent download cache")
	fs.Duration(flags.FlagCacheTTL, d.Cache.TTL, "Lifetime of cached downloads (0 = forever)")
	fs.Bool(flags.FlagNoCache, false, "Do not read or write the persistent download cache")

	// Sources
	fs.String(flags.FlagUserAgent, d.Sources.HTTP.UserAgent, "User-Agent sent with http(s) requests")
	fs.String(flags.FlagGitHubBaseURL, "", "GitHub API base URL for github:// locators (GitHub Enterprise)")

	// Output
	fs.String(flags.FlagConsoleFormat, d.Output.ConsoleFormat, "Console output format: text|json|ndjson (default: text)")
	fs.StringSlice(flags.FlagConsoleFilterStatus, nil, "Filter console output by status (OK, FAILED, DROPPED). Comma-separated.")
	fs.String(flags.FlagReport, "", "Write a Markdown report to this path")
	fs.String(flags.FlagOut, "", "Write structured output to this path")
	fs.String(flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson (default: inferred from file extension)")
	fs.StringSlice(flags.FlagEmit, nil, "Emit additional structured stream to stdout: json|ndjson (repeatable; comma-separated accepted)")
	fs.Bool(flags.FlagNoConsole, false, "Suppress console output (use with --emit/--out/--report)")

	// Runtime
	fs.Int(flags.FlagConcurrency, d.Runtime.Concurrency, "Maximum fetches in flight")
	fs.Duration(flags.FlagTimeout, d.Runtime.Timeout, "Global timeout; results still pending then are dropped")
}

func init() {
	rootCmd.AddCommand(newFetchCmd())
}
