package cli

import (
	"fmt"
	"os"

	"imageutils/internal/flags"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

// osExit is swapped out by tests that drive commands which end the process.
var osExit = os.Exit

var rootCmd = &cobra.Command{
	Use:   "imageutils",
	Short: "Fetch, decode and save images from URLs, files and GitHub repositories",
	Long: `imageutils fetches images from http(s) URLs, local files and GitHub
repositories, decodes them, optionally rotates and downscales them, and writes
them to disk as PNG or JPEG.

Fetches run concurrently. Every requested image ends in exactly one result:
OK, FAILED or DROPPED (the run ended before its result could be delivered).

Examples:
	# Show available commands and global flags
	imageutils --help

	# Fetch two images into the default output directory
	imageutils fetch https://example.com/a.png ./b.jpg

	# List supported locator schemes
	imageutils sources list

	# Inspect the persistent download cache
	imageutils cache stats

	# Print build info
	imageutils version

Configuration:
	Settings are read from config.yaml (in the user config directory or the
	working directory, or the file given with --config), then IMAGEUTILS_*
	environment variables (e.g. IMAGEUTILS_FETCH_FORMAT=jpeg), then flags.

Output:
	By default, commands write human-readable output to stdout.
	Some commands support structured output via emitter flags (see each command's --help).`,
}

func init() {
	rootCmd.PersistentFlags().String(flags.FlagConfig, "", "Path to a config file (default: config.yaml in the user config dir or working dir)")
	rootCmd.PersistentFlags().Bool(flags.FlagVerbose, false, "Enable verbose logging (prints every HTTP and GitHub API call)")
	rootCmd.PersistentFlags().String(flags.FlagLogLevel, "warn", "Log level: debug|info|warn|error (default: warn)")
	rootCmd.PersistentFlags().String(flags.FlagLogFile, "", "Write JSON logs to this file instead of stderr")
}

// configPath returns the --config value visible to cmd, or "".
func configPath(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup(flags.FlagConfig); f != nil {
		return f.Value.String()
	}
	return ""
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
