package cli

import (
	"fmt"
	"io"
	"strings"

	"imageutils/internal/fetcher"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var sourcesListQuiet bool
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List supported locator schemes",
	Long: `List the sources images can be fetched from.

Each source serves one or more locator schemes. A locator without a scheme is
read from the local file system.

Examples:
  # List all available sources
  imageutils sources list
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available sources",
	Long: `List all sources registered in this build.

Sources are sorted by scheme.

Examples:
  imageutils sources list

Output:
  A vertical list of sources:
    ----------------------------------------
    SOURCE: {SCHEME}
    ----------------------------------------
    {DESCRIPTION}
    Schemes:   {SCHEMES}
    Cacheable: {yes|no}
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, src := range fetcher.ListSources() {
			if sourcesListQuiet {
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(src.Schemes(), "\n"))
			} else {
				printSource(cmd.OutOrStdout(), src)
			}
		}
		return nil
	},
}

var sourcesShowCmd = &cobra.Command{
	Use:   "show [scheme]",
	Short: "Show the source serving a scheme",
	Long: `Show details of the source registered for a locator scheme.

Examples:
  imageutils sources show github
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scheme := strings.ToLower(strings.TrimSuffix(args[0], "://"))
		src, ok := fetcher.ResolveSource(scheme)
		if !ok {
			return fmt.Errorf("source not found: %s", args[0])
		}
		printSource(cmd.OutOrStdout(), src)
		return nil
	},
}

func printSource(w io.Writer, src fetcher.Source) {
	bold := color.New(color.Bold)
	schemes := src.Schemes()
	fmt.Fprintln(w, "----------------------------------------")
	bold.Fprintf(w, "SOURCE: %s\n", schemes[0])
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintln(w, src.Description())
	fmt.Fprintf(w, "Schemes:   %s\n", strings.Join(schemes, ", "))
	cacheable := "no"
	if src.Cacheable() {
		cacheable = "yes"
	}
	fmt.Fprintf(w, "Cacheable: %s\n", cacheable)
	fmt.Fprintln(w)
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesListCmd.Flags().BoolVarP(&sourcesListQuiet, "quiet", "q", false, "Only print schemes")
	sourcesCmd.AddCommand(sourcesShowCmd)
}
