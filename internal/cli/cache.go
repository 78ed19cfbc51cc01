package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"imageutils/internal/config"
	"imageutils/internal/flags"
	"imageutils/internal/store"

	"github.com/spf13/cobra"
)

var cacheStatsJSON bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the persistent download cache",
	Long: `Inspect or clear the persistent download cache.

Downloads from cacheable sources (http, https, github) are kept in a BoltDB file
under the cache directory and reused by later runs until their TTL expires.

Examples:
  imageutils cache stats
  imageutils cache clear --cache-dir /tmp/imageutils-cache
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache location and size",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		stats, err := st.Stats()
		if err != nil {
			return err
		}
		if cacheStatsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}
		printCacheStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached download",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		n, err := st.Clear()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached %s\n", n, pluralize(n, "entry", "entries"))
		return nil
	},
}

func openCache(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := config.Load(configPath(cmd), cmd.Flags())
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Dir == "" {
		return nil, fmt.Errorf("no cache directory configured (set --%s)", flags.FlagCacheDir)
	}
	return store.Open(cfg.Cache.Dir, store.WithTTL(cfg.Cache.TTL))
}

func printCacheStats(w io.Writer, s store.Stats) {
	fmt.Fprintf(w, "Path:    %s\n", s.Path)
	fmt.Fprintf(w, "Entries: %d (%d expired)\n", s.Entries, s.Expired)
	fmt.Fprintf(w, "Size:    %d bytes\n", s.Bytes)
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	d := config.New()
	cacheCmd.PersistentFlags().String(flags.FlagCacheDir, d.Cache.Dir, "Directory of the persistent download cache")
	cacheCmd.PersistentFlags().Duration(flags.FlagCacheTTL, d.Cache.TTL, "Lifetime of cached downloads; older entries count as expired")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheStatsCmd.Flags().BoolVar(&cacheStatsJSON, "json", false, "Print stats as JSON")
	cacheCmd.AddCommand(cacheClearCmd)
}
