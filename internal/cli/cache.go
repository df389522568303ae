package cli

import (
	"fmt"
	"os"

	"github.com/ppiankov/dtprivacy/internal/pipeline"
	"github.com/spf13/cobra"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the oracle verdict cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached oracle verdict",
	Long: `Clear removes the on-disk verdict cache (cache.dir). Stored results are
not touched; use "run --force" to re-classify items that already have one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, cfg, err := openPipeline(pipeline.Options{})
		if err != nil {
			return err
		}
		defer func() { _ = p.Close() }()

		if err := p.ClearCache(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Cleared %s\n", cfg.Cache.Dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
