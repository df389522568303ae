package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/dtprivacy/internal/model"
	"github.com/ppiankov/dtprivacy/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	runStages  []string
	runForce   bool
	runTimeout time.Duration
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the classification stages over the stored records",
	Long: `Run executes the pipeline stages in order:
  relevance -> domain -> extract -> validate -> attribute -> regulation

Each stage reads its input back from the store, skips items that already
have a terminal result and persists every verdict as it arrives. Re-running
after an interruption or a crash resumes where the previous run stopped;
items that ended in a classification error are retried.

Example:
  dtprivacy run
  dtprivacy run --stage relevance --stage domain
  dtprivacy run --stage regulation --force`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVar(&runStages, "stage", nil, fmt.Sprintf("run only these stages %v", model.Stages))
	runCmd.Flags().BoolVar(&runForce, "force", false, "re-classify items that already have a result")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "stop after this long (0 = no limit); finished verdicts are kept")
}

func runRun(cmd *cobra.Command, args []string) error {
	if _, err := pipeline.ParseStages(runStages); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	if runTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, runTimeout)
		defer tcancel()
	}

	p, cfg, err := openPipeline(pipeline.Options{
		Force:    runForce,
		Progress: progressPrinter(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if verbose {
		fmt.Fprintf(os.Stderr, "Oracle: %s/%s\n", cfg.Oracle.Provider, cfg.Oracle.Model)
		fmt.Fprintf(os.Stderr, "Store:  %s\n", cfg.Store.Path)
		fmt.Fprintln(os.Stderr)
	}

	runs, err := p.Run(ctx, runStages)
	for _, r := range runs {
		fmt.Fprintf(os.Stderr, "✓ %-10s %d items: %d labeled, %d rejected, %d errors, %d unclassified (%s)\n",
			r.Stage, r.Items, r.Labeled, r.Rejected, r.Errored, r.Unclassified, r.Duration.Round(time.Millisecond))
	}

	usage := p.Usage()
	if usage.Calls > 0 {
		fmt.Fprintf(os.Stderr, "✓ Oracle: %d calls, %d prompt + %d completion tokens\n",
			usage.Calls, usage.PromptTokens, usage.CompletionTokens)
	}
	if hits, misses := p.CacheStats(); hits+misses > 0 {
		fmt.Fprintf(os.Stderr, "✓ Cache: %d hits, %d misses\n", hits, misses)
	}

	if err != nil {
		return fmt.Errorf("run stopped: %w", err)
	}
	return nil
}
