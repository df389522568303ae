package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/ppiankov/dtprivacy/internal/model"
	"github.com/ppiankov/dtprivacy/internal/pipeline"
	"github.com/spf13/cobra"
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <export>...",
	Short: "Ingest saved Crossref/OpenAlex search exports",
	Long: `Ingest maps raw search exports to records, merges them by DOI with the
records already stored and upserts the result.

An export is a JSON object {"origin": "crossref|openalex", "industry": "...",
"items": [...]} or an array of them. Exports may be local files or http(s) URLs.

Example:
  dtprivacy ingest crossref_healthcare.json openalex_healthcare.json
  dtprivacy ingest https://example.org/exports/banking.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

// harvestCmd represents the harvest command
var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Search Crossref and OpenAlex for every configured industry",
	Long: `Harvest runs the queries under harvest.industries against Crossref and
OpenAlex, maps the hits to records and ingests them.

Requests are rate limited, retried on 429/5xx and honour robots.txt when
harvest.respect_robots is set. Interrupting a harvest keeps what was retrieved.

Example:
  dtprivacy harvest
  dtprivacy harvest --config queries.yaml -v`,
	Args: cobra.NoArgs,
	RunE: runHarvest,
}

// excerptsCmd groups the regulatory corpus commands
var excerptsCmd = &cobra.Command{
	Use:   "excerpts",
	Short: "Manage the regulatory excerpt corpus",
}

var excerptsLoadCmd = &cobra.Command{
	Use:   "load [file]",
	Short: "Replace the excerpt corpus from a YAML, JSON or CSV file",
	Long: `Load reads pre-mined regulatory passages, resolves regulation aliases,
drops regulations outside regulations.include and replaces the stored corpus.

Defaults to regulations.excerpts_path when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExcerptsLoad,
}

var excerptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored excerpts per regulation and attribute class",
	Args:  cobra.NoArgs,
	RunE:  runExcerptsList,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(harvestCmd)
	rootCmd.AddCommand(excerptsCmd)
	excerptsCmd.AddCommand(excerptsLoadCmd)
	excerptsCmd.AddCommand(excerptsListCmd)
}

func printIngest(sum pipeline.IngestSummary) {
	fmt.Fprintf(os.Stderr, "✓ Mapped %d search hits\n", sum.Input)
	fmt.Fprintf(os.Stderr, "✓ Stored %d records (%d new)\n", sum.Records, sum.Added)
	if sum.Conflicts > 0 {
		fmt.Fprintf(os.Stderr, "⚠ %d merge conflicts retained (see 'dtprivacy report')\n", sum.Conflicts)
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, _, err := openPipeline(pipeline.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	sum, err := p.IngestExports(ctx, args)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	printIngest(sum)
	return nil
}

func runHarvest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, cfg, err := openPipeline(pipeline.Options{
		HarvestProgress: func(industry string, origin model.Origin, n int) {
			fmt.Fprintf(os.Stderr, "✓ %-34s %-8s %d records\n", industry, origin, n)
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if len(cfg.Harvest.Industries) == 0 {
		return fmt.Errorf("no industries configured (set harvest.industries, see 'dtprivacy config init')")
	}
	if cfg.Harvest.Mailto == "" {
		fmt.Fprintf(os.Stderr, "⚠ harvest.mailto is empty; Crossref and OpenAlex throttle anonymous clients\n")
	}

	sum, err := p.Harvest(ctx)
	printIngest(sum)
	if err != nil {
		return fmt.Errorf("harvest interrupted: %w", err)
	}
	return nil
}

func runExcerptsLoad(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, cfg, err := openPipeline(pipeline.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	path := cfg.Regulations.ExcerptsPath
	if len(args) == 1 {
		path = args[0]
	}

	ex, err := p.LoadExcerpts(ctx, path)
	if err != nil {
		return fmt.Errorf("load excerpts: %w", err)
	}
	fmt.Fprintf(os.Stderr, "✓ Loaded %d excerpts from %s\n", len(ex), path)
	return nil
}

func runExcerptsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, _, err := openPipeline(pipeline.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	ex, err := p.Store().Excerpts(ctx)
	if err != nil {
		return err
	}

	counts := make(map[string]map[model.AttributeClass]int)
	for _, e := range ex {
		if counts[e.Regulation] == nil {
			counts[e.Regulation] = make(map[model.AttributeClass]int)
		}
		counts[e.Regulation][e.AttributeClass]++
	}
	regs := make([]string, 0, len(counts))
	for r := range counts {
		regs = append(regs, r)
	}
	sort.Strings(regs)

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Regulation", "Attribute class", "Excerpts"})
	for _, r := range regs {
		for _, c := range model.AttributeClasses {
			if n := counts[r][c]; n > 0 {
				tw.AppendRow(table.Row{r, c, n})
			}
		}
	}
	tw.AppendFooter(table.Row{"", "Total", len(ex)})
	tw.Render()
	return nil
}
