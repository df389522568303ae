package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ppiankov/dtprivacy/internal/assemble"
	"github.com/ppiankov/dtprivacy/internal/model"
	"github.com/ppiankov/dtprivacy/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	exportFormat string
	exportOut    string
	exportAll    bool

	reportMarkdown bool
	reportJSON     bool

	filterStatus     string
	filterConfidence string
	filterFeature    string
	filterFormat     string
	filterOut        string
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the assembled feature × regulation table",
	Long: `Export writes one row per (feature, attribute class, regulation) with the
supporting records, DOI, industry and provenance.

By default only the analytic corpus (Regulated, High confidence) is written;
--all writes every judgment that survived assembly.

feature_name is a display form, capitalized and singularized ("Blood glucose
level"). Consumers should match features on feature_key, the normalized
lowercase name ("blood glucose level").

Example:
  dtprivacy export -o corpus.json
  dtprivacy export --all --format csv -o full.csv`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show what the corpus excludes and why",
	Long: `Report prints per-stage counts and keeps every reason an item is missing
from the corpus in its own bucket: excluded by classification, blocked by an
error, flagged for review, no regulatory evidence, and merge conflicts.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

// filterCmd represents the filter command
var filterCmd = &cobra.Command{
	Use:   "filter <table.json>",
	Short: "Project an exported JSON table by status and confidence",
	Long: `Filter reads a table written by 'dtprivacy export --all --format json' and
keeps the rows matching --status and --confidence. --feature matches on
feature_key after normalizing the given name.

Example:
  dtprivacy filter full.json --status Regulated --confidence Medium -o medium.json
  dtprivacy filter full.json --status "" --confidence "" --feature "Blood glucose levels"`,
	Args: cobra.ExactArgs(1),
	RunE: runFilter,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(filterCmd)

	exportCmd.Flags().StringVar(&exportFormat, "format", "", "output format: json or csv (default: output.format)")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "output path (default: stdout)")
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "export every row, not only Regulated/High")

	reportCmd.Flags().BoolVar(&reportMarkdown, "markdown", false, "render tables as Markdown")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "print the report as JSON")

	filterCmd.Flags().StringVar(&filterStatus, "status", string(model.Regulated), "keep rows with this status (empty = any)")
	filterCmd.Flags().StringVar(&filterConfidence, "confidence", string(model.ConfidenceHigh), "keep rows with this confidence (empty = any)")
	filterCmd.Flags().StringVar(&filterFeature, "feature", "", "keep rows of this feature, matched on feature_key")
	filterCmd.Flags().StringVar(&filterFormat, "format", assemble.FormatJSON, "output format: json or csv")
	filterCmd.Flags().StringVarP(&filterOut, "output", "o", "", "output path (default: stdout)")
}

// writeOutput writes to path, or stdout when path is empty
func writeOutput(path string, write func(io.Writer) error) (err error) {
	if path == "" {
		return write(os.Stdout)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close output: %w", closeErr)
		}
	}()
	return write(f)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, cfg, err := openPipeline(pipeline.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	t, err := p.Table(ctx)
	if err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	total := len(t.Rows)
	if !exportAll {
		t = t.Default()
	}

	format := exportFormat
	if format == "" {
		format = cfg.Output.Format
	}
	if err := writeOutput(exportOut, func(w io.Writer) error { return assemble.Write(w, t, format) }); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "✓ Exported %d of %d rows", len(t.Rows), total)
	if exportOut != "" {
		fmt.Fprintf(os.Stderr, " to %s", exportOut)
	}
	fmt.Fprintln(os.Stderr)
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, _, err := openPipeline(pipeline.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	rep, err := p.Report(ctx)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if reportJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	return rep.Render(os.Stdout, reportMarkdown)
}

func runFilter(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open table: %w", err)
	}
	defer func() { _ = f.Close() }()

	t, err := assemble.ReadJSON(f)
	if err != nil {
		return err
	}
	out := assemble.Filter(t, model.RegulationStatus(filterStatus), model.Confidence(filterConfidence))
	if filterFeature != "" {
		out = out.Feature(filterFeature)
	}

	if err := writeOutput(filterOut, func(w io.Writer) error { return assemble.Write(w, out, filterFormat) }); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ Kept %d of %d rows\n", len(out.Rows), len(t.Rows))
	return nil
}
