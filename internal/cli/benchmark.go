/*
PURPOSE:
  Defines the 'benchmark' subcommand.
  Sweeps every catalog model with one non-streaming and one streaming probe.

REQUIREMENTS:
  User-specified:
  - Per-model verdict: BOTH_OK, STREAM_ONLY_FAIL, NON_STREAM_FAIL, BOTH_FAIL.

  Implementation-discovered:
  - Need to load config first.
  - Apply flag overrides to config.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.RunBenchmark()
  - Uses: internal/config, internal/output

ERROR HANDLING:
  - Returns error if config load, locate or catalog fails.
  - Writer failures are logged; the run continues (resilience).

IMPLEMENTATION RULES:
  - Setup flags in init().
  - Logic: Load Config -> Override -> Engine.RunBenchmark -> Reports.

USAGE:
  stream-probe benchmark --exclude embed,rerank
*/

package cli

import (
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/daryltucker/stream-probe/internal/config"
	"github.com/daryltucker/stream-probe/internal/engine"
	"github.com/daryltucker/stream-probe/internal/model"
	"github.com/daryltucker/stream-probe/internal/output"
)

var (
	excludeOverride []string
	clientOverride  string
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Check streaming support of every model in the catalog",
	Long: heredoc.Doc(`
		Runs a non-streaming and a streaming probe against every catalog model, one model at a
		time, and classifies each model:

		  BOTH_OK           both probes OK
		  STREAM_ONLY_FAIL  non-streaming works, streaming does not
		  NON_STREAM_FAIL   streaming works, non-streaming does not
		  BOTH_FAIL         neither works

		This is a compatibility sweep, not a load test: one request per probe, no retries.

		Outputs: <output-dir>/benchmark-<timestamp>.json, benchmark.csv and results.jsonl.
	`),
	Example: heredoc.Doc(`
		# Sweep with the raw HTTP client
		stream-probe benchmark

		# Sweep through go-openai instead, skipping embedding and reranker models
		stream-probe benchmark --client sdk --exclude embed,rerank
	`),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if changed(cmd, "exclude") {
			cfg.Exclude = excludeOverride
		}
		if changed(cmd, "client") {
			cfg.BenchmarkClient = strings.ToLower(clientOverride)
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		if err := ensureOutputDir(cfg); err != nil {
			return err
		}

		e := engine.New(cfg)
		defer e.Close()

		progress, closeProgress, err := openProgress(cfg.OutputDir)
		if err != nil {
			return err
		}
		defer closeProgress()

		report, err := e.RunBenchmark(cmd.Context(), progress)
		if err != nil {
			return err
		}

		writeCSV(cfg, report.Entries)
		path := filepath.Join(cfg.OutputDir, output.ReportName("benchmark", report.Timestamp))
		if err := output.WriteReport(path, report); err != nil {
			output.Logger.Error("Failed to write report", "path", path, "error", err)
		} else {
			output.Logger.Info("Report written", "path", path)
		}

		output.PrintBenchmark(cmd.OutOrStdout(), report)
		return nil
	},
}

func writeCSV(cfg *config.Config, entries []model.ModelBenchmarkEntry) {
	path := filepath.Join(cfg.OutputDir, "benchmark.csv")
	w, err := output.NewCSVWriter(path)
	if err != nil {
		output.Logger.Error("Failed to init CSV writer", "path", path, "error", err)
		return
	}
	defer w.Close()

	for _, e := range entries {
		if err := w.Write(e); err != nil {
			output.Logger.Error("Failed to write result to CSV", "model", e.Model, "error", err)
		}
	}
}

func init() {
	rootCmd.AddCommand(benchmarkCmd)

	benchmarkCmd.Flags().StringSliceVar(&excludeOverride, "exclude", nil, "comma-separated substrings; matching models are skipped")
	benchmarkCmd.Flags().StringVar(&clientOverride, "client", "", "probe client: http or sdk (overrides config)")
}
