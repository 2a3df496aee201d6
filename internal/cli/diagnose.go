/*
PURPOSE:
  Defines the 'diagnose' subcommand.
  Runs every configured probe against one model and writes a diagnostic report.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.RunDiagnostic()
  - Uses: internal/config, internal/output

ERROR HANDLING:
  - Returns error if config, locate or catalog fails.
  - Returns errProbesFailed after writing the report when any probe is not OK,
    so the exit code reflects the diagnosis.

USAGE:
  stream-probe diagnose qwen
*/

package cli

import (
	"errors"
	"path/filepath"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/daryltucker/stream-probe/internal/engine"
	"github.com/daryltucker/stream-probe/internal/model"
	"github.com/daryltucker/stream-probe/internal/output"
)

var errProbesFailed = errors.New("one or more probes failed")

var probesOverride []string

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose [model]",
	Short: "Run every probe against one model",
	Long: heredoc.Doc(`
		Runs the configured probes one after another against a single model:

		  http-nonstream  plain POST, JSON body
		  http-stream     plain POST, SSE decoded by stream-probe
		  sdk-nonstream   go-openai CreateChatCompletion
		  sdk-stream      go-openai CreateChatCompletionStream

		The model name may be an exact catalog id, a configured alias, or a unique-enough
		prefix or substring. Without a name the first non-excluded catalog model is used.

		The report is written to <output-dir>/diagnostic-<timestamp>.json and every result is
		appended to <output-dir>/results.jsonl as it completes.
	`),
	Example: heredoc.Doc(`
		# Diagnose the model LM Studio knows as qwen2.5-7b-instruct
		stream-probe diagnose qwen2.5-7b

		# Only the streaming probes, with a tight first-event budget
		stream-probe diagnose qwen --probes http-stream,sdk-stream --first-event-timeout 5s
	`),
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if changed(cmd, "probes") {
			cfg.Probes = cfg.Probes[:0]
			for _, p := range probesOverride {
				cfg.Probes = append(cfg.Probes, model.ProbeKind(p))
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		if err := ensureOutputDir(cfg); err != nil {
			return err
		}

		var requested string
		if len(args) == 1 {
			requested = args[0]
		}

		e := engine.New(cfg)
		defer e.Close()

		progress, closeProgress, err := openProgress(cfg.OutputDir)
		if err != nil {
			return err
		}
		defer closeProgress()

		report, err := e.RunDiagnostic(cmd.Context(), requested, progress)
		if err != nil {
			return err
		}

		path := filepath.Join(cfg.OutputDir, output.ReportName("diagnostic", report.Timestamp))
		if err := output.WriteReport(path, report); err != nil {
			output.Logger.Error("Failed to write report", "path", path, "error", err)
		} else {
			output.Logger.Info("Report written", "path", path)
		}

		output.PrintDiagnostic(cmd.OutOrStdout(), report)
		if !report.Passed {
			return errProbesFailed
		}
		return nil
	},
}

// openProgress opens results.jsonl and returns an observer that appends every result to it.
// Write failures are logged and do not stop the run.
func openProgress(dir string) (engine.Observer, func(), error) {
	path := filepath.Join(dir, "results.jsonl")
	w, err := output.NewJSONWriter(path)
	if err != nil {
		return nil, nil, err
	}
	observe := func(res model.ProbeResult) {
		if err := w.Write(res); err != nil {
			output.Logger.Error("Failed to write result to JSON", "path", path, "error", err)
		}
	}
	closeFn := func() {
		if err := w.Close(); err != nil {
			output.Logger.Error("Failed to close results file", "path", path, "error", err)
		}
	}
	return observe, closeFn, nil
}

func init() {
	rootCmd.AddCommand(diagnoseCmd)
	diagnoseCmd.Flags().StringSliceVar(&probesOverride, "probes", nil, "comma-separated probe kinds to run, in order")
}
