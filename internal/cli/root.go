/*
PURPOSE:
  Defines the root Cobra command for the stream-probe CLI.
  Handles global flags, logging setup and config loading shared by every subcommand.

REQUIREMENTS:
  User-specified:
  - Provide a CLI interface.
  - Support global flags like --config.

  Implementation-discovered:
  - Needs to expose an Execute() function for main.go.
  - Ctrl-C must cancel the running probe, not kill the process mid-report.

ARCHITECTURE INTEGRATION:
  - Called by: cmd/stream-probe/main.go
  - Calls: Child commands (diagnose, benchmark, list-models, locate)

ERROR HANDLING:
  - Returns error to main.go for exit code handling.

IMPLEMENTATION RULES:
  - Use `PersistentFlags()` for flags available to all subcommands.
  - Flags override config only when explicitly set.

RELATED FILES:
  - cmd/stream-probe/main.go
  - internal/config/config.go
*/

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/daryltucker/stream-probe/internal/config"
	"github.com/daryltucker/stream-probe/internal/output"
)

var (
	// cfgFile stores the path to the config file (if specified via flag)
	cfgFile  string
	logLevel string
	logJSON  bool

	baseURLOverride    string
	outputOverride     string
	requestTimeout     time.Duration
	firstByteTimeout   time.Duration
	firstEventTimeout  time.Duration
	promptFileOverride string

	rootCmd = &cobra.Command{
		Use:   "stream-probe",
		Short: "Diagnose streaming on OpenAI-compatible inference servers",
		Long: heredoc.Doc(`
			Probes a local OpenAI-compatible chat endpoint (LM Studio, Ollama, llama.cpp) and tells
			you where streaming breaks: before the first byte, before the first event, mid-stream,
			or inside the client library itself.

			Every probe ends in exactly one outcome:
			  OK, FAIL, TIMEOUT, NO_FIRST_BYTE, NO_FIRST_EVENT, HANG or ERROR.

			Use 'diagnose --help' to probe one model and 'benchmark --help' to sweep the catalog.
		`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			output.Init(os.Stderr, output.ParseLevel(logLevel), logJSON)
		},
	}
)

// Execute executes the root command. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./stream_probe.yaml)")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.BoolVar(&logJSON, "log-json", false, "emit logs as JSON on stderr")
	pf.StringVar(&baseURLOverride, "base-url", "", "server base URL, with or without /v1 (overrides config)")
	pf.StringVarP(&outputOverride, "output-dir", "o", "", "directory for reports (overrides config)")
	pf.DurationVar(&requestTimeout, "request-timeout", 0, "overall budget per probe")
	pf.DurationVar(&firstByteTimeout, "first-byte-timeout", 0, "budget until response headers arrive")
	pf.DurationVar(&firstEventTimeout, "first-event-timeout", 0, "budget until the first SSE event (streaming probes)")
	pf.StringVarP(&promptFileOverride, "prompt-file", "p", "", "file containing the prompt (overrides config)")
}

// loadConfig loads the config file and environment, applies explicitly set flags and validates.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if changed(cmd, "base-url") {
		cfg.BaseURL = baseURLOverride
	}
	if changed(cmd, "output-dir") {
		cfg.OutputDir = outputOverride
	}
	if changed(cmd, "request-timeout") {
		cfg.RequestTimeout = requestTimeout
	}
	if changed(cmd, "first-byte-timeout") {
		cfg.FirstByteTimeout = firstByteTimeout
	}
	if changed(cmd, "first-event-timeout") {
		cfg.FirstEventTimeout = firstEventTimeout
	}
	if changed(cmd, "prompt-file") {
		data, err := os.ReadFile(promptFileOverride)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file: %w", err)
		}
		cfg.Prompt = string(data)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func changed(cmd *cobra.Command, name string) bool {
	f := cmd.Flag(name)
	return f != nil && f.Changed
}

// ensureOutputDir creates the report directory.
func ensureOutputDir(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", cfg.OutputDir, err)
	}
	return nil
}
