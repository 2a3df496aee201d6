/*
PURPOSE:
  High-level runner that orchestrates diagnostic and benchmark runs.
  Diagnose: every configured probe against one model.
  Benchmark: non-streaming then streaming against every catalog model.

REQUIREMENTS:
  User-specified:
  - Probes run strictly one after another; models run one after another.
  - A model passes diagnosis only when every probe is OK.
  - Benchmark derives a verdict per model and counts verdicts.

  Implementation-discovered:
  - Needs to report progress to the CLI as results land (Observer).
  - Exclusion filters from config keep embedding models out of the benchmark.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/probe, internal/config, internal/model, internal/output

ERROR HANDLING:
  - Probes never fail; a run always produces a report.
  - Locate/catalog/resolve failures abort the run with a wrapped sentinel error.
  - Cancellation of the parent context stops the run between probes.

USAGE:
  report, err := e.RunDiagnostic(ctx, "qwen", observer)

RELATED FILES:
  - internal/engine/client.go
  - internal/probe/probe.go
*/

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/daryltucker/stream-probe/internal/config"
	"github.com/daryltucker/stream-probe/internal/model"
	"github.com/daryltucker/stream-probe/internal/output"
	"github.com/daryltucker/stream-probe/internal/probe"
)

// Observer receives each probe result as soon as it completes.
type Observer func(model.ProbeResult)

// Runner executes probes sequentially against one server.
type Runner struct {
	Config  *config.Config
	BaseURL string
	Probers map[model.ProbeKind]probe.Prober
	// Observer is optional.
	Observer Observer

	now func() time.Time
}

// NewRunner builds a runner with one prober per known kind, all sharing the engine's client.
func (e *Engine) NewRunner(baseURL string) *Runner {
	probers := make(map[model.ProbeKind]probe.Prober, len(model.DefaultProbeOrder))
	for _, kind := range model.DefaultProbeOrder {
		if p, err := probe.New(kind, e.Client); err == nil {
			probers[kind] = p
		}
	}
	return &Runner{Config: e.Config, BaseURL: baseURL, Probers: probers, now: time.Now}
}

// Diagnose runs the configured probes against modelID in order.
func (r *Runner) Diagnose(ctx context.Context, modelID string) model.DiagnosticReport {
	report := model.DiagnosticReport{
		RunID:     uuid.New().String(),
		Timestamp: r.clock().UTC(),
		Config:    r.effective(),
		Model:     modelID,
		Results:   make([]model.ProbeResult, 0, len(r.Config.Probes)),
	}
	output.Logger.Info("Diagnosing model", "run_id", report.RunID, "model", modelID, "base_url", r.BaseURL)

	for _, kind := range r.Config.Probes {
		if ctx.Err() != nil {
			output.Logger.Warn("Run interrupted", "run_id", report.RunID, "remaining_from", kind)
			break
		}
		report.Results = append(report.Results, r.run(ctx, kind, modelID))
	}

	report.Passed = len(report.Results) == len(r.Config.Probes)
	for _, res := range report.Results {
		if !res.Outcome.OK() {
			report.Passed = false
		}
	}
	output.Logger.Info("Diagnosis finished", "run_id", report.RunID, "model", modelID, "passed", report.Passed)
	return report
}

// Benchmark runs the non-streaming and streaming probe of the configured client against each
// model, skipping excluded ids.
func (r *Runner) Benchmark(ctx context.Context, models []model.ModelInfo) model.BenchmarkReport {
	report := model.BenchmarkReport{
		RunID:     uuid.New().String(),
		Timestamp: r.clock().UTC(),
		Config:    r.effective(),
		Entries:   []model.ModelBenchmarkEntry{},
	}
	nonStream, stream := r.benchmarkPair()
	report.Config.Probes = []model.ProbeKind{nonStream, stream}
	output.Logger.Info("Benchmark started", "run_id", report.RunID, "models", len(models), "client", r.Config.BenchmarkClient)

	for _, m := range models {
		if r.Config.Excluded(m.ID) {
			output.Logger.Info("Skipping model (excluded)", "model", m.ID)
			continue
		}
		if ctx.Err() != nil {
			output.Logger.Warn("Run interrupted", "run_id", report.RunID, "remaining_from", m.ID)
			break
		}

		output.Logger.Info("Testing Model", "model", m.ID)
		ns := r.run(ctx, nonStream, m.ID)
		s := r.run(ctx, stream, m.ID)
		entry := model.NewBenchmarkEntry(m.ID, ns, s)
		report.Entries = append(report.Entries, entry)
		report.Summary.Add(entry.Verdict)
		output.Logger.Info("Model verdict", "model", m.ID, "verdict", entry.Verdict)
	}
	return report
}

func (r *Runner) run(ctx context.Context, kind model.ProbeKind, modelID string) model.ProbeResult {
	p, ok := r.Probers[kind]
	if !ok {
		// Config validation rejects unknown kinds; a missing prober is a wiring bug.
		res := model.ProbeResult{ProbeKind: kind, Model: modelID, Outcome: model.OutcomeError,
			Error: fmt.Sprintf("no prober registered for %s", kind)}
		r.observe(res)
		return res
	}
	res := p.Run(ctx, r.params(modelID))
	r.observe(res)
	return res
}

func (r *Runner) observe(res model.ProbeResult) {
	if r.Observer != nil {
		r.Observer(res)
	}
}

func (r *Runner) benchmarkPair() (model.ProbeKind, model.ProbeKind) {
	if r.Config.BenchmarkClient == config.ClientSDK {
		return model.ProbeSDKNonStream, model.ProbeSDKStream
	}
	return model.ProbeHTTPNonStream, model.ProbeHTTPStream
}

func (r *Runner) params(modelID string) probe.Params {
	c := r.Config
	return probe.Params{
		BaseURL:   r.BaseURL,
		Model:     modelID,
		Prompt:    c.Prompt,
		MaxTokens: c.MaxTokens,
		APIKey:    c.APIKey,
		Budgets: probe.Budgets{
			Request:    c.RequestTimeout,
			FirstByte:  c.FirstByteTimeout,
			FirstEvent: c.FirstEventTimeout,
		},
		HangGrace:    c.HangGrace,
		PreviewLimit: c.PreviewLimit,
	}
}

func (r *Runner) effective() model.EffectiveConfig {
	eff := r.Config.Effective(probe.PayloadHash([]byte(r.Config.Prompt)))
	eff.BaseURL = r.BaseURL
	return eff
}

func (r *Runner) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

// RunDiagnostic locates the server, resolves requested against the catalog and diagnoses it.
// An empty requested name picks the first non-excluded catalog model.
func (e *Engine) RunDiagnostic(ctx context.Context, requested string, obs Observer) (model.DiagnosticReport, error) {
	baseURL, models, err := e.discover(ctx)
	if err != nil {
		return model.DiagnosticReport{}, err
	}

	var res Resolution
	if requested == "" {
		id, ok := firstIncluded(e.Config, models)
		if !ok {
			return model.DiagnosticReport{}, ErrNoModels
		}
		res = Resolution{ID: id, Requested: id, Strategy: StrategyExact}
	} else {
		var ok bool
		res, ok = ResolveModel(requested, models, e.Config.Aliases)
		if !ok {
			return model.DiagnosticReport{}, fmt.Errorf("%w: %q", ErrModelNotFound, requested)
		}
	}
	if res.Changed {
		output.Logger.Info("Resolved model", "requested", res.Requested, "model", res.ID, "strategy", res.Strategy)
	}

	runner := e.NewRunner(baseURL)
	runner.Observer = obs
	report := runner.Diagnose(ctx, res.ID)
	if res.Changed {
		report.ResolvedFrom = res.Requested
	}
	if meta, ok := e.Metadata(baseURL).ResolveModelMetadata(ctx, res.ID); ok {
		report.Metadata = &meta
	}
	return report, nil
}

// RunBenchmark locates the server and benchmarks every catalog model.
func (e *Engine) RunBenchmark(ctx context.Context, obs Observer) (model.BenchmarkReport, error) {
	baseURL, models, err := e.discover(ctx)
	if err != nil {
		return model.BenchmarkReport{}, err
	}
	if _, ok := firstIncluded(e.Config, models); !ok {
		return model.BenchmarkReport{}, ErrNoModels
	}

	runner := e.NewRunner(baseURL)
	runner.Observer = obs
	return runner.Benchmark(ctx, models), nil
}

func (e *Engine) discover(ctx context.Context) (string, []model.ModelInfo, error) {
	status, err := e.Locator().Locate(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("locate server: %w", err)
	}

	output.Logger.Info("Discovering models...", "url", status.BaseURL)
	models, err := e.Catalog(status.BaseURL).ListModels(ctx)
	if err != nil {
		return "", nil, err
	}
	output.Logger.Info("Found models", "url", status.BaseURL, "count", len(models))
	return status.BaseURL, models, nil
}

func firstIncluded(cfg *config.Config, models []model.ModelInfo) (string, bool) {
	for _, m := range models {
		if !cfg.Excluded(m.ID) {
			return m.ID, true
		}
	}
	return "", false
}
