/*
PURPOSE:
  Defines the core data structures used throughout stream-probe.
  These models represent probe results, benchmark entries and the persisted reports.

REQUIREMENTS:
  User-specified:
  - One result per probe invocation, with a single outcome from a closed taxonomy.
  - Benchmark verdict derived only from the two child outcomes.
  - Field names are stable: the CLI summary and the dashboard read these JSON documents.

  Implementation-discovered:
  - Optional numeric fields are pointers so "absent" and "zero" stay distinguishable.
  - The API credential is never part of any persisted shape.

ARCHITECTURE INTEGRATION:
  - Used by: internal/probe, internal/engine, internal/output, internal/cli
  - Shared across boundaries.

ERROR HANDLING:
  - None (pure data structs and pure functions).

IMPLEMENTATION RULES:
  - Keep structs simple and public.
  - JSON tags are camelCase and must not be renamed.

RELATED FILES:
  - internal/output/json.go
  - internal/output/csv.go

MAINTENANCE:
  - Update the writers and the summary printer when adding fields.
*/

package model

import (
	"time"
)

// Outcome is the classification of one probe run.
type Outcome string

const (
	OutcomeOK           Outcome = "OK"
	OutcomeFail         Outcome = "FAIL"
	OutcomeTimeout      Outcome = "TIMEOUT"
	OutcomeNoFirstByte  Outcome = "NO_FIRST_BYTE"
	OutcomeNoFirstEvent Outcome = "NO_FIRST_EVENT"
	OutcomeHang         Outcome = "HANG"
	OutcomeError        Outcome = "ERROR"
)

// Outcomes lists every outcome in taxonomy order.
var Outcomes = []Outcome{
	OutcomeOK, OutcomeFail, OutcomeTimeout, OutcomeNoFirstByte,
	OutcomeNoFirstEvent, OutcomeHang, OutcomeError,
}

// OK reports whether the outcome is a pass.
func (o Outcome) OK() bool {
	return o == OutcomeOK
}

// ProbeKind identifies the client path a probe exercises.
type ProbeKind string

const (
	ProbeHTTPNonStream ProbeKind = "http-nonstream"
	ProbeHTTPStream    ProbeKind = "http-stream"
	ProbeSDKNonStream  ProbeKind = "sdk-nonstream"
	ProbeSDKStream     ProbeKind = "sdk-stream"
)

// DefaultProbeOrder is the order diagnostic mode runs probes in.
var DefaultProbeOrder = []ProbeKind{
	ProbeHTTPNonStream, ProbeHTTPStream, ProbeSDKNonStream, ProbeSDKStream,
}

// Streaming reports whether the probe kind requests a streamed response.
func (k ProbeKind) Streaming() bool {
	return k == ProbeHTTPStream || k == ProbeSDKStream
}

// Valid reports whether k is a known probe kind.
func (k ProbeKind) Valid() bool {
	for _, known := range DefaultProbeOrder {
		if k == known {
			return true
		}
	}
	return false
}

// ProbeTimings is the frozen stopwatch of one probe.
// StartMs and EndMs are epoch milliseconds; the rest are relative to StartMs.
type ProbeTimings struct {
	StartMs      int64  `json:"startMs"`
	EndMs        int64  `json:"endMs"`
	TotalMs      int64  `json:"totalMs"`
	TTFBMs       *int64 `json:"ttfbMs,omitempty"`
	FirstEventMs *int64 `json:"firstEventMs,omitempty"`
}

// ProbeResult represents one completed probe invocation.
type ProbeResult struct {
	ProbeKind    ProbeKind    `json:"probeKind"`
	Model        string       `json:"model"`
	Outcome      Outcome      `json:"outcome"`
	HTTPStatus   *int         `json:"httpStatus,omitempty"`
	Timings      ProbeTimings `json:"timings"`
	ChunkCount   *int         `json:"chunkCount,omitempty"`
	DoneReceived *bool        `json:"doneReceived,omitempty"`
	TokenPreview *string      `json:"tokenPreview,omitempty"`
	Error        string       `json:"error,omitempty"`
	AbortReason  string       `json:"abortReason,omitempty"`
	PayloadHash  string       `json:"payloadHash"`
}

// Verdict is the two-axis classification of one model in benchmark mode.
type Verdict string

const (
	VerdictBothOK         Verdict = "BOTH_OK"
	VerdictStreamOnlyFail Verdict = "STREAM_ONLY_FAIL"
	VerdictNonStreamFail  Verdict = "NON_STREAM_FAIL"
	VerdictBothFail       Verdict = "BOTH_FAIL"
)

// DeriveVerdict maps the non-streaming and streaming outcomes to a verdict.
// Only OK versus not-OK matters.
func DeriveVerdict(nonStreaming, streaming Outcome) Verdict {
	switch {
	case nonStreaming.OK() && streaming.OK():
		return VerdictBothOK
	case nonStreaming.OK():
		return VerdictStreamOnlyFail
	case streaming.OK():
		return VerdictNonStreamFail
	default:
		return VerdictBothFail
	}
}

// ModelBenchmarkEntry is the benchmark record for one model.
type ModelBenchmarkEntry struct {
	Model              string      `json:"model"`
	NonStreamingResult ProbeResult `json:"nonStreamingResult"`
	StreamingResult    ProbeResult `json:"streamingResult"`
	SupportsStreaming  bool        `json:"supportsStreaming"`
	Verdict            Verdict     `json:"verdict"`
}

// NewBenchmarkEntry builds the entry once both probes for a model have completed.
func NewBenchmarkEntry(modelID string, nonStreaming, streaming ProbeResult) ModelBenchmarkEntry {
	return ModelBenchmarkEntry{
		Model:              modelID,
		NonStreamingResult: nonStreaming,
		StreamingResult:    streaming,
		SupportsStreaming:  streaming.Outcome.OK(),
		Verdict:            DeriveVerdict(nonStreaming.Outcome, streaming.Outcome),
	}
}

// EffectiveConfig is the configuration recorded alongside a report.
type EffectiveConfig struct {
	BaseURL             string      `json:"baseUrl"`
	PromptHash          string      `json:"promptHash"`
	MaxTokens           int         `json:"maxTokens"`
	RequestTimeoutMs    int64       `json:"requestTimeoutMs"`
	FirstByteTimeoutMs  int64       `json:"firstByteTimeoutMs"`
	FirstEventTimeoutMs int64       `json:"firstEventTimeoutMs"`
	Probes              []ProbeKind `json:"probes,omitempty"`
}

// ModelInfo is one catalog record.
type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelMetadata is best-effort enrichment from the inference server's native catalog.
type ModelMetadata struct {
	Alias        string `json:"alias"`
	ResolvedID   string `json:"resolvedId"`
	VariantCount int    `json:"variantCount"`
}

// DiagnosticReport is the output of diagnostic mode.
type DiagnosticReport struct {
	RunID        string          `json:"runId"`
	Timestamp    time.Time       `json:"timestamp"`
	Config       EffectiveConfig `json:"config"`
	Model        string          `json:"model"`
	ResolvedFrom string          `json:"resolvedFrom,omitempty"`
	Metadata     *ModelMetadata  `json:"metadata,omitempty"`
	Results      []ProbeResult   `json:"results"`
	Passed       bool            `json:"passed"`
}

// BenchmarkSummary counts verdicts across a benchmark run.
type BenchmarkSummary struct {
	Total          int `json:"total"`
	BothOK         int `json:"bothOk"`
	StreamOnlyFail int `json:"streamOnlyFail"`
	NonStreamFail  int `json:"nonStreamFail"`
	BothFail       int `json:"bothFail"`
}

// Add folds one verdict into the summary.
func (s *BenchmarkSummary) Add(v Verdict) {
	s.Total++
	switch v {
	case VerdictBothOK:
		s.BothOK++
	case VerdictStreamOnlyFail:
		s.StreamOnlyFail++
	case VerdictNonStreamFail:
		s.NonStreamFail++
	case VerdictBothFail:
		s.BothFail++
	}
}

// BenchmarkReport is the output of benchmark mode.
type BenchmarkReport struct {
	RunID     string                `json:"runId"`
	Timestamp time.Time             `json:"timestamp"`
	Config    EffectiveConfig       `json:"config"`
	Entries   []ModelBenchmarkEntry `json:"entries"`
	Summary   BenchmarkSummary      `json:"summary"`
}
