/*
PURPOSE:
  Runs one request/response cycle against an OpenAI-compatible chat endpoint and classifies it.
  Four variants: direct HTTP and SDK-mediated, each streaming and non-streaming.

REQUIREMENTS:
  User-specified:
  - Three budgets race one cancellation: overall, first byte, first event.
  - The budget that fired, not the fact of cancellation, drives the outcome.
  - Never return an error: every invocation yields a ProbeResult.
  - Log a payload hash, never the prompt.

  Implementation-discovered:
  - httptrace GotFirstResponseByte is the earliest reliable "headers arrived" signal.
  - The SDK hides its transport, so it gets a watchdog instead of trusting cancellation.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Runner)
  - Uses: internal/sse, internal/timing, internal/model, internal/output

ERROR HANDLING:
  - All failures are mapped through Classify; panics are recovered into ERROR.
  - No retries. A failed probe is reported as-is.

IMPLEMENTATION RULES:
  - One ladder (context + timers) per invocation; release it on every path.
  - Partial progress (chunks, preview) survives into the result.

RELATED FILES:
  - internal/probe/ladder.go
  - internal/probe/classify.go
*/

package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/daryltucker/stream-probe/internal/model"
	"github.com/daryltucker/stream-probe/internal/output"
	"github.com/daryltucker/stream-probe/internal/timing"
)

const (
	doneSentinel        = "[DONE]"
	defaultHangGrace    = 2 * time.Second
	defaultPreviewLimit = 200
	errorBodyLimit      = 512
)

// ErrUnknownKind is returned by New for an unrecognised probe kind.
var ErrUnknownKind = errors.New("unknown probe kind")

// Params is everything one probe invocation needs.
type Params struct {
	BaseURL   string
	Model     string
	Prompt    string
	MaxTokens int
	// APIKey is opaque; local servers usually accept any value.
	APIKey  string
	Budgets Budgets
	// HangGrace is how long an SDK call may keep running after its context is done.
	HangGrace    time.Duration
	PreviewLimit int
}

// Prober runs one kind of probe.
type Prober interface {
	Kind() model.ProbeKind
	Run(ctx context.Context, p Params) model.ProbeResult
}

// New returns the prober for kind. All probers share client.
func New(kind model.ProbeKind, client *http.Client) (Prober, error) {
	switch kind {
	case model.ProbeHTTPNonStream:
		return &HTTPProbe{Client: client}, nil
	case model.ProbeHTTPStream:
		return &HTTPProbe{Client: client, Stream: true}, nil
	case model.ProbeSDKNonStream:
		return &SDKProbe{NewClient: NewOpenAIClientFactory(client)}, nil
	case model.ProbeSDKStream:
		return &SDKProbe{NewClient: NewOpenAIClientFactory(client), Stream: true}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// recorder accumulates the progress of one probe. SDK calls may still be writing to it after a
// HANG verdict, so every access is locked.
type recorder struct {
	mu        sync.Mutex
	kind      model.ProbeKind
	model     string
	hash      string
	streaming bool
	timer     *timing.Timer

	status   int
	chunks   int
	done     bool
	sentinel bool
	preview strings.Builder
	runes   int
	limit   int
}

func newRecorder(kind model.ProbeKind, p Params, payload []byte) *recorder {
	limit := p.PreviewLimit
	if limit <= 0 {
		limit = defaultPreviewLimit
	}
	r := &recorder{
		kind:      kind,
		model:     p.Model,
		hash:      PayloadHash(payload),
		streaming: kind.Streaming(),
		limit:     limit,
		timer:     timing.Start(),
	}
	output.Logger.Info("Probe started", "kind", kind, "model", p.Model, "payload_hash", r.hash)
	return r
}

func (r *recorder) setStatus(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = code
}

func (r *recorder) statusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// markSentinel records that [DONE] was seen on the wire, ahead of the consumer reaching it.
func (r *recorder) markSentinel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sentinel = true
}

func (r *recorder) sawSentinel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sentinel
}

// addChunk counts one event and reports whether it was the first.
func (r *recorder) addChunk() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks++
	return r.chunks == 1
}

func (r *recorder) markDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
}

// appendPreview keeps at most limit runes of generated text.
func (r *recorder) appendPreview(text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range text {
		if r.runes >= r.limit {
			return
		}
		r.preview.WriteRune(c)
		r.runes++
	}
}

// finish classifies and freezes the result. Progress fields come from the recorder.
func (r *recorder) finish(sig Signals) model.ProbeResult {
	timings := r.timer.Snapshot()

	r.mu.Lock()
	sig.Streaming = r.streaming
	sig.ChunkCount = r.chunks
	sig.DoneReceived = r.done
	if sig.HTTPStatus == 0 {
		sig.HTTPStatus = r.status
	}
	preview := r.preview.String()
	r.mu.Unlock()

	outcome := Classify(sig)
	res := model.ProbeResult{
		ProbeKind:   r.kind,
		Model:       r.model,
		Outcome:     outcome,
		Timings:     timings,
		PayloadHash: r.hash,
		Error:       describe(sig, outcome),
	}
	if sig.HTTPStatus != 0 {
		status := sig.HTTPStatus
		res.HTTPStatus = &status
	}
	if sig.Streaming {
		chunks, done := sig.ChunkCount, sig.DoneReceived
		res.ChunkCount = &chunks
		res.DoneReceived = &done
	}
	if preview != "" || outcome.OK() {
		res.TokenPreview = &preview
	}
	var reason *AbortReason
	if errors.As(sig.Abort, &reason) {
		res.AbortReason = reason.Tag
	}

	logArgs := []any{
		"kind", res.ProbeKind, "model", res.Model, "outcome", res.Outcome,
		"total_ms", timings.TotalMs, "payload_hash", res.PayloadHash,
	}
	if sig.Streaming {
		logArgs = append(logArgs, "chunks", sig.ChunkCount, "done", sig.DoneReceived)
	}
	if outcome.OK() {
		output.Logger.Info("Probe finished", logArgs...)
	} else {
		output.Logger.Warn("Probe finished", append(logArgs, "error", res.Error)...)
	}
	return res
}

// describe renders the human-readable error for a non-OK outcome.
func describe(sig Signals, outcome model.Outcome) string {
	if outcome.OK() {
		return ""
	}
	switch {
	case sig.Hung:
		if sig.Abort != nil {
			return fmt.Sprintf("client did not return after cancellation (%v)", sig.Abort)
		}
		return "client did not return after cancellation"
	case sig.HTTPStatus != 0 && !statusOK(sig.HTTPStatus):
		if sig.Err != nil {
			return sig.Err.Error()
		}
		return fmt.Sprintf("HTTP %d", sig.HTTPStatus)
	case sig.Abort != nil:
		return sig.Abort.Error()
	case sig.Err != nil:
		return sig.Err.Error()
	case sig.Detail != nil:
		return sig.Detail.Error()
	case sig.Streaming && sig.ChunkCount == 0:
		return ErrNoEvents.Error()
	case sig.Streaming:
		return ErrNoSentinel.Error()
	default:
		return ErrMissingContent.Error()
	}
}

// guard turns a panic inside a probe into an ERROR result.
func guard(r *recorder, res *model.ProbeResult) {
	if v := recover(); v != nil {
		*res = r.finish(Signals{Err: fmt.Errorf("probe panicked: %v", v)})
	}
}
