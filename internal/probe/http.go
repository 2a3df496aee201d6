/*
PURPOSE:
  Direct HTTP probes: POST the chat request and read the JSON body or the SSE stream.

REQUIREMENTS:
  Implementation-discovered:
  - Non-2xx bodies are kept (first 512 bytes) for the error message.
  - Preview parsing is best-effort; a bad delta never changes the outcome.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Runner) via the Prober interface
  - Uses: internal/sse

RELATED FILES:
  - internal/probe/ladder.go
*/

package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/daryltucker/stream-probe/internal/model"
	"github.com/daryltucker/stream-probe/internal/sse"
)

// HTTPProbe issues the request with net/http and decodes the stream itself.
type HTTPProbe struct {
	Client *http.Client
	Stream bool
}

// Kind implements Prober.
func (p *HTTPProbe) Kind() model.ProbeKind {
	if p.Stream {
		return model.ProbeHTTPStream
	}
	return model.ProbeHTTPNonStream
}

// Run implements Prober.
func (p *HTTPProbe) Run(ctx context.Context, params Params) (res model.ProbeResult) {
	payload, err := json.Marshal(NewChatRequest(params.Model, params.Prompt, params.MaxTokens, p.Stream))
	rec := newRecorder(p.Kind(), params, payload)
	defer guard(rec, &res)
	if err != nil {
		return rec.finish(Signals{Err: fmt.Errorf("marshal request: %w", err)})
	}

	ctx, l := armLadder(ctx, params.Budgets, p.Stream, rec.timer.MarkTTFB)
	defer l.release()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ChatURL(params.BaseURL), bytes.NewReader(payload))
	if err != nil {
		return rec.finish(Signals{Err: fmt.Errorf("create request: %w", err)})
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if params.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+params.APIKey)
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return rec.finish(Signals{Abort: abortCause(ctx), Err: fmt.Errorf("request failed: %w", err)})
	}
	defer resp.Body.Close()
	l.headersArrived()
	rec.setStatus(resp.StatusCode)

	if !statusOK(resp.StatusCode) {
		// Do not parse a failed response as SSE; keep a snippet for the report.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return rec.finish(Signals{Err: &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}})
	}

	if p.Stream {
		return rec.finish(consumeStream(ctx, l, rec, resp.Body))
	}
	return rec.finish(consumeCompletion(ctx, rec, resp.Body))
}

func (p *HTTPProbe) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

// consumeStream drives the decoder until [DONE], end of stream or cancellation.
func consumeStream(ctx context.Context, l *ladder, rec *recorder, body io.ReadCloser) Signals {
	dec := sse.NewDecoder(body)
	// Disarm at parse time: an event buffered behind the consumer still beat the budget.
	dec.OnEvent = l.eventArrived
	for ev, err := range dec.All(ctx) {
		if err != nil {
			return Signals{Abort: abortCause(ctx), Err: fmt.Errorf("read stream: %w", err)}
		}
		if rec.addChunk() {
			rec.timer.MarkFirstEvent()
			l.eventArrived()
		}
		if ev.Data == doneSentinel {
			rec.markDone()
			break
		}
		rec.appendPreview(parseDelta(ev.Data))
	}
	return Signals{}
}

// consumeCompletion reads a non-streaming body and checks for the completion text.
func consumeCompletion(ctx context.Context, rec *recorder, body io.Reader) Signals {
	data, err := io.ReadAll(body)
	if err != nil {
		return Signals{Abort: abortCause(ctx), Err: fmt.Errorf("read body: %w", err)}
	}
	if !json.Valid(data) {
		return Signals{Detail: fmt.Errorf("response is not valid JSON (%d bytes)", len(data))}
	}
	content, ok := parseCompletion(data)
	if !ok {
		return Signals{Detail: ErrMissingContent}
	}
	rec.appendPreview(content)
	return Signals{BodyValid: true}
}
