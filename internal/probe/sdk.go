/*
PURPOSE:
  SDK probes: the same request issued through go-openai.
  Tells apart "the server streams fine" from "the client library copes with it".

REQUIREMENTS:
  User-specified:
  - A client call that ignores cancellation is reported as HANG, not waited on forever.

  Implementation-discovered:
  - go-openai hides the status code and the [DONE] line; the transport recovers both.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Runner) via the Prober interface

ERROR HANDLING:
  - APIError/RequestError status codes map to FAIL; decode errors after 2xx map to FAIL.
*/

package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/daryltucker/stream-probe/internal/model"
)

// ChatStream is the part of the SDK stream the probe consumes.
type ChatStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close()
}

// ChatClient is the part of the SDK client the probe consumes.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error)
}

// ClientFactory builds a ChatClient for one invocation.
type ClientFactory func(p Params) ChatClient

// NewOpenAIClientFactory returns a factory for go-openai clients that share httpClient's pool.
// Response status codes and the stream sentinel are captured through the transport, since the
// SDK exposes neither.
func NewOpenAIClientFactory(httpClient *http.Client) ClientFactory {
	base := http.DefaultClient
	if httpClient != nil {
		base = httpClient
	}
	wrapped := *base
	wrapped.Transport = sdkTransport{base: base.Transport}

	return func(p Params) ChatClient {
		cfg := openai.DefaultConfig(p.APIKey)
		cfg.BaseURL = APIBase(p.BaseURL)
		cfg.HTTPClient = &wrapped
		return openAIClient{client: openai.NewClientWithConfig(cfg)}
	}
}

type openAIClient struct {
	client *openai.Client
}

func (c openAIClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return c.client.CreateChatCompletion(ctx, req)
}

func (c openAIClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s openAIStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	return s.stream.Recv()
}

func (s openAIStream) Close() {
	s.stream.Close()
}

type (
	statusSinkKey   struct{}
	sentinelSinkKey struct{}
)

// sdkTransport reports each response status to the status sink stored in the request context.
// When a sentinel sink is present, the body is watched for the [DONE] line.
type sdkTransport struct {
	base http.RoundTripper
}

func (t sdkTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	if sink, ok := req.Context().Value(statusSinkKey{}).(func(int)); ok {
		sink(resp.StatusCode)
	}
	if sink, ok := req.Context().Value(sentinelSinkKey{}).(func()); ok && resp.Body != nil {
		resp.Body = &sentinelReader{ReadCloser: resp.Body, onDone: sink}
	}
	return resp, nil
}

// maxSentinelLine bounds how much of a line is kept; longer lines cannot be the sentinel.
const maxSentinelLine = 32

// sentinelReader passes the body through unchanged and calls onDone once when a
// `data: [DONE]` line goes by. go-openai reports both that line and a plain end of body as
// io.EOF, so this is the only place the two can be told apart.
type sentinelReader struct {
	io.ReadCloser
	onDone func()

	line []byte
	long bool
	seen bool
}

func (s *sentinelReader) Read(p []byte) (int, error) {
	n, err := s.ReadCloser.Read(p)
	for _, b := range p[:n] {
		if b == '\n' {
			s.endLine()
			continue
		}
		if len(s.line) < maxSentinelLine {
			s.line = append(s.line, b)
		} else {
			s.long = true
		}
	}
	if err != nil {
		s.endLine()
	}
	return n, err
}

func (s *sentinelReader) endLine() {
	if !s.seen && !s.long && isSentinelLine(s.line) {
		s.seen = true
		s.onDone()
	}
	s.line = s.line[:0]
	s.long = false
}

// isSentinelLine matches the way go-openai recognises the terminator: surrounding whitespace is
// ignored, as is whitespace after the `data:` prefix.
func isSentinelLine(line []byte) bool {
	value, ok := bytes.CutPrefix(bytes.TrimSpace(line), []byte("data:"))
	return ok && string(bytes.TrimSpace(value)) == doneSentinel
}

// SDKProbe issues the request through the go-openai client.
type SDKProbe struct {
	NewClient ClientFactory
	Stream    bool
}

// Kind implements Prober.
func (p *SDKProbe) Kind() model.ProbeKind {
	if p.Stream {
		return model.ProbeSDKStream
	}
	return model.ProbeSDKNonStream
}

// Run implements Prober.
func (p *SDKProbe) Run(ctx context.Context, params Params) (res model.ProbeResult) {
	req := openai.ChatCompletionRequest{
		Model: params.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: params.Prompt},
		},
		MaxTokens: params.MaxTokens,
		Stream:    p.Stream,
	}
	payload, err := json.Marshal(req)
	rec := newRecorder(p.Kind(), params, payload)
	defer guard(rec, &res)
	if err != nil {
		return rec.finish(Signals{Err: fmt.Errorf("marshal request: %w", err)})
	}

	ctx, l := armLadder(ctx, params.Budgets, p.Stream, rec.timer.MarkTTFB)
	defer l.release()
	ctx = context.WithValue(ctx, statusSinkKey{}, rec.setStatus)
	if p.Stream {
		ctx = context.WithValue(ctx, sentinelSinkKey{}, rec.markSentinel)
	}

	client := p.NewClient(params)
	call := func() Signals {
		if p.Stream {
			return sdkStream(ctx, l, rec, client, req)
		}
		return sdkComplete(ctx, l, rec, client, req)
	}

	grace := params.HangGrace
	if grace <= 0 {
		grace = defaultHangGrace
	}
	sig, hung := watch(ctx, grace, call)
	if hung {
		return rec.finish(Signals{Hung: true, Abort: abortCause(ctx)})
	}
	return rec.finish(sig)
}

func sdkComplete(ctx context.Context, l *ladder, rec *recorder, client ChatClient, req openai.ChatCompletionRequest) Signals {
	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return sdkFailure(ctx, rec, err)
	}
	l.headersArrived()
	if len(resp.Choices) == 0 {
		return Signals{Detail: ErrMissingContent}
	}
	rec.appendPreview(resp.Choices[0].Message.Content)
	return Signals{BodyValid: true}
}

// sdkStream counts every received delta as a chunk. The SDK swallows the [DONE] sentinel and
// returns io.EOF; that EOF counts as the sentinel chunk only if the transport saw [DONE].
func sdkStream(ctx context.Context, l *ladder, rec *recorder, client ChatClient, req openai.ChatCompletionRequest) Signals {
	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return sdkFailure(ctx, rec, err)
	}
	defer stream.Close()
	l.headersArrived()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if rec.sawSentinel() {
				if rec.addChunk() {
					rec.timer.MarkFirstEvent()
					l.eventArrived()
				}
				rec.markDone()
			}
			return Signals{}
		}
		if err != nil {
			return Signals{Abort: abortCause(ctx), Err: fmt.Errorf("stream recv: %w", err)}
		}
		if rec.addChunk() {
			rec.timer.MarkFirstEvent()
			l.eventArrived()
		}
		for _, choice := range chunk.Choices {
			rec.appendPreview(choice.Delta.Content)
		}
	}
}

// sdkFailure maps an SDK error, preferring an HTTP status when the SDK carries one. An error
// after a 2xx status with no abort means the body could not be decoded, which is a protocol
// failure.
func sdkFailure(ctx context.Context, rec *recorder, err error) Signals {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return Signals{HTTPStatus: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return Signals{HTTPStatus: reqErr.HTTPStatusCode, Err: err}
	}
	cause := abortCause(ctx)
	if cause == nil && statusOK(rec.statusCode()) {
		return Signals{Detail: fmt.Errorf("decode response: %w", err)}
	}
	return Signals{Abort: cause, Err: err}
}

// watch runs call and waits for it. If ctx ends and call has still not returned after grace,
// watch gives up and reports a hang; the call keeps running in the background until it unwinds.
func watch(ctx context.Context, grace time.Duration, call func() Signals) (Signals, bool) {
	done := make(chan Signals, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- Signals{Err: fmt.Errorf("sdk call panicked: %v", v)}
			}
		}()
		done <- call()
	}()

	select {
	case sig := <-done:
		return sig, false
	case <-ctx.Done():
	}

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case sig := <-done:
		return sig, false
	case <-t.C:
		return Signals{}, true
	}
}
