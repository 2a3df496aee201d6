package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/daryltucker/stream-probe/internal/model"
)

func runSDK(t *testing.T, handler http.HandlerFunc, stream bool, mutate func(*Params)) model.ProbeResult {
	t.Helper()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	params := testParams(srv.URL)
	if mutate != nil {
		mutate(&params)
	}
	p := &SDKProbe{NewClient: NewOpenAIClientFactory(srv.Client()), Stream: stream}
	return p.Run(context.Background(), params)
}

func TestSDKNonStreamOK(t *testing.T) {
	res := runSDK(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionBody)
	}, false, nil)

	if res.Outcome != model.OutcomeOK {
		t.Fatalf("outcome = %s (%s), want OK", res.Outcome, res.Error)
	}
	if res.ProbeKind != model.ProbeSDKNonStream {
		t.Errorf("kind = %s", res.ProbeKind)
	}
	if res.HTTPStatus == nil || *res.HTTPStatus != 200 {
		t.Errorf("httpStatus = %v, want 200 from the transport", res.HTTPStatus)
	}
	if res.TokenPreview == nil || *res.TokenPreview != "hi" {
		t.Errorf("tokenPreview = %v, want hi", res.TokenPreview)
	}
}

func TestSDKStreamOK(t *testing.T) {
	res := runSDK(t, func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, deltaHe, deltaLlo, "[DONE]")
	}, true, nil)

	if res.Outcome != model.OutcomeOK {
		t.Fatalf("outcome = %s (%s), want OK", res.Outcome, res.Error)
	}
	if res.ChunkCount == nil || *res.ChunkCount != 3 {
		t.Errorf("chunkCount = %v, want 3", res.ChunkCount)
	}
	if res.DoneReceived == nil || !*res.DoneReceived {
		t.Errorf("doneReceived = %v, want true", res.DoneReceived)
	}
	if *res.TokenPreview != "hello" {
		t.Errorf("tokenPreview = %q, want hello", *res.TokenPreview)
	}
	if res.Timings.FirstEventMs == nil {
		t.Error("firstEventMs not recorded")
	}
}

func TestSDKServerError(t *testing.T) {
	res := runSDK(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"message":"model crashed","type":"server_error"}}`)
	}, false, nil)

	if res.Outcome != model.OutcomeFail {
		t.Fatalf("outcome = %s (%s), want FAIL", res.Outcome, res.Error)
	}
	if res.HTTPStatus == nil || *res.HTTPStatus != 500 {
		t.Errorf("httpStatus = %v, want 500", res.HTTPStatus)
	}
}

func TestSDKOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		stream    bool
		handler   http.HandlerFunc
		want      model.Outcome
		wantCount int
		wantDone  bool
	}{
		{
			name:   "malformed json",
			stream: false,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				io.WriteString(w, `{"choices":[`)
			},
			want: model.OutcomeFail,
		},
		{
			name:   "stream without done",
			stream: true,
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEvents(w, deltaHe, deltaLlo)
			},
			want:      model.OutcomeFail,
			wantCount: 2,
		},
		{
			name:   "done only",
			stream: true,
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEvents(w, "[DONE]")
			},
			want:      model.OutcomeOK,
			wantCount: 1,
			wantDone:  true,
		},
		{
			name:   "done without space",
			stream: true,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprintf(w, "data: %s\n\ndata:[DONE]\n\n", deltaHe)
			},
			want:      model.OutcomeOK,
			wantCount: 2,
			wantDone:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runSDK(t, tt.handler, tt.stream, nil)
			if res.Outcome != tt.want {
				t.Fatalf("outcome = %s (%s), want %s", res.Outcome, res.Error, tt.want)
			}
			if res.HTTPStatus == nil || *res.HTTPStatus != http.StatusOK {
				t.Errorf("httpStatus = %v, want 200", res.HTTPStatus)
			}
			if !tt.stream {
				if res.Error == "" {
					t.Error("missing error detail")
				}
				return
			}
			if *res.ChunkCount != tt.wantCount || *res.DoneReceived != tt.wantDone {
				t.Errorf("chunks=%d done=%v, want %d %v", *res.ChunkCount, *res.DoneReceived, tt.wantCount, tt.wantDone)
			}
		})
	}
}

func TestSentinelReader(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"terminated", "data: {}\n\ndata: [DONE]\n\n", 1},
		{"crlf", "data: [DONE]\r\n\r\n", 1},
		{"unterminated", "data: {}\n\ndata: [DONE]", 1},
		{"seen once", "data: [DONE]\n\ndata: [DONE]\n\n", 1},
		{"inside payload", `data: {"content":"data: [DONE]"}` + "\n\n", 0},
		{"long line", "data: [DONE]" + strings.Repeat(" x", 40) + "\n\n", 0},
		{"absent", "data: {}\n\n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			r := &sentinelReader{
				ReadCloser: io.NopCloser(iotest.OneByteReader(strings.NewReader(tt.body))),
				onDone:     func() { calls++ },
			}
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.body {
				t.Errorf("body altered: %q", got)
			}
			if calls != tt.want {
				t.Errorf("onDone calls = %d, want %d", calls, tt.want)
			}
		})
	}
}

func TestSDKStreamTimeoutKeepsProgress(t *testing.T) {
	res := runSDK(t, func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, deltaHe)
		stall(r)
	}, true, func(p *Params) { p.Budgets.Request = 150 * time.Millisecond })

	if res.Outcome != model.OutcomeTimeout {
		t.Fatalf("outcome = %s (%s), want TIMEOUT", res.Outcome, res.Error)
	}
	if *res.ChunkCount != 1 || *res.TokenPreview != "he" {
		t.Errorf("progress lost: chunks=%d preview=%q", *res.ChunkCount, *res.TokenPreview)
	}
}

// stubClient lets tests script the SDK without a server.
type stubClient struct {
	complete func(ctx context.Context) (openai.ChatCompletionResponse, error)
	stream   func(ctx context.Context) (ChatStream, error)
}

func (s stubClient) CreateChatCompletion(ctx context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return s.complete(ctx)
}

func (s stubClient) CreateChatCompletionStream(ctx context.Context, _ openai.ChatCompletionRequest) (ChatStream, error) {
	return s.stream(ctx)
}

type stubStream struct {
	chunks []string
	err    error
	closed bool
}

func (s *stubStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if len(s.chunks) == 0 {
		return openai.ChatCompletionStreamResponse{}, s.err
	}
	text := s.chunks[0]
	s.chunks = s.chunks[1:]
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: text}}},
	}, nil
}

func (s *stubStream) Close() { s.closed = true }

func runStub(client ChatClient, stream bool, b Budgets) model.ProbeResult {
	params := testParams("http://stub.invalid")
	params.Budgets = b
	params.HangGrace = 50 * time.Millisecond
	p := &SDKProbe{NewClient: func(Params) ChatClient { return client }, Stream: stream}
	return p.Run(context.Background(), params)
}

func TestSDKHang(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	client := stubClient{complete: func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		<-release
		return openai.ChatCompletionResponse{}, errors.New("released")
	}}

	start := time.Now()
	res := runStub(client, false, Budgets{Request: 50 * time.Millisecond})
	if res.Outcome != model.OutcomeHang {
		t.Fatalf("outcome = %s (%s), want HANG", res.Outcome, res.Error)
	}
	if res.AbortReason != "request_timeout" {
		t.Errorf("abortReason = %q", res.AbortReason)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("watchdog took %v", elapsed)
	}
}

func TestSDKCooperativeCancelIsNotHang(t *testing.T) {
	client := stubClient{complete: func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		<-ctx.Done()
		return openai.ChatCompletionResponse{}, ctx.Err()
	}}

	res := runStub(client, false, Budgets{Request: time.Minute, FirstByte: 30 * time.Millisecond})
	if res.Outcome != model.OutcomeNoFirstByte {
		t.Fatalf("outcome = %s (%s), want NO_FIRST_BYTE", res.Outcome, res.Error)
	}
}

func TestSDKStreamEOF(t *testing.T) {
	tests := []struct {
		name      string
		stream    *stubStream
		want      model.Outcome
		wantCount int
		wantDone  bool
	}{
		{"eof after chunks without sentinel", &stubStream{chunks: []string{"h", "i"}, err: io.EOF}, model.OutcomeFail, 2, false},
		{"eof without chunks", &stubStream{err: io.EOF}, model.OutcomeNoFirstEvent, 0, false},
		{"broken stream", &stubStream{chunks: []string{"h"}, err: errors.New("unexpected EOF")}, model.OutcomeError, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := stubClient{stream: func(context.Context) (ChatStream, error) { return tt.stream, nil }}
			res := runStub(client, true, Budgets{Request: time.Minute})
			if res.Outcome != tt.want {
				t.Fatalf("outcome = %s (%s), want %s", res.Outcome, res.Error, tt.want)
			}
			if *res.ChunkCount != tt.wantCount || *res.DoneReceived != tt.wantDone {
				t.Errorf("chunks=%d done=%v, want %d %v", *res.ChunkCount, *res.DoneReceived, tt.wantCount, tt.wantDone)
			}
			if !tt.stream.closed {
				t.Error("stream not closed")
			}
		})
	}
}

func TestSDKEmptyChoices(t *testing.T) {
	client := stubClient{complete: func(context.Context) (openai.ChatCompletionResponse, error) {
		return openai.ChatCompletionResponse{}, nil
	}}
	res := runStub(client, false, Budgets{Request: time.Minute})
	if res.Outcome != model.OutcomeFail {
		t.Fatalf("outcome = %s, want FAIL", res.Outcome)
	}
}

func TestWatchReturnsCallResult(t *testing.T) {
	sig, hung := watch(context.Background(), time.Millisecond, func() Signals { return Signals{BodyValid: true} })
	if hung || !sig.BodyValid {
		t.Errorf("watch() = %+v, %v", sig, hung)
	}

	sig, hung = watch(context.Background(), time.Millisecond, func() Signals { panic("boom") })
	if hung || sig.Err == nil {
		t.Errorf("panicking call: watch() = %+v, %v", sig, hung)
	}
}
