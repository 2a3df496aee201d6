package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDeriveVerdict(t *testing.T) {
	tests := []struct {
		nonStreaming Outcome
		streaming    Outcome
		want         Verdict
	}{
		{OutcomeOK, OutcomeOK, VerdictBothOK},
		{OutcomeOK, OutcomeNoFirstEvent, VerdictStreamOnlyFail},
		{OutcomeOK, OutcomeHang, VerdictStreamOnlyFail},
		{OutcomeFail, OutcomeOK, VerdictNonStreamFail},
		{OutcomeNoFirstByte, OutcomeOK, VerdictNonStreamFail},
		{OutcomeTimeout, OutcomeError, VerdictBothFail},
		{OutcomeFail, OutcomeFail, VerdictBothFail},
	}
	for _, tt := range tests {
		t.Run(string(tt.nonStreaming)+"/"+string(tt.streaming), func(t *testing.T) {
			if got := DeriveVerdict(tt.nonStreaming, tt.streaming); got != tt.want {
				t.Errorf("DeriveVerdict(%s, %s) = %s, want %s", tt.nonStreaming, tt.streaming, got, tt.want)
			}
		})
	}
}

func TestDeriveVerdict_OnlyOKMatters(t *testing.T) {
	for _, ns := range Outcomes {
		for _, s := range Outcomes {
			got := DeriveVerdict(ns, s)
			switch {
			case ns.OK() && s.OK() && got != VerdictBothOK,
				ns.OK() && !s.OK() && got != VerdictStreamOnlyFail,
				!ns.OK() && s.OK() && got != VerdictNonStreamFail,
				!ns.OK() && !s.OK() && got != VerdictBothFail:
				t.Errorf("DeriveVerdict(%s, %s) = %s", ns, s, got)
			}
		}
	}
}

func TestNewBenchmarkEntry(t *testing.T) {
	entry := NewBenchmarkEntry("qwen",
		ProbeResult{ProbeKind: ProbeHTTPNonStream, Outcome: OutcomeOK},
		ProbeResult{ProbeKind: ProbeHTTPStream, Outcome: OutcomeNoFirstEvent},
	)
	if entry.SupportsStreaming {
		t.Error("expected SupportsStreaming false when streaming outcome is not OK")
	}
	if entry.Verdict != VerdictStreamOnlyFail {
		t.Errorf("expected STREAM_ONLY_FAIL, got %s", entry.Verdict)
	}
}

func TestBenchmarkSummary_Add(t *testing.T) {
	var s BenchmarkSummary
	for _, v := range []Verdict{VerdictBothOK, VerdictBothOK, VerdictBothFail, VerdictNonStreamFail} {
		s.Add(v)
	}
	if s.Total != 4 || s.BothOK != 2 || s.BothFail != 1 || s.NonStreamFail != 1 || s.StreamOnlyFail != 0 {
		t.Errorf("unexpected summary: %+v", s)
	}
}

func TestProbeKind(t *testing.T) {
	if !ProbeHTTPStream.Streaming() || !ProbeSDKStream.Streaming() {
		t.Error("expected stream kinds to report Streaming")
	}
	if ProbeHTTPNonStream.Streaming() || ProbeSDKNonStream.Streaming() {
		t.Error("expected non-stream kinds to not report Streaming")
	}
	if ProbeKind("grpc").Valid() {
		t.Error("expected unknown kind to be invalid")
	}
}

func TestProbeResult_JSONFieldNames(t *testing.T) {
	status := 200
	chunks := 2
	done := true
	preview := "hi"
	ttfb := int64(5)
	res := ProbeResult{
		ProbeKind:    ProbeHTTPStream,
		Outcome:      OutcomeOK,
		HTTPStatus:   &status,
		Timings:      ProbeTimings{StartMs: 1, EndMs: 11, TotalMs: 10, TTFBMs: &ttfb},
		ChunkCount:   &chunks,
		DoneReceived: &done,
		TokenPreview: &preview,
		PayloadHash:  "abcd",
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{
		`"probeKind":"http-stream"`, `"outcome":"OK"`, `"httpStatus":200`, `"ttfbMs":5`,
		`"chunkCount":2`, `"doneReceived":true`, `"tokenPreview":"hi"`, `"payloadHash":"abcd"`,
	} {
		if !strings.Contains(string(data), field) {
			t.Errorf("expected %s in %s", field, data)
		}
	}
	if strings.Contains(string(data), "firstEventMs") {
		t.Errorf("expected absent firstEventMs to be omitted: %s", data)
	}
}
