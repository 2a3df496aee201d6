package output

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/daryltucker/stream-probe/internal/model"
)

func ptr[T any](v T) *T { return &v }

func sampleResult(kind model.ProbeKind, outcome model.Outcome) model.ProbeResult {
	res := model.ProbeResult{
		ProbeKind:   kind,
		Model:       "qwen",
		Outcome:     outcome,
		HTTPStatus:  ptr(200),
		Timings:     model.ProbeTimings{StartMs: 1000, EndMs: 1250, TotalMs: 250, TTFBMs: ptr[int64](40)},
		PayloadHash: "0123456789abcdef",
	}
	if kind.Streaming() {
		res.ChunkCount = ptr(5)
		res.DoneReceived = ptr(outcome.OK())
		res.Timings.FirstEventMs = ptr[int64](60)
	}
	if !outcome.OK() {
		res.Error = "stream ended without [DONE]"
	}
	return res
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitJSON(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { SetLogger(prev) })

	var buf bytes.Buffer
	Init(&buf, slog.LevelWarn, true)
	Logger.Info("dropped")
	Logger.Warn("Probe finished", "outcome", "HANG")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "Probe finished" || rec["outcome"] != "HANG" {
		t.Errorf("record = %v", rec)
	}
}

func TestJSONWriterLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	w, err := NewJSONWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Write(sampleResult(model.ProbeHTTPNonStream, model.OutcomeOK))
	w.Write(sampleResult(model.ProbeHTTPStream, model.OutcomeFail))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var kinds []model.ProbeKind
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var res model.ProbeResult
		if err := json.Unmarshal(sc.Bytes(), &res); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		kinds = append(kinds, res.ProbeKind)
	}
	if len(kinds) != 2 || kinds[1] != model.ProbeHTTPStream {
		t.Errorf("kinds = %v", kinds)
	}
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	path := filepath.Join(dir, ReportName("diagnostic", ts))
	if filepath.Base(path) != "diagnostic-20260304T050607Z.json" {
		t.Errorf("ReportName = %s", filepath.Base(path))
	}

	report := model.DiagnosticReport{
		RunID:     "run-1",
		Timestamp: ts,
		Model:     "qwen",
		Results:   []model.ProbeResult{sampleResult(model.ProbeHTTPNonStream, model.OutcomeOK)},
		Passed:    true,
	}
	if err := WriteReport(path, report); err != nil {
		t.Fatalf("WriteReport() = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("\n  \"runId\": \"run-1\"")) {
		t.Errorf("report is not indented:\n%s", data)
	}
	var got model.DiagnosticReport
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if !got.Passed || len(got.Results) != 1 {
		t.Errorf("round trip lost data: %+v", got)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestCSVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchmark.csv")
	w, err := NewCSVWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	entry := model.NewBenchmarkEntry("qwen",
		sampleResult(model.ProbeHTTPNonStream, model.OutcomeOK),
		sampleResult(model.ProbeHTTPStream, model.OutcomeFail))
	if err := w.Write(entry); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	f, _ := os.Open(path)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(rows))
	}
	if len(rows[1]) != len(CSVHeader) {
		t.Fatalf("row has %d columns, header %d", len(rows[1]), len(CSVHeader))
	}
	row := map[string]string{}
	for i, h := range CSVHeader {
		row[h] = rows[1][i]
	}
	want := map[string]string{
		"model":                 "qwen",
		"verdict":               "STREAM_ONLY_FAIL",
		"supports_streaming":    "false",
		"nonstream_ttfb_ms":     "40",
		"stream_first_event_ms": "60",
		"stream_chunks":         "5",
		"stream_done":           "false",
		"nonstream_error":       "",
		"stream_error":          "stream ended without [DONE]",
	}
	for k, v := range want {
		if row[k] != v {
			t.Errorf("%s = %q, want %q", k, row[k], v)
		}
	}
}

func TestPrintDiagnostic(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	PrintDiagnostic(&buf, model.DiagnosticReport{
		Model:        "qwen2.5-7b-instruct",
		ResolvedFrom: "qwen",
		Results: []model.ProbeResult{
			sampleResult(model.ProbeHTTPNonStream, model.OutcomeOK),
			sampleResult(model.ProbeHTTPStream, model.OutcomeNoFirstEvent),
		},
	})
	out := buf.String()
	for _, want := range []string{`qwen2.5-7b-instruct (from "qwen")`, "http-stream", "NO_FIRST_EVENT", "40ms", "FAIL"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintBenchmark(t *testing.T) {
	color.NoColor = true
	var report model.BenchmarkReport
	for _, id := range []string{"a", "b"} {
		e := model.NewBenchmarkEntry(id,
			sampleResult(model.ProbeHTTPNonStream, model.OutcomeOK),
			sampleResult(model.ProbeHTTPStream, model.OutcomeOK))
		report.Entries = append(report.Entries, e)
		report.Summary.Add(e.Verdict)
	}

	var buf bytes.Buffer
	PrintBenchmark(&buf, report)
	if !strings.Contains(buf.String(), "2 models: 2 both OK") {
		t.Errorf("summary line missing:\n%s", buf.String())
	}
}
