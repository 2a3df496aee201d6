/*
PURPOSE:
  Writes probe results to a JSON Lines file (NDJSON) as they complete, and the final reports
  as indented JSON documents.

REQUIREMENTS:
  Implementation-discovered:
  - JSON Lines is better for streaming progress than a single large array (append-friendly).
  - The final report is one document, written atomically via a temp file + rename.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (runner observer and report persistence)
  - Consumes: internal/model.ProbeResult, model.DiagnosticReport, model.BenchmarkReport

ERROR HANDLING:
  - Returns error on file creation or write failure.

USAGE:
  w, err := output.NewJSONWriter("results.jsonl")
  w.Write(result)
  w.Close()
*/

package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/daryltucker/stream-probe/internal/model"
)

// JSONWriter writes probe results to a JSON Lines file.
type JSONWriter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter creates a new JSONWriter, truncating path.
func NewJSONWriter(path string) (*JSONWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	return &JSONWriter{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Write writes a single result as a JSON line.
func (jw *JSONWriter) Write(r model.ProbeResult) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	return jw.encoder.Encode(r)
}

// Close closes the underlying file.
func (jw *JSONWriter) Close() error {
	return jw.file.Close()
}

// ReportName returns "<kind>-<timestamp>.json" for a report written at ts.
func ReportName(kind string, ts time.Time) string {
	return fmt.Sprintf("%s-%s.json", kind, ts.UTC().Format("20060102T150405Z"))
}

// WriteReport writes v as an indented JSON document to path.
func WriteReport(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*.json")
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
