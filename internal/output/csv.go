/*
PURPOSE:
  Writes benchmark entries to a CSV file, one row per model.
  Flushes after every row so a crash mid-benchmark keeps completed rows.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (benchmark)
  - Consumes: internal/model.ModelBenchmarkEntry

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Flush() after every write.

USAGE:
  w, err := output.NewCSVWriter("benchmark.csv")
  w.Write(entry)
  w.Close()
*/

package output

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"

	"github.com/daryltucker/stream-probe/internal/model"
)

// CSVHeader is the first row of every benchmark CSV.
var CSVHeader = []string{
	"model", "verdict", "supports_streaming",
	"nonstream_outcome", "nonstream_status", "nonstream_total_ms", "nonstream_ttfb_ms",
	"stream_outcome", "stream_status", "stream_total_ms", "stream_ttfb_ms", "stream_first_event_ms",
	"stream_chunks", "stream_done",
	"nonstream_error", "stream_error",
}

// CSVWriter handles writing benchmark entries to a CSV file.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter creates a new CSVWriter.
// It overwrites the file if it exists.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	if err := w.Write(CSVHeader); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()

	return &CSVWriter{
		file:   f,
		writer: w,
	}, nil
}

// Write writes a single entry to the CSV file.
// It is thread-safe.
func (cw *CSVWriter) Write(e model.ModelBenchmarkEntry) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	ns, s := e.NonStreamingResult, e.StreamingResult
	record := []string{
		e.Model,
		string(e.Verdict),
		strconv.FormatBool(e.SupportsStreaming),
		string(ns.Outcome),
		optInt(ns.HTTPStatus),
		strconv.FormatInt(ns.Timings.TotalMs, 10),
		optInt64(ns.Timings.TTFBMs),
		string(s.Outcome),
		optInt(s.HTTPStatus),
		strconv.FormatInt(s.Timings.TotalMs, 10),
		optInt64(s.Timings.TTFBMs),
		optInt64(s.Timings.FirstEventMs),
		optInt(s.ChunkCount),
		optBool(s.DoneReceived),
		ns.Error,
		s.Error,
	}

	if err := cw.writer.Write(record); err != nil {
		return err
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

// Close closes the underlying file.
func (cw *CSVWriter) Close() error {
	cw.writer.Flush()
	return cw.file.Close()
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optInt64(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func optBool(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
