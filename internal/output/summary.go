package output

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"

	"github.com/daryltucker/stream-probe/internal/model"
)

const maxColWidth = 60

// Single-attribute colours only: equal escape lengths keep uitable columns aligned.
var outcomeColors = map[model.Outcome]*color.Color{
	model.OutcomeOK:           color.New(color.FgGreen),
	model.OutcomeFail:         color.New(color.FgRed),
	model.OutcomeError:        color.New(color.FgRed),
	model.OutcomeTimeout:      color.New(color.FgYellow),
	model.OutcomeNoFirstByte:  color.New(color.FgYellow),
	model.OutcomeNoFirstEvent: color.New(color.FgYellow),
	model.OutcomeHang:         color.New(color.FgMagenta),
}

var verdictColors = map[model.Verdict]*color.Color{
	model.VerdictBothOK:         color.New(color.FgGreen),
	model.VerdictStreamOnlyFail: color.New(color.FgYellow),
	model.VerdictNonStreamFail:  color.New(color.FgYellow),
	model.VerdictBothFail:       color.New(color.FgRed),
}

func paintOutcome(o model.Outcome) string {
	text := fmt.Sprintf("%-14s", o)
	if c, ok := outcomeColors[o]; ok {
		return c.Sprint(text)
	}
	return text
}

func paintVerdict(v model.Verdict) string {
	text := fmt.Sprintf("%-16s", v)
	if c, ok := verdictColors[v]; ok {
		return c.Sprint(text)
	}
	return text
}

func newTable() *uitable.Table {
	t := uitable.New()
	t.MaxColWidth = maxColWidth
	t.Separator = "  "
	return t
}

// PrintDiagnostic renders one diagnostic report as a table, followed by a pass/fail line.
func PrintDiagnostic(w io.Writer, r model.DiagnosticReport) {
	name := r.Model
	if r.ResolvedFrom != "" {
		name = fmt.Sprintf("%s (from %q)", r.Model, r.ResolvedFrom)
	}
	fmt.Fprintf(w, "Model: %s\n", name)
	if r.Metadata != nil && r.Metadata.VariantCount > 1 {
		fmt.Fprintf(w, "Variants: %d (resolved %s)\n", r.Metadata.VariantCount, r.Metadata.ResolvedID)
	}
	fmt.Fprintln(w)

	t := newTable()
	t.AddRow("PROBE", "OUTCOME", "STATUS", "TTFB", "FIRST EVENT", "TOTAL", "CHUNKS", "DETAIL")
	for _, res := range r.Results {
		detail := res.Error
		if detail == "" && res.TokenPreview != nil {
			detail = strconv.Quote(*res.TokenPreview)
		}
		t.AddRow(
			res.ProbeKind,
			paintOutcome(res.Outcome),
			optInt(res.HTTPStatus),
			msCell(res.Timings.TTFBMs),
			msCell(res.Timings.FirstEventMs),
			fmt.Sprintf("%dms", res.Timings.TotalMs),
			optInt(res.ChunkCount),
			detail,
		)
	}
	fmt.Fprintln(w, t)
	fmt.Fprintln(w)

	if r.Passed {
		fmt.Fprintln(w, color.GreenString("PASS"), "all probes OK")
	} else {
		fmt.Fprintln(w, color.RedString("FAIL"), "one or more probes did not complete cleanly")
	}
}

// PrintBenchmark renders a benchmark report, one row per model, and the verdict counts.
func PrintBenchmark(w io.Writer, r model.BenchmarkReport) {
	t := newTable()
	t.AddRow("MODEL", "VERDICT", "NON-STREAM", "STREAM", "STREAM TTFB", "STREAM TOTAL")
	for _, e := range r.Entries {
		t.AddRow(
			e.Model,
			paintVerdict(e.Verdict),
			paintOutcome(e.NonStreamingResult.Outcome),
			paintOutcome(e.StreamingResult.Outcome),
			msCell(e.StreamingResult.Timings.TTFBMs),
			fmt.Sprintf("%dms", e.StreamingResult.Timings.TotalMs),
		)
	}
	fmt.Fprintln(w, t)
	fmt.Fprintln(w)

	s := r.Summary
	fmt.Fprintf(w, "%d models: %d both OK, %d stream-only fail, %d non-stream fail, %d both fail\n",
		s.Total, s.BothOK, s.StreamOnlyFail, s.NonStreamFail, s.BothFail)
}

// PrintModels renders the catalog.
func PrintModels(w io.Writer, models []model.ModelInfo) {
	t := newTable()
	t.AddRow("ID", "OWNED BY")
	for _, m := range models {
		t.AddRow(m.ID, m.OwnedBy)
	}
	fmt.Fprintln(w, t)
}

func msCell(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%dms", *v)
}
