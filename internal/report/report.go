// Package report renders phase results for the terminal, for markdown
// consumers and as JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"tabload/internal/config"
	"tabload/internal/ingest"
	"tabload/internal/storage"
)

// Mode selects the output rendering.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeText     Mode = "text"
	ModeMarkdown Mode = "markdown"
	ModeJSON     Mode = "json"
)

// Analysis formats accepted by Renderer.Analysis.
const (
	FormatTable = "table"
	FormatYAML  = "yaml"
	FormatJSON  = "json"
)

// ResolveMode turns auto into text when w is a terminal and markdown
// otherwise. Other modes are returned unchanged.
func ResolveMode(m Mode, w io.Writer) Mode {
	if m != ModeAuto && m != "" {
		return m
	}
	if f, ok := w.(interface{ Fd() uintptr }); ok && term.IsTerminal(int(f.Fd())) {
		return ModeText
	}
	return ModeMarkdown
}

// Renderer writes reports to one writer in one mode.
type Renderer struct {
	out  io.Writer
	mode Mode
}

// NewRenderer returns a Renderer for out. An auto mode is resolved here.
func NewRenderer(out io.Writer, mode Mode) *Renderer {
	return &Renderer{out: out, mode: ResolveMode(mode, out)}
}

// Mode returns the resolved mode.
func (r *Renderer) Mode() Mode { return r.mode }

// Columns renders the declared columns of table.
func (r *Renderer) Columns(tableName string, cols []storage.Column) error {
	if r.mode == ModeJSON {
		return r.json(struct {
			Table   string           `json:"table"`
			Columns []storage.Column `json:"columns"`
		}{tableName, cols})
	}
	r.heading(fmt.Sprintf("Schema of %s (%d columns)", tableName, len(cols)))
	rows := make([]table.Row, len(cols))
	for i, c := range cols {
		rows[i] = table.Row{i, c.Name, c.DeclaredType, c.Type}
	}
	r.table(table.Row{"#", "column", "declared", "type"}, rows)
	return nil
}

// Ingest renders the ingest summary.
func (r *Renderer) Ingest(res *ingest.IngestResult) error {
	if r.mode == ModeJSON {
		return r.json(res)
	}
	r.heading("Ingest " + res.Table)
	if res.Skipped {
		r.line("table %s already exists; nothing was loaded", res.Table)
		return nil
	}
	r.table(table.Row{"metric", "value"}, []table.Row{
		{"sources", len(res.Sources)},
		{"extracted from archive", res.Extracted},
		{"columns", len(res.Columns)},
		{"rows", res.Rows},
		{"rows in table", res.TableRows},
		{"malformed records", res.Malformed},
	})
	return nil
}

// Analysis renders the type recommendation. format yaml or json writes
// only the column-to-type map, regardless of mode.
func (r *Renderer) Analysis(a *ingest.Analysis, format string) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(a.DTypes()); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		return r.json(a.DTypes())
	}
	if r.mode == ModeJSON {
		return r.json(a)
	}

	r.heading(fmt.Sprintf("Analysis of %s (%d sampled rows, %d text columns)", a.Table, a.Sampled, a.TextColumns))
	rows := make([]table.Row, len(a.Recommendations))
	for i, rec := range a.Recommendations {
		mark := ""
		if rec.Changed() {
			mark = "*"
		}
		rows[i] = table.Row{rec.Column, rec.Current, rec.Suggested, mark, rec.Nulls, percent(rec.Nulls, rec.Sampled)}
	}
	r.table(table.Row{"column", "current", "suggested", "change", "nulls", "null %"}, rows)
	return nil
}

// Retype renders the type-correction summary.
func (r *Renderer) Retype(res *ingest.RetypeResult) error {
	if r.mode == ModeJSON {
		return r.json(res)
	}
	r.heading("Retype " + res.Table)
	if res.Skipped {
		r.line("skipped: %s", res.Reason)
		return nil
	}
	r.table(table.Row{"metric", "value"}, []table.Row{
		{"text columns before", res.TextColumns},
		{"changed columns", strings.Join(res.Changed, ", ")},
		{"rows copied", res.Rows},
		{"values set to null", res.CoercedNulls},
		{"leftover table dropped", res.LeftoverDrop},
	})
	return nil
}

// Distribution renders value counts of column, least frequent first.
func (r *Renderer) Distribution(column string, buckets []storage.Bucket) error {
	if r.mode == ModeJSON {
		return r.json(struct {
			Column  string           `json:"column"`
			Buckets []storage.Bucket `json:"buckets"`
		}{column, buckets})
	}
	r.heading("Distribution of " + column)
	var total int64
	for _, b := range buckets {
		total += b.Count
	}
	rows := make([]table.Row, len(buckets))
	for i, b := range buckets {
		rows[i] = table.Row{formatValue(b.Value), b.Count, percent64(b.Count, total)}
	}
	r.table(table.Row{column, "count", "%"}, rows)
	return nil
}

// Run renders the phase table followed by each phase's own report.
func (r *Renderer) Run(rep *ingest.Report) error {
	if r.mode == ModeJSON {
		return r.json(rep)
	}
	r.heading("Phases")
	rows := make([]table.Row, len(rep.Phases))
	for i, p := range rep.Phases {
		rows[i] = table.Row{p.Name, p.Status, p.Duration.Round(time.Millisecond), p.Error}
	}
	r.table(table.Row{"phase", "status", "duration", "error"}, rows)

	if rep.Ingest != nil {
		if err := r.Ingest(rep.Ingest); err != nil {
			return err
		}
	}
	if rep.Columns != nil {
		if err := r.Columns(rep.Table, rep.Columns); err != nil {
			return err
		}
	}
	if rep.Analysis != nil {
		if err := r.Analysis(rep.Analysis, FormatTable); err != nil {
			return err
		}
	}
	if rep.Retype != nil {
		if err := r.Retype(rep.Retype); err != nil {
			return err
		}
	}
	if rep.Distribution != nil {
		return r.Distribution(rep.DistributionColumn, rep.Distribution)
	}
	return nil
}

// Issues renders configuration validation findings.
func (r *Renderer) Issues(file string, issues []config.Issue) error {
	if file == "" {
		file = "(defaults, env and flags)"
	}
	if r.mode == ModeJSON {
		return r.json(struct {
			File   string         `json:"file"`
			Valid  bool           `json:"valid"`
			Issues []config.Issue `json:"issues"`
		}{file, !config.HasErrors(issues), issues})
	}
	r.heading("Configuration " + file)
	if len(issues) == 0 {
		r.line("no issues")
		return nil
	}
	rows := make([]table.Row, len(issues))
	for i, iss := range issues {
		rows[i] = table.Row{iss.Severity, iss.Path, iss.Message}
	}
	r.table(table.Row{"severity", "path", "message"}, rows)
	return nil
}

func (r *Renderer) heading(s string) {
	if r.mode == ModeMarkdown {
		_, _ = fmt.Fprintf(r.out, "\n### %s\n\n", s)
		return
	}
	_, _ = fmt.Fprintf(r.out, "\n%s\n", s)
}

func (r *Renderer) line(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format+"\n", a...)
}

func (r *Renderer) table(header table.Row, rows []table.Row) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(r.out, "(0 rows)")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	t.AppendRows(rows)
	if r.mode == ModeMarkdown {
		t.RenderMarkdown()
		return
	}
	t.Render()
}

func (r *Renderer) json(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

func percent(n, total int) string { return percent64(int64(n), int64(total)) }

func percent64(n, total int64) string {
	if total == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", float64(n)*100/float64(total))
}
