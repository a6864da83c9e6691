package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"tabload/internal/ingest"
	"tabload/internal/schema"
	"tabload/internal/storage"
)

func sampleAnalysis() *ingest.Analysis {
	return &ingest.Analysis{
		Table:       "flows",
		Sampled:     4,
		TextColumns: 2,
		Recommendations: []schema.Recommendation{
			{Column: "id", Current: schema.Text, Suggested: schema.Integer, Sampled: 4, Numeric: 4},
			{Column: "label", Current: schema.Text, Suggested: schema.Text, Sampled: 4, Nulls: 1},
		},
	}
}

func TestResolveMode(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	tests := []struct {
		in   Mode
		want Mode
	}{
		{ModeAuto, ModeMarkdown},
		{"", ModeMarkdown},
		{ModeText, ModeText},
		{ModeJSON, ModeJSON},
		{ModeMarkdown, ModeMarkdown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveMode(tt.in, &buf), "mode %q", tt.in)
	}
}

func TestColumns(t *testing.T) {
	t.Parallel()
	cols := []storage.Column{
		{Name: "id", DeclaredType: "INTEGER", Type: schema.Integer},
		{Name: "label", DeclaredType: "TEXT", Type: schema.Text},
	}

	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, ModeText).Columns("flows", cols))
	out := buf.String()
	assert.Contains(t, out, "Schema of flows (2 columns)")
	assert.Contains(t, out, "label")
	assert.Contains(t, out, "INTEGER")

	buf.Reset()
	require.NoError(t, NewRenderer(&buf, ModeJSON).Columns("flows", cols))
	var got struct {
		Table   string           `json:"table"`
		Columns []storage.Column `json:"columns"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "flows", got.Table)
	assert.Equal(t, cols, got.Columns)
}

func TestMarkdownHeadings(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := NewRenderer(&buf, ModeMarkdown)
	require.NoError(t, r.Distribution("label", []storage.Bucket{{Value: "DDoS", Count: 1}, {Value: nil, Count: 3}}))
	out := buf.String()
	assert.Contains(t, out, "### Distribution of label")
	assert.Contains(t, out, "| DDoS")
	assert.Contains(t, out, "NULL")
	assert.Contains(t, out, "75.0")
}

func TestAnalysis_DTypeMap(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := NewRenderer(&buf, ModeText)

	require.NoError(t, r.Analysis(sampleAnalysis(), FormatYAML))
	var m map[string]string
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, map[string]string{"id": "INTEGER", "label": "TEXT"}, m)

	buf.Reset()
	require.NoError(t, r.Analysis(sampleAnalysis(), FormatJSON))
	var typed map[string]schema.ColumnType
	require.NoError(t, json.Unmarshal(buf.Bytes(), &typed))
	assert.Equal(t, schema.Integer, typed["id"])
}

func TestAnalysis_Table(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, ModeText).Analysis(sampleAnalysis(), FormatTable))
	out := buf.String()
	assert.Contains(t, out, "4 sampled rows, 2 text columns")
	assert.Contains(t, out, "25.0")
	assert.Contains(t, out, "*")
}

func TestRetypeAndIngest_Skipped(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := NewRenderer(&buf, ModeText)
	require.NoError(t, r.Retype(&ingest.RetypeResult{Table: "flows", Skipped: true, Reason: "3 text columns, fewer than 10"}))
	require.NoError(t, r.Ingest(&ingest.IngestResult{Table: "flows", Skipped: true}))
	out := buf.String()
	assert.Contains(t, out, "skipped: 3 text columns, fewer than 10")
	assert.Contains(t, out, "table flows already exists")
}

func TestRun(t *testing.T) {
	t.Parallel()
	rep := &ingest.Report{
		Table: "flows",
		Phases: []ingest.PhaseResult{
			{Name: ingest.PhaseIngest, Status: ingest.StatusOK, Duration: 1500 * time.Microsecond},
			{Name: ingest.PhaseDistribution, Status: ingest.StatusError, Error: "no such column"},
		},
		Ingest:   &ingest.IngestResult{Table: "flows", Sources: []string{"a.csv"}, Rows: 7},
		Analysis: sampleAnalysis(),
	}

	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, ModeText).Run(rep))
	out := buf.String()
	for _, want := range []string{"Phases", "no such column", "Ingest flows", "Analysis of flows"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "Retype")

	buf.Reset()
	require.NoError(t, NewRenderer(&buf, ModeJSON).Run(rep))
	var got ingest.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, []string{ingest.PhaseDistribution}, got.Failed())
	assert.EqualValues(t, 7, got.Ingest.Rows)
}

func TestEmptyTable(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, ModeText).Distribution("label", nil))
	assert.Contains(t, buf.String(), "(0 rows)")
}
