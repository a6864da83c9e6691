package ingest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabload/internal/datasource/file"
	"tabload/internal/metrics"
	"tabload/internal/schema"
	"tabload/internal/storage"
)

const flowsCSV = "id,price,label\n1,1.5,DDoS\n2,2,Benign\n3,3.25,Benign\n"

func ingestFlows(t *testing.T, body string) *Ingestor {
	t.Helper()
	cfg := testConfig(t)
	writeFile(t, cfg.Source.Dir, "flows.csv", body)
	ing := New(cfg, nil)
	_, err := ing.Ingest(context.Background())
	require.NoError(t, err)
	return ing
}

func typesByName(t *testing.T, ing *Ingestor) map[string]schema.ColumnType {
	t.Helper()
	cols, err := ing.Schema(context.Background())
	require.NoError(t, err)
	out := map[string]schema.ColumnType{}
	for _, c := range cols {
		out[c.Name] = c.Type
	}
	return out
}

func TestAnalyze(t *testing.T) {
	t.Parallel()
	ing := ingestFlows(t, "id,price,label,empty\n10,10,a,\n20,20.5,abc,\n30,30,c,\n")

	a, err := ing.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, a.Sampled)
	assert.Equal(t, 4, a.TextColumns)
	assert.Equal(t, map[string]schema.ColumnType{
		"empty": schema.Text,
		"id":    schema.Integer,
		"label": schema.Text,
		"price": schema.Real,
	}, a.DTypes())
	for _, r := range a.Recommendations {
		if r.Column == "empty" {
			assert.Equal(t, 3, r.Nulls)
		}
	}
}

func TestRetype_RebuildsWithInferredTypes(t *testing.T) {
	t.Parallel()
	ing := ingestFlows(t, flowsCSV)

	res, err := ing.Retype(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, res.Skipped, res.Reason)
	assert.Equal(t, []string{"id", "price"}, res.Changed)
	assert.EqualValues(t, 3, res.Rows)
	assert.Zero(t, res.CoercedNulls)

	assert.Equal(t, map[string]schema.ColumnType{
		"id": schema.Integer, "label": schema.Text, "price": schema.Real,
	}, typesByName(t, ing))

	rows := tableRows(t, ing.cfg, "id", "price", "label")
	require.Len(t, rows, 3)
	assert.Equal(t, []any{int64(1), 1.5, "DDoS"}, rows[0])
	assert.Equal(t, []any{int64(2), 2.0, "Benign"}, rows[1])

	ok, err := openRepo(t, ing.cfg).TableExists(context.Background(), NewTableName("data"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRetype_ValuesOutsideSampleBecomeNull(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Infer.SampleSize = 2
	writeFile(t, cfg.Source.Dir, "flows.csv", "id,label\n1,a\n2,b\noops,c\n")
	ing := New(cfg, nil)
	_, err := ing.Ingest(context.Background())
	require.NoError(t, err)

	res, err := ing.Retype(context.Background(), false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.CoercedNulls)

	rows := tableRows(t, cfg, "id")
	require.Len(t, rows, 3)
	assert.Nil(t, rows[2][0])
}

func TestRetype_GuardSkipsAndForce(t *testing.T) {
	t.Parallel()
	ing := ingestFlows(t, flowsCSV)
	ing.cfg.Retype.MinTextColumns = 10

	res, err := ing.Retype(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Contains(t, res.Reason, "fewer than 10")
	assert.Equal(t, schema.Text, typesByName(t, ing)["id"])

	res, err = ing.Retype(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, schema.Integer, typesByName(t, ing)["id"])
}

func TestRetype_NothingToChange(t *testing.T) {
	t.Parallel()
	ing := ingestFlows(t, flowsCSV)

	_, err := ing.Retype(context.Background(), false)
	require.NoError(t, err)

	res, err := ing.Retype(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Contains(t, res.Reason, "already match")
}

// shortCopy undercounts one table by a row.
type shortCopy struct {
	storage.Repository
	table string
}

func (s shortCopy) CountRows(ctx context.Context, table string) (int64, error) {
	n, err := s.Repository.CountRows(ctx, table)
	if table == s.table {
		n--
	}
	return n, err
}

func TestRetype_RowCountMismatchKeepsTable(t *testing.T) {
	t.Parallel()
	ing := ingestFlows(t, flowsCSV)

	short := New(ing.cfg, nil, WithOpen(func(ctx context.Context, c storage.Config) (storage.Repository, error) {
		repo, err := storage.New(ctx, c)
		if err != nil {
			return nil, err
		}
		return shortCopy{Repository: repo, table: NewTableName("data")}, nil
	}))
	_, err := short.Retype(context.Background(), false)
	require.ErrorIs(t, err, ErrRowCount)

	assert.Equal(t, schema.Text, typesByName(t, ing)["id"])
	n, err := openRepo(t, ing.cfg).CountRows(context.Background(), "data")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestRetype_DropsLeftoverNewTable(t *testing.T) {
	t.Parallel()
	ing := ingestFlows(t, flowsCSV)

	repo := openRepo(t, ing.cfg)
	require.NoError(t, repo.CreateTable(context.Background(), NewTableName("data"),
		[]storage.ColumnDef{{Name: "junk", Type: schema.Text}}))
	repo.Close()

	res, err := ing.Retype(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, res.LeftoverDrop)
	assert.EqualValues(t, 3, res.Rows)
}

func TestDistribution(t *testing.T) {
	t.Parallel()
	ing := ingestFlows(t, flowsCSV)

	got, err := ing.Distribution(context.Background(), "label")
	require.NoError(t, err)
	assert.Equal(t, []storage.Bucket{{Value: "DDoS", Count: 1}, {Value: "Benign", Count: 2}}, got)

	_, err = ing.Distribution(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoColumn)
	_, err = ing.Distribution(context.Background(), "Label")
	assert.ErrorIs(t, err, ErrNoColumn)
}

func TestRun_AllPhases(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Report.DistributionColumn = "label"
	writeFile(t, cfg.Source.Dir, "flows.csv", flowsCSV)

	rep, err := New(cfg, nil).Run(context.Background())
	require.NoError(t, err)
	names := make([]string, len(rep.Phases))
	for i, p := range rep.Phases {
		names[i] = p.Name
		assert.Equal(t, StatusOK, p.Status, p.Name)
	}
	assert.Equal(t, []string{PhaseIngest, PhaseSchema, PhaseAnalyze, PhaseRetype, PhaseDistribution}, names)
	assert.EqualValues(t, 3, rep.Ingest.Rows)
	assert.Len(t, rep.Columns, 3)
	assert.False(t, rep.Retype.Skipped)
	assert.Len(t, rep.Distribution, 2)
}

func TestRun_ContinuesAfterPhaseFailure(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Report.DistributionColumn = "missing"
	cfg.Retype.Enabled = false
	writeFile(t, cfg.Source.Dir, "flows.csv", flowsCSV)

	rep, err := New(cfg, nil).Run(context.Background())
	require.ErrorIs(t, err, ErrPhaseFailed)
	assert.Equal(t, []string{PhaseDistribution}, rep.Failed())
	assert.NotNil(t, rep.Analysis)
	assert.Nil(t, rep.Retype)
}

func TestRun_MalformedInputStillRunsLaterPhases(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Report.DistributionColumn = "label"
	writeFile(t, cfg.Source.Dir, "bad.csv", "a\n\"x\"y\n")

	// One malformed row is stored as nulls; the missing distribution column
	// fails only the last phase.
	rep, err := New(cfg, nil).Run(context.Background())
	require.ErrorIs(t, err, ErrPhaseFailed)
	assert.Equal(t, []string{PhaseDistribution}, rep.Failed())
	assert.EqualValues(t, 1, rep.Ingest.Malformed)
	assert.Len(t, rep.Phases, 5)
}

func TestRun_NoInputAborts(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	rep, err := New(cfg, nil).Run(context.Background())
	require.ErrorIs(t, err, file.ErrNoInput)
	require.Len(t, rep.Phases, 1)
	assert.Equal(t, StatusError, rep.Phases[0].Status)
}

func TestRun_Canceled(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	writeFile(t, cfg.Source.Dir, "flows.csv", flowsCSV)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := New(cfg, nil).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	for _, p := range rep.Phases {
		assert.Equal(t, StatusCanceled, p.Status, p.Name)
	}
}

type flushRecorder struct {
	mu      sync.Mutex
	steps   int
	flushed int
}

func (f *flushRecorder) IncCounter(name string, _ float64, _ metrics.Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == metrics.StepTotal {
		f.steps++
	}
}

func (f *flushRecorder) ObserveHistogram(string, float64, metrics.Labels) {}

func (f *flushRecorder) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
	return nil
}

// Not parallel: installs the process-wide metrics backend.
func TestRun_FlushesMetrics(t *testing.T) {
	rec := &flushRecorder{}
	metrics.SetBackend(rec)
	t.Cleanup(func() { metrics.SetBackend(nil) })

	cfg := testConfig(t)
	writeFile(t, cfg.Source.Dir, "flows.csv", flowsCSV)
	_, err := New(cfg, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, rec.steps)
	assert.Equal(t, 1, rec.flushed)
}
