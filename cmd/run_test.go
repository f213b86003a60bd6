package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/potentials/internal/config"
	"github.com/sells-group/potentials/internal/shapes"
	"github.com/sells-group/potentials/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Engine: config.EngineConfig{
			Family:   "exponential",
			Span:     75000,
			Beta:     2,
			MaxCells: 10000,
			Classes:  3,
			Method:   "quantile",
		},
		Cache: config.CacheConfig{MaxEntries: 4, TTLMinutes: 5},
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "runs.db")},
		Log:   config.LogConfig{Level: "info", Format: "json"},
	}
}

const knownPoints = `
known:
  points:
    - {id: a, x: 1000, y: 1000, stocks: {pop: 500, jobs: 20}}
    - {id: b, x: 9000, y: 1500, stocks: {pop: 300, jobs: 80}}
    - {id: c, x: 5000, y: 5000, stocks: {pop: 1200, jobs: 400}}
    - {id: d, x: 2000, y: 8500, stocks: {pop: 100, jobs: 10}}
`

func writeRequest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "request.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunRequest_RasterOutputs(t *testing.T) {
	c := testConfig(t)
	path := writeRequest(t, `
mode: raster
variables: [pop, jobs]
ratio: {name: jobs_per_1000, numerator: jobs, denominator: pop, scale: 1000}
mask:
  rect: [0, 0, 10000, 10000]
resolution: 1000
output:
  json: out/result.json
  geojson: out/bands.geojson
  shapefile: out/bands.shp
  xlsx: out/potentials.xlsx
`+knownPoints)

	var stdout bytes.Buffer
	require.NoError(t, runRequest(context.Background(), c, path, &stdout))
	assert.Empty(t, stdout.String())

	dir := filepath.Dir(path)
	data, err := os.ReadFile(filepath.Join(dir, "out", "result.json"))
	require.NoError(t, err)
	var res struct {
		RunID    string    `json:"run_id"`
		Mode     string    `json:"mode"`
		Variable string    `json:"variable"`
		Breaks   []float64 `json:"breaks"`
	}
	require.NoError(t, json.Unmarshal(data, &res))
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "raster", res.Mode)
	assert.Equal(t, "jobs_per_1000", res.Variable)
	assert.Len(t, res.Breaks, 4)

	assert.FileExists(t, filepath.Join(dir, "out", "bands.geojson"))

	mask, err := shapes.ReadMask(filepath.Join(dir, "out", "bands.shp"))
	require.NoError(t, err)
	assert.Greater(t, mask.Area(), 0.0)

	wb, err := xlsx.OpenFile(filepath.Join(dir, "out", "potentials.xlsx"))
	require.NoError(t, err)
	assert.Contains(t, wb.Sheet, "potentials")
	assert.Contains(t, wb.Sheet, "breaks")

	st, err := store.NewSQLite(c.Store.DatabaseURL)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	run, err := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusComplete, run.Status)
	assert.Equal(t, "jobs_per_1000", run.Variable)
	assert.Equal(t, res.Breaks, run.Breaks)
}

func TestRunRequest_DiscreteToStdout(t *testing.T) {
	c := testConfig(t)
	path := writeRequest(t, "variables: [pop]\nclasses: 2\n"+knownPoints)

	var stdout bytes.Buffer
	require.NoError(t, runRequest(context.Background(), c, path, &stdout))

	var res struct {
		RunID   string `json:"run_id"`
		Mode    string `json:"mode"`
		Table   []any  `json:"table"`
		Classes []int  `json:"classes"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "discrete", res.Mode)
	assert.Len(t, res.Table, 4)
	assert.Len(t, res.Classes, 4)
}

func TestRunRequest_FailureIsLogged(t *testing.T) {
	c := testConfig(t)
	path := writeRequest(t, "variables: [gdp]\n"+knownPoints)

	err := runRequest(context.Background(), c, path, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gdp")

	st, err := store.NewSQLite(c.Store.DatabaseURL)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	runs, err := st.ListRuns(context.Background(), store.RunFilter{Status: store.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "gdp", runs[0].Variable)
}

func TestRunRequest_UnencodableRequest(t *testing.T) {
	c := testConfig(t)
	path := writeRequest(t, "variables: [pop]\nlimit: .nan\n"+knownPoints)

	err := runRequest(context.Background(), c, path, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode request")

	st, err := store.NewSQLite(c.Store.DatabaseURL)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunRequest_InvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Engine.Classes = 0
	err := runRequest(context.Background(), c, "unused.yaml", &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.classes")
}

func TestRunRequest_PostGISOutputNeedsDatabase(t *testing.T) {
	c := testConfig(t)
	path := writeRequest(t, "variables: [pop]\noutput: {postgis: true}\n"+knownPoints)
	err := runRequest(context.Background(), c, path, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgis.database_url")
}
