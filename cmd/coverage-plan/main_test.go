package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"tz-rubeho/internal/coverage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const wardsGeoJSON = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"ward_name":"Kasanga","dist_name":"Kilosa","reg_name":"Morogoro"},
 "geometry":{"type":"Polygon","coordinates":[[[37.0,-7.0],[37.1,-7.0],[37.1,-6.9],[37.0,-6.9],[37.0,-7.0]]]}},
{"type":"Feature","properties":{"ward_name":"Mpwapwa Mjini","dist_name":"Mpwapwa","reg_name":"Dodoma"},
 "geometry":{"type":"Polygon","coordinates":[[[37.1,-7.0],[37.2,-7.0],[37.2,-6.9],[37.1,-6.9],[37.1,-7.0]]]}},
{"type":"Feature","properties":{"ward_name":"Mingoyo","dist_name":"Lindi","reg_name":"Lindi"},
 "geometry":{"type":"Polygon","coordinates":[[[39.0,-10.0],[39.1,-10.0],[39.1,-9.9],[39.0,-9.9],[39.0,-10.0]]]}}
]}`

func fixtures(t *testing.T) (wards, rosterPath, out string) {
	t.Helper()
	dir := t.TempDir()
	wards = filepath.Join(dir, "wards.geojson")
	require.NoError(t, os.WriteFile(wards, []byte(wardsGeoJSON), 0o644))

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	_, err := f.NewSheet("Villages")
	require.NoError(t, err)
	rows := [][]any{
		{"Village", "Ward", "District", "ARR", "REDD"},
		{"Ikwamba", "Kasanga", "Kilosa", 1, 0},
		{"Lupiro", "Lupiro", "Ulanga", 0, 1},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow("Villages", cell, &r))
	}
	rosterPath = filepath.Join(dir, "roster.xlsx")
	require.NoError(t, f.SaveAs(rosterPath))
	return wards, rosterPath, filepath.Join(dir, "processed")
}

func TestCoveragePlanCommand(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	wards, rosterPath, out := fixtures(t)

	cmd := rootCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--wards", wards, "--roster", rosterPath, "--out", out, "--buffer", "500"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, stdout.String(), "Program regions:  Morogoro")
	assert.Contains(t, stdout.String(), "Adjacent regions: Dodoma")

	b, err := os.ReadFile(filepath.Join(out, coverage.PlanFile))
	require.NoError(t, err)
	var plan coverage.CoveragePlan
	require.NoError(t, json.Unmarshal(b, &plan))
	assert.Equal(t, []string{"Morogoro"}, plan.ProgramRegions)
	assert.Equal(t, []string{"Dodoma"}, plan.AdjacentRegions)
	assert.Equal(t, []string{"Ulanga"}, plan.UnmappedDistricts)
	assert.Equal(t, 500.0, plan.Parameters.BufferDistanceM)
	assert.Equal(t, "EPSG:32736", plan.Parameters.TargetCRS)
	assert.Equal(t, []string{"KASANGA||KILOSA"}, plan.TreatmentWards.MatchedPairs)

	_, err = os.Stat(filepath.Join(out, coverage.LayerFile))
	require.NoError(t, err)
}

func TestDistrictsCommand(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	wards, rosterPath, _ := fixtures(t)

	cmd := rootCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"districts", "--wards", wards, "--roster", rosterPath})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "Kilosa -> Morogoro\nUnmapped: Ulanga\n", stdout.String())
}

func TestCoveragePlanCommandBadBuffer(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	wards, rosterPath, out := fixtures(t)

	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--wards", wards, "--roster", rosterPath, "--out", out, "--buffer", "-1"})
	assert.Error(t, cmd.Execute())
}

func TestCoveragePlanPushesRunCount(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	wards, rosterPath, out := fixtures(t)

	var (
		mu   sync.Mutex
		path string
		body string
	)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body = r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(gw.Close)
	t.Setenv("PUSHGATEWAY_URL", gw.URL)

	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--wards", wards, "--roster", rosterPath, "--out", out})
	require.NoError(t, cmd.Execute())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/metrics/job/coverage_plan", path)
	assert.Contains(t, body, "rubeho_plan_runs_total")
}
