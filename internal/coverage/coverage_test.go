package coverage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tz-rubeho/internal/boundary"
	"tz-rubeho/internal/geo"
	"tz-rubeho/internal/roster"
)

func box(minLon, minLat, maxLon, maxLat float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{
		{minLon, minLat}, {maxLon, minLat}, {maxLon, maxLat}, {minLon, maxLat}, {minLon, minLat},
	}}}
}

func ward(name, district, region string, mp orb.MultiPolygon) boundary.Ward {
	return boundary.Ward{
		Name: name, District: district, Region: region, Geometry: mp,
		Attrs: map[string]string{boundary.AttrWard: name, boundary.AttrDistrict: district, boundary.AttrRegion: region},
	}
}

// 合成的边界：Morogoro 两个 ward；Dodoma 与之接壤；Iringa 相隔约 550 m；Pwani 相隔约 2.2 km；Lindi 远离
func fixtureWards() []boundary.Ward {
	return []boundary.Ward{
		ward("Kasanga", "Kilosa", "Morogoro", box(37.0, -7.0, 37.1, -6.9)),
		ward("Mtamba", "Kilosa", "Morogoro", box(37.1, -7.0, 37.2, -6.9)),
		ward("Chanzuru", "Mpwapwa", "Dodoma", box(37.2, -7.0, 37.3, -6.9)),
		ward("Idodi", "Iringa Rural", "Iringa", box(37.0, -7.1, 37.1, -7.005)),
		ward("Kibaha", "Kibaha", "Pwani", box(37.0, -6.88, 37.1, -6.78)),
		ward("Nachingwea", "Nachingwea", "Lindi", box(38.0, -7.0, 38.1, -6.9)),
	}
}

func fixtureRoster() []roster.ProgramRecord {
	return []roster.ProgramRecord{
		{Row: 2, Ward: "Kasanga", District: "Kilosa", ARR: true},
		{Row: 3, Ward: "kasanga ", District: "KILOSA", REDD: true},
		{Row: 4, Ward: "Mtamba", District: "Kilosa"},
		{Row: 5, Ward: "Ghost", District: "Kilosa", REDD: true},
		{Row: 6, Ward: "Lupiro", District: "Ulanga"},
		{Row: 7, Ward: "Rubeho TFS", District: "Kilosa"},
	}
}

func params() Params {
	return Params{
		BufferM:            DefaultBufferM,
		NearbyKm:           10,
		UTM:                geo.UTM{Zone: 36, South: true},
		EPSG:               "EPSG:32736",
		GridLargeM:         500,
		GridSmallM:         100,
		GridCellWarnLimit:  100000,
		ExcludeWardPattern: "TFS",
	}
}

func projected(t *testing.T) []ProjectedRegion {
	t.Helper()
	return ProjectRegions(boundary.Dissolve(fixtureWards()), geo.UTM{Zone: 36, South: true})
}

func TestKeyNormalization(t *testing.T) {
	assert.Equal(t, "KASANGA||KILOSA", Key("Kasanga", "Kilosa"))
	assert.Equal(t, Key("Kasanga", "Kilosa"), Key("kasanga ", "KILOSA"))
	w, d := SplitKey("KASANGA||KILOSA")
	assert.Equal(t, "KASANGA", w)
	assert.Equal(t, "KILOSA", d)
}

func TestMatch(t *testing.T) {
	shp := NewKeySet(Key("Kasanga", "Kilosa"), Key("Mtamba", "Kilosa"))
	rst := NewKeySet(Key("kasanga ", "KILOSA"), Key("Ghost", "Kilosa"))

	first := Match(shp, rst)
	assert.Equal(t, []string{"KASANGA||KILOSA"}, first.Matched.Sorted())
	assert.Equal(t, []string{"GHOST||KILOSA"}, first.Unmatched.Sorted())
	assert.Equal(t, []string{"KASANGA"}, first.MatchedWardNames())

	second := Match(shp, rst)
	assert.Equal(t, first, second)
}

func TestMatchEmpty(t *testing.T) {
	res := Match(KeySet{}, KeySet{})
	assert.Equal(t, []string{}, res.Matched.Sorted())
	assert.Equal(t, []string{}, res.Unmatched.Sorted())
}

func TestFlagWards(t *testing.T) {
	wards := fixtureWards()
	matched := NewKeySet(Key("KASANGA", "KILOSA"))
	flags := FlagWards(wards, matched, map[string]bool{"Morogoro": true}, map[string]bool{"Dodoma": true})
	require.Len(t, flags, len(wards))
	for _, f := range flags {
		assert.Equal(t, matched.Has(Key(f.Name, f.District)), f.IsTreatment, f.Name)
	}
	assert.True(t, flags[0].IsProgramRegion)
	assert.True(t, flags[2].IsAdjacentRegion)
	assert.Equal(t, flags, FlagWards(wards, matched, map[string]bool{"Morogoro": true}, map[string]bool{"Dodoma": true}))
}

func TestFindAdjacent(t *testing.T) {
	regions := projected(t)

	got := FindAdjacent([]string{"Morogoro"}, regions, 1000)
	assert.Equal(t, []string{"Dodoma", "Iringa"}, got)

	t.Run("irreflexive", func(t *testing.T) {
		for _, targets := range [][]string{{"Morogoro"}, {"Morogoro", "Dodoma"}, {"Lindi"}} {
			adj := FindAdjacent(targets, regions, 50000)
			for _, tgt := range targets {
				assert.NotContains(t, adj, tgt)
			}
		}
	})

	t.Run("monotonic in buffer distance", func(t *testing.T) {
		prev := map[string]bool{}
		for _, d := range []float64{1, 500, 1000, 3000, 100000, 200000} {
			cur := toSet(FindAdjacent([]string{"Morogoro"}, regions, d))
			for r := range prev {
				assert.True(t, cur[r], "%s dropped at buffer %v", r, d)
			}
			prev = cur
		}
		assert.True(t, prev["Lindi"], "a large buffer reaches distant regions")
	})

	t.Run("gap wider than buffer excluded", func(t *testing.T) {
		assert.NotContains(t, FindAdjacent([]string{"Morogoro"}, regions, 1000), "Pwani")
		assert.Contains(t, FindAdjacent([]string{"Morogoro"}, regions, 3000), "Pwani")
	})

	t.Run("unknown target", func(t *testing.T) {
		assert.Empty(t, FindAdjacent([]string{"Atlantis"}, regions, 1000))
	})
}

func TestFindAdjacentExclave(t *testing.T) {
	// 目标区域为带洞的环，洞中是与环相隔 2 km 左右的飞地
	ring := orb.MultiPolygon{{
		{{37.0, -7.0}, {37.2, -7.0}, {37.2, -6.8}, {37.0, -6.8}, {37.0, -7.0}},
		{{37.05, -6.95}, {37.05, -6.85}, {37.15, -6.85}, {37.15, -6.95}, {37.05, -6.95}},
	}}
	wards := []boundary.Ward{
		ward("Outer", "D1", "Ring", ring),
		ward("Inner", "D2", "Enclave", box(37.07, -6.93, 37.13, -6.87)),
	}
	regions := ProjectRegions(boundary.Dissolve(wards), geo.UTM{Zone: 36, South: true})
	assert.Empty(t, FindAdjacent([]string{"Ring"}, regions, 1000))
	assert.Equal(t, []string{"Enclave"}, FindAdjacent([]string{"Ring"}, regions, 3000))
}

func TestAdjacencyReport(t *testing.T) {
	regions := projected(t)
	rep := AdjacencyReport([]string{"Morogoro"}, []string{"Dodoma", "Iringa", "Lindi"}, regions, 10)
	require.Len(t, rep, 3)

	assert.Equal(t, "Dodoma", rep[0].AdjacentRegion)
	assert.True(t, rep[0].DirectlyAdjacent)
	assert.False(t, rep[0].Nearby)

	assert.InDelta(t, 0.553, rep[1].DistanceKm, 0.01)
	assert.False(t, rep[1].DirectlyAdjacent)
	assert.True(t, rep[1].Nearby)

	assert.Greater(t, rep[2].DistanceKm, 10.0)
	assert.False(t, rep[2].Nearby)
}

func TestBuild(t *testing.T) {
	res, err := Build(fixtureWards(), fixtureRoster(), params())
	require.NoError(t, err)
	p := res.Plan

	assert.Equal(t, []string{"Morogoro"}, p.ProgramRegions)
	assert.Equal(t, []string{"Dodoma", "Iringa"}, p.AdjacentRegions)
	assert.Equal(t, []string{"Dodoma", "Iringa", "Morogoro"}, p.AllTargetRegions)
	assert.Equal(t, []string{"Ulanga"}, p.UnmappedDistricts)
	assert.NotContains(t, p.ProgramWards, "Rubeho TFS")

	assert.Equal(t, 2, p.TreatmentWards.TotalTreatmentLocations)
	assert.Equal(t, 1, p.TreatmentWards.MatchedTreatmentWards)
	assert.Equal(t, []string{"KASANGA"}, p.TreatmentWards.TreatmentWardList)
	assert.Equal(t, []string{"GHOST||KILOSA"}, p.TreatmentWards.MissingTreatmentWards)
	assert.InDelta(t, 0.5, p.TreatmentWards.MatchRate, 1e-9)
	assert.Equal(t, map[string]int{"Morogoro": 1}, p.TreatmentByRegion)

	require.Len(t, res.Layer, 4, "wards outside program and adjacent regions are dropped")
	for _, w := range res.Layer {
		assert.Equal(t, w.Name == "Kasanga", w.IsTreatment, w.Name)
		assert.Equal(t, w.Region == "Morogoro", w.IsProgramRegion, w.Name)
		assert.Equal(t, w.Region == "Dodoma" || w.Region == "Iringa", w.IsAdjacentRegion, w.Name)
	}

	st := p.CoverageStats
	assert.Greater(t, st.ProgramAreaKm2, 200.0)
	assert.Greater(t, st.TotalAreaKm2, st.ProgramAreaKm2)
	assert.InDelta(t, st.TotalAreaKm2/st.ProgramAreaKm2, st.ControlBufferRatio, 1e-9)
	assert.Len(t, st.RegionAreaKm2, 3)

	tb := p.SpatialBounds["treatment_areas"]
	assert.Equal(t, BBox{MinLongitude: 37.0, MinLatitude: -7.0, MaxLongitude: 37.1, MaxLatitude: -6.9}, tb)
	all := p.SpatialBounds["all_regions"]
	assert.Equal(t, -7.1, all.MinLatitude)
	assert.Equal(t, 37.3, all.MaxLongitude)

	assert.Greater(t, p.GridEstimate.LargeCells, 0.0)
	assert.InDelta(t, p.GridEstimate.LargeCells*25, p.GridEstimate.SmallCells, 1e-6)
	assert.False(t, p.GridEstimate.LargeGridWarn)
	assert.Len(t, p.AdjacencyReport, 2)
}

func TestBuildTreatmentInvariant(t *testing.T) {
	res, err := Build(fixtureWards(), fixtureRoster(), params())
	require.NoError(t, err)

	rosterKeys := KeySet{}
	for _, loc := range roster.TreatmentLocations(fixtureRoster()) {
		rosterKeys[Key(loc.Ward, loc.District)] = struct{}{}
	}
	for _, w := range res.Layer {
		assert.Equal(t, rosterKeys.Has(Key(w.Name, w.District)), w.IsTreatment, w.Name)
	}
}

func TestBuildIdempotent(t *testing.T) {
	a, err := Build(fixtureWards(), fixtureRoster(), params())
	require.NoError(t, err)
	b, err := Build(fixtureWards(), fixtureRoster(), params())
	require.NoError(t, err)
	assert.Equal(t, a.Plan, b.Plan)
	assert.Equal(t, a.Match, b.Match)
	assert.Equal(t, a.Layer, b.Layer)
}

func TestBuildProgramRegionOverride(t *testing.T) {
	p := params()
	p.ProgramRegions = []string{"Lindi"}
	res, err := Build(fixtureWards(), fixtureRoster(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"Lindi"}, res.Plan.ProgramRegions)
	assert.Empty(t, res.Plan.AdjacentRegions)
	assert.True(t, res.Plan.Parameters.ProgramRegionsSet)
	assert.Equal(t, 0, res.Plan.TreatmentWards.MatchedTreatmentWards)
	assert.Zero(t, res.Plan.TreatmentWards.MatchRate)
}

func TestBuildProgramRegionOverrideDropsUnknown(t *testing.T) {
	p := params()
	p.ProgramRegions = []string{"Lindi", "Atlantis"}
	res, err := Build(fixtureWards(), fixtureRoster(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"Lindi"}, res.Plan.ProgramRegions)
	assert.Greater(t, res.Plan.CoverageStats.ProgramAreaKm2, 0.0)

	p.ProgramRegions = []string{"Atlantis"}
	_, err = Build(fixtureWards(), fixtureRoster(), p)
	assert.ErrorIs(t, err, ErrNoProgramRegions)
}

func TestBuildNoProgramRegions(t *testing.T) {
	_, err := Build(fixtureWards(), []roster.ProgramRecord{{Ward: "X", District: "Nowhere"}}, params())
	assert.ErrorIs(t, err, ErrNoProgramRegions)
}

func TestWriteOutputs(t *testing.T) {
	res, err := Build(fixtureWards(), fixtureRoster(), params())
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "processed")

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, PlanFile), []byte("stale"), 0o644))

	planPath, layerPath, err := WriteOutputs(dir, res)
	require.NoError(t, err)

	pb, err := os.ReadFile(planPath)
	require.NoError(t, err)
	var plan map[string]any
	require.NoError(t, json.Unmarshal(pb, &plan))
	assert.Equal(t, []any{"Morogoro"}, plan["program_regions"])
	assert.Contains(t, plan, "spatial_bounds")
	assert.Contains(t, plan, "coverage_stats")

	lb, err := os.ReadFile(layerPath)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(lb)
	require.NoError(t, err)
	require.Len(t, fc.Features, 4)
	first := fc.Features[0]
	assert.Equal(t, "Kasanga", first.Properties.MustString("ward_name"))
	assert.Equal(t, true, first.Properties["is_treatment"])
	assert.Equal(t, true, first.Properties["is_program_region"])
	assert.Equal(t, false, first.Properties["is_adjacent_region"])

	_, _, err = WriteOutputs(dir, res)
	require.NoError(t, err)
	again, err := os.ReadFile(planPath)
	require.NoError(t, err)
	assert.Equal(t, pb, again, "rerun overwrites with identical content")
}
