package coverage

import (
	"errors"
	"sort"

	"github.com/paulmach/orb"

	"tz-rubeho/internal/boundary"
	"tz-rubeho/internal/geo"
	"tz-rubeho/internal/logger"
	"tz-rubeho/internal/roster"
)

// Params：一次规划运行的参数，全部可配置
type Params struct {
	BufferM           float64
	NearbyKm          float64
	UTM               geo.UTM
	EPSG              string
	GridLargeM        float64
	GridSmallM        float64
	GridCellWarnLimit float64

	// 非空时作为项目区域，不再由名册区县推导
	ProgramRegions     []string
	ExcludeWardPattern string
}

// CoveragePlan：region_coverage_plan.json 的结构
type CoveragePlan struct {
	ProgramRegions    []string         `json:"program_regions"`
	AdjacentRegions   []string         `json:"adjacent_regions"`
	AllTargetRegions  []string         `json:"all_target_regions"`
	ProgramDistricts  []string         `json:"program_districts"`
	UnmappedDistricts []string         `json:"unmapped_districts"`
	ProgramWards      []string         `json:"program_wards"`
	CoverageStats     CoverageStats    `json:"coverage_stats"`
	TreatmentWards    TreatmentSummary `json:"treatment_wards"`
	TreatmentByRegion map[string]int   `json:"treatment_by_region"`
	AdjacencyReport   []AdjacencyPair  `json:"adjacency_report"`
	GridEstimate      GridEstimate     `json:"grid_estimate"`
	SpatialBounds     map[string]BBox  `json:"spatial_bounds"`
	Parameters        PlanParameters   `json:"parameters"`
}

type CoverageStats struct {
	ProgramAreaKm2     float64            `json:"program_area_km2"`
	TotalAreaKm2       float64            `json:"total_area_km2"`
	ControlBufferRatio float64            `json:"control_buffer_ratio"`
	RegionAreaKm2      map[string]float64 `json:"region_area_km2"`
}

type TreatmentSummary struct {
	TotalTreatmentLocations int      `json:"total_treatment_locations"`
	MatchedTreatmentWards   int      `json:"matched_treatment_wards"`
	TreatmentWardList       []string `json:"treatment_ward_list"`
	MatchedPairs            []string `json:"matched_pairs"`
	MissingTreatmentWards   []string `json:"missing_treatment_wards"`
	MatchRate               float64  `json:"match_rate"`
}

// GridEstimate：按扩展区域投影包围盒估算的网格规模
type GridEstimate struct {
	WidthKm       float64 `json:"width_km"`
	HeightKm      float64 `json:"height_km"`
	LargeCellM    float64 `json:"large_cell_m"`
	LargeCells    float64 `json:"large_cells"`
	SmallCellM    float64 `json:"small_cell_m"`
	SmallCells    float64 `json:"small_cells"`
	LargeGridWarn bool    `json:"large_grid_warning"`
}

// BBox：WGS84 包围盒
type BBox struct {
	MinLongitude float64 `json:"min_longitude"`
	MinLatitude  float64 `json:"min_latitude"`
	MaxLongitude float64 `json:"max_longitude"`
	MaxLatitude  float64 `json:"max_latitude"`
}

type PlanParameters struct {
	BufferDistanceM   float64 `json:"buffer_distance_m"`
	NearbyThresholdKm float64 `json:"nearby_threshold_km"`
	TargetCRS         string  `json:"target_crs"`
	ProgramRegionsSet bool    `json:"program_regions_configured"`
}

// Result：计划摘要与待导出的 ward 图层
type Result struct {
	Plan  CoveragePlan
	Layer []FlaggedWard
	Match MatchResult
}

var ErrNoProgramRegions = errors.New("no program regions: roster districts not found in boundary layer")

// Build：由 ward 边界与项目名册生成覆盖计划
// 约束：纯计算、无 I/O；相同输入产出相同结果（列表均排序）
func Build(wards []boundary.Ward, recs []roster.ProgramRecord, p Params) (*Result, error) {
	l := logger.L()
	districts := roster.Districts(recs)
	mapping := boundary.DistrictRegions(wards)

	programSet := map[string]bool{}
	unmapped := []string{}
	for _, d := range districts {
		if r, ok := boundary.RegionOf(mapping, d); ok {
			programSet[r] = true
			l.Debug("district_region", "district", d, "region", r)
		} else {
			unmapped = append(unmapped, d)
			l.Warn("district_unmapped", "district", d)
		}
	}
	if len(p.ProgramRegions) > 0 {
		known := map[string]bool{}
		for _, w := range wards {
			known[w.Region] = true
		}
		programSet = map[string]bool{}
		for _, r := range p.ProgramRegions {
			if !known[r] {
				// 图层中不存在的区域不计入，否则面积与比值为 0
				l.Warn("program_region_unknown", "region", r)
				continue
			}
			programSet[r] = true
		}
	}
	program := sortedKeys(programSet)
	if len(program) == 0 {
		return nil, ErrNoProgramRegions
	}

	regions := ProjectRegions(boundary.Dissolve(wards), p.UTM)
	adjacent := FindAdjacent(program, regions, p.BufferM)
	adjacentSet := toSet(adjacent)
	extendedSet := toSet(append(append([]string{}, program...), adjacent...))
	l.Info("regions_resolved", "program", program, "adjacent", adjacent, "buffer_m", p.BufferM)

	plan := CoveragePlan{
		ProgramRegions:    program,
		AdjacentRegions:   adjacent,
		AllTargetRegions:  sortedKeys(extendedSet),
		ProgramDistricts:  nonNil(districts),
		UnmappedDistricts: unmapped,
		ProgramWards:      nonNil(roster.ProgramWards(recs, p.ExcludeWardPattern)),
		AdjacencyReport:   AdjacencyReport(program, adjacent, regions, p.NearbyKm),
		TreatmentByRegion: map[string]int{},
		SpatialBounds:     map[string]BBox{},
		Parameters: PlanParameters{
			BufferDistanceM:   p.BufferM,
			NearbyThresholdKm: p.NearbyKm,
			TargetCRS:         p.EPSG,
			ProgramRegionsSet: len(p.ProgramRegions) > 0,
		},
	}
	plan.CoverageStats = coverageStats(regions, programSet, extendedSet)
	plan.GridEstimate = gridEstimate(regions, extendedSet, p)

	relevant := boundary.FilterRegions(wards, extendedSet)
	rosterKeys := KeySet{}
	for _, loc := range roster.TreatmentLocations(recs) {
		rosterKeys[Key(loc.Ward, loc.District)] = struct{}{}
	}
	match := Match(WardKeys(relevant), rosterKeys)
	layer := FlagWards(relevant, match.Matched, programSet, adjacentSet)

	plan.TreatmentWards = TreatmentSummary{
		TotalTreatmentLocations: len(rosterKeys),
		MatchedTreatmentWards:   len(match.Matched),
		TreatmentWardList:       match.MatchedWardNames(),
		MatchedPairs:            match.Matched.Sorted(),
		MissingTreatmentWards:   match.Unmatched.Sorted(),
	}
	if len(rosterKeys) > 0 {
		plan.TreatmentWards.MatchRate = float64(len(match.Matched)) / float64(len(rosterKeys))
	}
	for _, k := range plan.TreatmentWards.MissingTreatmentWards {
		w, d := SplitKey(k)
		l.Warn("treatment_unmatched", "ward", w, "district", d)
	}

	var treat, prog, adj, all orb.MultiPolygon
	for _, fw := range layer {
		if fw.IsTreatment {
			plan.TreatmentByRegion[fw.Region]++
			treat = append(treat, fw.Geometry...)
		}
		if fw.IsProgramRegion {
			prog = append(prog, fw.Geometry...)
		}
		if fw.IsAdjacentRegion {
			adj = append(adj, fw.Geometry...)
		}
		all = append(all, fw.Geometry...)
	}
	for name, mp := range map[string]orb.MultiPolygon{
		"treatment_areas":  treat,
		"program_regions":  prog,
		"adjacent_regions": adj,
		"all_regions":      all,
	} {
		if b, ok := geo.Bounds(mp); ok {
			plan.SpatialBounds[name] = toBBox(b)
		}
	}

	l.Info("plan_built",
		"wards", len(layer),
		"treatment_locations", len(rosterKeys),
		"matched", len(match.Matched),
		"unmatched", len(match.Unmatched),
	)
	return &Result{Plan: plan, Layer: layer, Match: match}, nil
}

func coverageStats(regions []ProjectedRegion, program, extended map[string]bool) CoverageStats {
	st := CoverageStats{RegionAreaKm2: map[string]float64{}}
	for _, r := range regions {
		if !extended[r.Name] {
			continue
		}
		km2 := r.AreaM2 / 1e6
		st.RegionAreaKm2[r.Name] = km2
		st.TotalAreaKm2 += km2
		if program[r.Name] {
			st.ProgramAreaKm2 += km2
		}
	}
	if st.ProgramAreaKm2 > 0 {
		st.ControlBufferRatio = st.TotalAreaKm2 / st.ProgramAreaKm2
	}
	return st
}

func gridEstimate(regions []ProjectedRegion, extended map[string]bool, p Params) GridEstimate {
	g := GridEstimate{LargeCellM: p.GridLargeM, SmallCellM: p.GridSmallM}
	var mp orb.MultiPolygon
	for _, r := range regions {
		if extended[r.Name] {
			mp = append(mp, r.Geometry...)
		}
	}
	b, ok := geo.Bounds(mp)
	if !ok {
		return g
	}
	w := b.Max[0] - b.Min[0]
	h := b.Max[1] - b.Min[1]
	g.WidthKm = w / 1000
	g.HeightKm = h / 1000
	if p.GridLargeM > 0 {
		g.LargeCells = (w / p.GridLargeM) * (h / p.GridLargeM)
	}
	if p.GridSmallM > 0 {
		g.SmallCells = (w / p.GridSmallM) * (h / p.GridSmallM)
	}
	g.LargeGridWarn = p.GridCellWarnLimit > 0 && g.LargeCells > p.GridCellWarnLimit
	return g
}

func toBBox(b orb.Bound) BBox {
	return BBox{MinLongitude: b.Min[0], MinLatitude: b.Min[1], MaxLongitude: b.Max[0], MaxLatitude: b.Max[1]}
}

func toSet(xs []string) map[string]bool {
	out := make(map[string]bool, len(xs))
	for _, x := range xs {
		out[x] = true
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func nonNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}
