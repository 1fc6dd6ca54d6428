package coverage

import (
	"math"
	"sort"

	"github.com/paulmach/orb"

	"tz-rubeho/internal/boundary"
	"tz-rubeho/internal/geo"
)

// DefaultBufferM：吸收数字化缝隙的默认缓冲距离（米）
const DefaultBufferM = 1000.0

// ProjectedRegion：投影到米制坐标后的区域
type ProjectedRegion struct {
	Name     string
	Geometry orb.MultiPolygon
	Shape    *geo.Shape
	AreaM2   float64
}

// ProjectRegions：逐个投影已合并的区域
func ProjectRegions(regions []boundary.Region, u geo.UTM) []ProjectedRegion {
	out := make([]ProjectedRegion, len(regions))
	for i, r := range regions {
		mp := u.ProjectMultiPolygon(r.Geometry)
		out[i] = ProjectedRegion{Name: r.Name, Geometry: mp, Shape: geo.NewShape(mp), AreaM2: geo.Area(mp)}
	}
	return out
}

// FindAdjacent：目标区域并集向外缓冲 bufferM 后，与之相交的非目标区域
// 约束：结果不含目标区域本身；按名称排序；缓冲距离越大结果只增不减。
// 判定等价于「区域到目标并集的最小距离 ≤ bufferM」，完全被目标包围但相距超过缓冲的飞地不计入
func FindAdjacent(targets []string, regions []ProjectedRegion, bufferM float64) []string {
	isTarget := make(map[string]bool, len(targets))
	for _, t := range targets {
		isTarget[t] = true
	}
	var union orb.MultiPolygon
	for _, r := range regions {
		if isTarget[r.Name] {
			union = append(union, r.Geometry...)
		}
	}
	targetShape := geo.NewShape(union)
	out := []string{}
	if targetShape.Empty() {
		return out
	}
	for _, r := range regions {
		if isTarget[r.Name] {
			continue
		}
		if geo.Within(targetShape, r.Shape, bufferM) {
			out = append(out, r.Name)
		}
	}
	sort.Strings(out)
	return out
}

// AdjacencyPair：项目区域与邻接区域之间的距离关系
type AdjacencyPair struct {
	ProgramRegion    string  `json:"program_region"`
	AdjacentRegion   string  `json:"adjacent_region"`
	DistanceKm       float64 `json:"distance_km"`
	DirectlyAdjacent bool    `json:"directly_adjacent"`
	Nearby           bool    `json:"nearby"`
}

// AdjacencyReport：每个（项目区域, 邻接区域）组合的最小距离；
// 距离为 0 视为直接接壤，未接壤且距离小于 nearbyKm 视为邻近
func AdjacencyReport(program, adjacent []string, regions []ProjectedRegion, nearbyKm float64) []AdjacencyPair {
	byName := make(map[string]*ProjectedRegion, len(regions))
	for i := range regions {
		byName[regions[i].Name] = &regions[i]
	}
	out := []AdjacencyPair{}
	for _, p := range program {
		pr, ok := byName[p]
		if !ok {
			continue
		}
		for _, a := range adjacent {
			ar, ok := byName[a]
			if !ok {
				continue
			}
			d := geo.Distance(pr.Shape, ar.Shape)
			if math.IsInf(d, 1) {
				continue
			}
			km := d / 1000
			out = append(out, AdjacencyPair{
				ProgramRegion:    p,
				AdjacentRegion:   a,
				DistanceKm:       km,
				DirectlyAdjacent: d == 0,
				Nearby:           d > 0 && km < nearbyKm,
			})
		}
	}
	return out
}
