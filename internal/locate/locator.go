// 包 locate：点位 → ward 定位（包围盒候选 → 点在面内 → 邻近 ward 兜底）
package locate

import (
	"math"
	"time"

	"tz-rubeho/internal/boundary"
	"tz-rubeho/internal/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Result：定位结果；Exact 为 false 表示点不在任何 ward 内，取最近 ward
type Result struct {
	Ward       string  `json:"ward"`
	District   string  `json:"district"`
	Region     string  `json:"region"`
	Exact      bool    `json:"exact"`
	DistanceKm float64 `json:"distance_km"`
}

type indexed struct {
	ward   *boundary.Ward
	bound  orb.Bound
	proj   orb.MultiPolygon
	pbound orb.Bound
}

// Locator：只读索引，可并发使用
type Locator struct {
	wards []indexed
	proj  orb.Projection
	maxKm float64
	cache *lru
}

// New：maxKm 为兜底的最大距离，<=0 时不做兜底
func New(wards []boundary.Ward, u geo.UTM, maxKm float64) *Locator {
	l := &Locator{proj: u.Projection(), maxKm: maxKm, cache: newLRU(4096, time.Hour)}
	for i := range wards {
		w := &wards[i]
		proj := u.ProjectMultiPolygon(w.Geometry)
		l.wards = append(l.wards, indexed{ward: w, bound: w.Geometry.Bound(), proj: proj, pbound: proj.Bound()})
	}
	return l
}

func (l *Locator) Len() int { return len(l.wards) }

// Locate：输入 WGS84 经纬度
func (l *Locator) Locate(lat, lon float64) (Result, bool) {
	key := encodeGeohash(lat, lon, 8)
	if r, ok, hit := l.cache.get(key); hit {
		return r, ok
	}
	r, ok := l.locate(lat, lon)
	l.cache.set(key, r, ok)
	return r, ok
}

func (l *Locator) locate(lat, lon float64) (Result, bool) {
	pt := orb.Point{lon, lat}
	for _, c := range l.wards {
		if !c.bound.Contains(pt) {
			continue
		}
		if geo.ContainsPoint(c.ward.Geometry, pt) {
			return result(c.ward, true, 0), true
		}
	}
	if l.maxKm <= 0 {
		return Result{}, false
	}
	pp := l.proj(pt)
	best, bestD := -1, math.Inf(1)
	for i, c := range l.wards {
		if !near(c.pbound, pp, bestD) {
			continue
		}
		for _, poly := range c.proj {
			// 点不在面内，到边界（含内环）的距离即到面的距离
			for _, ring := range poly {
				if d := planar.DistanceFrom(ring, pp); d < bestD {
					best, bestD = i, d
				}
			}
		}
	}
	if best < 0 || bestD/1000 > l.maxKm {
		return Result{}, false
	}
	return result(l.wards[best].ward, false, bestD/1000), true
}

func result(w *boundary.Ward, exact bool, km float64) Result {
	return Result{Ward: w.Name, District: w.District, Region: w.Region, Exact: exact, DistanceKm: math.Round(km*1000) / 1000}
}

// near：投影包围盒距离已超过当前最优时跳过
func near(b orb.Bound, p orb.Point, best float64) bool {
	dx := math.Max(0, math.Max(b.Min[0]-p[0], p[0]-b.Max[0]))
	dy := math.Max(0, math.Max(b.Min[1]-p[1], p[1]-b.Max[1]))
	return math.Hypot(dx, dy) <= best
}
