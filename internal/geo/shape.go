package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/planar"
	"github.com/peterstace/simplefeatures/geom"
)

// Shape：多面的 simplefeatures 表示加包围盒，用于反复的距离/相交判定
// 约束：坐标须为米制平面坐标；构建后只读
type Shape struct {
	g     geom.Geometry
	bound orb.Bound
	empty bool
}

// NewShape：经 WKB 转换；边界数据常有自相交，转换时不做有效性校验
// 转换失败（空环等）的输入视为空
func NewShape(mp orb.MultiPolygon) *Shape {
	s := &Shape{empty: true}
	if len(mp) == 0 {
		return s
	}
	b, err := wkb.Marshal(mp)
	if err != nil {
		return s
	}
	g, err := geom.UnmarshalWKB(b, geom.NoValidate{})
	if err != nil || g.IsEmpty() {
		return s
	}
	return &Shape{g: g, bound: mp.Bound()}
}

func (s *Shape) Empty() bool { return s == nil || s.empty }

func (s *Shape) Bound() orb.Bound { return s.bound }

// Distance：两个多面之间的最小平面距离；相交或包含时为 0，任一为空时为 +Inf
func Distance(a, b *Shape) float64 {
	if a.Empty() || b.Empty() {
		return math.Inf(1)
	}
	if Intersects(a, b) {
		return 0
	}
	d, ok := geom.Distance(a.g, b.g)
	if !ok {
		return math.Inf(1)
	}
	return d
}

// Within：两个多面的最小距离是否不超过 d
// 等价于 b 与 a 向外缓冲 d 后的区域相交（圆角缓冲）
func Within(a, b *Shape, d float64) bool {
	if a.Empty() || b.Empty() || boundDistance(a.bound, b.bound) > d {
		return false
	}
	return Distance(a, b) <= d
}

// Intersects：共享至少一个点（含边界接触）
func Intersects(a, b *Shape) bool {
	if a.Empty() || b.Empty() || !a.bound.Intersects(b.bound) {
		return false
	}
	return geom.Intersects(a.g, b.g)
}

func boundDistance(a, b orb.Bound) float64 {
	dx := math.Max(0, math.Max(a.Min[0]-b.Max[0], b.Min[0]-a.Max[0]))
	dy := math.Max(0, math.Max(a.Min[1]-b.Max[1], b.Min[1]-a.Max[1]))
	return math.Hypot(dx, dy)
}

// ContainsPoint：点是否落在多面任一部分内（洞内不算）
func ContainsPoint(mp orb.MultiPolygon, pt orb.Point) bool {
	return planar.MultiPolygonContains(mp, pt)
}

// Area：多面的平面面积（平方米）；洞已由 planar.Area 扣除
func Area(mp orb.MultiPolygon) float64 {
	total := 0.0
	for _, p := range mp {
		total += math.Abs(planar.Area(p))
	}
	return total
}

// Bounds：多组多面的合并包围盒；全部为空时 ok=false
func Bounds(mps ...orb.MultiPolygon) (orb.Bound, bool) {
	var out orb.Bound
	ok := false
	for _, mp := range mps {
		if len(mp) == 0 {
			continue
		}
		b := mp.Bound()
		if !ok {
			out, ok = b, true
			continue
		}
		out = out.Union(b)
	}
	return out, ok
}
