// 包 geo：平面几何计算（UTM 投影、面积、最小距离、点入多边形）
// 约束：除 UTM.Project 的输入外，本包所有计算均假定坐标已投影为米制平面坐标
package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/wroge/wgs84"
)

// UTM：WGS84 横轴墨卡托分带投影，Zone 取 1..60，South 表示南半球假北距
// 分带固定，不随经度切换
type UTM struct {
	Zone  int
	South bool
}

// Projection：返回经纬度 → 平面坐标的转换函数，批量投影时复用
func (u UTM) Projection() orb.Projection {
	tr := wgs84.LonLat().To(wgs84.UTM(float64(u.Zone), !u.South))
	return func(p orb.Point) orb.Point {
		x, y, _ := tr(p[0], p[1], 0)
		return orb.Point{x, y}
	}
}

// Project：经纬度（orb.Point{lon, lat}，度）→ UTM 平面坐标（米）
func (u UTM) Project(p orb.Point) orb.Point {
	return u.Projection()(p)
}

// ProjectMultiPolygon：复制后投影，不修改输入几何
func (u UTM) ProjectMultiPolygon(mp orb.MultiPolygon) orb.MultiPolygon {
	return project.MultiPolygon(mp.Clone(), u.Projection())
}

// ProjectBound：投影包围盒的四个角点后取外包
func (u UTM) ProjectBound(b orb.Bound) orb.Bound {
	f := u.Projection()
	out := orb.Bound{Min: f(b.Min), Max: f(b.Min)}
	for _, c := range []orb.Point{{b.Min[0], b.Max[1]}, {b.Max[0], b.Min[1]}, b.Max} {
		out = out.Extend(f(c))
	}
	return out
}
