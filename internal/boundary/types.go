// 包 boundary：行政区划边界（乡 ward）的加载与按区域合并
package boundary

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// 必需属性字段（来自全国 ward 边界 shapefile）
const (
	AttrWard     = "ward_name"
	AttrDistrict = "dist_name"
	AttrRegion   = "reg_name"
)

// Ward：最小行政单元；几何为 WGS84 经纬度
// 约束：加载后只读；Attrs 保留源文件的全部属性以便原样导出
type Ward struct {
	Name     string
	District string
	Region   string
	Attrs    map[string]string
	Geometry orb.MultiPolygon
}

// Region：按 reg_name 合并（dissolve）后的区域
// 约束：Geometry 为各 ward 多边形的集合而非拓扑并集；ward 互不重叠时面积与距离计算等价
type Region struct {
	Name     string
	Wards    int
	Geometry orb.MultiPolygon
}

// MissingAttributeError：边界文件缺少必需属性列
type MissingAttributeError struct {
	Path      string
	Attribute string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("%s: missing attribute %q", e.Path, e.Attribute)
}

func normalize(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
