package boundary

import "sort"

// Dissolve：按 reg_name 合并 ward，返回按名称排序的区域列表
func Dissolve(wards []Ward) []Region {
	idx := map[string]int{}
	var out []Region
	for _, w := range wards {
		i, ok := idx[w.Region]
		if !ok {
			i = len(out)
			idx[w.Region] = i
			out = append(out, Region{Name: w.Region})
		}
		out[i].Wards++
		out[i].Geometry = append(out[i].Geometry, w.Geometry...)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// DistrictRegions：区县 → 所属区域，取加载顺序中第一次出现的 reg_name
// 约束：键为规范化（去空白、大写）后的区县名
func DistrictRegions(wards []Ward) map[string]string {
	out := map[string]string{}
	for _, w := range wards {
		k := normalize(w.District)
		if _, ok := out[k]; !ok {
			out[k] = w.Region
		}
	}
	return out
}

// RegionOf：查找区县所属区域
func RegionOf(mapping map[string]string, district string) (string, bool) {
	r, ok := mapping[normalize(district)]
	return r, ok
}

// FilterRegions：保留属于给定区域集合的 ward，保持原顺序
func FilterRegions(wards []Ward, regions map[string]bool) []Ward {
	var out []Ward
	for _, w := range wards {
		if regions[w.Region] {
			out = append(out, w)
		}
	}
	return out
}
