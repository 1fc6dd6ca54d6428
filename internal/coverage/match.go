// 包 coverage：区域邻接、干预 ward 匹配与覆盖计划生成
package coverage

import (
	"sort"
	"strings"

	"tz-rubeho/internal/boundary"
)

// KeySep：ward 与区县之间的分隔符
const KeySep = "||"

// Key：规范化（去首尾空白、大写）后的 "WARD||DISTRICT"
func Key(ward, district string) string {
	return strings.ToUpper(strings.TrimSpace(ward)) + KeySep + strings.ToUpper(strings.TrimSpace(district))
}

// SplitKey：Key 的逆操作
func SplitKey(k string) (ward, district string) {
	ward, district, _ = strings.Cut(k, KeySep)
	return ward, district
}

// KeySet：规范化键集合
type KeySet map[string]struct{}

func NewKeySet(keys ...string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s KeySet) Has(k string) bool {
	_, ok := s[k]
	return ok
}

// Sorted：升序列表；空集合返回空切片而非 nil
func (s KeySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WardKeys：边界数据一侧的键集合
func WardKeys(wards []boundary.Ward) KeySet {
	s := make(KeySet, len(wards))
	for _, w := range wards {
		s[Key(w.Name, w.District)] = struct{}{}
	}
	return s
}

// MatchResult：Matched 为名册与边界的交集，Unmatched 为名册中边界缺失的部分（供人工核对）
type MatchResult struct {
	Matched   KeySet
	Unmatched KeySet
}

// Match：精确字符串匹配，不做模糊匹配
func Match(shapefile, roster KeySet) MatchResult {
	res := MatchResult{Matched: KeySet{}, Unmatched: KeySet{}}
	for k := range roster {
		if shapefile.Has(k) {
			res.Matched[k] = struct{}{}
		} else {
			res.Unmatched[k] = struct{}{}
		}
	}
	return res
}

// MatchedWardNames：匹配成功的 ward 名称（规范化、去重、排序）
func (m MatchResult) MatchedWardNames() []string {
	names := KeySet{}
	for k := range m.Matched {
		w, _ := SplitKey(k)
		names[w] = struct{}{}
	}
	return names.Sorted()
}

// FlaggedWard：导出图层中的 ward 及其标记
type FlaggedWard struct {
	boundary.Ward
	IsTreatment      bool
	IsProgramRegion  bool
	IsAdjacentRegion bool
}

// FlagWards：键在 matched 中即为干预 ward，其余为 false；输入不变时结果不变
func FlagWards(wards []boundary.Ward, matched KeySet, program, adjacent map[string]bool) []FlaggedWard {
	out := make([]FlaggedWard, len(wards))
	for i, w := range wards {
		out[i] = FlaggedWard{
			Ward:             w,
			IsTreatment:      matched.Has(Key(w.Name, w.District)),
			IsProgramRegion:  program[w.Region],
			IsAdjacentRegion: adjacent[w.Region],
		}
	}
	return out
}
