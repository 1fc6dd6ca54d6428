package roster

import "strings"

// Location：去重后的（ward, district）组合，保留首次出现时的原始写法
type Location struct {
	Ward     string
	District string
}

// Districts：名册中出现的区县，按首次出现顺序去重（原始写法，去首尾空白）
func Districts(recs []ProgramRecord) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range recs {
		if r.District == "" || seen[r.District] {
			continue
		}
		seen[r.District] = true
		out = append(out, r.District)
	}
	return out
}

// ProgramWards：项目涉及的 ward 名称，排除名称中含非 ward 标记（如 "TFS" 林业站）的条目
func ProgramWards(recs []ProgramRecord, excludePattern string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range recs {
		if r.Ward == "" || seen[r.Ward] {
			continue
		}
		if excludePattern != "" && strings.Contains(r.Ward, excludePattern) {
			continue
		}
		seen[r.Ward] = true
		out = append(out, r.Ward)
	}
	return out
}

// TreatmentLocations：ARR 或 REDD 为 1 的行，按规范化（ward, district）去重
func TreatmentLocations(recs []ProgramRecord) []Location {
	seen := map[string]bool{}
	var out []Location
	for _, r := range recs {
		if !r.IsTreatment() {
			continue
		}
		k := strings.ToUpper(strings.TrimSpace(r.Ward)) + "\x00" + strings.ToUpper(strings.TrimSpace(r.District))
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, Location{Ward: r.Ward, District: r.District})
	}
	return out
}
