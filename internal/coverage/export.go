package coverage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"

	"tz-rubeho/internal/boundary"
	"tz-rubeho/internal/logger"
)

const (
	PlanFile  = "region_coverage_plan.json"
	LayerFile = "relevant_wards_with_flags.geojson"
)

// FeatureCollection：ward 图层（WGS84），属性为源属性加三个布尔标记
func FeatureCollection(layer []FlaggedWard) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, w := range layer {
		f := geojson.NewFeature(w.Geometry)
		for k, v := range w.Attrs {
			f.Properties[k] = v
		}
		f.Properties[boundary.AttrWard] = w.Name
		f.Properties[boundary.AttrDistrict] = w.District
		f.Properties[boundary.AttrRegion] = w.Region
		f.Properties["is_treatment"] = w.IsTreatment
		f.Properties["is_program_region"] = w.IsProgramRegion
		f.Properties["is_adjacent_region"] = w.IsAdjacentRegion
		fc.Append(f)
	}
	return fc
}

// WriteOutputs：写出计划 JSON 与 GeoJSON 图层，整体覆盖旧文件
// 约束：先写临时文件再重命名，写入失败时旧文件保持不变
func WriteOutputs(dir string, res *Result) (planPath, layerPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}
	layerPath = filepath.Join(dir, LayerFile)
	lb, err := json.Marshal(FeatureCollection(res.Layer))
	if err != nil {
		return "", "", fmt.Errorf("encode layer: %w", err)
	}
	if err := writeReplace(layerPath, lb); err != nil {
		return "", "", err
	}
	planPath = filepath.Join(dir, PlanFile)
	pb, err := json.MarshalIndent(res.Plan, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode plan: %w", err)
	}
	if err := writeReplace(planPath, append(pb, '\n')); err != nil {
		return "", "", err
	}
	logger.L().Info("plan_written", "plan", planPath, "layer", layerPath, "plan_bytes", len(pb), "layer_bytes", len(lb))
	return planPath, layerPath, nil
}

func writeReplace(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
