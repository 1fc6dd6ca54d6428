package boundary

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"tz-rubeho/internal/logger"
)

var ErrUnsupportedCRS = errors.New("boundary layer is not in geographic WGS84 coordinates")

// 文档注释：加载 ward 边界
// 约束：path 可为 .shp / .geojson / .json 文件，或包含 .shp 的目录（取排序后的第一个）；
// 仅接受 Polygon/MultiPolygon 几何，其他几何类型的要素被跳过并记录日志
func Load(path string) ([]Ward, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("boundary file: %w", err)
	}
	if st.IsDir() {
		shpPath, err := FindShapefile(path)
		if err != nil {
			return nil, err
		}
		path = shpPath
	}
	var wards []Ward
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		wards, err = loadShapefile(path)
	case ".geojson", ".json":
		wards, err = loadGeoJSON(path)
	default:
		return nil, fmt.Errorf("%s: unsupported boundary format", path)
	}
	if err != nil {
		return nil, err
	}
	logger.L().Info("wards_loaded", "path", path, "count", len(wards))
	return wards, nil
}

// FindShapefile：目录中第一个 .shp 文件
func FindShapefile(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.shp"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%s: no .shp file found", dir)
	}
	sort.Strings(matches)
	return matches[0], nil
}

func loadShapefile(path string) ([]Ward, error) {
	if err := checkPRJ(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	fields := r.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToLower(strings.TrimSpace(f.String()))
	}
	for _, req := range []string{AttrWard, AttrDistrict, AttrRegion} {
		if indexOf(names, req) < 0 {
			return nil, &MissingAttributeError{Path: path, Attribute: req}
		}
	}

	var wards []Ward
	for r.Next() {
		n, shape := r.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			logger.L().Warn("ward_shape_skipped", "row", n, "type", fmt.Sprintf("%T", shape))
			continue
		}
		attrs := make(map[string]string, len(names))
		for i, name := range names {
			attrs[name] = strings.TrimSpace(r.ReadAttribute(n, i))
		}
		wards = append(wards, newWard(attrs, shpToMultiPolygon(poly)))
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read shapefile: %w", err)
	}
	return wards, nil
}

// checkPRJ：.prj 存在时必须是地理坐标系（GEOGCS 且无 PROJCS）；缺失时按 WGS84 处理
func checkPRJ(prjPath string) error {
	b, err := os.ReadFile(prjPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	wkt := strings.ToUpper(string(b))
	if strings.Contains(wkt, "PROJCS") || !strings.Contains(wkt, "GEOGCS") {
		return ErrUnsupportedCRS
	}
	return nil
}

// shpToMultiPolygon：按 Parts 切分环；顺时针环为外环，逆时针环归入前一个外环作为洞（ESRI 约定）
func shpToMultiPolygon(p *shp.Polygon) orb.MultiPolygon {
	var mp orb.MultiPolygon
	for i := range p.Parts {
		start := int(p.Parts[i])
		end := len(p.Points)
		if i+1 < len(p.Parts) {
			end = int(p.Parts[i+1])
		}
		ring := make(orb.Ring, 0, end-start)
		for _, pt := range p.Points[start:end] {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		if len(ring) < 3 {
			continue
		}
		if ring.Orientation() == orb.CW || len(mp) == 0 {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		last := len(mp) - 1
		mp[last] = append(mp[last], ring)
	}
	return mp
}

func loadGeoJSON(path string) ([]Ward, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("%s: no features", path)
	}
	var wards []Ward
	for i, f := range fc.Features {
		attrs := make(map[string]string, len(f.Properties))
		for k, v := range f.Properties {
			attrs[strings.ToLower(k)] = propString(v)
		}
		// GeoJSON 无统一字段表，逐个要素检查
		for _, req := range []string{AttrWard, AttrDistrict, AttrRegion} {
			if _, ok := attrs[req]; !ok {
				return nil, &MissingAttributeError{Path: path, Attribute: req}
			}
		}
		var mp orb.MultiPolygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			mp = orb.MultiPolygon{g}
		case orb.MultiPolygon:
			mp = g
		default:
			logger.L().Warn("ward_shape_skipped", "row", i, "type", fmt.Sprintf("%T", f.Geometry))
			continue
		}
		wards = append(wards, newWard(attrs, mp))
	}
	return wards, nil
}

func newWard(attrs map[string]string, mp orb.MultiPolygon) Ward {
	return Ward{
		Name:     attrs[AttrWard],
		District: attrs[AttrDistrict],
		Region:   attrs[AttrRegion],
		Attrs:    attrs,
		Geometry: mp,
	}
}

func propString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return fmt.Sprintf("%v", x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", x)
	}
}

func indexOf(xs []string, s string) int {
	for i, x := range xs {
		if x == s {
			return i
		}
	}
	return -1
}
