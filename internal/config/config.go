// 包 config：规划参数与路径配置；默认值 → YAML 文件 → 环境变量，后者覆盖前者
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultFile = "config/settings.yaml"

// Settings：规划与标注工具共享的参数
// 约束：距离单位为米，阈值单位为千米；投影固定为 UTM（WGS84 椭球）
type Settings struct {
	DataDir      string `yaml:"data_dir"`
	WardsPath    string `yaml:"wards_path"`
	RosterPath   string `yaml:"roster_path"`
	RosterSheet  string `yaml:"roster_sheet"`
	ProcessedDir string `yaml:"processed_dir"`

	UTMZone  int  `yaml:"utm_zone"`
	UTMSouth bool `yaml:"utm_south"`

	BufferDistanceM   float64 `yaml:"buffer_distance_m"`
	NearbyThresholdKm float64 `yaml:"nearby_threshold_km"`

	GridSizeLargeM    float64 `yaml:"grid_size_large_m"`
	GridSizeSmallM    float64 `yaml:"grid_size_small_m"`
	GridCellWarnLimit float64 `yaml:"grid_cell_warn_limit"`

	// 非空时直接作为项目区域，跳过由名册区县推导
	ProgramRegions     []string `yaml:"program_regions"`
	ExcludeWardPattern string   `yaml:"exclude_ward_pattern"`

	Map MapSettings `yaml:"map"`
}

type MapSettings struct {
	CenterLat float64 `yaml:"center_lat"`
	CenterLon float64 `yaml:"center_lon"`
	Zoom      int     `yaml:"zoom"`
}

func Defaults() Settings {
	return Settings{
		DataDir:            "data",
		RosterSheet:        "Villages",
		UTMZone:            36,
		UTMSouth:           true,
		BufferDistanceM:    1000,
		NearbyThresholdKm:  10,
		GridSizeLargeM:     500,
		GridSizeSmallM:     100,
		GridCellWarnLimit:  100000,
		ExcludeWardPattern: "TFS",
		Map:                MapSettings{CenterLat: -6.8, CenterLon: 37.5, Zoom: 7},
	}
}

// Load：读取配置文件（可为空路径）并叠加环境变量
// 约束：显式传入的文件不存在时报错；默认文件不存在时静默使用默认值
func Load(path string) (Settings, error) {
	s := Defaults()
	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_FILE")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultFile
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &s); err != nil {
			return s, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return s, fmt.Errorf("read %s: %w", path, err)
	}
	if err := s.applyEnv(); err != nil {
		return s, err
	}
	s.fillPaths()
	return s, s.Validate()
}

func (s *Settings) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("DATA_DIR", &s.DataDir)
	str("WARDS_PATH", &s.WardsPath)
	str("ROSTER_PATH", &s.RosterPath)
	str("ROSTER_SHEET", &s.RosterSheet)
	str("PROCESSED_DIR", &s.ProcessedDir)
	str("EXCLUDE_WARD_PATTERN", &s.ExcludeWardPattern)
	if v := os.Getenv("PROGRAM_REGIONS"); v != "" {
		s.ProgramRegions = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				s.ProgramRegions = append(s.ProgramRegions, p)
			}
		}
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{"BUFFER_DISTANCE_M", &s.BufferDistanceM},
		{"NEARBY_THRESHOLD_KM", &s.NearbyThresholdKm},
		{"GRID_SIZE_LARGE_M", &s.GridSizeLargeM},
		{"GRID_SIZE_SMALL_M", &s.GridSizeSmallM},
		{"GRID_CELL_WARN_LIMIT", &s.GridCellWarnLimit},
		{"MAP_CENTER_LAT", &s.Map.CenterLat},
		{"MAP_CENTER_LON", &s.Map.CenterLon},
	}
	for _, f := range floats {
		if v := os.Getenv(f.key); v != "" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = n
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"UTM_ZONE", &s.UTMZone},
		{"MAP_ZOOM", &s.Map.Zoom},
	}
	for _, f := range ints {
		if v := os.Getenv(f.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = n
		}
	}
	if v := os.Getenv("UTM_SOUTH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("UTM_SOUTH: %w", err)
		}
		s.UTMSouth = b
	}
	return nil
}

// fillPaths：按数据目录约定补全未配置的路径
// data/raw/ALL WARDS TANZANIA、data/raw/Rubeho Villages for HH survey - v2.xlsx、data/processed
func (s *Settings) fillPaths() {
	raw := filepath.Join(s.DataDir, "raw")
	if s.WardsPath == "" {
		s.WardsPath = filepath.Join(raw, "ALL WARDS TANZANIA")
	}
	if s.RosterPath == "" {
		s.RosterPath = filepath.Join(raw, "Rubeho Villages for HH survey - v2.xlsx")
	}
	if s.ProcessedDir == "" {
		s.ProcessedDir = filepath.Join(s.DataDir, "processed")
	}
}

func (s Settings) Validate() error {
	switch {
	case s.BufferDistanceM <= 0:
		return fmt.Errorf("buffer_distance_m must be positive, got %v", s.BufferDistanceM)
	case s.NearbyThresholdKm <= 0:
		return fmt.Errorf("nearby_threshold_km must be positive, got %v", s.NearbyThresholdKm)
	case s.GridSizeLargeM <= 0 || s.GridSizeSmallM <= 0:
		return fmt.Errorf("grid sizes must be positive, got %v/%v", s.GridSizeLargeM, s.GridSizeSmallM)
	case s.UTMZone < 1 || s.UTMZone > 60:
		return fmt.Errorf("utm_zone must be within 1..60, got %d", s.UTMZone)
	case s.RosterSheet == "":
		return errors.New("roster_sheet is empty")
	}
	return nil
}

// EPSG：当前 UTM 区带对应的 EPSG 代码（北半球 326xx，南半球 327xx）
func (s Settings) EPSG() string {
	base := 32600
	if s.UTMSouth {
		base = 32700
	}
	return "EPSG:" + strconv.Itoa(base+s.UTMZone)
}
