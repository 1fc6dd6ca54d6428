package annotate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// CSV 列顺序
var Columns = []string{"latitude", "longitude", "is_treatment", "timestamp", "type"}

// ValidLatitude：有限值且位于 [-90, 90]；NaN/Inf 不可序列化为 JSON
func ValidLatitude(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= -90 && v <= 90
}

// ValidLongitude：有限值且位于 [-180, 180]
func ValidLongitude(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= -180 && v <= 180
}

// ImportError：上传文件无法解析；Row 为 0 表示表头问题
type ImportError struct {
	Row     int
	Message string
}

func (e *ImportError) Error() string {
	if e.Row == 0 {
		return "annotations csv: " + e.Message
	}
	return fmt.Sprintf("annotations csv row %d: %s", e.Row, e.Message)
}

// WriteCSV：按列顺序写出；布尔值写作 True/False 以兼容既有文件
func WriteCSV(w io.Writer, anns []Annotation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, a := range anns {
		rec := []string{
			strconv.FormatFloat(a.Latitude, 'f', -1, 64),
			strconv.FormatFloat(a.Longitude, 'f', -1, 64),
			pyBool(a.IsTreatment),
			a.Timestamp,
			a.Type,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV：解析上传的标注文件
// 约束：latitude/longitude/is_treatment 必需；type 缺失时由 is_treatment 推导；
// 任一行无效即整体失败，调用方的会话保持不变
func ReadCSV(r io.Reader) ([]Annotation, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ImportError{Message: "file is empty"}
	}
	if err != nil {
		return nil, &ImportError{Message: err.Error()}
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, req := range Columns[:3] {
		if _, ok := col[req]; !ok {
			return nil, &ImportError{Message: fmt.Sprintf("missing column %q", req)}
		}
	}
	cell := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	out := []Annotation{}
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ImportError{Row: row, Message: err.Error()}
		}
		lat, err := strconv.ParseFloat(cell(rec, "latitude"), 64)
		if err != nil || !ValidLatitude(lat) {
			return nil, &ImportError{Row: row, Message: fmt.Sprintf("invalid latitude %q", cell(rec, "latitude"))}
		}
		lon, err := strconv.ParseFloat(cell(rec, "longitude"), 64)
		if err != nil || !ValidLongitude(lon) {
			return nil, &ImportError{Row: row, Message: fmt.Sprintf("invalid longitude %q", cell(rec, "longitude"))}
		}
		treat, err := strconv.ParseBool(cell(rec, "is_treatment"))
		if err != nil {
			return nil, &ImportError{Row: row, Message: fmt.Sprintf("invalid is_treatment %q", cell(rec, "is_treatment"))}
		}
		typ := cell(rec, "type")
		if typ == "" {
			typ = string(modeFor(treat))
		} else if m, ok := ParseMode(typ); !ok || m != modeFor(treat) {
			return nil, &ImportError{Row: row, Message: fmt.Sprintf("type %q does not match is_treatment=%v", typ, treat)}
		} else {
			typ = string(m)
		}
		out = append(out, Annotation{
			Latitude:    lat,
			Longitude:   lon,
			IsTreatment: treat,
			Timestamp:   cell(rec, "timestamp"),
			Type:        typ,
		})
	}
	return out, nil
}

func modeFor(treatment bool) Mode {
	if treatment {
		return ModeTreatment
	}
	return ModeControl
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
