// 包 roster：项目名册（Excel "Villages" 工作表）读取与干预标记解析
package roster

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"tz-rubeho/internal/logger"
)

// 表头（大小写与首尾空白不敏感）
const (
	ColWard     = "Ward"
	ColDistrict = "District"
	ColARR      = "ARR"
	ColREDD     = "REDD"
	ColVillage  = "Village"
)

// ProgramRecord：名册中的一行；Row 为工作表中的 1 基行号
type ProgramRecord struct {
	Row      int
	Village  string
	Ward     string
	District string
	ARR      bool
	REDD     bool
}

// IsTreatment：ARR 或 REDD 任一为 1 即视为干预点
func (r ProgramRecord) IsTreatment() bool { return r.ARR || r.REDD }

// MissingColumnError：缺少必需列
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("roster: missing column %q", e.Column)
}

// RowError：单元格内容无法解析
type RowError struct {
	Row     int
	Column  string
	Value   string
	Message string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("roster row %d, column %s: %s (%q)", e.Row, e.Column, e.Message, e.Value)
}

// Load：读取工作簿中的指定工作表
func Load(path, sheet string) ([]ProgramRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("roster sheet %q: %w", sheet, err)
	}
	recs, err := Parse(rows)
	if err != nil {
		return nil, err
	}
	logger.L().Info("roster_loaded", "path", path, "sheet", sheet, "rows", len(recs))
	return recs, nil
}

// Parse：首行为表头；跳过 Ward 与 District 均为空的行
func Parse(rows [][]string) ([]ProgramRecord, error) {
	if len(rows) == 0 {
		return nil, errors.New("roster: sheet is empty")
	}
	idx := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		k := normalizeHeader(h)
		if _, dup := idx[k]; !dup {
			idx[k] = i
		}
	}
	for _, c := range []string{ColWard, ColDistrict, ColARR, ColREDD} {
		if _, ok := idx[normalizeHeader(c)]; !ok {
			return nil, &MissingColumnError{Column: c}
		}
	}
	get := func(row []string, col string) string {
		i, ok := idx[normalizeHeader(col)]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []ProgramRecord
	for n, row := range rows[1:] {
		rowNum := n + 2
		rec := ProgramRecord{
			Row:      rowNum,
			Village:  get(row, ColVillage),
			Ward:     get(row, ColWard),
			District: get(row, ColDistrict),
		}
		if rec.Ward == "" && rec.District == "" {
			continue
		}
		var err error
		if rec.ARR, err = parseFlag(rowNum, ColARR, get(row, ColARR)); err != nil {
			return nil, err
		}
		if rec.REDD, err = parseFlag(rowNum, ColREDD, get(row, ColREDD)); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// parseFlag：空白为 false；数值等于 1 为 true，其余数值为 false
func parseFlag(row int, col, v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return false, &RowError{Row: row, Column: col, Value: v, Message: "flag is not numeric"}
	}
	return f == 1, nil
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
