// 包 store：PostgreSQL 归档层，记录规划运行结果与标注导出
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tz-rubeho/internal/coverage"
	"tz-rubeho/internal/logger"

	"github.com/lib/pq"
)

// Store：持有连接池；表结构由 migrate.EnsureSchema 创建
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// SaveRun：写入一次规划运行，返回记录 id
func (s *Store) SaveRun(ctx context.Context, plan *coverage.CoveragePlan) (int64, error) {
	body, err := json.Marshal(plan)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `INSERT INTO _coverage_runs
        (buffer_m, program_regions, adjacent_regions, matched_wards, treatment_locations, match_rate, plan)
        VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		plan.Parameters.BufferDistanceM,
		pq.Array(plan.ProgramRegions),
		pq.Array(plan.AdjacentRegions),
		plan.TreatmentWards.MatchedTreatmentWards,
		plan.TreatmentWards.TotalTreatmentLocations,
		plan.TreatmentWards.MatchRate,
		string(body),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save coverage run: %w", err)
	}
	logger.L().Debug("coverage_run_saved", "id", id)
	return id, nil
}

// RunSummary：归档列表项
type RunSummary struct {
	ID              int64
	CreatedAt       time.Time
	BufferM         float64
	ProgramRegions  []string
	AdjacentRegions []string
	MatchedWards    int
	MatchRate       float64
}

// RecentRuns：按时间倒序列出最近的运行
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, buffer_m, program_regions, adjacent_regions, matched_wards, match_rate
        FROM _coverage_runs ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.BufferM, pq.Array(&r.ProgramRegions), pq.Array(&r.AdjacentRegions), &r.MatchedWards, &r.MatchRate); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AnnotationExport：一次下载的快照
type AnnotationExport struct {
	SessionID string
	Format    string // csv|html
	Total     int
	Treatment int
	Control   int
	Body      string
}

// SaveAnnotationExport：记录导出内容，便于事后追溯
func (s *Store) SaveAnnotationExport(ctx context.Context, e AnnotationExport) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO _annotation_exports
        (session_id, format, total, treatment, control, body) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.SessionID, e.Format, e.Total, e.Treatment, e.Control, e.Body)
	if err != nil {
		return fmt.Errorf("save annotation export: %w", err)
	}
	logger.L().Debug("annotation_export_saved", "session", e.SessionID, "format", e.Format, "total", e.Total)
	return nil
}

// CountExports：某会话的导出次数
func (s *Store) CountExports(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM _annotation_exports WHERE session_id=$1`, sessionID).Scan(&n)
	return n, err
}
