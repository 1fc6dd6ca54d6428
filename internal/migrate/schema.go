// 包 migrate：归档库结构初始化
package migrate

import (
	"context"
	"database/sql"

	"tz-rubeho/internal/logger"
)

// EnsureSchema：创建规划运行与标注导出两张归档表
// 约束：使用 IF NOT EXISTS，可重复执行；只建表与索引，不做数据迁移
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _coverage_runs (
            id BIGSERIAL PRIMARY KEY,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            buffer_m DOUBLE PRECISION NOT NULL,
            program_regions TEXT[] NOT NULL,
            adjacent_regions TEXT[] NOT NULL,
            matched_wards INT NOT NULL,
            treatment_locations INT NOT NULL,
            match_rate DOUBLE PRECISION NOT NULL,
            plan JSONB NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_coverage_runs_created ON _coverage_runs(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS _annotation_exports (
            id BIGSERIAL PRIMARY KEY,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            session_id TEXT NOT NULL,
            format TEXT NOT NULL,
            total INT NOT NULL,
            treatment INT NOT NULL,
            control INT NOT NULL,
            body TEXT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_annotation_exports_session ON _annotation_exports(session_id, created_at DESC)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
