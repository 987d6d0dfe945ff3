package migrate

import (
	"context"
	"database/sql"

	"geo-nearby/internal/logger"
)

// 背景：首次运行自动创建 PostGIS 扩展、要素表与空间索引，保障后续导入与相交查询
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；几何列不限定 SRID，由导入方写入
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		`CREATE TABLE IF NOT EXISTS nearby_features (
            layer TEXT NOT NULL,
            fid BIGINT NOT NULL,
            attrs JSONB NOT NULL DEFAULT '{}'::jsonb,
            geom GEOMETRY NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (layer, fid)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_nearby_features_geom ON nearby_features USING GIST (geom)`,
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
