// 包 store: 提供与 PostgreSQL/PostGIS 的数据访问层，包含图层要素的相交查询与导入
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"geo-nearby/internal/logger"
)

// Store: 数据库访问入口，持有连接池并提供图层要素读写
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Open: 使用 DSN 打开数据库连接并配置连接池参数
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	return &Store{db: db}, nil
}

// Close: 关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Row: 一条图层要素记录；Geometry 为 GeoJSON 几何文本
type Row struct {
	FID      int64
	Attrs    map[string]any
	Geometry string
}

var ErrEmptyLayer = errors.New("empty layer name")

// 文档注释：按面域相交查询图层要素
// 背景：area 为 GeoJSON 几何文本，srid 为调用方地图表面的空间参考；数据库侧用 GIST 索引加速 ST_Intersects。
// 约束：area 为空时返回整层要素（用于渲染图层初始化）；几何原样返回，不做投影转换。
func (s *Store) Intersecting(ctx context.Context, layer, area string, srid int) ([]Row, error) {
	if layer == "" {
		return nil, ErrEmptyLayer
	}
	var (
		rows *sql.Rows
		err  error
	)
	if area == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT fid, attrs, ST_AsGeoJSON(geom) FROM nearby_features WHERE layer=$1 ORDER BY fid`, layer)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT fid, attrs, ST_AsGeoJSON(geom) FROM nearby_features
            WHERE layer=$1 AND ST_Intersects(geom, ST_SetSRID(ST_GeomFromGeoJSON($2), $3))
            ORDER BY fid`, layer, area, srid)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var r Row
		var attrs []byte
		if err := rows.Scan(&r.FID, &attrs, &r.Geometry); err != nil {
			return nil, err
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &r.Attrs); err != nil {
				return nil, fmt.Errorf("decode attrs fid=%d: %w", r.FID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logger.L().Debug("db_intersect_done", "layer", layer, "rows", len(out), "filtered", area != "")
	return out, nil
}

// 文档注释：整层替换导入
// 背景：导入工具以 GeoJSON 快照为准；在同一事务内先删除旧数据再逐条写入，失败整体回滚。
// 约束：srid 必须与渲染该图层的地图表面一致。
func (s *Store) ReplaceLayer(ctx context.Context, layer string, srid int, rows []Row) (err error) {
	if layer == "" {
		return ErrEmptyLayer
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM nearby_features WHERE layer=$1`, layer); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO nearby_features(layer, fid, attrs, geom)
        VALUES($1, $2, $3, ST_SetSRID(ST_GeomFromGeoJSON($4), $5))`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.Attrs == nil {
			r.Attrs = map[string]any{}
		}
		attrs, mErr := json.Marshal(r.Attrs)
		if mErr != nil {
			err = fmt.Errorf("encode attrs fid=%d: %w", r.FID, mErr)
			return err
		}
		if _, err = stmt.ExecContext(ctx, layer, r.FID, attrs, r.Geometry, srid); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	logger.L().Info("db_layer_replaced", "layer", layer, "rows", len(rows), "srid", srid)
	return nil
}

// LayerCount: 每个图层的要素数量
func (s *Store) LayerCount(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT layer, COUNT(1) FROM nearby_features GROUP BY layer`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}
