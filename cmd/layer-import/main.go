// 图层导入工具：把目录下的 GeoJSON 快照整层写入 PostGIS（nearby_features），供 postgis 数据源查询
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"geo-nearby/internal/config"
	"geo-nearby/internal/geom"
	"geo-nearby/internal/logger"
	"geo-nearby/internal/migrate"
	"geo-nearby/internal/selection"
	"geo-nearby/internal/store"
	"geo-nearby/internal/utils"
)

// 环境变量：IMPORT_DIR（默认 data/layers）、IMPORT_SRID（默认 4326）、IMPORT_ID_FIELD（默认 OBJECTID）、IMPORT_LAYERS（逗号分隔，空为全部）
func main() {
	config.LoadDotEnv()
	l := logger.Setup()
	dir := os.Getenv("IMPORT_DIR")
	if dir == "" {
		dir = filepath.Join("data", "layers")
	}
	srid := 4326
	if v := os.Getenv("IMPORT_SRID"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			l.Error("import_srid_invalid", "value", v)
			os.Exit(1)
		}
		srid = n
	}
	idField := os.Getenv("IMPORT_ID_FIELD")
	if idField == "" {
		idField = "OBJECTID"
	}

	files, err := geom.ScanDir(dir)
	if err != nil {
		l.Error("import_scan_error", "dir", dir, "err", err)
		os.Exit(1)
	}
	files = filterLayers(files, os.Getenv("IMPORT_LAYERS"))
	if len(files) == 0 {
		l.Warn("import_nothing", "dir", dir)
		return
	}

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	ctx := context.Background()
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}
	st := store.AttachDB(db)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	failed := 0
	for _, name := range names {
		fs, err := geom.LoadFile(files[name], idField)
		if err != nil {
			l.Error("import_load_error", "layer", name, "err", err)
			failed++
			continue
		}
		rows, skipped, err := toRows(fs, idField)
		if err != nil {
			l.Error("import_encode_error", "layer", name, "err", err)
			failed++
			continue
		}
		if err := st.ReplaceLayer(ctx, name, srid, rows); err != nil {
			l.Error("import_write_error", "layer", name, "err", err)
			failed++
			continue
		}
		l.Info("import_layer_ok", "layer", name, "rows", len(rows), "skipped", skipped)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// filterLayers 按逗号分隔的图层名过滤；空串返回全部
func filterLayers(files map[string]string, only string) map[string]string {
	if only == "" {
		return files
	}
	want := map[string]bool{}
	for _, n := range strings.Split(only, ",") {
		if n = strings.TrimSpace(n); n != "" {
			want[n] = true
		}
	}
	out := map[string]string{}
	for name, path := range files {
		if want[name] {
			out[name] = path
		}
	}
	return out
}

// 文档注释：要素转数据库行
// 约束：标识取自 idField；缺失或非整数的要素跳过并计数，重复标识视为错误（主键冲突会使整层回滚）。
func toRows(fs []*geom.Feature, idField string) ([]store.Row, int, error) {
	extract := selection.FieldExtractor(idField)
	seen := map[selection.ID]bool{}
	rows := make([]store.Row, 0, len(fs))
	skipped := 0
	for _, f := range fs {
		id, err := extract(f)
		if err != nil || f.Geometry == nil {
			skipped++
			continue
		}
		if seen[id] {
			return nil, skipped, fmt.Errorf("duplicate %s=%d", idField, id)
		}
		seen[id] = true
		b, err := json.Marshal(geojson.NewGeometry(f.Geometry))
		if err != nil {
			return nil, skipped, fmt.Errorf("encode geometry %s=%d: %w", idField, id, err)
		}
		rows = append(rows, store.Row{FID: int64(id), Attrs: f.Attributes, Geometry: string(b)})
	}
	return rows, skipped, nil
}
