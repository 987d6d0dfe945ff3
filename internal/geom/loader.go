package geom

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// 文档注释：从 GeoJSON 文件加载要素
// 背景：内存数据源与地图图层均由数据目录下的 GeoJSON 快照初始化；每次调用都构造新的要素对象。
// 约束：支持 FeatureCollection 与单个 Feature；idField 非空且属性缺失时，用 GeoJSON 顶层 id 回填。
func LoadFile(path, idField string) ([]*Feature, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(b, idField)
}

// Decode 解析 GeoJSON 字节
func Decode(b []byte, idField string) ([]*Feature, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	var fc *geojson.FeatureCollection
	if head.Type == "Feature" {
		f, err := geojson.UnmarshalFeature(b)
		if err != nil {
			return nil, fmt.Errorf("decode geojson: %w", err)
		}
		fc = geojson.NewFeatureCollection().Append(f)
	} else {
		var err error
		if fc, err = geojson.UnmarshalFeatureCollection(b); err != nil {
			return nil, fmt.Errorf("decode geojson: %w", err)
		}
	}
	out := make([]*Feature, 0, len(fc.Features))
	for _, gf := range fc.Features {
		attrs := make(map[string]any, len(gf.Properties)+1)
		for k, v := range gf.Properties {
			attrs[k] = v
		}
		if idField != "" && gf.ID != nil {
			if _, ok := attrs[idField]; !ok {
				attrs[idField] = gf.ID
			}
		}
		out = append(out, NewFeature(gf.Geometry, attrs))
	}
	return out, nil
}

// 文档注释：扫描目录下的 .geojson 文件
// 返回：文件名（去扩展名）到路径的映射，供按图层名加载。
func ScanDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".geojson") {
			continue
		}
		out[strings.TrimSuffix(name, filepath.Ext(name))] = filepath.Join(dir, name)
	}
	return out, nil
}
