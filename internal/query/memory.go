package query

import (
	"context"
	"sync"

	"geo-nearby/internal/geom"
)

// 文档注释：内存数据源
// 背景：以 GeoJSON 快照初始化的只读要素集合，用于本地图层与测试；相交判定使用 geom.Intersects。
// 约束：每次查询返回要素副本；Where 子句不支持，非空时按无过滤处理；ReturnGeometry=false 时副本不带几何。
type MemorySource struct {
	id         string
	name       string
	idField    string
	selectable bool

	mu       sync.RWMutex
	features []*geom.Feature
}

func NewMemorySource(id, name, idField string, selectable bool, features []*geom.Feature) *MemorySource {
	if name == "" {
		name = id
	}
	return &MemorySource{id: id, name: name, idField: idField, selectable: selectable, features: features}
}

func (m *MemorySource) ID() string       { return m.id }
func (m *MemorySource) Name() string     { return m.name }
func (m *MemorySource) IDField() string  { return m.idField }
func (m *MemorySource) Selectable() bool { return m.selectable }

// Replace 替换全部要素
func (m *MemorySource) Replace(features []*geom.Feature) {
	m.mu.Lock()
	m.features = features
	m.mu.Unlock()
}

func (m *MemorySource) ExecuteQuery(ctx context.Context, q Query) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*geom.Feature, 0)
	for i, f := range m.features {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if q.Geometry != nil && !geom.Intersects(f.Geometry, q.Geometry) {
			continue
		}
		c := f.Clone()
		if !q.ReturnGeometry {
			c.Geometry = nil
		}
		out = append(out, c)
	}
	return &Result{Features: out}, nil
}
