// 包 geom：要素与几何的最小数据结构，以及相交判定、GeoJSON/Esri JSON 编解码
package geom

import (
	"sync/atomic"

	"github.com/paulmach/orb"
)

// 文档注释：空间要素（一条记录）
// 背景：同一条底层记录在"查询结果"与"地图渲染"中是两个独立对象；两者仅能通过标识字段的值关联，不能比较指针。
// 约束：Attributes 的键顺序无意义；选中标记为单要素原子写，读写方之间不保证跨要素顺序。
type Feature struct {
	Geometry   orb.Geometry
	Attributes map[string]any
	selected   atomic.Bool
}

func NewFeature(g orb.Geometry, attrs map[string]any) *Feature {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &Feature{Geometry: g, Attributes: attrs}
}

func (f *Feature) Select()        { f.selected.Store(true) }
func (f *Feature) Unselect()      { f.selected.Store(false) }
func (f *Feature) Selected() bool { return f.selected.Load() }

// Attr 读取属性；要素或属性表为空时返回未命中
func (f *Feature) Attr(key string) (any, bool) {
	if f == nil || f.Attributes == nil {
		return nil, false
	}
	v, ok := f.Attributes[key]
	return v, ok
}

// 文档注释：复制要素
// 背景：内存数据源返回给调用方的必须是新对象，避免查询结果与渲染要素共享同一指针。
// 约束：属性表浅拷贝；几何为值语义切片，调用方不应原地修改坐标；选中状态不复制。
func (f *Feature) Clone() *Feature {
	attrs := make(map[string]any, len(f.Attributes))
	for k, v := range f.Attributes {
		attrs[k] = v
	}
	var g orb.Geometry
	if f.Geometry != nil {
		g = orb.Clone(f.Geometry)
	}
	return &Feature{Geometry: g, Attributes: attrs}
}
