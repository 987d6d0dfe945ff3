// 包 mapview：宿主地图表面的进程内实现（表面、图层与渲染要素集合）
package mapview

import (
	"sync"

	"geo-nearby/internal/geom"
	"geo-nearby/internal/selection"
)

// 文档注释：宿主绑定接口
// 背景：编排器只需要"数据源由哪个地图表面承载"这一查询；表面本身再提供图层与渲染要素。
type Host interface {
	SurfaceFor(sourceID string) (*Surface, bool)
}

// 文档注释：地图表面（渲染上下文）
// 背景：一个表面承载多个数据源的渲染图层；缓冲与查询都使用表面的空间参考，使返回几何可以与渲染几何直接比较。
// 约束：图层按数据源 ID 唯一；表面 ID 用于跨表面比较，不比较指针。
type Surface struct {
	ID         string
	SpatialRef int

	mu     sync.RWMutex
	layers map[string]*Layer
	order  []string
}

func NewSurface(id string, spatialRef int) *Surface {
	return &Surface{ID: id, SpatialRef: spatialRef, layers: map[string]*Layer{}}
}

// AddLayer 为数据源挂载渲染图层；已存在时替换其要素
func (s *Surface) AddLayer(sourceID string, features []*geom.Feature) *Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.layers[sourceID]; ok {
		l.Replace(features)
		return l
	}
	l := &Layer{SourceID: sourceID, features: append([]*geom.Feature(nil), features...)}
	s.layers[sourceID] = l
	s.order = append(s.order, sourceID)
	return l
}

func (s *Surface) RemoveLayer(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.layers[sourceID]; !ok {
		return
	}
	delete(s.layers, sourceID)
	for i, id := range s.order {
		if id == sourceID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Surface) Layer(sourceID string) (*Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.layers[sourceID]
	return l, ok
}

func (s *Surface) Hosts(sourceID string) bool {
	_, ok := s.Layer(sourceID)
	return ok
}

// Sources 按挂载顺序返回数据源 ID
func (s *Surface) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// 文档注释：渲染图层
// 背景：持有某数据源在表面上当前渲染的要素；选中标记直接写在要素上，对齐过程中读方可能看到中间状态。
type Layer struct {
	SourceID string

	mu       sync.RWMutex
	features []*geom.Feature
}

// Features 返回要素切片的副本；要素对象本身共享
func (l *Layer) Features() []*geom.Feature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*geom.Feature(nil), l.features...)
}

func (l *Layer) Replace(features []*geom.Feature) {
	l.mu.Lock()
	l.features = append([]*geom.Feature(nil), features...)
	l.mu.Unlock()
}

func (l *Layer) Selected() []*geom.Feature {
	var out []*geom.Feature
	for _, f := range l.Features() {
		if f.Selected() {
			out = append(out, f)
		}
	}
	return out
}

// Find 返回第一个满足条件的要素
func (l *Layer) Find(match func(*geom.Feature) bool) (*geom.Feature, bool) {
	for _, f := range l.Features() {
		if match(f) {
			return f, true
		}
	}
	return nil, false
}

// 文档注释：按标识查找渲染要素
// 背景：宿主入口（HTTP、命令行）只拿到数据源与标识值，需要在承载该数据源的表面上找到被选中的渲染要素作为触发要素。
func FindFeature(h Host, sourceID, idField string, id int64) (*geom.Feature, bool) {
	s, ok := h.SurfaceFor(sourceID)
	if !ok {
		return nil, false
	}
	l, ok := s.Layer(sourceID)
	if !ok {
		return nil, false
	}
	extract := selection.FieldExtractor(idField)
	return l.Find(func(f *geom.Feature) bool {
		got, err := extract(f)
		return err == nil && int64(got) == id
	})
}
