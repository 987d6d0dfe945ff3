package mapview

import "sync"

// 文档注释：地图表面注册表
// 背景：宿主进程内所有表面的集合；按数据源查找承载它的表面时，返回最先注册且包含该数据源图层的表面。
// 约束：线程安全；移除表面后其图层对编排器不可见，进行中的检索在对齐前会发现绑定消失并静默放弃。
type Registry struct {
	mu       sync.RWMutex
	surfaces []*Surface
}

func NewRegistry() *Registry { return &Registry{} }

// Add 注册表面；同 ID 已存在时替换
func (r *Registry) Add(s *Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.surfaces {
		if cur.ID == s.ID {
			r.surfaces[i] = s
			return
		}
	}
	r.surfaces = append(r.surfaces, s)
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.surfaces {
		if cur.ID == id {
			r.surfaces = append(r.surfaces[:i], r.surfaces[i+1:]...)
			return
		}
	}
}

func (r *Registry) Surface(id string) (*Surface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.surfaces {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

func (r *Registry) SurfaceFor(sourceID string) (*Surface, bool) {
	if sourceID == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.surfaces {
		if s.Hosts(sourceID) {
			return s, true
		}
	}
	return nil, false
}

func (r *Registry) Surfaces() []*Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Surface(nil), r.surfaces...)
}
