// 包 catalog：宿主持有的数据源目录，提供按 ID 查找、可选源列表与远端源心跳
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"geo-nearby/internal/logger"
	"geo-nearby/internal/metrics"
	"geo-nearby/internal/query"
)

// 文档注释：数据源健康状态缓存
// 背景：记录健康与最近心跳时间；未实现 Pinger 的数据源恒为健康。
type status struct {
	healthy bool
	last    time.Time
}

// Entry 目录项快照
type Entry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	IDField    string    `json:"id_field"`
	Selectable bool      `json:"selectable"`
	Healthy    bool      `json:"healthy"`
	LastCheck  time.Time `json:"last_check"`
}

// 文档注释：数据源目录
// 背景：负责数据源注册、心跳与健康筛选；配置面据此选出默认目标，编排器按 ID 取得非拥有引用。
// 约束：心跳周期默认 10s；心跳失败只影响 Selectable 列表，不阻止已配置的目标被查询；线程安全。
type Catalog struct {
	mu         sync.RWMutex
	ds         map[string]query.DataSource
	st         map[string]status
	order      []string
	hbInterval time.Duration
}

func New() *Catalog {
	return &Catalog{ds: map[string]query.DataSource{}, st: map[string]status{}, hbInterval: 10 * time.Second}
}

// SetHeartbeatInterval 修改心跳周期；需在 Start 之前调用
func (c *Catalog) SetHeartbeatInterval(d time.Duration) {
	if d > 0 {
		c.hbInterval = d
	}
}

// 文档注释：注册数据源
// 背景：同 ID 重复注册时替换并保持原有顺序；默认设置为健康状态。
func (c *Catalog) Register(ds query.DataSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ds[ds.ID()]; !ok {
		c.order = append(c.order, ds.ID())
	}
	c.ds[ds.ID()] = ds
	c.st[ds.ID()] = status{healthy: true, last: time.Now()}
	logger.L().Info("source_registered", "id", ds.ID(), "name", ds.Name(), "selectable", ds.Selectable())
}

func (c *Catalog) Get(id string) (query.DataSource, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ds, ok := c.ds[id]
	return ds, ok
}

// Selectable 可选且健康的数据源，按注册顺序
func (c *Catalog) Selectable() []query.DataSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []query.DataSource
	for _, id := range c.order {
		ds := c.ds[id]
		if ds.Selectable() && c.st[id].healthy {
			out = append(out, ds)
		}
	}
	return out
}

// FirstSelectable 首个可选数据源的 ID；用作目标未设时的默认值
func (c *Catalog) FirstSelectable() (string, bool) {
	ss := c.Selectable()
	if len(ss) == 0 {
		return "", false
	}
	return ss[0].ID(), true
}

// Entries 全部目录项，按 ID 排序
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.ds))
	for id, ds := range c.ds {
		st := c.st[id]
		out = append(out, Entry{ID: id, Name: ds.Name(), IDField: ds.IDField(), Selectable: ds.Selectable(), Healthy: st.healthy, LastCheck: st.last})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// 文档注释：启动心跳循环
// 背景：周期性调用数据源 Ping 更新健康状态；在 ctx 取消时停止。
func (c *Catalog) Start(ctx context.Context) {
	t := time.NewTicker(c.hbInterval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Heartbeat(ctx)
			}
		}
	}()
}

// Heartbeat 执行一轮心跳；Ping 在锁外进行，慢源不阻塞读者
func (c *Catalog) Heartbeat(ctx context.Context) {
	c.mu.RLock()
	pingers := map[string]query.Pinger{}
	for id, ds := range c.ds {
		if p, ok := ds.(query.Pinger); ok {
			pingers[id] = p
		}
	}
	c.mu.RUnlock()

	results := make(map[string]error, len(pingers))
	for id, p := range pingers {
		results[id] = p.Ping(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, err := range results {
		if _, ok := c.ds[id]; !ok {
			continue
		}
		if err != nil {
			c.st[id] = status{healthy: false, last: time.Now()}
			logger.L().Debug("source_heartbeat_fail", "id", id, "err", err)
			metrics.SourceHeartbeatTotal.WithLabelValues(id, "fail").Inc()
		} else {
			c.st[id] = status{healthy: true, last: time.Now()}
			logger.L().Debug("source_heartbeat_ok", "id", id)
			metrics.SourceHeartbeatTotal.WithLabelValues(id, "ok").Inc()
		}
	}
}
