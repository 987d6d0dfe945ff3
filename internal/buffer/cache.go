package buffer

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/redis/go-redis/v9"

	"geo-nearby/internal/logger"
	"geo-nearby/internal/metrics"
)

// 文档注释：本地 LRU 缓存（缓冲参数为键）
// 背景：同一要素在短时间内反复触发检索很常见；进程内缓存避免重复的远端缓冲调用。
type lru struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	lst  *list.List
	dict map[string]*list.Element
}

type entry struct {
	k   string
	v   orb.Geometry
	exp time.Time
}

func newLRU(capacity int, ttl time.Duration) *lru {
	return &lru{cap: capacity, ttl: ttl, lst: list.New(), dict: make(map[string]*list.Element)}
}

func (c *lru) get(k string) (orb.Geometry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.dict[k]
	if !ok {
		return nil, false
	}
	it := e.Value.(entry)
	if time.Now().Before(it.exp) {
		c.lst.MoveToFront(e)
		return it.v, true
	}
	c.lst.Remove(e)
	delete(c.dict, k)
	return nil, false
}

func (c *lru) set(k string, v orb.Geometry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := entry{k: k, v: v, exp: time.Now().Add(c.ttl)}
	if e, ok := c.dict[k]; ok {
		e.Value = it
		c.lst.MoveToFront(e)
		return
	}
	c.dict[k] = c.lst.PushFront(it)
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.dict, back.Value.(entry).k)
		c.lst.Remove(back)
	}
}

// 文档注释：带缓存的缓冲服务（装饰器）
// 背景：先查进程内 LRU，再查 Redis，均未命中才调用远端；命中结果只缓存第一个面。
// 约束：缓存读写错误只记录日志，不影响请求结果；rc 为 nil 时仅使用本地缓存；空结果与失败不缓存。
type CachedService struct {
	next   Service
	rc     *redis.Client
	local  *lru
	ttl    time.Duration
	prefix string
}

type CacheOption func(*CachedService)

// WithTTL 设置两级缓存的过期时间
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CachedService) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPrefix 设置 Redis 键前缀
func WithPrefix(prefix string) CacheOption {
	return func(c *CachedService) { c.prefix = prefix }
}

// WithLocalSize 设置本地 LRU 容量；0 关闭本地缓存
func WithLocalSize(n int) CacheOption {
	return func(c *CachedService) {
		if n <= 0 {
			c.local = nil
			return
		}
		c.local = newLRU(n, c.ttl)
	}
}

func NewCachedService(next Service, rc *redis.Client, opts ...CacheOption) *CachedService {
	c := &CachedService{next: next, rc: rc, ttl: time.Hour, prefix: "buffer:"}
	c.local = newLRU(1024, c.ttl)
	for _, opt := range opts {
		opt(c)
	}
	if c.local != nil {
		c.local.ttl = c.ttl
	}
	return c
}

func (c *CachedService) Buffer(ctx context.Context, p Params) ([]orb.Geometry, error) {
	key, err := c.key(p)
	if err != nil {
		return c.next.Buffer(ctx, p)
	}
	if c.local != nil {
		if g, ok := c.local.get(key); ok {
			metrics.BufferCacheTotal.WithLabelValues("local", "hit").Inc()
			return []orb.Geometry{g}, nil
		}
		metrics.BufferCacheTotal.WithLabelValues("local", "miss").Inc()
	}
	if g, ok := c.remoteGet(ctx, key); ok {
		if c.local != nil {
			c.local.set(key, g)
		}
		return []orb.Geometry{g}, nil
	}
	out, err := c.next.Buffer(ctx, p)
	if err != nil || len(out) == 0 || !polygonal(out[0]) {
		return out, err
	}
	if c.local != nil {
		c.local.set(key, out[0])
	}
	c.remoteSet(ctx, key, out[0])
	return out, nil
}

func (c *CachedService) remoteGet(ctx context.Context, key string) (orb.Geometry, bool) {
	if c.rc == nil {
		return nil, false
	}
	s, err := c.rc.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.L().Debug("buffer_cache_get_error", "err", err)
		}
		metrics.BufferCacheTotal.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	g, err := geojson.UnmarshalGeometry([]byte(s))
	if err != nil {
		logger.L().Debug("buffer_cache_decode_error", "err", err)
		metrics.BufferCacheTotal.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	metrics.BufferCacheTotal.WithLabelValues("redis", "hit").Inc()
	return g.Geometry(), true
}

func (c *CachedService) remoteSet(ctx context.Context, key string, g orb.Geometry) {
	if c.rc == nil {
		return
	}
	b, err := json.Marshal(geojson.NewGeometry(g))
	if err != nil {
		return
	}
	if err := c.rc.Set(ctx, key, string(b), c.ttl).Err(); err != nil {
		logger.L().Debug("buffer_cache_set_error", "err", err)
	}
}

// 文档注释：缓存键
// 背景：键由空间参考、单位、距离、合并标记与输入几何的 FNV64a 哈希组成；几何以 GeoJSON 序列化后参与哈希。
func (c *CachedService) key(p Params) (string, error) {
	h := fnv.New64a()
	for _, g := range p.Geometries {
		b, err := json.Marshal(geojson.NewGeometry(g))
		if err != nil {
			return "", err
		}
		h.Write(b)
	}
	k := c.prefix + strconv.Itoa(p.BufferSR) + ":" + strconv.Itoa(p.OutSR) + ":" + p.Unit.String() + ":"
	for i, d := range p.Distances {
		if i > 0 {
			k += ","
		}
		k += strconv.FormatFloat(d, 'f', -1, 64)
	}
	k += ":" + strconv.FormatBool(p.UnionResults) + ":" + strconv.FormatUint(h.Sum64(), 16)
	return k, nil
}
