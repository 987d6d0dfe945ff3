// 包 app：按配置装配目录、地图表面、缓冲客户端、配置面与编排器；服务与命令行工具共用
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"geo-nearby/internal/buffer"
	"geo-nearby/internal/catalog"
	"geo-nearby/internal/config"
	"geo-nearby/internal/geom"
	"geo-nearby/internal/logger"
	"geo-nearby/internal/mapview"
	"geo-nearby/internal/nearby"
	"geo-nearby/internal/query"
)

var ErrNoStore = errors.New("postgis layer configured without database")

// Deps 外部依赖；均可为空
type Deps struct {
	Store      query.FeatureStore
	Redis      *redis.Client
	HTTPClient *http.Client
	// Buffer 非空时替代几何服务（测试或离线场景）
	Buffer buffer.Service
	Logger *slog.Logger
}

// App 装配结果
type App struct {
	Catalog      *catalog.Catalog
	Host         *mapview.Registry
	Settings     *config.Surface
	Buffer       *buffer.Client
	Orchestrator *nearby.Orchestrator
}

// 文档注释：装配
// 背景：先注册数据源，再为每个图层整层查询一次得到渲染要素；memory 图层重新读取文件，保证渲染要素与检索结果互不共享。
// 约束：动作配置先叠加环境变量；目标为空时回退到目录中第一个可选且健康的数据源。
func Build(ctx context.Context, cfg config.Config, f *config.File, d Deps) (*App, error) {
	l := d.Logger
	if l == nil {
		l = logger.With("app")
	}
	hc := d.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	cat := catalog.New()
	cat.SetHeartbeatInterval(cfg.HeartbeatInterval)
	reg := mapview.NewRegistry()

	for _, sc := range f.Surfaces {
		surface := mapview.NewSurface(sc.ID, sc.WKID)
		for _, lc := range sc.Layers {
			ds, err := newSource(lc, sc.WKID, d.Store, hc)
			if err != nil {
				return nil, fmt.Errorf("surface %s layer %s: %w", sc.ID, lc.Source, err)
			}
			cat.Register(ds)
			rendered, err := renderFeatures(ctx, lc, ds)
			if err != nil {
				return nil, fmt.Errorf("surface %s layer %s: %w", sc.ID, lc.Source, err)
			}
			surface.AddLayer(lc.Source, rendered)
			l.Info("layer_loaded", "surface", sc.ID, "source", lc.Source, "kind", lc.Kind, "features", len(rendered))
		}
		reg.Add(surface)
	}

	action, err := config.ApplyEnv(f.Action)
	if err != nil {
		return nil, err
	}
	settings := config.NewSurface(action, config.WithDefaultTarget(cat.FirstSelectable))

	svc := d.Buffer
	if svc == nil {
		url := cfg.GeometryURL(f.GeometryService.URL)
		svc = buffer.NewGeometryServer(url, hc)
		l.Info("geometry_service", "url", url)
	}
	if d.Redis == nil {
		l.Info("buffer_cache", "tier", "local")
	} else {
		l.Info("buffer_cache", "tier", "redis", "ttl", cfg.BufferCacheTTL)
	}
	svc = buffer.NewCachedService(svc, d.Redis, buffer.WithTTL(cfg.BufferCacheTTL))

	timeout := cfg.BufferTimeout
	if timeout == 0 && f.GeometryService.TimeoutMS > 0 {
		timeout = time.Duration(f.GeometryService.TimeoutMS) * time.Millisecond
	}
	bopts := []buffer.ClientOption{buffer.WithLogger(logger.With("buffer"))}
	if timeout > 0 {
		bopts = append(bopts, buffer.WithTimeout(timeout))
	}
	bc := buffer.NewClient(svc, bopts...)

	qopts := []query.ClientOption{query.WithLogger(logger.With("query"))}
	if cfg.QueryTimeout > 0 {
		qopts = append(qopts, query.WithTimeout(cfg.QueryTimeout))
	}
	qc := query.NewClient(qopts...)

	orch := nearby.New(settings, reg, cat, bc, qc, nearby.WithLogger(logger.With("nearby")))
	return &App{Catalog: cat, Host: reg, Settings: settings, Buffer: bc, Orchestrator: orch}, nil
}

func newSource(lc config.LayerConfig, wkid int, st query.FeatureStore, hc *http.Client) (query.DataSource, error) {
	name := lc.Name
	if name == "" {
		name = lc.Source
	}
	switch lc.Kind {
	case config.KindMemory:
		fs, err := geom.LoadFile(lc.File, lc.IDField)
		if err != nil {
			return nil, err
		}
		return query.NewMemorySource(lc.Source, name, lc.IDField, lc.IsSelectable(), fs), nil
	case config.KindPostGIS:
		if st == nil {
			return nil, ErrNoStore
		}
		return query.NewPostGISSource(st, lc.Source, name, lc.Layer, lc.IDField, wkid, lc.IsSelectable()), nil
	case config.KindFeatureService:
		return query.NewFeatureService(lc.URL, lc.Source, name, lc.IDField, wkid, lc.IsSelectable(), hc), nil
	}
	return nil, fmt.Errorf("%w: kind %q", config.ErrInvalidConfig, lc.Kind)
}

func renderFeatures(ctx context.Context, lc config.LayerConfig, ds query.DataSource) ([]*geom.Feature, error) {
	if lc.Kind == config.KindMemory {
		return geom.LoadFile(lc.File, lc.IDField)
	}
	res, err := ds.ExecuteQuery(ctx, query.Query{ReturnGeometry: true})
	if err != nil {
		return nil, err
	}
	return res.Features, nil
}

// FindFeature 在触发源所在表面的渲染图层中按标识查找要素
func (a *App) FindFeature(sourceID string, id int64) (*geom.Feature, bool) {
	ds, ok := a.Catalog.Get(sourceID)
	if !ok {
		return nil, false
	}
	return mapview.FindFeature(a.Host, sourceID, ds.IDField(), id)
}
