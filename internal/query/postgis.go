package query

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"geo-nearby/internal/geom"
	"geo-nearby/internal/store"
)

// FeatureStore PostGIS 数据源依赖的最小存储契约，由 *store.Store 实现
type FeatureStore interface {
	Intersecting(ctx context.Context, layer, area string, srid int) ([]store.Row, error)
	Ping(ctx context.Context) error
}

// 文档注释：PostGIS 数据源
// 背景：图层要素存放在 nearby_features 表中，相交判定在数据库侧完成；fid 回填到标识字段。
// 约束：srid 为图层入库时的空间参考，查询面按该参考解释，必须与渲染表面一致。
type PostGISSource struct {
	id         string
	name       string
	layer      string
	idField    string
	srid       int
	selectable bool
	st         FeatureStore
}

func NewPostGISSource(st FeatureStore, id, name, layer, idField string, srid int, selectable bool) *PostGISSource {
	if layer == "" {
		layer = id
	}
	if name == "" {
		name = id
	}
	return &PostGISSource{id: id, name: name, layer: layer, idField: idField, srid: srid, selectable: selectable, st: st}
}

func (p *PostGISSource) ID() string       { return p.id }
func (p *PostGISSource) Name() string     { return p.name }
func (p *PostGISSource) IDField() string  { return p.idField }
func (p *PostGISSource) Selectable() bool { return p.selectable }

func (p *PostGISSource) Ping(ctx context.Context) error { return p.st.Ping(ctx) }

func (p *PostGISSource) ExecuteQuery(ctx context.Context, q Query) (*Result, error) {
	var area string
	if q.Geometry != nil {
		b, err := json.Marshal(geojson.NewGeometry(q.Geometry))
		if err != nil {
			return nil, fmt.Errorf("encode query geometry: %w", err)
		}
		area = string(b)
	}
	rows, err := p.st.Intersecting(ctx, p.layer, area, p.srid)
	if err != nil {
		return nil, err
	}
	out := make([]*geom.Feature, 0, len(rows))
	for _, r := range rows {
		attrs := r.Attrs
		if attrs == nil {
			attrs = map[string]any{}
		}
		if p.idField != "" {
			if _, ok := attrs[p.idField]; !ok {
				attrs[p.idField] = r.FID
			}
		}
		f := geom.NewFeature(nil, attrs)
		if q.ReturnGeometry && r.Geometry != "" {
			g, err := geojson.UnmarshalGeometry([]byte(r.Geometry))
			if err != nil {
				return nil, fmt.Errorf("decode geometry fid=%d: %w", r.FID, err)
			}
			f.Geometry = g.Geometry()
		}
		out = append(out, f)
	}
	return &Result{Features: out}, nil
}
