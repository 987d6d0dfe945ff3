package geom

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// 文档注释：Esri JSON 几何结构
// 背景：远端几何服务（GeometryServer）与要素服务（FeatureServer）均以 Esri JSON 交换几何；此处只保留本服务需要的字段。
// 约束：点用 x/y，多点 points，线 paths，面 rings；面的外环为顺时针，洞为逆时针。
type EsriGeometry struct {
	X                *float64          `json:"x,omitempty"`
	Y                *float64          `json:"y,omitempty"`
	Points           [][]float64       `json:"points,omitempty"`
	Paths            [][][]float64     `json:"paths,omitempty"`
	Rings            [][][]float64     `json:"rings,omitempty"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

type SpatialReference struct {
	WKID int `json:"wkid"`
}

const (
	EsriPoint      = "esriGeometryPoint"
	EsriMultipoint = "esriGeometryMultipoint"
	EsriPolyline   = "esriGeometryPolyline"
	EsriPolygon    = "esriGeometryPolygon"
)

var ErrUnsupportedGeometry = errors.New("unsupported geometry")

// 文档注释：orb 几何转 Esri JSON
// 返回：Esri 几何与对应的 geometryType 名称；wkid<=0 时不携带空间参考。
// 约束：面会按 Esri 约定重排环方向；Collection 不支持。
func ToEsri(g orb.Geometry, wkid int) (EsriGeometry, string, error) {
	var e EsriGeometry
	if wkid > 0 {
		e.SpatialReference = &SpatialReference{WKID: wkid}
	}
	switch v := g.(type) {
	case orb.Point:
		x, y := v[0], v[1]
		e.X, e.Y = &x, &y
		return e, EsriPoint, nil
	case orb.MultiPoint:
		for _, p := range v {
			e.Points = append(e.Points, []float64{p[0], p[1]})
		}
		return e, EsriMultipoint, nil
	case orb.LineString:
		e.Paths = [][][]float64{coords(v)}
		return e, EsriPolyline, nil
	case orb.MultiLineString:
		for _, ls := range v {
			e.Paths = append(e.Paths, coords(ls))
		}
		return e, EsriPolyline, nil
	case orb.Ring:
		e.Rings = esriRings(orb.Polygon{v})
		return e, EsriPolygon, nil
	case orb.Polygon:
		e.Rings = esriRings(v)
		return e, EsriPolygon, nil
	case orb.MultiPolygon:
		for _, p := range v {
			e.Rings = append(e.Rings, esriRings(p)...)
		}
		return e, EsriPolygon, nil
	case orb.Bound:
		e.Rings = esriRings(v.ToPolygon())
		return e, EsriPolygon, nil
	}
	return e, "", fmt.Errorf("%w: %T", ErrUnsupportedGeometry, g)
}

func coords[T ~[]orb.Point](pts T) [][]float64 {
	out := make([][]float64, 0, len(pts))
	for _, p := range pts {
		out = append(out, []float64{p[0], p[1]})
	}
	return out
}

func esriRings(p orb.Polygon) [][][]float64 {
	out := make([][][]float64, 0, len(p))
	for i, r := range p {
		// 外环顺时针，洞逆时针
		wantCW := i == 0
		if Clockwise(r) != wantCW {
			r = reversed(r)
		}
		out = append(out, coords(r))
	}
	return out
}

func reversed(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i := range r {
		out[len(r)-1-i] = r[i]
	}
	return out
}

// 文档注释：Esri JSON 转 orb 几何
// 背景：解析远端返回的缓冲面与要素几何；无任何坐标时返回 nil 与 nil 错误，由调用方视为"无结果"。
func (e EsriGeometry) Orb() (orb.Geometry, error) {
	switch {
	case len(e.Rings) > 0:
		return PolygonFromRings(e.Rings)
	case len(e.Paths) > 0:
		mls := make(orb.MultiLineString, 0, len(e.Paths))
		for _, path := range e.Paths {
			ls, err := toPoints(path)
			if err != nil {
				return nil, err
			}
			mls = append(mls, orb.LineString(ls))
		}
		if len(mls) == 1 {
			return mls[0], nil
		}
		return mls, nil
	case len(e.Points) > 0:
		mp, err := toPoints(e.Points)
		if err != nil {
			return nil, err
		}
		return orb.MultiPoint(mp), nil
	case e.X != nil && e.Y != nil:
		return orb.Point{*e.X, *e.Y}, nil
	}
	return nil, nil
}

// 文档注释：由 Esri 环集合构造面
// 背景：合并缓冲（unionResults）后仍可能得到多个外环；顺时针环开启新面，逆时针环作为最近一个面的洞。
// 约束：第一个环若为逆时针，视为外环（部分服务不遵守方向约定）；只有一个面时返回 Polygon，否则 MultiPolygon。
func PolygonFromRings(rings [][][]float64) (orb.Geometry, error) {
	var mp orb.MultiPolygon
	for _, raw := range rings {
		pts, err := toPoints(raw)
		if err != nil {
			return nil, err
		}
		r := orb.Ring(pts)
		if len(r) < 3 {
			continue
		}
		if len(mp) == 0 || Clockwise(r) {
			mp = append(mp, orb.Polygon{r})
			continue
		}
		last := len(mp) - 1
		mp[last] = append(mp[last], r)
	}
	switch len(mp) {
	case 0:
		return nil, nil
	case 1:
		return mp[0], nil
	}
	return mp, nil
}

func toPoints(raw [][]float64) ([]orb.Point, error) {
	out := make([]orb.Point, 0, len(raw))
	for _, c := range raw {
		if len(c) < 2 {
			return nil, errors.New("malformed coordinate")
		}
		out = append(out, orb.Point{c[0], c[1]})
	}
	return out, nil
}
