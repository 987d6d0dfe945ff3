package geom

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// 文档注释：几何与面域相交判定（平面坐标）
// 背景：内存数据源按"与缓冲面相交"筛选要素；先做包围盒快速过滤，再做点入面与边相交的精确判定。
// 约束：area 仅支持 Polygon/MultiPolygon/Bound；坐标按地图表面的空间参考视为平面，不做球面修正。
func Intersects(g orb.Geometry, area orb.Geometry) bool {
	if g == nil || IsEmpty(area) {
		return false
	}
	polys := polygons(area)
	if len(polys) == 0 {
		return false
	}
	if !g.Bound().Intersects(area.Bound()) {
		return false
	}
	for _, p := range polys {
		if intersectsPolygon(g, p) {
			return true
		}
	}
	return false
}

// IsEmpty 判断几何是否为空（nil、无坐标或无外环）
func IsEmpty(g orb.Geometry) bool {
	switch v := g.(type) {
	case nil:
		return true
	case orb.Polygon:
		return len(v) == 0 || len(v[0]) < 3
	case orb.MultiPolygon:
		for _, p := range v {
			if !IsEmpty(p) {
				return false
			}
		}
		return true
	case orb.Ring:
		return len(v) < 3
	case orb.LineString:
		return len(v) == 0
	case orb.MultiPoint:
		return len(v) == 0
	case orb.MultiLineString:
		for _, ls := range v {
			if len(ls) > 0 {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, c := range v {
			if !IsEmpty(c) {
				return false
			}
		}
		return true
	}
	return false
}

func polygons(area orb.Geometry) []orb.Polygon {
	switch v := area.(type) {
	case orb.Polygon:
		return []orb.Polygon{v}
	case orb.MultiPolygon:
		return v
	case orb.Ring:
		return []orb.Polygon{{v}}
	case orb.Bound:
		return []orb.Polygon{v.ToPolygon()}
	}
	return nil
}

func intersectsPolygon(g orb.Geometry, p orb.Polygon) bool {
	if len(p) == 0 {
		return false
	}
	switch v := g.(type) {
	case orb.Point:
		return planar.PolygonContains(p, v)
	case orb.MultiPoint:
		for _, pt := range v {
			if planar.PolygonContains(p, pt) {
				return true
			}
		}
	case orb.LineString:
		return lineIntersects(v, p)
	case orb.MultiLineString:
		for _, ls := range v {
			if lineIntersects(ls, p) {
				return true
			}
		}
	case orb.Ring:
		return polygonIntersects(orb.Polygon{v}, p)
	case orb.Polygon:
		return polygonIntersects(v, p)
	case orb.MultiPolygon:
		for _, q := range v {
			if polygonIntersects(q, p) {
				return true
			}
		}
	case orb.Bound:
		return polygonIntersects(v.ToPolygon(), p)
	case orb.Collection:
		for _, c := range v {
			if intersectsPolygon(c, p) {
				return true
			}
		}
	}
	return false
}

func lineIntersects(ls orb.LineString, p orb.Polygon) bool {
	for _, pt := range ls {
		if planar.PolygonContains(p, pt) {
			return true
		}
	}
	for _, r := range p {
		if pathCrossesRing(ls, r) {
			return true
		}
	}
	return false
}

func polygonIntersects(a, b orb.Polygon) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	// 外环任一顶点落入对方即相交；互不包含顶点时只可能是边相交
	for _, pt := range a[0] {
		if planar.PolygonContains(b, pt) {
			return true
		}
	}
	for _, pt := range b[0] {
		if planar.PolygonContains(a, pt) {
			return true
		}
	}
	for _, ra := range a {
		for _, rb := range b {
			if pathCrossesRing(orb.LineString(ra), rb) {
				return true
			}
		}
	}
	return false
}

func pathCrossesRing(ls orb.LineString, r orb.Ring) bool {
	n := len(r)
	if n < 2 {
		return false
	}
	for i := 1; i < len(ls); i++ {
		for j, k := 0, n-1; j < n; k, j = j, j+1 {
			if segmentsIntersect(ls[i-1], ls[i], r[k], r[j]) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	// 共线接触
	return (d1 == 0 && onSegment(q1, q2, p1)) ||
		(d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) ||
		(d4 == 0 && onSegment(p1, p2, q2))
}

func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, c orb.Point) bool {
	return c[0] >= min(a[0], b[0]) && c[0] <= max(a[0], b[0]) &&
		c[1] >= min(a[1], b[1]) && c[1] <= max(a[1], b[1])
}

// signedArea 鞋带公式；正值为逆时针，负值为顺时针
func signedArea(r orb.Ring) float64 {
	var s float64
	for i, j := 0, len(r)-1; i < len(r); j, i = i, i+1 {
		s += (r[j][0] - r[i][0]) * (r[j][1] + r[i][1])
	}
	return s / 2
}

// Clockwise 判断环是否为顺时针方向
func Clockwise(r orb.Ring) bool { return signedArea(r) < 0 }
