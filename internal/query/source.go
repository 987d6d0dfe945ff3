// 包 query：空间查询契约、查询客户端与数据源实现（内存、PostGIS、ArcGIS 要素服务）
package query

import (
	"context"

	"github.com/paulmach/orb"

	"geo-nearby/internal/geom"
	"geo-nearby/internal/selection"
)

// Relation 空间关系；当前只使用相交
type Relation int

const (
	Intersects Relation = iota
)

func (r Relation) String() string {
	if r == Intersects {
		return "intersects"
	}
	return "unknown"
}

// 文档注释：空间查询参数
// 约束：Where 为空表示不做属性过滤；Geometry 为 nil 表示不做空间过滤（整层）。
type Query struct {
	Where          string
	Geometry       orb.Geometry
	ReturnGeometry bool
	Relation       Relation
}

// 文档注释：查询结果
// 背景：Canceled 为真时 Features 无意义；消费方把"取消"与"零匹配"同等对待。
type Result struct {
	Features []*geom.Feature
	Canceled bool
}

// 文档注释：数据源契约
// 背景：数据源归宿主所有，编排器只持有非拥有引用；触发源与目标源可以是同一个。
// 约束：ExecuteQuery 返回的要素必须是新对象，不能与地图上渲染的要素共享指针。
type DataSource interface {
	ID() string
	Name() string
	IDField() string
	Selectable() bool
	ExecuteQuery(ctx context.Context, q Query) (*Result, error)
}

// Pinger 可探测健康状态的远端数据源
type Pinger interface {
	Ping(ctx context.Context) error
}

// MatchedIDs 从结果中提取标识集合；取消或空结果返回空集合
func MatchedIDs(r *Result, idField string) selection.IDSet {
	if r == nil || r.Canceled {
		return selection.IDSet{}
	}
	return selection.Collect(r.Features, selection.FieldExtractor(idField))
}
