// 包 selection：按标识集合对齐渲染要素的选中状态
package selection

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"geo-nearby/internal/geom"
)

// ID 要素标识值；两个独立获取的要素集合只按此值关联
type ID int64

type IDSet map[ID]struct{}

func (s IDSet) Has(id ID) bool {
	_, ok := s[id]
	return ok
}

var ErrNoIdentifier = errors.New("identifier unavailable")

// Extractor 从要素中取出标识；失败时该要素视为不匹配
type Extractor func(*geom.Feature) (ID, error)

// FieldExtractor 按属性字段名取标识
func FieldExtractor(field string) Extractor {
	return func(f *geom.Feature) (ID, error) {
		v, ok := f.Attr(field)
		if !ok || v == nil {
			return 0, fmt.Errorf("%w: %s missing", ErrNoIdentifier, field)
		}
		return ExtractID(v)
	}
}

// 文档注释：属性值转标识
// 背景：数据源的标识字段可能是整数、浮点（JSON 解码结果）、json.Number 或数字字符串。
// 约束：带小数部分或超出 int64 的数值视为失败，不做截断。
func ExtractID(v any) (ID, error) {
	switch x := v.(type) {
	case int:
		return ID(x), nil
	case int8:
		return ID(x), nil
	case int16:
		return ID(x), nil
	case int32:
		return ID(x), nil
	case int64:
		return ID(x), nil
	case uint8:
		return ID(x), nil
	case uint16:
		return ID(x), nil
	case uint32:
		return ID(x), nil
	case uint:
		return uintID(uint64(x))
	case uint64:
		return uintID(x)
	case float32:
		return floatID(float64(x))
	case float64:
		return floatID(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return ID(n), nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrNoIdentifier, err)
		}
		return floatID(f)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q not numeric", ErrNoIdentifier, x)
		}
		return ID(n), nil
	}
	return 0, fmt.Errorf("%w: unsupported type %T", ErrNoIdentifier, v)
}

// float64(math.MaxInt64) 即 2^63，本身已越界
func floatID(f float64) (ID, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: %v not integral", ErrNoIdentifier, f)
	}
	return ID(f), nil
}

func uintID(u uint64) (ID, error) {
	if u > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d overflows int64", ErrNoIdentifier, u)
	}
	return ID(u), nil
}

// Collect 提取一组要素的标识集合，提取失败的要素被跳过
func Collect(features []*geom.Feature, extract Extractor) IDSet {
	out := make(IDSet, len(features))
	for _, f := range features {
		if f == nil {
			continue
		}
		if id, err := extract(f); err == nil {
			out[id] = struct{}{}
		}
	}
	return out
}

// Stats 一次对齐的统计
type Stats struct {
	Cleared  int
	Selected int
	Skipped  int
}

// 文档注释：对齐选中状态（先清后选）
// 背景：对每个渲染要素，已选中则先取消，再当且仅当其标识属于 matched 时选中；不是差量更新。
// 约束：同一输入重复调用结果一致；标识提取失败的要素保持未选中且不报错；单次同步遍历，无挂起点。
func Reconcile(rendered []*geom.Feature, matched IDSet, extract Extractor) Stats {
	var st Stats
	for _, f := range rendered {
		if f == nil {
			continue
		}
		if f.Selected() {
			f.Unselect()
			st.Cleared++
		}
		id, err := extract(f)
		if err != nil {
			st.Skipped++
			continue
		}
		if matched.Has(id) {
			f.Select()
			st.Selected++
		}
	}
	return st
}
