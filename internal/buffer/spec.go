// 包 buffer：远端几何缓冲的请求封装、取消与结果缓存
package buffer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"geo-nearby/internal/geom"
)

// Unit 缓冲距离的线性单位
type Unit int

const (
	Kilometer Unit = iota + 1
	Meter
	SurveyMile
	SurveyYard
)

// Units 可选单位，顺序即配置界面的展示顺序
var Units = []Unit{Kilometer, Meter, SurveyMile, SurveyYard}

var unitNames = map[Unit]string{
	Kilometer:  "kilometer",
	Meter:      "meter",
	SurveyMile: "survey_mile",
	SurveyYard: "survey_yard",
}

// esriSRUnit 编码，远端 GeometryServer 以此识别单位
var unitCodes = map[Unit]int{
	Kilometer:  9036,
	Meter:      9001,
	SurveyMile: 9035,
	SurveyYard: 109002,
}

var unitMeters = map[Unit]float64{
	Kilometer:  1000,
	Meter:      1,
	SurveyMile: 1609.347218694,
	SurveyYard: 0.914401828803658,
}

var ErrInvalidUnit = errors.New("invalid buffer unit")

func (u Unit) Valid() bool {
	_, ok := unitNames[u]
	return ok
}

func (u Unit) String() string {
	if n, ok := unitNames[u]; ok {
		return n
	}
	return fmt.Sprintf("unit(%d)", int(u))
}

// Code 返回 esriSRUnit 编码；非法单位返回 0
func (u Unit) Code() int { return unitCodes[u] }

// Meters 返回一个单位对应的米数；非法单位返回 0
func (u Unit) Meters() float64 { return unitMeters[u] }

// ParseUnit 解析单位名，大小写与分隔符（_ - 空格）不敏感
func ParseUnit(s string) (Unit, error) {
	norm := strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch norm {
	case "km", "kilometers":
		norm = "kilometer"
	case "m", "meters":
		norm = "meter"
	case "mi", "surveymile", "survey_miles":
		norm = "survey_mile"
	case "yd", "surveyyard", "survey_yards":
		norm = "survey_yard"
	}
	for u, n := range unitNames {
		if n == norm {
			return u, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidUnit, s)
}

func (u Unit) MarshalText() ([]byte, error) {
	if !u.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidUnit, int(u))
	}
	return []byte(u.String()), nil
}

func (u *Unit) UnmarshalText(b []byte) error {
	v, err := ParseUnit(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

var ErrInvalidSpec = errors.New("invalid buffer spec")

// 文档注释：单次缓冲输入（不可变）
// 背景：由触发要素的几何、配置的距离与单位、以及共享地图表面的空间参考组成；缓冲与后续查询都使用该空间参考。
// 约束：距离必须大于 0；非正距离禁止执行。
type Spec struct {
	Geometry   orb.Geometry
	Distance   float64
	Unit       Unit
	SpatialRef int
}

func (s Spec) Validate() error {
	switch {
	case s.Geometry == nil:
		return fmt.Errorf("%w: geometry is required", ErrInvalidSpec)
	case !(s.Distance > 0):
		return fmt.Errorf("%w: distance %v is not > 0", ErrInvalidSpec, s.Distance)
	case !s.Unit.Valid():
		return fmt.Errorf("%w: %v", ErrInvalidSpec, ErrInvalidUnit)
	}
	return nil
}

// Params 远端缓冲请求参数；输入、输出与缓冲计算使用同一空间参考
func (s Spec) Params() Params {
	return Params{
		Geometries:   []orb.Geometry{s.Geometry},
		Distances:    []float64{s.Distance},
		Unit:         s.Unit,
		InSR:         s.SpatialRef,
		OutSR:        s.SpatialRef,
		BufferSR:     s.SpatialRef,
		UnionResults: true,
	}
}

type Params struct {
	Geometries   []orb.Geometry
	Distances    []float64
	Unit         Unit
	InSR         int
	OutSR        int
	BufferSR     int
	UnionResults bool
}

// OutcomeKind 缓冲结果分类
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeEmpty
	OutcomeFailed
	OutcomeSuperseded
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailed:
		return "failed"
	case OutcomeSuperseded:
		return "superseded"
	}
	return "unknown"
}

var (
	// ErrNoResult 远端返回零个或畸形结果，区别于传输失败
	ErrNoResult = errors.New("buffer returned no result")
	ErrService  = errors.New("geometry service error")
)

// ServiceError 远端服务返回的业务错误
type ServiceError struct {
	Code    int
	Message string
	Details []string
}

func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("geometry service error %d: %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

func (e *ServiceError) Unwrap() error { return ErrService }

// 文档注释：缓冲结果
// 背景：成功时只携带第一个面（Polygon 或合并后的 MultiPolygon），坐标位于调用表面的空间参考。
type Outcome struct {
	Kind     OutcomeKind
	Geometry orb.Geometry
	Err      error
}

// Diagnostic 面向用户的失败描述
func (o Outcome) Diagnostic() string {
	if o.Err == nil {
		return ""
	}
	return "fail to calculate buffer, error: " + o.Err.Error()
}

func polygonal(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return !geom.IsEmpty(g)
	}
	return false
}
