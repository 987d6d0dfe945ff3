// 包 config：检索动作的配置面（目标数据源、缓冲距离与单位）及进程级配置加载
package config

import (
	"context"
	"sync"

	"geo-nearby/internal/buffer"
	"geo-nearby/internal/logger"
)

// 文档注释：检索动作配置
// 约束：距离为正整数；单位为固定枚举；目标为空时动作不可执行。
type Settings struct {
	TargetID string      `yaml:"target" json:"target"`
	Distance int         `yaml:"distance" json:"distance" validate:"gt=0"`
	Unit     buffer.Unit `yaml:"unit" json:"unit" validate:"buffer_unit"`
}

// DefaultSettings 距离 1、单位公里、目标未设
func DefaultSettings() Settings {
	return Settings{Distance: 1, Unit: buffer.Kilometer}
}

func (s Settings) Validate() error { return validate(s) }

// Executable 配置是否足以发起检索
func (s Settings) Executable() bool { return s.Distance > 0 && s.TargetID != "" }

// normalize 单位零值回退到公里
func (s Settings) normalize() Settings {
	if s.Unit == 0 {
		s.Unit = buffer.Kilometer
	}
	return s
}

// 文档注释：配置对话框（挂起点）
// 背景：Prompt 展示当前配置并等待用户确认或取消；confirmed=false 表示取消，调用方保持原配置不变。
type Dialog interface {
	Prompt(ctx context.Context, current Settings) (next Settings, confirmed bool, err error)
}

// StaticDialog 以预设值直接确认或取消，用于命令行参数与 HTTP 接口
type StaticDialog struct {
	Settings Settings
	Cancel   bool
}

func (d StaticDialog) Prompt(ctx context.Context, _ Settings) (Settings, bool, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, false, err
	}
	return d.Settings, !d.Cancel, nil
}

// 文档注释：配置面
// 背景：编排器在每次执行开始时读取一次快照，从不修改配置；非法输入保留上一个合法值并把配置面标记为未就绪。
// 约束：线程安全；目标未设时按回退函数取默认目标（首个可选数据源），回退结果不写回。
type Surface struct {
	mu       sync.RWMutex
	cur      Settings
	ready    bool
	fallback func() (string, bool)
}

type SurfaceOption func(*Surface)

// WithDefaultTarget 目标未设时的回退
func WithDefaultTarget(fn func() (string, bool)) SurfaceOption {
	return func(s *Surface) { s.fallback = fn }
}

// NewSurface 以 initial 初始化；initial 非法时使用默认配置
func NewSurface(initial Settings, opts ...SurfaceOption) *Surface {
	s := &Surface{ready: true}
	initial = initial.normalize()
	if err := initial.Validate(); err != nil {
		logger.L().Warn("config_initial_invalid", "err", err)
		def := DefaultSettings()
		def.TargetID = initial.TargetID
		initial = def
	}
	s.cur = initial
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot 当前配置（已应用目标回退）
func (s *Surface) Snapshot() Settings {
	s.mu.RLock()
	cur := s.cur
	fb := s.fallback
	s.mu.RUnlock()
	if cur.TargetID == "" && fb != nil {
		if id, ok := fb(); ok {
			cur.TargetID = id
		}
	}
	return cur
}

// Ready 最近一次输入是否合法
func (s *Surface) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Surface) SetDistance(d int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d <= 0 {
		s.ready = false
		return ErrInvalidDistance
	}
	s.cur.Distance = d
	s.ready = true
	return nil
}

func (s *Surface) SetUnit(u buffer.Unit) error {
	if u == 0 {
		u = buffer.Kilometer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !u.Valid() {
		s.ready = false
		return ErrInvalidUnit
	}
	s.cur.Unit = u
	s.ready = true
	return nil
}

func (s *Surface) SetTarget(id string) {
	s.mu.Lock()
	s.cur.TargetID = id
	s.mu.Unlock()
}

// Apply 整体替换配置；任一字段非法时不做修改
func (s *Surface) Apply(next Settings) error {
	next = next.normalize()
	if err := next.Validate(); err != nil {
		s.mu.Lock()
		s.ready = false
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.cur = next
	s.ready = true
	s.mu.Unlock()
	logger.L().Info("config_applied", "target", next.TargetID, "distance", next.Distance, "unit", next.Unit.String())
	return nil
}

// 文档注释：交互式配置
// 背景：等待对话框确认；取消或出错时配置保持不变。
// 返回：确认后的配置是否可执行（距离 > 0 且目标已设）。
func (s *Surface) Configure(ctx context.Context, d Dialog) (bool, error) {
	next, ok, err := d.Prompt(ctx, s.Snapshot())
	if err != nil {
		return false, err
	}
	if !ok {
		logger.L().Debug("config_dialog_canceled")
		return false, nil
	}
	if err := s.Apply(next); err != nil {
		return false, err
	}
	return s.Snapshot().Executable(), nil
}
