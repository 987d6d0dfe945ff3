// 包 nearby：邻近检索编排（资格检查、缓冲、查询与选中对齐）
package nearby

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"geo-nearby/internal/buffer"
	"geo-nearby/internal/config"
	"geo-nearby/internal/geom"
	"geo-nearby/internal/logger"
	"geo-nearby/internal/mapview"
	"geo-nearby/internal/metrics"
	"geo-nearby/internal/query"
	"geo-nearby/internal/selection"
)

// State 编排状态；终态总是 Idle
type State int32

const (
	Idle State = iota
	Eligible
	Buffering
	Querying
	Reconciling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Eligible:
		return "eligible"
	case Buffering:
		return "buffering"
	case Querying:
		return "querying"
	case Reconciling:
		return "reconciling"
	}
	return "unknown"
}

// ErrNotEligible 执行前没有针对同一触发源的通过的资格检查
var ErrNotEligible = errors.New("search is not eligible")

// SettingsSource 配置快照来源，由 *config.Surface 实现
type SettingsSource interface {
	Snapshot() config.Settings
}

// SourceResolver 按 ID 解析数据源，由 *catalog.Catalog 实现
type SourceResolver interface {
	Get(id string) (query.DataSource, bool)
}

// Run 一次执行；Gen 最大者为当前执行
type Run struct {
	ID      string    `json:"id"`
	Gen     uint64    `json:"gen"`
	Started time.Time `json:"started"`
	State   State     `json:"-"`
}

// 结果分类，与 nearby_runs_total 的 result 标签一致
const (
	ResultReconciled   = "reconciled"
	ResultBufferFailed = "buffer_failed"
	ResultBufferEmpty  = "buffer_empty"
	ResultSuperseded   = "superseded"
	ResultLayerMissing = "layer_missing"
)

// Report 一次执行结束时的摘要
type Report struct {
	Run      Run
	Phase    State
	Result   string
	Matched  int
	Selected int
	Skipped  int
	Duration time.Duration
	Err      error
}

// 文档注释：用户通知
// 背景：缓冲传输或服务失败是唯一需要告知用户的错误；其余中止路径静默。
type Notifier interface {
	Notify(ctx context.Context, run Run, message string)
}

// LogNotifier 以 warn 级日志输出通知
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, run Run, message string) {
	l := n.Log
	if l == nil {
		l = logger.L()
	}
	l.Warn("nearby_notice", "run", run.ID, "message", message)
}

// 文档注释：邻近检索编排器
// 背景：触发要素经远端缓冲得到面，在目标数据源中查询相交要素，再把匹配标识对齐到目标图层的渲染要素上。
// 约束：同一编排器同一时刻只有一个有效执行；新执行无条件取代旧执行。缓冲层按代数丢弃过期回调，对齐步骤再次校验代数，过期的查询结果不会被应用。配置只读。
type Orchestrator struct {
	settings SettingsSource
	host     mapview.Host
	sources  SourceResolver
	buf      *buffer.Client
	qc       *query.Client
	notifier Notifier
	log      *slog.Logger

	mu            sync.Mutex
	state         State
	cachedSurface *mapview.Surface
	cachedTrigger query.DataSource
	gen           atomic.Uint64
	hooks         []func(Report)
	last          *Report
}

type Option func(*Orchestrator)

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func New(settings SettingsSource, host mapview.Host, sources SourceResolver, buf *buffer.Client, qc *query.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{settings: settings, host: host, sources: sources, buf: buf, qc: qc}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.With("nearby")
	}
	if o.notifier == nil {
		o.notifier = LogNotifier{Log: o.log}
	}
	return o
}

// OnDone 注册执行结束回调；回调在后台 goroutine 中同步调用
func (o *Orchestrator) OnDone(fn func(Report)) {
	o.mu.Lock()
	o.hooks = append(o.hooks, fn)
	o.mu.Unlock()
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Last 最近一次结束的执行
func (o *Orchestrator) Last() (Report, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Report{}, false
	}
	return *o.last, true
}

// Wait 阻塞直到已发出的执行全部结束
func (o *Orchestrator) Wait() { o.buf.Wait() }

// 文档注释：资格检查
// 背景：距离非正、要素为空、目标或触发源未设、任一数据源没有承载表面、两者不在同一表面时返回 false。
// 约束：通过时缓存共享表面与触发源并进入 Eligible；不通过时清空缓存。每次检查都覆盖缓存。
func (o *Orchestrator) CanExecute(trigger query.DataSource, feature *geom.Feature) bool {
	surface, ok := o.eligible(trigger, feature)
	o.mu.Lock()
	defer o.mu.Unlock()
	if !ok {
		o.cachedSurface, o.cachedTrigger = nil, nil
		if o.state == Eligible {
			o.state = Idle
		}
		return false
	}
	o.cachedSurface, o.cachedTrigger = surface, trigger
	if o.state == Idle {
		o.state = Eligible
	}
	return true
}

func (o *Orchestrator) eligible(trigger query.DataSource, feature *geom.Feature) (*mapview.Surface, bool) {
	s := o.settings.Snapshot()
	if s.Distance <= 0 || feature == nil || s.TargetID == "" || trigger == nil {
		return nil, false
	}
	target, ok := o.sources.Get(s.TargetID)
	if !ok {
		return nil, false
	}
	ts, ok := o.host.SurfaceFor(target.ID())
	if !ok {
		return nil, false
	}
	gs, ok := o.host.SurfaceFor(trigger.ID())
	if !ok {
		return nil, false
	}
	if ts.ID != gs.ID {
		return nil, false
	}
	return ts, true
}

// 文档注释：执行检索
// 背景：取代进行中的缓冲请求（被取代的执行以 superseded 结束），读取一次配置快照，以共享表面的空间参考构造缓冲输入并发出请求；立即返回。
// 约束：必须紧跟一次针对同一触发源的通过的资格检查，否则返回 ErrNotEligible；执行会消耗该检查的缓存。
func (o *Orchestrator) Execute(ctx context.Context, trigger query.DataSource, feature *geom.Feature) (Run, error) {
	o.mu.Lock()
	surface, cached := o.cachedSurface, o.cachedTrigger
	o.cachedSurface, o.cachedTrigger = nil, nil
	if surface == nil || cached == nil || trigger == nil || feature == nil || cached.ID() != trigger.ID() {
		o.mu.Unlock()
		return Run{}, ErrNotEligible
	}
	s := o.settings.Snapshot()
	target, ok := o.sources.Get(s.TargetID)
	if !ok {
		o.mu.Unlock()
		return Run{}, ErrNotEligible
	}
	run := Run{ID: uuid.NewString(), Gen: o.gen.Add(1), Started: time.Now(), State: Buffering}
	o.state = Buffering
	spec := buffer.Spec{
		Geometry:   feature.Geometry,
		Distance:   float64(s.Distance),
		Unit:       s.Unit,
		SpatialRef: surface.SpatialRef,
	}
	// 约束：请求须在锁内发出，缓冲层的代数顺序才与执行代数一致
	o.buf.Request(ctx, spec, func(out buffer.Outcome) {
		o.onBuffer(ctx, run, target, surface, out)
	})
	o.mu.Unlock()

	o.log.Info("nearby_execute", "run", run.ID, "gen", run.Gen, "trigger", trigger.ID(), "target", target.ID(),
		"surface", surface.ID, "distance", s.Distance, "unit", s.Unit.String())
	return run, nil
}

func (o *Orchestrator) onBuffer(ctx context.Context, run Run, target query.DataSource, surface *mapview.Surface, out buffer.Outcome) {
	if out.Kind == buffer.OutcomeSuperseded || !o.advance(run, Querying) {
		o.finish(run, Report{Phase: Buffering, Result: ResultSuperseded})
		return
	}
	switch out.Kind {
	case buffer.OutcomeFailed:
		o.notifier.Notify(ctx, run, out.Diagnostic())
		o.finish(run, Report{Phase: Buffering, Result: ResultBufferFailed, Err: out.Err})
		return
	case buffer.OutcomeEmpty:
		o.log.Debug("nearby_buffer_empty", "run", run.ID)
		o.finish(run, Report{Phase: Buffering, Result: ResultBufferEmpty, Err: out.Err})
		return
	}

	res := o.qc.Query(ctx, target, out.Geometry)
	matched := query.MatchedIDs(res, target.IDField())
	if !o.advance(run, Reconciling) {
		o.finish(run, Report{Phase: Querying, Result: ResultSuperseded, Matched: len(matched)})
		return
	}
	o.reconcile(run, target, surface, matched)
}

// reconcile 在锁内再次校验代数后对齐，保证过期结果不会覆盖新执行的结果
func (o *Orchestrator) reconcile(run Run, target query.DataSource, surface *mapview.Surface, matched selection.IDSet) {
	o.mu.Lock()
	if o.gen.Load() != run.Gen {
		o.mu.Unlock()
		o.finish(run, Report{Phase: Reconciling, Result: ResultSuperseded, Matched: len(matched)})
		return
	}
	s, ok := o.host.SurfaceFor(target.ID())
	var layer *mapview.Layer
	if ok && s.ID == surface.ID {
		layer, ok = s.Layer(target.ID())
	} else {
		ok = false
	}
	if !ok {
		o.mu.Unlock()
		o.log.Debug("nearby_layer_missing", "run", run.ID, "target", target.ID(), "surface", surface.ID)
		o.finish(run, Report{Phase: Reconciling, Result: ResultLayerMissing, Matched: len(matched)})
		return
	}
	st := selection.Reconcile(layer.Features(), matched, selection.FieldExtractor(target.IDField()))
	o.mu.Unlock()

	metrics.ReconcileSelectedTotal.Add(float64(st.Selected))
	o.log.Info("reconcile_done", "run", run.ID, "matched", len(matched), "selected", st.Selected, "cleared", st.Cleared, "skipped", st.Skipped)
	o.finish(run, Report{Phase: Reconciling, Result: ResultReconciled, Matched: len(matched), Selected: st.Selected, Skipped: st.Skipped})
}

// advance 当前执行推进到下一状态；过期执行返回 false
func (o *Orchestrator) advance(run Run, next State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen.Load() != run.Gen {
		return false
	}
	o.state = next
	return true
}

func (o *Orchestrator) finish(run Run, r Report) {
	r.Run = run
	r.Duration = time.Since(run.Started)
	o.mu.Lock()
	if o.gen.Load() == run.Gen {
		o.state = Idle
	}
	r.Run.State = Idle
	if o.last == nil || run.Gen >= o.last.Run.Gen {
		o.last = &r
	}
	hooks := slices.Clone(o.hooks)
	o.mu.Unlock()

	metrics.RunsTotal.WithLabelValues(r.Result).Inc()
	o.log.Debug("nearby_done", "run", run.ID, "result", r.Result, "phase", r.Phase.String(), "duration_ms", r.Duration.Milliseconds())
	for _, fn := range hooks {
		fn(r)
	}
}
