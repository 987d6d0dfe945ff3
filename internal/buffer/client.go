package buffer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"geo-nearby/internal/logger"
	"geo-nearby/internal/metrics"
)

// 文档注释：缓冲客户端（单飞请求）
// 背景：同一时刻只有一个有效请求；新请求递增代数并取消上一个请求的上下文，远端是否真正中止不作保证。
// 约束：每个请求的回调恰好执行一次，在独立 goroutine 中；请求发出时捕获的代数已不是最新时，远端结果被丢弃，回调收到 OutcomeSuperseded。
type Client struct {
	svc     Service
	timeout time.Duration
	log     *slog.Logger

	gen    atomic.Uint64
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ClientOption func(*Client)

// WithTimeout 单次请求超时；0 表示不设本地超时
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

func NewClient(svc Service, opts ...ClientOption) *Client {
	c := &Client{svc: svc}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.With("buffer")
	}
	return c
}

// Request 发出缓冲请求并立即返回本次请求的代数
func (c *Client) Request(ctx context.Context, spec Spec, done func(Outcome)) uint64 {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	var rctx context.Context
	var cancel context.CancelFunc
	if c.timeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		rctx, cancel = context.WithCancel(ctx)
	}
	c.cancel = cancel
	gen := c.gen.Add(1)
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Debug("buffer_request", "gen", gen, "distance", spec.Distance, "unit", spec.Unit.String(), "sr", spec.SpatialRef)
	go func() {
		defer c.wg.Done()
		defer cancel()
		out := c.call(rctx, spec)
		if gen != c.gen.Load() {
			metrics.BufferRequestsTotal.WithLabelValues(OutcomeSuperseded.String()).Inc()
			c.log.Debug("buffer_superseded", "gen", gen, "current", c.gen.Load())
			out = Outcome{Kind: OutcomeSuperseded, Err: context.Canceled}
		} else {
			metrics.BufferRequestsTotal.WithLabelValues(out.Kind.String()).Inc()
		}
		if done != nil {
			done(out)
		}
	}()
	return gen
}

// Cancel 使进行中的请求失效；其回调收到 OutcomeSuperseded
func (c *Client) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen.Add(1)
}

// Current 当前代数
func (c *Client) Current() uint64 { return c.gen.Load() }

// Wait 阻塞直到所有已发出请求的回调结束
func (c *Client) Wait() { c.wg.Wait() }

func (c *Client) call(ctx context.Context, spec Spec) Outcome {
	if err := spec.Validate(); err != nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}
	t0 := time.Now()
	res, err := c.svc.Buffer(ctx, spec.Params())
	metrics.BufferDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	if err != nil {
		if errors.Is(err, ErrNoResult) {
			c.log.Debug("buffer_empty", "err", err)
			return Outcome{Kind: OutcomeEmpty, Err: err}
		}
		c.log.Warn("buffer_failed", "err", err)
		return Outcome{Kind: OutcomeFailed, Err: err}
	}
	if len(res) == 0 || !polygonal(res[0]) {
		c.log.Debug("buffer_empty", "results", len(res))
		return Outcome{Kind: OutcomeEmpty, Err: ErrNoResult}
	}
	return Outcome{Kind: OutcomeOK, Geometry: res[0]}
}
