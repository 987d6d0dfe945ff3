package query

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"geo-nearby/internal/geom"
	"geo-nearby/internal/logger"
	"geo-nearby/internal/metrics"
)

// 文档注释：空间查询客户端
// 背景：把缓冲面转换为"与面相交、返回几何、不带属性过滤"的查询并执行到目标数据源。
// 约束：目标为空或面为空时不发起查询，直接返回空结果；数据源错误与取消统一转换为 Canceled 结果，不向上抛错。
type Client struct {
	timeout time.Duration
	log     *slog.Logger
}

type ClientOption func(*Client)

// WithTimeout 单次查询超时；0 表示不设本地超时
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.With("query")
	}
	return c
}

// Query 查询目标数据源中与 area 相交的要素；返回值永不为 nil
func (c *Client) Query(ctx context.Context, target DataSource, area orb.Geometry) *Result {
	if target == nil || geom.IsEmpty(area) {
		return &Result{}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	q := Query{Geometry: area, ReturnGeometry: true, Relation: Intersects}
	t0 := time.Now()
	c.log.Debug("query_begin", "source", target.ID())
	res, err := target.ExecuteQuery(ctx, q)
	metrics.QueryDurationMs.WithLabelValues(target.ID()).Observe(float64(time.Since(t0).Milliseconds()))
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = "canceled"
		}
		metrics.QueryRequestsTotal.WithLabelValues(target.ID(), outcome).Inc()
		c.log.Warn("query_failed", "source", target.ID(), "err", err)
		return &Result{Canceled: true}
	}
	if res == nil {
		res = &Result{}
	}
	if res.Canceled {
		metrics.QueryRequestsTotal.WithLabelValues(target.ID(), "canceled").Inc()
	} else {
		metrics.QueryRequestsTotal.WithLabelValues(target.ID(), "ok").Inc()
	}
	c.log.Debug("query_done", "source", target.ID(), "features", len(res.Features), "canceled", res.Canceled)
	return res
}
