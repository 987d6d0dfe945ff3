// 包 logger：统一初始化与获取日志器，避免各模块重复配置；通过环境变量控制日志级别与输出格式
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
)

// Setup：初始化默认日志器
// 背景：集中化日志配置；LOG_LEVEL 取 debug/info/warn/error，LOG_FORMAT=json 时输出 JSON
// 约束：输出目标固定为标准错误；"error" 键统一改写为 "err"
func Setup() *slog.Logger {
	l := New(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
	return l
}

// New：按级别与格式构建日志器，供 Setup 与测试复用
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level), ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == "error" {
			a.Key = "err"
		}
		return a
	}}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// L：获取默认日志器；未初始化时回退到 Setup
func L() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil {
		return Setup()
	}
	return l
}

// With：附带 component 字段的子日志器
func With(component string) *slog.Logger { return L().With("component", component) }

// Nop：丢弃全部输出
func Nop() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// Replace：替换默认日志器并返回旧值，测试中用于捕获输出
func Replace(l *slog.Logger) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	old := defaultLogger
	defaultLogger = l
	return old
}
