// 程序入口：读取配置、初始化依赖并启动服务；API 注册在 internal/api
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geo-nearby/internal/api"
	"geo-nearby/internal/app"
	"geo-nearby/internal/config"
	"geo-nearby/internal/logger"
	"geo-nearby/internal/metrics"
	"geo-nearby/internal/middleware"
	"geo-nearby/internal/migrate"
	"geo-nearby/internal/nearby"
	"geo-nearby/internal/store"
	"geo-nearby/internal/utils"
)

func main() {
	config.LoadDotEnv()
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	file, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		l.Error("config_load_error", "path", cfg.ConfigFile, "err", err)
		os.Exit(1)
	}
	l.Info("config_load_ok", "path", cfg.ConfigFile, "surfaces", len(file.Surfaces))

	deps := app.Deps{}
	// 背景：未配置 PostgreSQL 时仅使用内存与要素服务数据源
	if utils.PostgresConfigured() {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		l.Info("db_open_ok")
		if err := db.PingContext(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
		} else {
			l.Info("db_ping_ok")
		}
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		st := store.AttachDB(db)
		if counts, err := st.LayerCount(ctx); err == nil {
			l.Info("db_layers", "counts", counts)
		}
		deps.Store = st
	} else {
		l.Info("db_disabled")
	}

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
		deps.Redis = rc
	}

	a, err := app.Build(ctx, cfg, file, deps)
	if err != nil {
		l.Error("app_build_error", "err", err)
		os.Exit(1)
	}
	// 文档注释：数据源心跳
	// 背景：远端数据源失联时从可选列表中剔除；在 ctx 取消时停止。
	a.Catalog.Start(ctx)
	a.Orchestrator.OnDone(func(r nearby.Report) {
		l.Info("nearby_done", "run", r.Run.ID, "result", r.Result, "matched", r.Matched, "selected", r.Selected, "ms", r.Duration.Milliseconds())
	})

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(api.Deps{Orchestrator: a.Orchestrator, Settings: a.Settings, Catalog: a.Catalog, Host: a.Host})
	mux.Handle(cfg.APIBase+"/", http.StripPrefix(cfg.APIBase, apiMux))
	mux.Handle(cfg.APIBase+"/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Buffer.Cancel()
		_ = s.Shutdown(shutdownCtx)
	}()
	l.Info("listening", "addr", cfg.Addr, "api_base", cfg.APIBase)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("listen_error", "err", err)
		os.Exit(1)
	}
	a.Orchestrator.Wait()
	l.Info("shutdown_ok")
}
