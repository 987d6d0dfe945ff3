package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"geo-nearby/internal/app"
	"geo-nearby/internal/config"
	"geo-nearby/internal/store"
	"geo-nearby/internal/utils"
)

type rootFlags struct {
	configPath string
}

// openDeps 构建外部依赖；测试中替换为离线缓冲服务
var openDeps = defaultDeps

func defaultDeps(ctx context.Context) (app.Deps, func(), error) {
	d := app.Deps{}
	var closers []func()
	if utils.PostgresConfigured() {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			return d, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		d.Store = store.AttachDB(db)
	}
	if rc := utils.OpenRedisFromEnv(); rc != nil {
		if err := rc.Ping(ctx).Err(); err == nil {
			d.Redis = rc
		}
		closers = append(closers, func() { _ = rc.Close() })
	}
	return d, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "nearbyctl",
		Short:         "Select target-layer features near a trigger feature",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to layer configuration (default $NEARBY_CONFIG or data/nearby.yaml)")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newSourcesCmd(flags))

	return cmd
}

// build 读取配置并装配；返回的 close 释放数据库与 Redis 连接
func (f *rootFlags) build(ctx context.Context) (*app.App, func(), error) {
	cfg := config.FromEnv()
	path := f.configPath
	if path == "" {
		path = cfg.ConfigFile
	}
	file, err := config.LoadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	deps, closeDeps, err := openDeps(ctx)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Build(ctx, cfg, file, deps)
	if err != nil {
		closeDeps()
		return nil, nil, err
	}
	return a, closeDeps, nil
}
