package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"geo-nearby/internal/buffer"
	"geo-nearby/internal/logger"
)

const (
	KindMemory         = "memory"
	KindPostGIS        = "postgis"
	KindFeatureService = "featureservice"
)

// 文档注释：图层定义
// 背景：每个图层对应一个数据源，并在所属地图表面上渲染；memory 从 GeoJSON 文件加载，postgis 查询 nearby_features，featureservice 调用 ArcGIS 要素服务。
// 约束：渲染要素始终来自数据源的整层查询结果，与检索结果是独立对象。
type LayerConfig struct {
	Source     string `yaml:"source" validate:"required"`
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind" validate:"source_kind"`
	File       string `yaml:"file" validate:"required_if=Kind memory"`
	Layer      string `yaml:"layer"`
	URL        string `yaml:"url" validate:"required_if=Kind featureservice,omitempty,url"`
	IDField    string `yaml:"id_field" validate:"required"`
	Selectable *bool  `yaml:"selectable"`
}

// IsSelectable 未显式配置时默认可选
func (l LayerConfig) IsSelectable() bool { return l.Selectable == nil || *l.Selectable }

type SurfaceConfig struct {
	ID     string        `yaml:"id" validate:"required"`
	WKID   int           `yaml:"wkid" validate:"gt=0"`
	Layers []LayerConfig `yaml:"layers" validate:"dive"`
}

type GeometryServiceConfig struct {
	URL       string `yaml:"url" validate:"omitempty,url"`
	TimeoutMS int    `yaml:"timeout_ms" validate:"gte=0"`
}

// 文档注释：配置文件（YAML）
// 背景：描述检索动作初始配置、几何服务与地图表面/图层；环境变量优先级高于文件。
type File struct {
	Action          Settings              `yaml:"action"`
	GeometryService GeometryServiceConfig `yaml:"geometry_service"`
	Surfaces        []SurfaceConfig       `yaml:"surfaces" validate:"dive"`
}

// LoadFile 读取并校验 YAML 配置；memory 图层的相对路径相对于配置文件所在目录
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := ParseFile(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	base := filepath.Dir(path)
	for i := range f.Surfaces {
		for j := range f.Surfaces[i].Layers {
			l := &f.Surfaces[i].Layers[j]
			if l.File != "" && !filepath.IsAbs(l.File) {
				l.File = filepath.Join(base, l.File)
			}
		}
	}
	return f, nil
}

// ParseFile 解析 YAML 字节；action 中缺省字段取默认值，kind 缺省为 memory
func ParseFile(b []byte) (*File, error) {
	f := File{Action: DefaultSettings()}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	f.Action = f.Action.normalize()
	for i := range f.Surfaces {
		for j := range f.Surfaces[i].Layers {
			if f.Surfaces[i].Layers[j].Kind == "" {
				f.Surfaces[i].Layers[j].Kind = KindMemory
			}
		}
	}
	if err := validate(f); err != nil {
		return nil, err
	}
	seen := map[string]string{}
	for _, s := range f.Surfaces {
		for _, l := range s.Layers {
			if prev, ok := seen[l.Source]; ok {
				return nil, fmt.Errorf("%w: source %q declared on surfaces %q and %q", ErrInvalidConfig, l.Source, prev, s.ID)
			}
			seen[l.Source] = s.ID
		}
	}
	return &f, nil
}

// LoadDotEnv 加载 .env 与 data/env/.env；文件不存在时忽略
func LoadDotEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
}

// 文档注释：进程级配置
// 背景：服务与命令行工具共享；数值解析失败时回退到默认值并记录日志，不中断启动。
type Config struct {
	Addr               string
	APIBase            string
	ConfigFile         string
	GeometryServiceURL string
	BufferTimeout      time.Duration
	QueryTimeout       time.Duration
	BufferCacheTTL     time.Duration
	HeartbeatInterval  time.Duration
}

func FromEnv() Config {
	c := Config{
		Addr:               envOr("ADDR", ":8080"),
		APIBase:            envOr("API_BASE", "/api"),
		ConfigFile:         envOr("NEARBY_CONFIG", filepath.Join("data", "nearby.yaml")),
		GeometryServiceURL: os.Getenv("GEOMETRY_SERVICE_URL"),
		BufferTimeout:      time.Duration(envInt("BUFFER_TIMEOUT_MS", 0)) * time.Millisecond,
		QueryTimeout:       time.Duration(envInt("QUERY_TIMEOUT_MS", 0)) * time.Millisecond,
		BufferCacheTTL:     time.Duration(envInt("BUFFER_CACHE_TTL_S", 3600)) * time.Second,
		HeartbeatInterval:  time.Duration(envInt("SOURCE_HEARTBEAT_S", 10)) * time.Second,
	}
	logger.L().Debug("config_env", "addr", c.Addr, "api_base", c.APIBase, "config_file", c.ConfigFile, "geometry_service", c.GeometryServiceURL)
	return c
}

// GeometryURL 几何服务地址：环境变量优先，其次配置文件，最后公共服务
func (c Config) GeometryURL(fromFile string) string {
	switch {
	case c.GeometryServiceURL != "":
		return c.GeometryServiceURL
	case fromFile != "":
		return fromFile
	}
	return buffer.DefaultGeometryServerURL
}

// 文档注释：环境变量覆盖动作配置
// 约束：NEARBY_TARGET、NEARBY_DISTANCE、NEARBY_UNIT 仅在非空时覆盖；解析失败返回错误，不做部分覆盖。
func ApplyEnv(s Settings) (Settings, error) {
	out := s
	if v := strings.TrimSpace(os.Getenv("NEARBY_TARGET")); v != "" {
		out.TargetID = v
	}
	if v := strings.TrimSpace(os.Getenv("NEARBY_DISTANCE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return s, fmt.Errorf("NEARBY_DISTANCE=%q: %w", v, ErrInvalidDistance)
		}
		out.Distance = n
	}
	if v := strings.TrimSpace(os.Getenv("NEARBY_UNIT")); v != "" {
		u, err := buffer.ParseUnit(v)
		if err != nil {
			return s, fmt.Errorf("NEARBY_UNIT: %w", err)
		}
		out.Unit = u
	}
	return out, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		logger.L().Warn("config_env_invalid", "key", key, "value", v)
		return def
	}
	return n
}
