package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/cacheproxy/internal/cache"
	"github.com/any-hub/cacheproxy/internal/relay"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
// path 为空时不读取文件，完全使用内置默认值。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyCacheDefaults(&cfg.Cache)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.SnapshotPath != "" {
		absSnapshot, err := filepath.Abs(cfg.Global.SnapshotPath)
		if err != nil {
			return nil, fmt.Errorf("无法解析快照路径: %w", err)
		}
		cfg.Global.SnapshotPath = absSnapshot
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("AdminPort", 0)
	v.SetDefault("SnapshotPath", "")
	v.SetDefault("UserAgent", relay.DefaultUserAgent)
	v.SetDefault("UpstreamDialTimeout", "0s")
	v.SetDefault("ShutdownTimeout", "10s")
	v.SetDefault("Cache.MaxCacheSize", cache.DefaultCapacity)
	v.SetDefault("Cache.MaxObjectSize", cache.DefaultMaxObjectSize)
	v.SetDefault("Cache.Buckets", cache.DefaultBuckets)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	if g.UserAgent == "" {
		g.UserAgent = relay.DefaultUserAgent
	}
}

func applyCacheDefaults(c *CacheConfig) {
	if c.MaxCacheSize == 0 {
		c.MaxCacheSize = cache.DefaultCapacity
	}
	if c.MaxObjectSize == 0 {
		c.MaxObjectSize = cache.DefaultMaxObjectSize
	}
	if c.Buckets == 0 {
		c.Buckets = cache.DefaultBuckets
	}
}

// CacheOptions 将配置转换为 cache.Options。
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		Capacity:      c.Cache.MaxCacheSize,
		MaxObjectSize: c.Cache.MaxObjectSize,
		Buckets:       c.Cache.Buckets,
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
