package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/edgehub/edgehub/internal/cache"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectSiteLevelPorts(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Sites {
		applySiteDefaults(&cfg.Sites[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析存储目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("无法解析配置目录: %w", err)
	}
	for i := range cfg.Sites {
		if keys := cfg.Sites[i].KeysFile; keys != "" && !filepath.IsAbs(keys) {
			cfg.Sites[i].KeysFile = filepath.Join(baseDir, keys)
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("DurableBackend", "fs")
	v.SetDefault("EphemeralBackend", "memory")
	v.SetDefault("EphemeralMaxEntries", cache.DefaultMaxEntries)
	v.SetDefault("EphemeralMaxBytes", cache.DefaultMaxBytes)
	v.SetDefault("MaxEphemeralEntrySize", cache.DefaultMaxEntrySize)
	v.SetDefault("SpoolMemoryLimit", cache.DefaultSpoolMemoryLimit)
	v.SetDefault("MaxUploadSize", DefaultMaxUploadSize)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("BackgroundTimeout", "5m")
	v.SetDefault("ShutdownTimeout", "30s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.DurableBackend = strings.ToLower(strings.TrimSpace(g.DurableBackend))
	if g.DurableBackend == "" {
		g.DurableBackend = "fs"
	}
	g.EphemeralBackend = strings.ToLower(strings.TrimSpace(g.EphemeralBackend))
	if g.EphemeralBackend == "" {
		g.EphemeralBackend = "memory"
	}
	if g.EphemeralMaxEntries == 0 {
		g.EphemeralMaxEntries = cache.DefaultMaxEntries
	}
	if g.EphemeralMaxBytes == 0 {
		g.EphemeralMaxBytes = cache.DefaultMaxBytes
	}
	if g.MaxEphemeralEntrySize == 0 {
		g.MaxEphemeralEntrySize = cache.DefaultMaxEntrySize
	}
	if g.SpoolMemoryLimit == 0 {
		g.SpoolMemoryLimit = cache.DefaultSpoolMemoryLimit
	}
	if g.MaxUploadSize == 0 {
		g.MaxUploadSize = DefaultMaxUploadSize
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.BackgroundTimeout.DurationValue() == 0 {
		g.BackgroundTimeout = Duration(5 * time.Minute)
	}
	if g.ShutdownTimeout.DurationValue() == 0 {
		g.ShutdownTimeout = Duration(30 * time.Second)
	}
}

func applySiteDefaults(s *SiteConfig) {
	s.Profile = strings.ToLower(strings.TrimSpace(s.Profile))
	s.Domain = strings.ToLower(strings.TrimSpace(s.Domain))
	if s.Validation != "" {
		s.Validation = strings.ToLower(strings.TrimSpace(s.Validation))
	}
	if s.Ingest != "" {
		s.Ingest = strings.ToLower(strings.TrimSpace(s.Ingest))
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

// rejectSiteLevelPorts 拒绝站点级 Port 字段，所有站点共用全局 ListenPort 并按 Host 区分。
func rejectSiteLevelPorts(v *viper.Viper) error {
	raw := v.Get("Site")
	sites, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range sites {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		for key := range m {
			if !strings.EqualFold(key, "Port") {
				continue
			}
			name := fmt.Sprintf("#%d", idx)
			for k, val := range m {
				if strings.EqualFold(k, "Name") {
					if rawName, ok := val.(string); ok && rawName != "" {
						name = rawName
					}
				}
			}
			return newFieldError(siteField(name, "Port"), "不支持站点级端口，请使用全局 ListenPort")
		}
	}

	return nil
}
