package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/edgehub/edgehub/internal/profile"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有站点共享同一份参数。
type GlobalConfig struct {
	ListenPort            int      `mapstructure:"ListenPort"`
	LogLevel              string   `mapstructure:"LogLevel"`
	LogFilePath           string   `mapstructure:"LogFilePath"`
	LogMaxSize            int      `mapstructure:"LogMaxSize"`
	LogMaxBackups         int      `mapstructure:"LogMaxBackups"`
	LogCompress           bool     `mapstructure:"LogCompress"`
	StoragePath           string   `mapstructure:"StoragePath"`
	DurableBackend        string   `mapstructure:"DurableBackend"`
	EphemeralBackend      string   `mapstructure:"EphemeralBackend"`
	EphemeralMaxEntries   int      `mapstructure:"EphemeralMaxEntries"`
	EphemeralMaxBytes     int64    `mapstructure:"EphemeralMaxBytes"`
	MaxEphemeralEntrySize int64    `mapstructure:"MaxEphemeralEntrySize"`
	SpoolMemoryLimit      int64    `mapstructure:"SpoolMemoryLimit"`
	MaxUploadSize         int64    `mapstructure:"MaxUploadSize"`
	UpstreamTimeout       Duration `mapstructure:"UpstreamTimeout"`
	BackgroundTimeout     Duration `mapstructure:"BackgroundTimeout"`
	ShutdownTimeout       Duration `mapstructure:"ShutdownTimeout"`
}

// SiteConfig 决定单个站点如何与客户端/origin 交互。留空的字段沿用 Profile 默认值。
type SiteConfig struct {
	Name             string   `mapstructure:"Name"`
	Domain           string   `mapstructure:"Domain"`
	Profile          string   `mapstructure:"Profile"`
	Upstream         string   `mapstructure:"Upstream"`
	Validation       string   `mapstructure:"Validation"`
	SessionCookie    string   `mapstructure:"SessionCookie"`
	DurableTier      *bool    `mapstructure:"DurableTier"`
	Bucket           string   `mapstructure:"Bucket"`
	StorageSuffix    string   `mapstructure:"StorageSuffix"`
	Ingest           string   `mapstructure:"Ingest"`
	NamespaceFrom    string   `mapstructure:"NamespaceFrom"`
	NamespaceHeader  string   `mapstructure:"NamespaceHeader"`
	KeysFile         string   `mapstructure:"KeysFile"`
	ShortTTLSuffixes []string `mapstructure:"ShortTTLSuffixes"`
	IndexDocument    string   `mapstructure:"IndexDocument"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Sites  []SiteConfig `mapstructure:"Site"`
}

// DefaultMaxUploadSize 是签名上传正文的默认上限。
const DefaultMaxUploadSize int64 = 512 * 1024 * 1024

// BucketScheme 是 bucket origin 的上游地址前缀，例如 bucket://cdn。
const BucketScheme = "bucket"

// OriginBucket 若 Upstream 指向 bucket，返回 bucket 名称。
func (s SiteConfig) OriginBucket() (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(s.Upstream))
	if err != nil || parsed.Scheme != BucketScheme || parsed.Host == "" {
		return "", false
	}
	return parsed.Host, true
}

// DurableBucket 返回 durable 副本所在的 bucket，未配置时使用站点名称。
func (s SiteConfig) DurableBucket() string {
	if s.Bucket != "" {
		return s.Bucket
	}
	return s.Name
}

// ProfileOverrides 将站点层配置映射为 Profile 覆盖项。
func (s SiteConfig) ProfileOverrides() profile.Overrides {
	return profile.Overrides{
		Validation:       strings.TrimSpace(s.Validation),
		DurableTier:      s.DurableTier,
		StorageSuffix:    s.StorageSuffix,
		SessionCookie:    strings.TrimSpace(s.SessionCookie),
		Ingest:           strings.TrimSpace(s.Ingest),
		NamespaceFrom:    strings.TrimSpace(s.NamespaceFrom),
		NamespaceHeader:  strings.TrimSpace(s.NamespaceHeader),
		ShortTTLSuffixes: s.ShortTTLSuffixes,
		IndexDocument:    strings.TrimSpace(s.IndexDocument),
	}
}

// ProfileSummary 返回所有站点的类型摘要，例如 wiki:wiki、cdn:bucket。
func ProfileSummary(sites []SiteConfig) []string {
	if len(sites) == 0 {
		return nil
	}
	result := make([]string, len(sites))
	for i, site := range sites {
		result[i] = fmt.Sprintf("%s:%s", site.Name, site.Profile)
	}
	return result
}
