package profile

import (
	"strings"

	"github.com/edgehub/edgehub/internal/cache"
)

// OriginKind 表示站点的上游类型。
type OriginKind string

const (
	// OriginHTTP 通过 HTTP 访问外部 origin。
	OriginHTTP OriginKind = "http"
	// OriginBucket 直接以 durable bucket 作为 origin。
	OriginBucket OriginKind = "bucket"
)

// IngestMode 描述签名上传对已存在对象的处理方式。
type IngestMode string

const (
	IngestDisabled IngestMode = ""
	// IngestContentAddressed 允许字节完全相同的重复上传（按 MD5 判断），内容不同则冲突。
	IngestContentAddressed IngestMode = "content-addressed"
	// IngestPathAddressed 只要路径已存在就冲突。
	IngestPathAddressed IngestMode = "path-addressed"
)

// ParseIngestMode 解析配置值，"none"/"off" 视为关闭。
func ParseIngestMode(raw string) (IngestMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none", "off":
		return IngestDisabled, true
	case string(IngestContentAddressed):
		return IngestContentAddressed, true
	case string(IngestPathAddressed):
		return IngestPathAddressed, true
	default:
		return "", false
	}
}

// NamespaceSource 决定上传请求的命名空间来源。
type NamespaceSource string

const (
	NamespaceFromPath   NamespaceSource = "path"
	NamespaceFromHeader NamespaceSource = "header"
)

// DefaultNamespaceHeader 是 header 模式下默认读取的请求头。
const DefaultNamespaceHeader = "X-Repository"

// BucketOptions 控制 bucket origin 的对象映射与缓存指令。
type BucketOptions struct {
	// IndexDocument 为目录请求补全的对象名；为空时目录请求返回 403。
	IndexDocument string
	// ShortTTLSuffixes 命中时使用短 TTL + must-revalidate，其余对象视为不可变。
	ShortTTLSuffixes []string
	// AllowedSuffixes 非空时只服务这些后缀的对象。
	AllowedSuffixes []string
	// ObjectSuffix 读取时追加到对象名（例如压缩存储的 .gz）。
	ObjectSuffix string
	// ContentType 非空时覆盖对象自带的 Content-Type。
	ContentType string
	// ContentEncoding 非空时声明对象以该编码存储，原样交给客户端解码。
	ContentEncoding string
}

// Profile 描述一种站点类型的默认策略。
type Profile struct {
	Key             string
	Description     string
	Validation      cache.Protocol
	DurableTier     bool
	StorageSuffix   string
	SessionCookie   string
	Origin          OriginKind
	Ingest          IngestMode
	NamespaceFrom   NamespaceSource
	NamespaceHeader string
	Bucket          BucketOptions
}

// Cacheable 表示该类型的 GET/HEAD 是否走分层缓存。
func (p Profile) Cacheable() bool {
	return p.Validation != ""
}
