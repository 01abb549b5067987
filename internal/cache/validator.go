package cache

import (
	"net/http"
	"strings"
)

// Protocol 指定站点使用的再验证协议，同一站点只会使用其中一种。
type Protocol string

const (
	ProtocolETag         Protocol = "etag"
	ProtocolLastModified Protocol = "last-modified"
)

// ParseProtocol 将配置中的字符串映射为 Protocol。
func ParseProtocol(raw string) (Protocol, bool) {
	switch Protocol(strings.ToLower(strings.TrimSpace(raw))) {
	case ProtocolETag:
		return ProtocolETag, true
	case ProtocolLastModified:
		return ProtocolLastModified, true
	default:
		return "", false
	}
}

// Header 返回携带 validator 的响应头名称。
func (p Protocol) Header() string {
	if p == ProtocolLastModified {
		return "Last-Modified"
	}
	return "Etag"
}

// ConditionalHeader 返回向 origin 发起条件请求时使用的请求头。
func (p Protocol) ConditionalHeader() string {
	if p == ProtocolLastModified {
		return "If-Modified-Since"
	}
	return "If-None-Match"
}

// MetadataKey 是 durable 对象 custom metadata 中保存 validator 的字段名。
func (p Protocol) MetadataKey() string {
	return string(p)
}

// Extract 从响应头中读取 validator，缺失时返回 false。
func (p Protocol) Extract(header http.Header) (Validator, bool) {
	value := strings.TrimSpace(header.Get(p.Header()))
	if value == "" {
		return Validator{}, false
	}
	return Validator{Protocol: p, Value: value}, true
}

// FromMetadata 从 durable 对象的 custom metadata 中读取 validator。
func (p Protocol) FromMetadata(meta map[string]string) (Validator, bool) {
	value := strings.TrimSpace(meta[p.MetadataKey()])
	if value == "" {
		return Validator{}, false
	}
	return Validator{Protocol: p, Value: value}, true
}

// Validator 是 ETag（不透明相等比较）或 Last-Modified（时间比较）。
type Validator struct {
	Protocol Protocol
	Value    string
}

// ApplyConditional 把 validator 写入 origin 请求的条件头。
func (v Validator) ApplyConditional(header http.Header) {
	header.Set(v.Protocol.ConditionalHeader(), v.Value)
}

// SatisfiedBy 判断客户端自己的条件请求头是否与该 validator 匹配。
// ETag 走列表相等比较；Last-Modified 走日期比较（clientDate >= cachedDate），
// 以兼容时间粒度更粗的客户端。
func (v Validator) SatisfiedBy(header http.Header) bool {
	raw := strings.TrimSpace(header.Get(v.Protocol.ConditionalHeader()))
	if raw == "" || v.Value == "" {
		return false
	}
	if v.Protocol == ProtocolLastModified {
		clientDate, err := http.ParseTime(raw)
		if err != nil {
			return false
		}
		cachedDate, err := http.ParseTime(v.Value)
		if err != nil {
			return false
		}
		return !clientDate.Before(cachedDate)
	}

	if raw == v.Value {
		return true
	}
	for _, candidate := range strings.Split(raw, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == v.Value {
			return true
		}
	}
	return false
}
