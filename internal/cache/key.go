package cache

import (
	"net/url"
	"path"
	"strings"
)

// Key 是请求的规范化标识。Scheme 固定为 https，Host 小写且不含端口，
// Path 已清理并丢弃 query；Suffix 用于区分同一资源在不同存储层中的条目。
type Key struct {
	Scheme string
	Host   string
	Path   string
	Suffix string
}

// NewKey 基于请求 URL 构造 Key。条件请求头与 Cookie 不参与计算。
func NewKey(u *url.URL, suffix string) Key {
	host := ""
	raw := "/"
	if u != nil {
		host = strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
		if u.Path != "" {
			raw = u.Path
		}
	}
	return Key{
		Scheme: "https",
		Host:   host,
		Path:   normalizePath(raw),
		Suffix: suffix,
	}
}

// String 返回 edge 层使用的缓存键，例如 https://wiki.local/Main_Page.cache。
func (k Key) String() string {
	return k.Scheme + "://" + k.Host + k.Path + k.Suffix
}

// ObjectName 返回 durable 层的对象名（去掉前导斜杠）。
func (k Key) ObjectName() string {
	return strings.TrimPrefix(k.Path, "/") + k.Suffix
}

func normalizePath(raw string) string {
	clean := path.Clean("/" + raw)
	if strings.HasSuffix(raw, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}
