package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

// ErrNotFound 表示对象不存在。
var ErrNotFound = errors.New("object not found")

// Metadata 描述一个 durable 对象，Put 时生成，此后只读。
type Metadata struct {
	Name           string            `json:"name"`
	Size           int64             `json:"size"`
	ContentType    string            `json:"content_type,omitempty"`
	MD5            string            `json:"md5"`
	ETag           string            `json:"etag"`
	HTTPHeader     http.Header       `json:"http_header,omitempty"`
	CustomMetadata map[string]string `json:"custom_metadata,omitempty"`
	Uploaded       time.Time         `json:"uploaded"`
}

// Object 组合 Metadata 与正文，调用方负责关闭 Body。
type Object struct {
	Metadata
	Body io.ReadCloser
}

// PutOptions 控制写入时附带的属性。
type PutOptions struct {
	ContentType    string
	HTTPHeader     http.Header
	CustomMetadata map[string]string
}

// Store 是单个 bucket 的读写接口。
type Store interface {
	// Get 返回对象正文与元数据，不存在时返回 ErrNotFound。
	Get(ctx context.Context, name string) (*Object, error)

	// Head 仅返回元数据。
	Head(ctx context.Context, name string) (*Metadata, error)

	// Put 写入（或覆盖）对象，并在写入过程中计算 MD5。
	Put(ctx context.Context, name string, body io.Reader, opts PutOptions) (*Metadata, error)
}

// Backend 按名称提供 bucket。
type Backend interface {
	Bucket(name string) (Store, error)
	Close() error
}

// Open 根据 kind 打开对应的 durable 后端。
func Open(kind, basePath string) (Backend, error) {
	switch strings.ToLower(kind) {
	case "", "fs":
		return NewFSBackend(basePath)
	case "sqlite":
		return NewSQLiteBackend(basePath)
	default:
		return nil, fmt.Errorf("unsupported durable backend %q", kind)
	}
}

// outwardHeaders 是允许作为对象 HTTP 元数据回放给客户端的响应头。
var outwardHeaders = []string{
	"Content-Type",
	"Content-Language",
	"Content-Disposition",
	"Content-Encoding",
	"Cache-Control",
	"Expires",
}

// FilterHTTPMetadata 从响应头中挑出可随对象保存的字段。
func FilterHTTPMetadata(src http.Header) http.Header {
	dst := make(http.Header)
	for _, name := range outwardHeaders {
		if value := src.Get(name); value != "" {
			dst.Set(name, value)
		}
	}
	return dst
}

// cleanName 规范化对象名并拒绝越界路径。
func cleanName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("object name required")
	}
	if strings.Contains(name, "\x00") {
		return "", errors.New("invalid object name")
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+name), "/")
	if cleaned == "" || cleaned == "." {
		return "", errors.New("invalid object name")
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return "", errors.New("invalid object name")
		}
	}
	return cleaned, nil
}

func validBucket(name string) error {
	if name == "" {
		return errors.New("bucket name required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid bucket name %q", name)
	}
	return nil
}

func cloneMetadata(meta *Metadata) *Metadata {
	if meta == nil {
		return nil
	}
	out := *meta
	out.HTTPHeader = meta.HTTPHeader.Clone()
	if meta.CustomMetadata != nil {
		out.CustomMetadata = make(map[string]string, len(meta.CustomMetadata))
		for k, v := range meta.CustomMetadata {
			out.CustomMetadata[k] = v
		}
	}
	return &out
}

func quoteETag(sum string) string {
	return `"` + sum + `"`
}
