package proxy

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/edgehub/edgehub/internal/server"
)

// revalidateDirective 让 origin 前的任何中间缓存都不复用旧结果。
const revalidateDirective = "max-age=0"

// FetchOptions 控制单次 origin 请求的行为。
type FetchOptions struct {
	// Revalidate 表示这是一次条件再验证请求。
	Revalidate bool
}

// Origin 是读路径背后的真实内容来源：HTTP 上游或 durable bucket。
type Origin interface {
	Fetch(ctx context.Context, req *http.Request, opts FetchOptions) (*http.Response, error)
}

// httpOrigin 把请求转发到站点配置的 HTTP 上游。
type httpOrigin struct {
	client     *http.Client
	base       *url.URL
	listenPort int
}

// NewHTTPOrigin 创建 HTTP origin。base 的 path 会作为前缀拼接到请求路径前。
func NewHTTPOrigin(client *http.Client, base *url.URL, listenPort int) Origin {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpOrigin{client: client, base: base, listenPort: listenPort}
}

func (o *httpOrigin) Fetch(ctx context.Context, req *http.Request, opts FetchOptions) (*http.Response, error) {
	target := *o.base
	target.Path = singleJoiningSlash(o.base.Path, req.URL.Path)
	target.RawPath = ""
	target.RawQuery = req.URL.RawQuery

	body := req.Body
	if body == nil {
		body = http.NoBody
	}
	outbound, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	outbound.ContentLength = req.ContentLength

	server.CopyHeaders(outbound.Header, req.Header)
	// 正文需要原样缓存，由边缘决定是否压缩，避免 origin 返回压缩编码后 ETag 语义不一致。
	outbound.Header.Del("Accept-Encoding")
	outbound.Host = o.base.Host

	if req.Host != "" {
		outbound.Header.Set("X-Forwarded-Host", req.Host)
	}
	if ip := clientIP(req.RemoteAddr); ip != "" {
		outbound.Header.Set("X-Forwarded-For", ip)
	}
	outbound.Header.Set("X-Forwarded-Proto", forwardedProto(req))
	if o.listenPort > 0 {
		outbound.Header.Set("X-Forwarded-Port", strconv.Itoa(o.listenPort))
	}
	if opts.Revalidate {
		outbound.Header.Set("Cache-Control", revalidateDirective)
	}

	return o.client.Do(outbound)
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

func clientIP(remote string) string {
	if remote == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}

func forwardedProto(req *http.Request) string {
	if req.URL != nil && req.URL.Scheme != "" {
		return req.URL.Scheme
	}
	return "http"
}
