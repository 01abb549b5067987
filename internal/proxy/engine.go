package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgehub/edgehub/internal/cache"
	"github.com/edgehub/edgehub/internal/logging"
	"github.com/edgehub/edgehub/internal/storage"
)

// TaskRunner 执行响应返回之后仍需完成的后台任务，server.Supervisor 即为实现。
type TaskRunner interface {
	Go(task string, fields logrus.Fields, fn func(ctx context.Context) error) error
}

// Site 描述一个站点在读路径上的参数。
type Site struct {
	Name     string
	Protocol cache.Protocol
	Origin   Origin
	// Durable 为 nil 时不使用 durable 层。
	Durable       storage.Store
	StorageSuffix string
	SessionCookie string
	// IgnoreQuery 为 true 时 query 不影响内容（bucket origin），否则带 query 的请求直接透传。
	IgnoreQuery bool
}

// EngineOptions 配置读路径。
type EngineOptions struct {
	Ephemeral    cache.Tier
	Tasks        TaskRunner
	Logger       *logrus.Logger
	MaxEntrySize int64
	// SpoolMemoryLimit 以内的 origin 正文留在内存，更大的落到 SpoolDir。
	SpoolMemoryLimit int64
	SpoolDir         string
}

// Engine 实现分层缓存读路径：按层查找、向 origin 再验证、后台回写以及客户端条件请求。
type Engine struct {
	ephemeral    cache.Tier
	tasks        TaskRunner
	logger       *logrus.Logger
	maxEntrySize int64
	spoolLimit   int64
	spoolDir     string
	now          func() time.Time
}

// NewEngine 创建读路径引擎。
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Ephemeral == nil {
		return nil, errors.New("ephemeral tier is required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("task runner is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	maxSize := opts.MaxEntrySize
	if maxSize <= 0 {
		maxSize = cache.DefaultMaxEntrySize
	}
	spoolLimit := opts.SpoolMemoryLimit
	if spoolLimit <= 0 {
		spoolLimit = cache.DefaultSpoolMemoryLimit
	}
	spoolDir := opts.SpoolDir
	if spoolDir == "" {
		spoolDir = os.TempDir()
	}
	return &Engine{
		ephemeral:    opts.Ephemeral,
		tasks:        opts.Tasks,
		logger:       logger,
		maxEntrySize: maxSize,
		spoolLimit:   spoolLimit,
		spoolDir:     spoolDir,
		now:          time.Now,
	}, nil
}

// Serve 处理一次读请求并返回待写出的响应。origin 不可达时返回 502。
func (e *Engine) Serve(ctx context.Context, site *Site, req *http.Request) *envelope {
	if reason := bypassReason(site, req); reason != "" {
		env := e.bypass(ctx, site, req)
		env.bypassReason = reason
		return env
	}

	client := req.Header.Clone()
	fetchReq := cacheableRequest(ctx, req)
	key := cache.NewKey(&url.URL{Host: req.Host, Path: req.URL.Path}, site.StorageSuffix)
	found := e.lookup(ctx, site, key)

	var (
		env  *envelope
		body *spooledBody
		err  error
	)
	defer func() {
		body.release()
	}()

	switch found.source {
	case sourceEphemeral:
		resp, fresh, ferr := e.revalidate(ctx, site, fetchReq, found.validator)
		if ferr != nil {
			return e.originFailure(site, key, StatusExpired, ferr)
		}
		if fresh {
			env = envelopeFromEntry(found.entry)
			env.cacheStatus = StatusRevalidated
			return e.finish(site, env, client)
		}
		if env, body, err = e.capture(resp); err != nil {
			return e.originFailure(site, key, StatusExpired, err)
		}
		env.cacheStatus = StatusExpired
		if validator, ok := cacheableValidator(site, env); ok && site.Durable != nil {
			e.refreshDurable(site, key, env, body, validator)
		}

	case sourceDurable:
		resp, fresh, ferr := e.revalidate(ctx, site, fetchReq, found.validator)
		if ferr != nil {
			found.object.Body.Close()
			return e.originFailure(site, key, StatusMiss, ferr)
		}
		if fresh {
			env = envelopeFromObject(found.object, found.validator)
			env.cacheStatus = StatusUpdating
			return e.finish(site, env, client)
		}
		found.object.Body.Close()
		if env, body, err = e.capture(resp); err != nil {
			return e.originFailure(site, key, StatusMiss, err)
		}

	default:
		resp, ferr := site.Origin.Fetch(ctx, fetchReq, FetchOptions{})
		if ferr != nil {
			return e.originFailure(site, key, StatusMiss, ferr)
		}
		if env, body, err = e.capture(resp); err != nil {
			return e.originFailure(site, key, StatusMiss, err)
		}
	}

	if env.cacheStatus == "" {
		env.cacheStatus = StatusMiss
	}
	if validator, ok := cacheableValidator(site, env); ok {
		if found.source != sourceEphemeral && site.Durable != nil {
			e.putDurable(site, key, env, body, validator)
		}
		if site.Protocol == cache.ProtocolETag {
			env.header.Del("Last-Modified")
		}
		e.putEphemeral(site, key, env, body)
	}
	return e.finish(site, env, client)
}

// 透传原因，写入 proxy_complete 日志的 bypass_reason 字段。
const (
	bypassUncacheableSite = "uncacheable_site"
	bypassMethod          = "method"
	bypassSessionCookie   = "session_cookie"
	bypassQueryString     = "query_string"
)

// bypassReason 返回请求不走分层缓存的原因，可缓存时返回空串。
func bypassReason(site *Site, req *http.Request) string {
	if site.Protocol == "" {
		return bypassUncacheableSite
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return bypassMethod
	}
	if site.SessionCookie != "" {
		if cookie, err := req.Cookie(site.SessionCookie); err == nil && cookie.Value != "" {
			return bypassSessionCookie
		}
	}
	if req.URL.RawQuery != "" && !site.IgnoreQuery {
		return bypassQueryString
	}
	return ""
}

// bypass 把请求原样交给 origin，响应流式返回，不读写任何缓存层。
func (e *Engine) bypass(ctx context.Context, site *Site, req *http.Request) *envelope {
	resp, err := site.Origin.Fetch(ctx, req, FetchOptions{})
	if err != nil {
		return e.originFailure(site, cache.Key{Path: req.URL.Path}, StatusBypass, err)
	}
	return &envelope{
		status:      resp.StatusCode,
		header:      resp.Header.Clone(),
		stream:      resp.Body,
		size:        resp.ContentLength,
		cacheStatus: StatusBypass,
	}
}

// capture 完整读取 origin 响应，使后台写入不依赖客户端连接。
// 内存中最多保留 spoolLimit 字节，其余落盘。
func (e *Engine) capture(resp *http.Response) (*envelope, *spooledBody, error) {
	defer resp.Body.Close()
	body, err := spoolBody(resp.Body, e.spoolLimit, e.spoolDir)
	if err != nil {
		return nil, nil, err
	}
	header := resp.Header.Clone()
	header.Set("Content-Length", strconv.FormatInt(body.size, 10))
	env := &envelope{status: resp.StatusCode, header: header, size: body.size}
	if body.inMemory() {
		env.body = body.data
	} else {
		env.stream = body.open()
	}
	return env, body, nil
}

// finish 处理所有带 validator 的响应共有的收尾工作。
func (e *Engine) finish(site *Site, env *envelope, client http.Header) *envelope {
	if _, ok := site.Protocol.Extract(env.header); ok {
		env.header.Del("Accept-Ranges")
	}
	return applyClientConditional(site, env, client)
}

func (e *Engine) originFailure(site *Site, key cache.Key, status CacheStatus, err error) *envelope {
	e.logger.WithError(err).WithFields(e.siteFields(site, key)).Warn("origin_unavailable")
	text := http.StatusText(http.StatusBadGateway)
	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	env := newBufferedEnvelope(http.StatusBadGateway, header, []byte(text))
	env.cacheStatus = status
	return env
}

// envelopeFromObject 用 durable 对象构造响应：对象保存的 HTTP 元数据加上 validator。
func envelopeFromObject(obj *storage.Object, validator cache.Validator) *envelope {
	header := obj.HTTPHeader.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if obj.ContentType != "" {
		header.Set("Content-Type", obj.ContentType)
	}
	header.Set(validator.Protocol.Header(), validator.Value)
	header.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	return &envelope{
		status: http.StatusOK,
		header: header,
		stream: obj.Body,
		size:   obj.Size,
	}
}

// cacheableRequest 构造发往 origin 的可缓存请求：统一使用 GET，
// 去掉客户端条件头与 Range，query 不参与。
func cacheableRequest(ctx context.Context, req *http.Request) *http.Request {
	out := req.Clone(ctx)
	out.Method = http.MethodGet
	out.Body = http.NoBody
	out.ContentLength = 0
	u := *req.URL
	u.RawQuery = ""
	u.ForceQuery = false
	out.URL = &u
	out.Header = req.Header.Clone()
	for _, name := range []string{"If-None-Match", "If-Modified-Since", "If-Match", "If-Unmodified-Since", "If-Range", "Range"} {
		out.Header.Del(name)
	}
	return out
}

func (e *Engine) siteFields(site *Site, key cache.Key) logrus.Fields {
	return logrus.Fields{
		"site": site.Name,
		"key":  key.String(),
	}
}

func (e *Engine) taskFields(task string, site *Site, key cache.Key) logrus.Fields {
	return logging.TaskFields(task, site.Name, key.String())
}
