package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/edgehub/edgehub/internal/logging"
	"github.com/edgehub/edgehub/internal/profile"
	"github.com/edgehub/edgehub/internal/server"
	"github.com/edgehub/edgehub/internal/storage"
)

// Handler 是读路径的 Fiber 入口：把请求转换为 *http.Request 交给 Engine，
// 再把返回的响应写回客户端。每个站点的 origin 与 durable bucket 在构造时解析一次。
type Handler struct {
	engine *Engine
	logger *logrus.Logger
	sites  map[string]*Site
}

// HandlerOptions 描述构造 Handler 所需的依赖。
type HandlerOptions struct {
	Engine   *Engine
	Logger   *logrus.Logger
	Client   *http.Client
	Registry *server.SiteRegistry
	// Durable 为 nil 时，所有站点都不使用 durable 层，bucket origin 站点无法构造。
	Durable storage.Backend
}

// NewHandler 为注册表中的每个站点构造读路径参数。
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("site registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	h := &Handler{
		engine: opts.Engine,
		logger: logger,
		sites:  make(map[string]*Site),
	}
	for _, route := range opts.Registry.List() {
		route := route
		site, err := buildSite(&route, opts.Client, opts.Durable)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", route.Name(), err)
		}
		h.sites[route.Name()] = site
	}
	return h, nil
}

func buildSite(route *server.SiteRoute, client *http.Client, durable storage.Backend) (*Site, error) {
	p := route.Profile
	site := &Site{
		Name:          route.Name(),
		Protocol:      p.Validation,
		StorageSuffix: p.StorageSuffix,
		SessionCookie: p.SessionCookie,
	}

	switch p.Origin {
	case profile.OriginBucket:
		if durable == nil {
			return nil, errors.New("bucket origin requires a durable backend")
		}
		store, err := durable.Bucket(route.Bucket)
		if err != nil {
			return nil, err
		}
		site.Origin = NewBucketOrigin(store, p.Bucket)
		site.IgnoreQuery = true
	default:
		if route.UpstreamURL == nil {
			return nil, errors.New("upstream url is required")
		}
		site.Origin = NewHTTPOrigin(client, route.UpstreamURL, route.ListenPort)
		if p.DurableTier && durable != nil {
			store, err := durable.Bucket(route.Bucket)
			if err != nil {
				return nil, err
			}
			site.Durable = store
		}
	}
	return site, nil
}

// Handle 实现 server.SiteHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.SiteRoute) error {
	started := time.Now()
	site, ok := h.sites[route.Name()]
	if !ok {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "site_not_configured"})
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	req := buildRequest(ctx, c)
	env := h.engine.Serve(ctx, site, req)
	err := writeEnvelope(c, req.Method, env)
	h.logResult(c, route, env, started, err)
	return err
}

// buildRequest 把 Fiber 请求转换为读路径使用的 *http.Request。
func buildRequest(ctx context.Context, c fiber.Ctx) *http.Request {
	uri := c.Request().URI()
	target := &url.URL{
		Scheme:   c.Scheme(),
		Host:     string(c.Request().Host()),
		Path:     string(uri.Path()),
		RawQuery: string(uri.QueryString()),
	}
	if target.Path == "" {
		target.Path = "/"
	}

	body := io.Reader(http.NoBody)
	contentLength := int64(0)
	if raw := c.Request().Body(); len(raw) > 0 {
		body = bytes.NewReader(raw)
		contentLength = int64(len(raw))
	}

	req, _ := http.NewRequestWithContext(ctx, c.Method(), target.String(), body)
	if req == nil {
		req = (&http.Request{Method: c.Method(), URL: target, Header: make(http.Header)}).WithContext(ctx)
	}
	req.Header = fiberHeadersAsHTTP(c)
	req.Host = target.Host
	req.ContentLength = contentLength
	req.RemoteAddr = c.IP()
	return req
}

func writeEnvelope(c fiber.Ctx, method string, env *envelope) error {
	defer env.close()

	header := env.outwardHeader()
	for key, values := range header {
		if server.IsHopByHopHeader(key) || key == "Content-Length" {
			continue
		}
		c.Response().Header.Del(key)
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
	c.Status(env.status)

	if method == http.MethodHead || env.status == http.StatusNotModified {
		if length, err := strconv.Atoi(header.Get("Content-Length")); err == nil && env.status != http.StatusNotModified {
			c.Response().Header.SetContentLength(length)
		}
		c.Response().SkipBody = true
		return nil
	}

	if env.stream == nil {
		c.Response().SetBodyRaw(env.body)
		return nil
	}
	_, err := io.Copy(c.Response().BodyWriter(), env.stream)
	return err
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func (h *Handler) logResult(c fiber.Ctx, route *server.SiteRoute, env *envelope, started time.Time, err error) {
	fields := logging.RequestFields(
		route.Name(),
		route.Config.Domain,
		route.Profile.Key,
		env.cacheStatus.String(),
	)
	fields["action"] = "proxy"
	fields["method"] = c.Method()
	fields["path"] = string(c.Request().URI().Path())
	fields["status"] = env.status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if env.bypassReason != "" {
		fields["bypass_reason"] = env.bypassReason
	}
	if requestID := server.RequestID(c); requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}
