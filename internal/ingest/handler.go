package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/edgehub/edgehub/internal/logging"
	"github.com/edgehub/edgehub/internal/profile"
	"github.com/edgehub/edgehub/internal/server"
	"github.com/edgehub/edgehub/internal/storage"
)

// SignatureHeader 携带 base64 编码的签名。
const SignatureHeader = "X-Signature"

// Handler 是上传网关的 Fiber 入口，每个开启 ingest 的站点对应一个 Gateway。
type Handler struct {
	logger   *logrus.Logger
	gateways map[string]*siteGateway
}

type siteGateway struct {
	gateway  *Gateway
	source   profile.NamespaceSource
	nsHeader string
}

// HandlerOptions 描述构造 Handler 所需的依赖。
type HandlerOptions struct {
	Logger   *logrus.Logger
	Registry *server.SiteRegistry
	Durable  storage.Backend
	// Keys 按站点名覆盖 KeysFile，主要用于测试。
	Keys map[string]*KeyTable
}

// NewHandler 为注册表中开启 ingest 的站点构造 Gateway，KeysFile 相同的站点共享同一张 KeyTable。
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Registry == nil {
		return nil, errors.New("site registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	h := &Handler{logger: logger, gateways: make(map[string]*siteGateway)}
	loaded := make(map[string]*KeyTable)
	for _, route := range opts.Registry.List() {
		p := route.Profile
		if p.Ingest == profile.IngestDisabled {
			continue
		}
		if opts.Durable == nil {
			return nil, fmt.Errorf("site %s: ingest requires a durable backend", route.Name())
		}

		keys, ok := opts.Keys[route.Name()]
		if !ok {
			path := route.Config.KeysFile
			if keys, ok = loaded[path]; !ok {
				table, err := LoadKeyTable(path)
				if err != nil {
					return nil, fmt.Errorf("site %s: %w", route.Name(), err)
				}
				loaded[path] = table
				keys = table
			}
		}

		store, err := opts.Durable.Bucket(route.Bucket)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", route.Name(), err)
		}
		gateway, err := NewGateway(store, p.Ingest, keys)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", route.Name(), err)
		}
		h.gateways[route.Name()] = &siteGateway{
			gateway:  gateway,
			source:   p.NamespaceFrom,
			nsHeader: p.NamespaceHeader,
		}
		logger.WithFields(logrus.Fields{
			"action":     "ingest_init",
			"site":       route.Name(),
			"mode":       string(p.Ingest),
			"namespaces": len(keys.Namespaces()),
		}).Info("ingest_gateway_ready")
	}
	return h, nil
}

// Handle 实现 server.SiteHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.SiteRoute) error {
	started := time.Now()
	sg, ok := h.gateways[route.Name()]
	if !ok {
		return respond(c, Result{Outcome: OutcomeNotFound})
	}

	objectName := strings.TrimPrefix(string(c.Request().URI().Path()), "/")
	upload := Upload{
		Namespace:   sg.namespaceFor(c, objectName),
		ObjectName:  objectName,
		Signature:   c.Get(SignatureHeader),
		ContentType: c.Get(fiber.HeaderContentType),
		Body:        bytes.NewReader(c.Request().Body()),
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result := sg.gateway.Put(ctx, upload)
	h.logResult(c, route, upload, result, started)
	return respond(c, result)
}

func (sg *siteGateway) namespaceFor(c fiber.Ctx, objectName string) string {
	if sg.source == profile.NamespaceFromHeader {
		return strings.TrimSpace(c.Get(sg.nsHeader))
	}
	namespace, _, _ := strings.Cut(objectName, "/")
	return namespace
}

func respond(c fiber.Ctx, result Result) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(result.Outcome.StatusCode()).SendString(result.Outcome.Message())
}

func (h *Handler) logResult(c fiber.Ctx, route *server.SiteRoute, upload Upload, result Result, started time.Time) {
	fields := logging.IngestFields(route.Name(), upload.Namespace, upload.ObjectName, result.Outcome.String())
	fields["action"] = "ingest"
	fields["status"] = result.Outcome.StatusCode()
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID := server.RequestID(c); requestID != "" {
		fields["request_id"] = requestID
	}
	if result.Reason != "" {
		fields["reason"] = result.Reason
	}
	if result.Object != nil {
		fields["size"] = result.Object.Size
		fields["md5"] = result.Object.MD5
	}

	entry := h.logger.WithFields(fields)
	if result.Err != nil {
		entry = entry.WithError(result.Err)
	}
	switch result.Outcome {
	case OutcomeInternalError:
		entry.Error("ingest_failed")
	case OutcomeNotFound:
		entry.Warn("ingest_rejected")
	default:
		entry.Info("ingest_complete")
	}
}
