package proxy

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/edgehub/edgehub/internal/logging"
	"github.com/edgehub/edgehub/internal/profile"
	"github.com/edgehub/edgehub/internal/server"
)

// Forwarder 根据请求方法与站点配置选择读路径或上传入口：
// 开启 ingest 的站点上的 PUT 交给上传网关，其余请求交给读路径。
type Forwarder struct {
	read   server.SiteHandler
	ingest server.SiteHandler
	logger *logrus.Logger
}

// NewForwarder 创建 Forwarder，read 不能为空；ingest 为空时 PUT 一律走读路径（透传 origin）。
func NewForwarder(read, ingest server.SiteHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		read:   read,
		ingest: ingest,
		logger: logger,
	}
}

// Handle 实现 server.SiteHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.SiteRoute) error {
	requestID := server.RequestID(c)
	handler := f.lookup(c, route)
	if handler == nil {
		return f.respondMissingHandler(c, route, requestID)
	}
	return f.invokeHandler(c, route, handler, requestID)
}

func (f *Forwarder) lookup(c fiber.Ctx, route *server.SiteRoute) server.SiteHandler {
	if route != nil && c.Method() == fiber.MethodPut && route.Profile.Ingest != profile.IngestDisabled {
		return f.ingest
	}
	return f.read
}

func (f *Forwarder) respondMissingHandler(c fiber.Ctx, route *server.SiteRoute, requestID string) error {
	f.logHandlerError(route, "site_handler_missing", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "site_handler_missing"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.SiteRoute, handler server.SiteHandler, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, route, r, requestID)
		}
	}()
	return handler.Handle(c, route)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, route *server.SiteRoute, recovered interface{}, requestID string) error {
	f.logHandlerError(route, "site_handler_panic", fmt.Errorf("panic: %v", recovered), requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "site_handler_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logHandlerError(route *server.SiteRoute, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := routeFields(route, requestID)
	fields["action"] = "proxy"
	fields["error"] = code
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("site handler unavailable")
}

func routeFields(route *server.SiteRoute, requestID string) logrus.Fields {
	if route == nil {
		return logrus.Fields{
			"site":    "",
			"domain":  "",
			"profile": "",
		}
	}
	fields := logging.RequestFields(route.Name(), route.Config.Domain, route.Profile.Key, "")
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
