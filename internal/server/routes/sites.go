package routes

import (
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/edgehub/edgehub/internal/cache"
	"github.com/edgehub/edgehub/internal/profile"
	"github.com/edgehub/edgehub/internal/server"
	"github.com/edgehub/edgehub/internal/version"
)

// StatusSources 汇总 /-/status 需要读取的运行时组件。
type StatusSources struct {
	Supervisor *server.Supervisor
	Ephemeral  cache.Tier
}

// RegisterSiteRoutes 暴露 /-/sites 与 /-/status 诊断接口，供运维查询站点策略与后台任务状态。
func RegisterSiteRoutes(app *fiber.App, registry *server.SiteRegistry, sources StatusSources) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/sites", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sites":    encodeSites(registry.List()),
			"profiles": profile.Keys(),
		})
	})

	app.Get("/-/sites/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "site_name_required"})
		}
		route, ok := registry.ByName(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "site_not_found"})
		}
		return c.JSON(encodeSite(*route))
	})

	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := statusPayload{Version: version.Full()}
		if sources.Supervisor != nil {
			stats := sources.Supervisor.Stats()
			payload.Background = &stats
		}
		if sizer, ok := sources.Ephemeral.(cache.Sizer); ok {
			entries := sizer.Len()
			payload.EphemeralEntries = &entries
		}
		if sizer, ok := sources.Ephemeral.(cache.ByteSizer); ok {
			bytes := sizer.Bytes()
			payload.EphemeralBytes = &bytes
		}
		return c.JSON(payload)
	})
}

type sitePayload struct {
	Name          string `json:"name"`
	Domain        string `json:"domain"`
	Profile       string `json:"profile"`
	Origin        string `json:"origin"`
	Upstream      string `json:"upstream"`
	Validation    string `json:"validation"`
	DurableTier   bool   `json:"durable_tier"`
	Bucket        string `json:"bucket,omitempty"`
	SessionCookie string `json:"session_cookie,omitempty"`
	Ingest        string `json:"ingest,omitempty"`
	// QueryBypass 为 true 时带 query 的 GET/HEAD 不进入缓存。
	QueryBypass bool `json:"query_bypass"`
}

type statusPayload struct {
	Version          string                  `json:"version"`
	Background       *server.SupervisorStats `json:"background,omitempty"`
	EphemeralEntries *int                    `json:"ephemeral_entries,omitempty"`
	EphemeralBytes   *int64                  `json:"ephemeral_bytes,omitempty"`
}

func encodeSites(routes []server.SiteRoute) []sitePayload {
	if len(routes) == 0 {
		return nil
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]sitePayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, encodeSite(route))
	}
	return result
}

func encodeSite(route server.SiteRoute) sitePayload {
	bucket := ""
	if route.Profile.Origin == profile.OriginBucket || route.Profile.DurableTier {
		bucket = route.Bucket
	}
	return sitePayload{
		Name:          route.Config.Name,
		Domain:        route.Config.Domain,
		Profile:       route.Profile.Key,
		Origin:        string(route.Profile.Origin),
		Upstream:      route.Config.Upstream,
		Validation:    string(route.Profile.Validation),
		DurableTier:   route.Profile.DurableTier,
		Bucket:        bucket,
		SessionCookie: route.Profile.SessionCookie,
		Ingest:        string(route.Profile.Ingest),
		QueryBypass:   route.Profile.Cacheable() && route.Profile.Origin == profile.OriginHTTP,
	}
}
