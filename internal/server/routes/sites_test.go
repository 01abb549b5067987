package routes

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/edgehub/edgehub/internal/cache"
	"github.com/edgehub/edgehub/internal/config"
	"github.com/edgehub/edgehub/internal/server"
)

func newDiagnosticsApp(t *testing.T) (*fiber.App, *server.Supervisor) {
	t.Helper()
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Sites: []config.SiteConfig{
			{Name: "wiki", Domain: "wiki.local", Profile: "wiki", Upstream: "https://wiki.example.org"},
			{Name: "cdn", Domain: "cdn.local", Profile: "bucket", Upstream: "bucket://cdn", KeysFile: "keys.yaml"},
		},
	}
	registry, err := server.NewSiteRegistry(cfg)
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	app := fiber.New()
	tier, _ := cache.NewMemoryTier(8, 1024)
	sup := server.NewSupervisor(logger, 0)
	RegisterSiteRoutes(app, registry, StatusSources{Supervisor: sup, Ephemeral: tier})
	return app, sup
}

func TestEncodeSitesSortsByName(t *testing.T) {
	encoded := encodeSites([]server.SiteRoute{
		{Config: config.SiteConfig{Name: "b"}},
		{Config: config.SiteConfig{Name: "a"}},
	})
	if len(encoded) != 2 || encoded[0].Name != "a" || encoded[1].Name != "b" {
		t.Fatalf("unexpected order: %+v", encoded)
	}
}

func TestSitesEndpointListsSites(t *testing.T) {
	app, _ := newDiagnosticsApp(t)
	resp, err := app.Test(httptest.NewRequest("GET", "/-/sites", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload struct {
		Sites []sitePayload `json:"sites"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(payload.Sites) != 2 {
		t.Fatalf("expected 2 sites, got %d", len(payload.Sites))
	}
	cdn := payload.Sites[0]
	if cdn.Name != "cdn" || cdn.Origin != "bucket" || cdn.Ingest != "content-addressed" || cdn.DurableTier {
		t.Fatalf("unexpected cdn payload: %+v", cdn)
	}
	wiki := payload.Sites[1]
	if wiki.Validation != "etag" || !wiki.DurableTier || wiki.SessionCookie != "wiki_sid" {
		t.Fatalf("unexpected wiki payload: %+v", wiki)
	}
}

func TestSiteDetailEndpoint(t *testing.T) {
	app, _ := newDiagnosticsApp(t)
	resp, err := app.Test(httptest.NewRequest("GET", "/-/sites/missing", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown site, got %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/-/sites/wiki", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var site sitePayload
	if err := json.NewDecoder(resp.Body).Decode(&site); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if site.Bucket != "wiki" {
		t.Fatalf("expected durable bucket in detail, got %+v", site)
	}
	if !site.QueryBypass {
		t.Fatalf("http origin should report query bypass, got %+v", site)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/-/sites/cdn", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	site = sitePayload{}
	if err := json.NewDecoder(resp.Body).Decode(&site); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if site.QueryBypass {
		t.Fatalf("bucket origin ignores the query, got %+v", site)
	}
}

func TestStatusEndpointReportsCounters(t *testing.T) {
	app, _ := newDiagnosticsApp(t)
	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.Background == nil || payload.EphemeralEntries == nil || *payload.EphemeralEntries != 0 {
		t.Fatalf("unexpected status payload: %+v", payload)
	}
	if payload.EphemeralBytes == nil || *payload.EphemeralBytes != 0 {
		t.Fatalf("unexpected status payload: %+v", payload)
	}
	if payload.Version == "" {
		t.Fatalf("expected version in status")
	}
}
