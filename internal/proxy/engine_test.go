package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgehub/edgehub/internal/cache"
	"github.com/edgehub/edgehub/internal/server"
	"github.com/edgehub/edgehub/internal/storage"
)

// fakeOrigin 模拟支持条件请求的上游，并记录收到的请求。
type fakeOrigin struct {
	mu           sync.Mutex
	etag         string
	lastModified string
	cacheControl string
	body         string
	status       int

	hits        int
	conditional int
	lastHeader  http.Header
	lastMethod  string
	lastQuery   string
}

func (o *fakeOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hits++
	o.lastHeader = r.Header.Clone()
	o.lastMethod = r.Method
	o.lastQuery = r.URL.RawQuery

	if inm := r.Header.Get("If-None-Match"); inm != "" {
		o.conditional++
		if o.etag != "" && inm == o.etag {
			w.Header().Set("Etag", o.etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		o.conditional++
		if o.lastModified != "" && ims == o.lastModified {
			w.Header().Set("Last-Modified", o.lastModified)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	if o.etag != "" {
		w.Header().Set("Etag", o.etag)
	}
	if o.lastModified != "" {
		w.Header().Set("Last-Modified", o.lastModified)
	}
	if o.cacheControl != "" {
		w.Header().Set("Cache-Control", o.cacheControl)
	}
	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Accept-Ranges", "bytes")
	status := o.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, o.body)
	}
}

func (o *fakeOrigin) set(fn func(o *fakeOrigin)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(o)
}

func (o *fakeOrigin) request() (method, query string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastMethod, o.lastQuery
}

func (o *fakeOrigin) snapshot() (hits, conditional int, header http.Header) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits, o.conditional, o.lastHeader
}

type testEnv struct {
	engine *Engine
	tier   cache.Tier
	tasks  *server.Supervisor
}

func newTestEngine(t *testing.T, maxSize int64) *testEnv {
	t.Helper()
	return newTestEngineWith(t, EngineOptions{MaxEntrySize: maxSize})
}

func newTestEngineWith(t *testing.T, opts EngineOptions) *testEnv {
	t.Helper()
	tier, err := cache.NewMemoryTier(64, 0)
	if err != nil {
		t.Fatalf("memory tier: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	tasks := server.NewSupervisor(logger, time.Second)
	opts.Ephemeral = tier
	opts.Tasks = tasks
	opts.Logger = logger
	opts.SpoolDir = t.TempDir()
	engine, err := NewEngine(opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &testEnv{engine: engine, tier: tier, tasks: tasks}
}

func (e *testEnv) serve(t *testing.T, site *Site, req *http.Request) (*envelope, string) {
	t.Helper()
	env := e.engine.Serve(context.Background(), site, req)
	body := readEnvelope(t, env)
	e.tasks.Wait()
	return env, body
}

func (e *testEnv) entries() int {
	return e.tier.(cache.Sizer).Len()
}

func readEnvelope(t *testing.T, env *envelope) string {
	t.Helper()
	if env.stream == nil {
		return string(env.body)
	}
	defer env.close()
	data, err := io.ReadAll(env.stream)
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return string(data)
}

func startOrigin(t *testing.T, origin *fakeOrigin) *url.URL {
	t.Helper()
	srv := httptest.NewServer(origin)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse origin url: %v", err)
	}
	return u
}

func wikiSite(base *url.URL, durable storage.Store) *Site {
	return &Site{
		Name:          "wiki",
		Protocol:      cache.ProtocolETag,
		Origin:        NewHTTPOrigin(http.DefaultClient, base, 0),
		Durable:       durable,
		StorageSuffix: ".cache",
		SessionCookie: "wiki_sid",
	}
}

func wikiRequest(method, target string) *http.Request {
	return httptest.NewRequest(method, "http://wiki.local"+target, nil)
}

func wikiKey(p string) cache.Key {
	return cache.NewKey(&url.URL{Host: "wiki.local", Path: p}, ".cache")
}

func newDurable(t *testing.T) storage.Store {
	t.Helper()
	backend, err := storage.NewFSBackend(t.TempDir())
	if err != nil {
		t.Fatalf("fs backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	store, err := backend.Bucket("wiki")
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	return store
}

func TestEngineMissThenRevalidated(t *testing.T) {
	origin := &fakeOrigin{etag: `"v1"`, body: "hello", cacheControl: "max-age=60"}
	site := wikiSite(startOrigin(t, origin), nil)
	env := newTestEngine(t, 0)

	first, body := env.serve(t, site, wikiRequest(http.MethodGet, "/Main_Page"))
	if first.cacheStatus != StatusMiss || first.status != http.StatusOK || body != "hello" {
		t.Fatalf("unexpected first response: %s %d %q", first.cacheStatus, first.status, body)
	}
	if got := first.header.Get("Cache-Control"); got != "max-age=60" {
		t.Fatalf("expected origin cache-control, got %q", got)
	}
	if first.header.Get("Accept-Ranges") != "" {
		t.Fatalf("accept-ranges should be removed on cacheable responses")
	}
	if _, _, header := origin.snapshot(); header.Get("If-None-Match") != "" {
		t.Fatalf("plain fetch must not carry a validator")
	}

	entry, err := env.tier.Match(context.Background(), wikiKey("/Main_Page"))
	if err != nil {
		t.Fatalf("expected ephemeral entry: %v", err)
	}
	if got := entry.Header.Get("Cache-Control"); got != edgeStorageControl {
		t.Fatalf("stored entry should use storage directive, got %q", got)
	}
	if got := entry.Header.Get(cache.ShadowControlHeader); got != "max-age=60" {
		t.Fatalf("stored entry should shadow origin directive, got %q", got)
	}

	second, body := env.serve(t, site, wikiRequest(http.MethodGet, "/Main_Page"))
	if second.cacheStatus != StatusRevalidated || body != "hello" {
		t.Fatalf("unexpected second response: %s %q", second.cacheStatus, body)
	}
	if got := second.header.Get("Cache-Control"); got != "max-age=60" {
		t.Fatalf("revalidated response should restore origin directive, got %q", got)
	}
	out := second.outwardHeader()
	if out.Get(cache.ShadowControlHeader) != "" {
		t.Fatalf("shadow header must not leak")
	}
	if out.Get(CacheStatusHeader) != "REVALIDATED" {
		t.Fatalf("missing cache status header: %v", out)
	}

	hits, conditional, header := origin.snapshot()
	if hits != 2 || conditional != 1 {
		t.Fatalf("expected 2 origin hits with 1 conditional, got %d/%d", hits, conditional)
	}
	if header.Get("If-None-Match") != `"v1"` || header.Get("Cache-Control") != revalidateDirective {
		t.Fatalf("unexpected revalidation headers: %v", header)
	}
}

func TestEngineExpiredReplacesEntry(t *testing.T) {
	origin := &fakeOrigin{etag: `"v1"`, body: "old"}
	site := wikiSite(startOrigin(t, origin), nil)
	env := newTestEngine(t, 0)

	env.serve(t, site, wikiRequest(http.MethodGet, "/Page"))
	origin.set(func(o *fakeOrigin) {
		o.etag = `"v2"`
		o.body = "new"
	})

	expired, body := env.serve(t, site, wikiRequest(http.MethodGet, "/Page"))
	if expired.cacheStatus != StatusExpired || body != "new" {
		t.Fatalf("expected EXPIRED with new body, got %s %q", expired.cacheStatus, body)
	}

	again, body := env.serve(t, site, wikiRequest(http.MethodGet, "/Page"))
	if again.cacheStatus != StatusRevalidated || body != "new" {
		t.Fatalf("expected REVALIDATED new body, got %s %q", again.cacheStatus, body)
	}
}

func TestEngineShadowAbsentWhenOriginOmitsDirective(t *testing.T) {
	origin := &fakeOrigin{etag: `"v1"`, body: "x"}
	site := wikiSite(startOrigin(t, origin), nil)
	env := newTestEngine(t, 0)

	env.serve(t, site, wikiRequest(http.MethodGet, "/NoDirective"))
	entry, err := env.tier.Match(context.Background(), wikiKey("/NoDirective"))
	if err != nil {
		t.Fatalf("expected entry: %v", err)
	}
	if _, ok := entry.Header[cache.ShadowControlHeader]; ok {
		t.Fatalf("shadow header should be absent, got %v", entry.Header)
	}

	second, _ := env.serve(t, site, wikiRequest(http.MethodGet, "/NoDirective"))
	if second.cacheStatus != StatusRevalidated {
		t.Fatalf("expected REVALIDATED, got %s", second.cacheStatus)
	}
	if got := second.outwardHeader().Get("Cache-Control"); got != "" {
		t.Fatalf("storage directive leaked to client: %q", got)
	}
}

func TestEngineStripsLastModifiedOnETagSites(t *testing.T) {
	origin := &fakeOrigin{etag: `"v1"`, lastModified: "Mon, 02 Jan 2006 15:04:05 GMT", body: "x"}
	site := wikiSite(startOrigin(t, origin), nil)
	env := newTestEngine(t, 0)

	resp, _ := env.serve(t, site, wikiRequest(http.MethodGet, "/Both"))
	if resp.header.Get("Last-Modified") != "" {
		t.Fatalf("etag site should drop last-modified")
	}
}

func TestEngineResponseWithoutValidatorIsNotStored(t *testing.T) {
	origin := &fakeOrigin{body: "dynamic"}
	site := wikiSite(startOrigin(t, origin), nil)
	env := newTestEngine(t, 0)

	for i := 0; i < 2; i++ {
		resp, body := env.serve(t, site, wikiRequest(http.MethodGet, "/Dynamic"))
		if resp.cacheStatus != StatusMiss || body != "dynamic" {
			t.Fatalf("expected MISS, got %s %q", resp.cacheStatus, body)
		}
	}
	if env.entries() != 0 {
		t.Fatalf("uncacheable response stored in ephemeral tier")
	}
}

func TestEngineErrorStatusIsNotStored(t *testing.T) {
	origin := &fakeOrigin{etag: `"gone"`, body: "missing", status: http.StatusNotFound}
	site := wikiSite(startOrigin(t, origin), nil)
	env := newTestEngine(t, 0)

	resp, _ := env.serve(t, site, wikiRequest(http.MethodGet, "/Missing"))
	if resp.status != http.StatusNotFound || resp.cacheStatus != StatusMiss {
		t.Fatalf("unexpected response: %d %s", resp.status, resp.cacheStatus)
	}
	if env.entries() != 0 {
		t.Fatalf("error response should not be cached")
	}
}

func TestEngineBypass(t *testing.T) {
	origin := &fakeOrigin{etag: `"v1"`, body: "private"}
	site := wikiSite(startOrigin(t, origin), nil)
	env := newTestEngine(t, 0)

	withCookie := wikiRequest(http.MethodGet, "/Special:Watchlist")
	withCookie.AddCookie(&http.Cookie{Name: "wiki_sid", Value: "session"})
	resp, body := env.serve(t, site, withCookie)
	if resp.cacheStatus != StatusBypass || body != "private" {
		t.Fatalf("expected BYPASS for session request, got %s", resp.cacheStatus)
	}
	if resp.bypassReason != bypassSessionCookie {
		t.Fatalf("unexpected bypass reason %q", resp.bypassReason)
	}

	post := httptest.NewRequest(http.MethodPost, "http://wiki.local/api.php", strings.NewReader("action=edit"))
	resp, _ = env.serve(t, site, post)
	if resp.cacheStatus != StatusBypass || resp.bypassReason != bypassMethod {
		t.Fatalf("expected BYPASS for POST, got %s %q", resp.cacheStatus, resp.bypassReason)
	}
	if method, _ := origin.request(); method != http.MethodPost {
		t.Fatalf("origin should see POST, got %s", method)
	}

	query := wikiRequest(http.MethodGet, "/index.php?title=Main_Page&action=history")
	resp, _ = env.serve(t, site, query)
	if resp.cacheStatus != StatusBypass || resp.bypassReason != bypassQueryString {
		t.Fatalf("expected BYPASS for query request, got %s %q", resp.cacheStatus, resp.bypassReason)
	}
	if _, q := origin.request(); q != "title=Main_Page&action=history" {
		t.Fatalf("query should be forwarded, got %q", q)
	}

	if env.entries() != 0 {
		t.Fatalf("bypass must not write the ephemeral tier")
	}
}

// countingStore 记录 durable 层被访问的次数。
type countingStore struct {
	storage.Store
	reads  atomic.Int32
	writes atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, name string) (*storage.Object, error) {
	s.reads.Add(1)
	return s.Store.Get(ctx, name)
}

func (s *countingStore) Head(ctx context.Context, name string) (*storage.Metadata, error) {
	s.reads.Add(1)
	return s.Store.Head(ctx, name)
}

func (s *countingStore) Put(ctx context.Context, name string, body io.Reader, opts storage.PutOptions) (*storage.Metadata, error) {
	s.writes.Add(1)
	return s.Store.Put(ctx, name, body, opts)
}

func TestEngineSessionBypassIgnoresSeededTiers(t *testing.T) {
	origin := &fakeOrigin{etag: `"v2"`, body: "private"}
	durable := &countingStore{Store: newDurable(t)}
	site := wikiSite(startOrigin(t, origin), durable)
	env := newTestEngine(t, 0)
	ctx := context.Background()

	header := http.Header{}
	header.Set("Etag", `"v1"`)
	header.Set("Cache-Control", edgeStorageControl)
	if err := env.tier.Put(ctx, wikiKey("/Main_Page"), &cache.Entry{Status: http.StatusOK, Header: header, Body: []byte("public")}); err != nil {
		t.Fatalf("seed ephemeral: %v", err)
	}
	_, err := durable.Store.Put(ctx, wikiKey("/Main_Page").ObjectName(), strings.NewReader("public"), storage.PutOptions{
		CustomMetadata: map[string]string{cache.ProtocolETag.MetadataKey(): `"v1"`},
	})
	if err != nil {
		t.Fatalf("seed durable: %v", err)
	}

	req := wikiRequest(http.MethodGet, "/Main_Page")
	req.AddCookie(&http.Cookie{Name: "wiki_sid", Value: "session"})
	resp, body := env.serve(t, site, req)
	if resp.cacheStatus != StatusBypass || body != "private" {
		t.Fatalf("session request should reach origin, got %s %q", resp.cacheStatus, body)
	}
	if durable.reads.Load() != 0 || durable.writes.Load() != 0 {
		t.Fatalf("session request must not touch the durable tier: reads=%d writes=%d", durable.reads.Load(), durable.writes.Load())
	}
	if _, conditional, _ := origin.snapshot(); conditional != 0 {
		t.Fatalf("session request must not revalidate a cached validator")
	}
	entry, err := env.tier.Match(ctx, wikiKey("/Main_Page"))
	if err != nil || string(entry.Body) != "public" {
		t.Fatalf("ephemeral entry should be untouched: %v", err)
	}
}

func TestEngineClientConditional(t *testing.T) {
	origin := &fakeOrigin{etag: `"v1"`, body: "hello", cacheControl: "max-age=60"}
	site := wikiSite(startOrigin(t, origin), nil)
	env := newTestEngine(t, 0)

	req := wikiRequest(http.MethodGet, "/Main_Page")
	req.Header.Set("If-None-Match", `"v1"`)
	resp, body := env.serve(t, site, req)
	if resp.status != http.StatusNotModified || body != "" {
		t.Fatalf("expected empty 304, got %d %q", resp.status, body)
	}
	if resp.cacheStatus != StatusMiss {
		t.Fatalf("304 should keep cache status, got %s", resp.cacheStatus)
	}
	out := resp.outwardHeader()
	if out.Get("Cache-Control") != "" || out.Get("Content-Type") != "" {
		t.Fatalf("304 should only carry status and validator: %v", out)
	}
	if out.Get("Etag") != `"v1"` {
		t.Fatalf("304 should carry validator, got %v", out)
	}
	if env.entries() != 1 {
		t.Fatalf("entry should still be stored on a client 304")
	}

	mismatch := wikiRequest(http.MethodGet, "/Main_Page")
	mismatch.Header.Set("If-None-Match", `"other"`)
	resp, body = env.serve(t, site, mismatch)
	if resp.status != http.StatusOK || body != "hello" || resp.cacheStatus != StatusRevalidated {
		t.Fatalf("expected full REVALIDATED response, got %d %s %q", resp.status, resp.cacheStatus, body)
	}
}

func TestEngineLastModifiedSite(t *testing.T) {
	const stamp = "Mon, 02 Jan 2006 15:04:05 GMT"
	origin := &fakeOrigin{lastModified: stamp, body: "static"}
	site := wikiSite(startOrigin(t, origin), nil)
	site.Protocol = cache.ProtocolLastModified
	site.StorageSuffix = ""
	env := newTestEngine(t, 0)

	resp, _ := env.serve(t, site, wikiRequest(http.MethodGet, "/style.css"))
	if resp.cacheStatus != StatusMiss || resp.header.Get("Last-Modified") != stamp {
		t.Fatalf("unexpected first response: %s %v", resp.cacheStatus, resp.header)
	}

	resp, body := env.serve(t, site, wikiRequest(http.MethodGet, "/style.css"))
	if resp.cacheStatus != StatusRevalidated || body != "static" {
		t.Fatalf("expected REVALIDATED, got %s", resp.cacheStatus)
	}
	if _, _, header := origin.snapshot(); header.Get("If-Modified-Since") != stamp {
		t.Fatalf("revalidation should use If-Modified-Since, got %v", header)
	}

	later := wikiRequest(http.MethodGet, "/style.css")
	later.Header.Set("If-Modified-Since", "Tue, 03 Jan 2006 00:00:00 GMT")
	resp, _ = env.serve(t, site, later)
	if resp.status != http.StatusNotModified {
		t.Fatalf("expected 304 for later client date, got %d", resp.status)
	}

	earlier := wikiRequest(http.MethodGet, "/style.css")
	earlier.Header.Set("If-Modified-Since", "Sun, 01 Jan 2006 00:00:00 GMT")
	resp, _ = env.serve(t, site, earlier)
	if resp.status != http.StatusOK {
		t.Fatalf("expected 200 for earlier client date, got %d", resp.status)
	}
}

func TestEngineHeadUsesGetUpstream(t *testing.T) {
	origin := &fakeOrigin{etag: `"v1"`, body: "hello"}
	site := wikiSite(startOrigin(t, origin), nil)
	env := newTestEngine(t, 0)

	resp, _ := env.serve(t, site, wikiRequest(http.MethodHead, "/Main_Page"))
	if method, _ := origin.request(); resp.cacheStatus != StatusMiss || method != http.MethodGet {
		t.Fatalf("HEAD should populate the cache via GET, got %s %s", resp.cacheStatus, method)
	}
	resp, body := env.serve(t, site, wikiRequest(http.MethodGet, "/Main_Page"))
	if resp.cacheStatus != StatusRevalidated || body != "hello" {
		t.Fatalf("expected cached body after HEAD, got %s %q", resp.cacheStatus, body)
	}
}

func TestEngineDurableUpdating(t *testing.T) {
	origin := &fakeOrigin{etag: `"v1"`, body: "durable body", cacheControl: "max-age=300"}
	base := startOrigin(t, origin)
	durable := newDurable(t)
	site := wikiSite(base, durable)

	first := newTestEngine(t, 0)
	resp, _ := first.serve(t, site, wikiRequest(http.MethodGet, "/Main_Page"))
	if resp.cacheStatus != StatusMiss {
		t.Fatalf("expected MISS, got %s", resp.cacheStatus)
	}
	meta, err := durable.Head(context.Background(), "Main_Page.cache")
	if err != nil {
		t.Fatalf("expected durable object: %v", err)
	}
	if meta.CustomMetadata["etag"] != `"v1"` {
		t.Fatalf("validator not recorded: %v", meta.CustomMetadata)
	}

	// 新引擎模拟 edge 层被淘汰。
	second := newTestEngine(t, 0)
	resp, body := second.serve(t, site, wikiRequest(http.MethodGet, "/Main_Page"))
	if resp.cacheStatus != StatusUpdating || body != "durable body" {
		t.Fatalf("expected UPDATING from durable, got %s %q", resp.cacheStatus, body)
	}
	if resp.header.Get("Etag") != `"v1"` || resp.header.Get("Cache-Control") != "max-age=300" {
		t.Fatalf("durable response headers wrong: %v", resp.header)
	}
	if second.entries() != 0 {
		t.Fatalf("UPDATING path should not write the ephemeral tier")
	}
}

func TestEngineDurableStaleIsReplaced(t *testing.T) {
	origin := &fakeOrigin{etag: `"v1"`, body: "old"}
	base := startOrigin(t, origin)
	durable := newDurable(t)
	site := wikiSite(base, durable)

	newTestEngine(t, 0).serve(t, site, wikiRequest(http.MethodGet, "/Page"))
	origin.set(func(o *fakeOrigin) {
		o.etag = `"v2"`
		o.body = "new"
	})

	fresh := newTestEngine(t, 0)
	resp, body := fresh.serve(t, site, wikiRequest(http.MethodGet, "/Page"))
	if resp.cacheStatus != StatusMiss || body != "new" {
		t.Fatalf("expected MISS with new body, got %s %q", resp.cacheStatus, body)
	}
	meta, err := durable.Head(context.Background(), "Page.cache")
	if err != nil || meta.CustomMetadata["etag"] != `"v2"` {
		t.Fatalf("durable object not replaced: %v %v", meta, err)
	}
	if fresh.entries() != 1 {
		t.Fatalf("MISS should populate the ephemeral tier")
	}
}

func TestEngineExpiredRefreshesDurable(t *testing.T) {
	origin := &fakeOrigin{etag: `"v1"`, body: "old"}
	durable := newDurable(t)
	site := wikiSite(startOrigin(t, origin), durable)
	env := newTestEngine(t, 0)

	env.serve(t, site, wikiRequest(http.MethodGet, "/Page"))
	origin.set(func(o *fakeOrigin) {
		o.etag = `"v2"`
		o.body = "new"
	})

	resp, _ := env.serve(t, site, wikiRequest(http.MethodGet, "/Page"))
	if resp.cacheStatus != StatusExpired {
		t.Fatalf("expected EXPIRED, got %s", resp.cacheStatus)
	}
	obj, err := durable.Get(context.Background(), "Page.cache")
	if err != nil {
		t.Fatalf("durable get: %v", err)
	}
	defer obj.Body.Close()
	data, _ := io.ReadAll(obj.Body)
	if obj.CustomMetadata["etag"] != `"v2"` || string(data) != "new" {
		t.Fatalf("durable copy not refreshed: %v %q", obj.CustomMetadata, data)
	}
}

func TestEngineDurableWithoutValidatorIgnored(t *testing.T) {
	origin := &fakeOrigin{etag: `"v1"`, body: "origin"}
	durable := newDurable(t)
	site := wikiSite(startOrigin(t, origin), durable)

	if _, err := durable.Put(context.Background(), "Page.cache", strings.NewReader("legacy"), storage.PutOptions{}); err != nil {
		t.Fatalf("seed durable: %v", err)
	}

	env := newTestEngine(t, 0)
	resp, body := env.serve(t, site, wikiRequest(http.MethodGet, "/Page"))
	if resp.cacheStatus != StatusMiss || body != "origin" {
		t.Fatalf("record without validator should be treated as absent, got %s %q", resp.cacheStatus, body)
	}
	if _, conditional, _ := origin.snapshot(); conditional != 0 {
		t.Fatalf("no revalidation expected for record without validator")
	}
}

func TestEngineOversizeSkipsEphemeral(t *testing.T) {
	payload := strings.Repeat("a", 64)
	origin := &fakeOrigin{etag: `"big"`, body: payload}
	durable := newDurable(t)
	site := wikiSite(startOrigin(t, origin), durable)
	env := newTestEngine(t, 16)

	resp, body := env.serve(t, site, wikiRequest(http.MethodGet, "/Large"))
	if resp.cacheStatus != StatusMiss || body != payload {
		t.Fatalf("oversize response should stream intact, got %s len=%d", resp.cacheStatus, len(body))
	}
	if env.entries() != 0 {
		t.Fatalf("oversize response must not enter the ephemeral tier")
	}

	obj, err := durable.Get(context.Background(), "Large.cache")
	if err != nil {
		t.Fatalf("durable tier has no ceiling: %v", err)
	}
	defer obj.Body.Close()
	data, _ := io.ReadAll(obj.Body)
	if string(data) != payload {
		t.Fatalf("durable copy truncated: %d bytes", len(data))
	}
}

func TestEngineSpooledBodyStillEntersEphemeralTier(t *testing.T) {
	payload := strings.Repeat("y", 256)
	origin := &fakeOrigin{etag: `"spooled"`, body: payload}
	site := wikiSite(startOrigin(t, origin), nil)
	env := newTestEngineWith(t, EngineOptions{MaxEntrySize: 1024, SpoolMemoryLimit: 16})

	resp, body := env.serve(t, site, wikiRequest(http.MethodGet, "/Spooled"))
	if resp.cacheStatus != StatusMiss || body != payload {
		t.Fatalf("spooled response should stream intact, got %s len=%d", resp.cacheStatus, len(body))
	}
	entry, err := env.tier.Match(context.Background(), wikiKey("/Spooled"))
	if err != nil {
		t.Fatalf("body spooled to disk should still be cached: %v", err)
	}
	if string(entry.Body) != payload {
		t.Fatalf("cached body mismatch: %d bytes", len(entry.Body))
	}

	resp, body = env.serve(t, site, wikiRequest(http.MethodGet, "/Spooled"))
	if resp.cacheStatus != StatusRevalidated || body != payload {
		t.Fatalf("expected REVALIDATED from ephemeral tier, got %s len=%d", resp.cacheStatus, len(body))
	}
}

func TestEngineOriginUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base, _ := url.Parse(srv.URL)
	srv.Close()

	site := wikiSite(base, nil)
	env := newTestEngine(t, 0)

	resp, body := env.serve(t, site, wikiRequest(http.MethodGet, "/Main_Page"))
	if resp.status != http.StatusBadGateway || body != "Bad Gateway" {
		t.Fatalf("expected 502, got %d %q", resp.status, body)
	}
	if resp.cacheStatus != StatusMiss {
		t.Fatalf("expected MISS status on origin failure, got %s", resp.cacheStatus)
	}
}

func TestEngineKeysIgnoreQueryAndHostCase(t *testing.T) {
	a := cache.NewKey(&url.URL{Host: "Wiki.Local:8080", Path: "/a/../Main_Page"}, ".cache")
	b := wikiKey("/Main_Page")
	if a != b {
		t.Fatalf("keys differ: %s vs %s", a, b)
	}
}
