package sitehandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/keithlinneman/bucketedge/internal/inject"
	"github.com/keithlinneman/bucketedge/internal/log"
	"github.com/keithlinneman/bucketedge/internal/mimetype"
	"github.com/keithlinneman/bucketedge/internal/storage"
)

const (
	notFoundDoc = "<html><head></head><body>custom 404</body></html>"
	pinnedDoc   = "<html><head><title>game</title></head><body>play</body></html>"
)

var testLink = inject.FrameLink{URL: "https://sprunkr.online/", Label: "Sprunkr.Online"}

func siteFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":           {Data: []byte("<html><head></head><body>home</body></html>")},
		"404.html":             {Data: []byte(notFoundDoc)},
		"styles.css":           {Data: []byte("body{color:red}")},
		"a/index.html":         {Data: []byte("<body>a</body>")},
		"a":                    {Data: []byte("file named a")},
		"sprunki-squidki.html": {Data: []byte(pinnedDoc)},
		"raw.txt":              {Data: []byte("<head></head>")},
		"noext":                {Data: []byte{0x00, 0x01}},
	}
}

// stubBucket answers Get from fn.
type stubBucket struct {
	fn   func(key string) (*storage.Object, error)
	gets []string
}

func (s *stubBucket) Get(_ context.Context, key string) (*storage.Object, error) {
	s.gets = append(s.gets, key)
	return s.fn(key)
}
func (s *stubBucket) Head(context.Context, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, errors.New("not used")
}
func (s *stubBucket) List(context.Context) ([]storage.ObjectInfo, error) {
	return nil, errors.New("not used")
}

// failing serves from fsys except for the keys in fail.
func failing(fsys fstest.MapFS, fail map[string]error) *stubBucket {
	b := storage.NewFSBucket(fsys)
	return &stubBucket{fn: func(key string) (*storage.Object, error) {
		if err, ok := fail[key]; ok {
			return nil, err
		}
		return b.Get(context.Background(), key)
	}}
}

type errBody struct{ err error }

func (e errBody) Read([]byte) (int, error) { return 0, e.err }
func (e errBody) Close() error             { return nil }

type spyMetrics struct {
	responses  []string
	injections []string
}

func (s *spyMetrics) IncSiteResponse(kind string) { s.responses = append(s.responses, kind) }
func (s *spyMetrics) IncInjection(result string)  { s.injections = append(s.injections, result) }

func newFramed(t *testing.T, b storage.Bucket, mut ...func(*Options)) *Handler {
	t.Helper()
	opts := Options{
		Bucket:       b,
		Variant:      VariantFramed,
		PinnedKeys:   []string{"sprunki-squidki.html", "sprunki-retake-new-human.html"},
		Injector:     testLink,
		CacheControl: "public, max-age=86400",
	}
	for _, m := range mut {
		m(&opts)
	}
	h, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	req.URL.Path = path
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_Validation(t *testing.T) {
	b := storage.NewFSBucket(siteFS())
	tests := []struct {
		name string
		opts Options
	}{
		{"nil bucket", Options{}},
		{"bad variant", Options{Bucket: b, Variant: "fancy"}},
		{"absolute not-found key", Options{Bucket: b, NotFoundKey: "/404.html"}},
		{"index with slash", Options{Bucket: b, IndexDocument: "a/index.html"}},
		{"empty pinned key", Options{Bucket: b, PinnedKeys: []string{""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if !errors.Is(err, ErrInvalidOptions) {
				t.Fatalf("err = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	h, err := New(Options{Bucket: storage.NewFSBucket(siteFS())})
	if err != nil {
		t.Fatal(err)
	}
	if h.opts.Variant != VariantFramed || h.opts.NotFoundKey != "404.html" || h.opts.IndexDocument != "index.html" {
		t.Fatalf("defaults not applied: %+v", h.opts)
	}
	if len(h.routes) != 2 {
		t.Fatalf("routes = %+v", h.routes)
	}
}

func TestParseVariant(t *testing.T) {
	for in, want := range map[string]Variant{"simple": VariantSimple, " Framed ": VariantFramed, "": VariantFramed} {
		got, err := ParseVariant(in)
		if err != nil || got != want {
			t.Errorf("ParseVariant(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseVariant("other"); err == nil {
		t.Error("expected error")
	}
}

func TestFramed_RootServesNotFoundDocument(t *testing.T) {
	spy := &spyMetrics{}
	h := newFramed(t, storage.NewFSBucket(siteFS()), func(o *Options) { o.Metrics = spy })

	for _, p := range []string{"/", ""} {
		rec := serve(h, p)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%q: status = %d", p, rec.Code)
		}
		if rec.Body.String() != notFoundDoc {
			t.Fatalf("%q: body = %q, want stored document without injection", p, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != mimetype.HTML {
			t.Fatalf("content-type = %q", ct)
		}
		if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
			t.Fatalf("cache-control = %q", cc)
		}
	}
	if spy.responses[0] != "root_page" {
		t.Fatalf("responses = %v", spy.responses)
	}
}

func TestFramed_RootIgnoresIndexDocument(t *testing.T) {
	b := failing(siteFS(), nil)
	h := newFramed(t, b)
	serve(h, "/")
	for _, k := range b.gets {
		if k == "index.html" {
			t.Fatal("root must not consult generic resolution")
		}
	}
}

func TestFramed_RootPlainWhenDocumentMissingOrFailing(t *testing.T) {
	tests := []struct {
		name string
		b    storage.Bucket
	}{
		{"missing", failing(siteFS(), map[string]error{"404.html": storage.ErrNotFound})},
		{"failing", failing(siteFS(), map[string]error{"404.html": errors.New("timeout")})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newFramed(t, tt.b), "/")
			if rec.Code != http.StatusNotFound {
				t.Fatalf("status = %d", rec.Code)
			}
			if rec.Body.String() != "page not found" {
				t.Fatalf("body = %q", rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != "text/plain;charset=UTF-8" {
				t.Fatalf("content-type = %q", ct)
			}
		})
	}
}

func TestFramed_StaticAssetVerbatim(t *testing.T) {
	rec := serve(newFramed(t, storage.NewFSBucket(siteFS())), "/styles.css")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/css" {
		t.Fatalf("content-type = %q", ct)
	}
	if rec.Body.String() != "body{color:red}" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=86400" {
		t.Fatalf("cache-control = %q", cc)
	}
	if cl := rec.Header().Get("Content-Length"); cl != "15" {
		t.Fatalf("content-length = %q", cl)
	}
}

func TestFramed_NonHTMLNeverInjected(t *testing.T) {
	h := newFramed(t, storage.NewFSBucket(siteFS()))
	if rec := serve(h, "/raw.txt"); rec.Body.String() != "<head></head>" {
		t.Fatalf("txt body = %q", rec.Body.String())
	}
	rec := serve(h, "/noext")
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("content-type = %q", ct)
	}
}

func TestFramed_HTMLInjected(t *testing.T) {
	spy := &spyMetrics{}
	h := newFramed(t, storage.NewFSBucket(siteFS()), func(o *Options) { o.Metrics = spy })

	rec := serve(h, "/a/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := testLink.Inject("<body>a</body>")
	if rec.Body.String() != want {
		t.Fatalf("body = %q, want %q", rec.Body.String(), want)
	}
	if ct := rec.Header().Get("Content-Type"); ct != mimetype.HTML {
		t.Fatalf("content-type = %q", ct)
	}
	if len(spy.injections) != 1 || spy.injections[0] != "injected" {
		t.Fatalf("injections = %v", spy.injections)
	}
}

func TestFramed_NoTrailingSlashIsNotADirectory(t *testing.T) {
	rec := serve(newFramed(t, storage.NewFSBucket(siteFS())), "/a")
	if rec.Code != http.StatusOK || rec.Body.String() != "file named a" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestFramed_PinnedServedAsInjectedHTML(t *testing.T) {
	rec := serve(newFramed(t, storage.NewFSBucket(siteFS())), "/sprunki-squidki.html")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != testLink.Inject(pinnedDoc) {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != mimetype.HTML {
		t.Fatalf("content-type = %q", ct)
	}
}

func TestFramed_PinnedFallsThrough(t *testing.T) {
	// the pinned key errors once; generic lookup of the same key then succeeds
	calls := 0
	fsb := storage.NewFSBucket(siteFS())
	b := &stubBucket{fn: func(key string) (*storage.Object, error) {
		if key == "sprunki-squidki.html" {
			calls++
			if calls == 1 {
				return nil, errors.New("flaky")
			}
		}
		return fsb.Get(context.Background(), key)
	}}
	rec := serve(newFramed(t, b), "/sprunki-squidki.html")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want pinned attempt plus generic lookup", calls)
	}

	// missing pinned key falls through to the generic miss path
	rec = serve(newFramed(t, storage.NewFSBucket(siteFS())), "/sprunki-retake-new-human.html")
	if rec.Code != http.StatusNotFound || rec.Body.String() != notFoundDoc {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestFramed_RouteKindLogged(t *testing.T) {
	var buf bytes.Buffer
	lg, err := log.New(log.Options{App: "bucketedge-test", Writer: &buf, JsonFormat: true, Level: slog.LevelDebug})
	if err != nil {
		t.Fatal(err)
	}
	b := failing(siteFS(), map[string]error{"sprunki-squidki.html": errors.New("timeout")})
	h := newFramed(t, b, func(o *Options) { o.Logger = lg })

	serve(h, "/")
	serve(h, "/sprunki-squidki.html")

	routes := map[string][]string{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("parse %q: %v", line, err)
		}
		if msg, _ := rec["msg"].(string); msg != "" {
			route, _ := rec["route"].(string)
			routes[msg] = append(routes[msg], route)
		}
	}
	if got := routes["route intercepted"]; len(got) != 2 || got[0] != "not_found_page" || got[1] != "pinned" {
		t.Fatalf("intercepted routes = %v", got)
	}
	if got := routes["pinned object unreadable, falling through"]; len(got) != 1 || got[0] != "pinned" {
		t.Fatalf("pinned warn routes = %v", got)
	}
}

func TestFramed_MissServesFallbackDocument(t *testing.T) {
	rec := serve(newFramed(t, storage.NewFSBucket(siteFS())), "/missing.png")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != notFoundDoc {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != mimetype.HTML {
		t.Fatalf("content-type = %q, fallback is always HTML", ct)
	}
}

func TestFramed_DirBackendKeyBelowFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{"styles.css": "body{}", "404.html": notFoundDoc} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	b, err := storage.NewDirBucket(dir)
	if err != nil {
		t.Fatalf("NewDirBucket: %v", err)
	}
	h := newFramed(t, b)
	for _, p := range []string{"/styles.css/x", "/styles.css/"} {
		rec := serve(h, p)
		if rec.Code != http.StatusNotFound || rec.Body.String() != notFoundDoc {
			t.Errorf("%s: status = %d body = %q", p, rec.Code, rec.Body.String())
		}
	}
}

func TestFramed_MissPlainWhenFallbackUnavailable(t *testing.T) {
	for name, ferr := range map[string]error{"missing": storage.ErrNotFound, "failing": errors.New("boom")} {
		t.Run(name, func(t *testing.T) {
			b := failing(siteFS(), map[string]error{"404.html": ferr})
			rec := serve(newFramed(t, b), "/missing.html")
			if rec.Code != http.StatusNotFound {
				t.Fatalf("status = %d", rec.Code)
			}
			if rec.Body.String() != "requested resource not found: missing.html" {
				t.Fatalf("body = %q", rec.Body.String())
			}
		})
	}
}

func TestFramed_StorageErrorIs500(t *testing.T) {
	spy := &spyMetrics{}
	b := failing(siteFS(), map[string]error{"styles.css": errors.New("connection refused")})
	rec := serve(newFramed(t, b, func(o *Options) { o.Metrics = spy }), "/styles.css")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") || !strings.HasPrefix(rec.Body.String(), "server error: ") {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("cache-control = %q", cc)
	}
	if spy.responses[0] != "error" {
		t.Fatalf("responses = %v", spy.responses)
	}
}

func TestFramed_BodyReadErrorIs500(t *testing.T) {
	for _, key := range []string{"page.html", "image.png"} {
		b := &stubBucket{fn: func(k string) (*storage.Object, error) {
			return &storage.Object{
				ObjectInfo: storage.ObjectInfo{Key: k, Size: 10},
				Body:       errBody{err: errors.New("reset by peer")},
			}, nil
		}}
		rec := serve(newFramed(t, b), "/"+key)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s: status = %d", key, rec.Code)
		}
		if rec.Body.String() != "server error: reset by peer" {
			t.Fatalf("%s: body = %q", key, rec.Body.String())
		}
	}
}

func TestFramed_LargeHTMLStreamedWithoutInjection(t *testing.T) {
	spy := &spyMetrics{}
	big := "<html><head></head><body>" + strings.Repeat("x", 100) + "</body></html>"
	fsys := fstest.MapFS{"big.html": {Data: []byte(big)}}
	h := newFramed(t, storage.NewFSBucket(fsys), func(o *Options) {
		o.MaxInjectBytes = 32
		o.Metrics = spy
	})

	rec := serve(h, "/big.html")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != big {
		t.Fatalf("body altered: %q", rec.Body.String())
	}
	if len(spy.injections) != 1 || spy.injections[0] != "too_large" {
		t.Fatalf("injections = %v", spy.injections)
	}
}

func TestFramed_EmptyCacheControlOmitsHeader(t *testing.T) {
	h := newFramed(t, storage.NewFSBucket(siteFS()), func(o *Options) { o.CacheControl = "" })
	rec := serve(h, "/styles.css")
	if _, ok := rec.Header()["Cache-Control"]; ok {
		t.Fatalf("unexpected Cache-Control %q", rec.Header().Get("Cache-Control"))
	}
}

func TestSimple(t *testing.T) {
	h, err := New(Options{
		Bucket:       storage.NewFSBucket(siteFS()),
		Variant:      VariantSimple,
		PinnedKeys:   []string{"sprunki-squidki.html"},
		Injector:     testLink,
		CacheControl: "public, max-age=86400",
	})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("root serves index", func(t *testing.T) {
		rec := serve(h, "/")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Body.String() != "<html><head></head><body>home</body></html>" {
			t.Fatalf("html must not be injected: %q", rec.Body.String())
		}
		if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=86400" {
			t.Fatalf("cache-control = %q", cc)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "text/html" {
			t.Fatalf("content-type = %q", ct)
		}
	})

	t.Run("text without charset", func(t *testing.T) {
		rec := serve(h, "/raw.txt")
		if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
			t.Fatalf("content-type = %q", ct)
		}
	})

	t.Run("pinned is ordinary", func(t *testing.T) {
		rec := serve(h, "/sprunki-squidki.html")
		if rec.Body.String() != pinnedDoc {
			t.Fatalf("body = %q", rec.Body.String())
		}
	})

	t.Run("miss is plain", func(t *testing.T) {
		rec := serve(h, "/missing.html")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Body.String() != "requested resource not found" {
			t.Fatalf("body = %q", rec.Body.String())
		}
	})
}

func TestHead_NoBody(t *testing.T) {
	h := newFramed(t, storage.NewFSBucket(siteFS()))
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Head(srv.URL + "/styles.css")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || len(body) != 0 {
		t.Fatalf("status = %d body = %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Type") != "text/css" {
		t.Fatalf("content-type = %q", resp.Header.Get("Content-Type"))
	}
}

func TestReadLimited(t *testing.T) {
	data, complete, err := readLimited(strings.NewReader("12345"), 5)
	if err != nil || !complete || string(data) != "12345" {
		t.Fatalf("at limit: %q %v %v", data, complete, err)
	}
	data, complete, err = readLimited(strings.NewReader("123456"), 5)
	if err != nil || complete || string(data) != "123456" {
		t.Fatalf("over limit: %q %v %v", data, complete, err)
	}
}
