package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/bucketedge/internal/health"
	"github.com/keithlinneman/bucketedge/internal/httpmw"
	"github.com/keithlinneman/bucketedge/internal/log"
	"github.com/keithlinneman/bucketedge/internal/mimetype"
	"github.com/keithlinneman/bucketedge/internal/xerrors"
)

const (
	healthyPath = "/-/healthy"
	readyPath   = "/-/ready"
)

// NewHandler builds the public handler: health routes, the site handler as
// the catch-all, and the middleware stack around them.
// main() owns *http.Server so it can do graceful shutdown.
func NewHandler(opts *Options) http.Handler {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		// nobody should be sending bodies to a static bucket
		maxBody = 1024
	}

	r := chi.NewRouter()

	r.Use(middleware.Compress(5,
		"text/html",
		"text/css",
		"text/plain",
		"application/javascript",
		"application/json",
		"image/svg+xml",
		"image/x-icon",
	))

	// renames the span and logger to the chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog(healthyPath, readyPath))
	r.Use(httpmw.MaxBody(maxBody))

	if opts.Health != nil {
		r.Get(healthyPath, health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get(readyPath, health.ReadyzHandler(opts.Readiness))
	}

	// one route for every key keeps the http.route label bounded
	if opts.SiteHandler != nil {
		r.Handle("/*", opts.SiteHandler)
	}

	// outermost last
	var h http.Handler = r

	// inner so it sees trace_id, request_id and client ip
	h = httpmw.WithLogger(L)(h)

	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}

	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	h = otelhttp.NewHandler(
		h,
		"http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return shouldTrace(r.URL.Path)
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// AnnotateHTTPRoute renames it once the route is known
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(r *http.Request) bool { return true }),
	)

	h = httpmw.CORS(opts.CORSOrigins)(h)

	// needs the resolved client IP
	if opts.RateLimitMW != nil {
		h = opts.RateLimitMW(h)
	}

	h = httpmw.ClientIPWithOptions(opts.ClientIPOpts)(h)
	h = httpmw.RequestID(httpmw.DefaultRequestIDHeader)(h)

	if opts.UseRecoverMW {
		h = httpmw.Recover(L, opts.OnPanic)(h)
	}

	// outermost so even a recovered panic carries them
	h = httpmw.SecurityHeaders(h)

	return h
}

// shouldTrace skips health checks and static assets; HTML pages and
// extension-less keys are traced.
func shouldTrace(p string) bool {
	switch p {
	case healthyPath, readyPath, "/favicon.ico", "/robots.txt":
		return false
	}
	ct := mimetype.ForKey(p)
	return ct == mimetype.HTML || ct == mimetype.Default
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	// objects are streamed from the bucket, allow for slow clients on large files
	DefaultWriteTimeout   = 60 * time.Second
	DefaultIdleTimeout    = 60 * time.Second
	DefaultMaxHeaderBytes = 1 << 20
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start the public HTTP server.
// Returns stop(ctx) for graceful shutdown.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts))

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen %s", addr)
	}

	go func() {
		L.Info(ctx, "http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
