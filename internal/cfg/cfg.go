package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/bucketedge/internal/log"
)

const (
	BackendS3  = "s3"
	BackendDir = "dir"

	VariantSimple = "simple"
	VariantFramed = "framed"
)

type App struct {
	LogJSON           bool
	LogColor          bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort    int
	AdminPort   int
	EnablePprof bool

	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string

	// storage
	Backend          string
	DirRoot          string
	S3Bucket         string
	S3BucketSSMParam string
	S3Prefix         string
	S3Endpoint       string
	S3Region         string
	S3PathStyle      bool

	// responder
	Variant         string
	NotFoundKey     string
	IndexDocument   string
	PinnedKeys      string
	CacheControl    string
	InjectLinkURL   string
	InjectLinkLabel string
	MaxInjectBytes  int64

	// edge
	CORSOrigins    string
	TrustedHops    int
	RateLimitRPS   float64
	RateLimitBurst int

	// diagnostics
	InventoryWatchKeys   string
	InventoryMinInterval time.Duration

	// shutdown
	DrainPeriod time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.BoolVar(&c.LogColor, "log-color", false, "coloured text logs for local development (ignored with -log-json)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", false, "Enable pprof profiling (on admin port only)")

	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")

	fs.StringVar(&c.Backend, "backend", BackendS3, "object storage backend: s3|dir")
	fs.StringVar(&c.DirRoot, "dir-root", "", "root directory served when -backend=dir")
	fs.StringVar(&c.S3Bucket, "s3-bucket", "", "bucket to serve objects from")
	fs.StringVar(&c.S3BucketSSMParam, "s3-bucket-ssm-param", "", "ssm parameter holding the bucket name (used when -s3-bucket is empty)")
	fs.StringVar(&c.S3Prefix, "s3-prefix", "", "key prefix prepended to every object key")
	fs.StringVar(&c.S3Endpoint, "s3-endpoint", "", "custom S3 endpoint url, e.g. https://<account>.r2.cloudflarestorage.com")
	fs.StringVar(&c.S3Region, "s3-region", "", "region override (R2 uses \"auto\")")
	fs.BoolVar(&c.S3PathStyle, "s3-path-style", false, "use path-style bucket addressing")

	fs.StringVar(&c.Variant, "variant", VariantFramed, "responder variant: simple|framed")
	fs.StringVar(&c.NotFoundKey, "not-found-key", "404.html", "object served with status 404 on a miss")
	fs.StringVar(&c.IndexDocument, "index-document", "index.html", "default document for directory paths")
	fs.StringVar(&c.PinnedKeys, "pinned-keys", "sprunki-squidki.html,sprunki-retake-new-human.html", "comma separated keys served at /<key> ahead of generic lookup (framed variant)")
	fs.StringVar(&c.CacheControl, "cache-control", "public, max-age=86400", "Cache-Control for 200 responses, empty disables")
	fs.StringVar(&c.InjectLinkURL, "inject-link-url", "https://sprunkr.online/", "link target added to framed HTML pages")
	fs.StringVar(&c.InjectLinkLabel, "inject-link-label", "Sprunkr.Online", "link text added to framed HTML pages")
	fs.Int64Var(&c.MaxInjectBytes, "max-inject-bytes", 16<<20, "HTML objects larger than this are served without injection")

	fs.StringVar(&c.CORSOrigins, "cors-origins", "*", "comma separated allowed CORS origins, empty disables CORS")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted proxies in front of the server for X-Forwarded-For")
	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 20, "per-ip request refill rate, 0 disables rate limiting")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 100, "per-ip burst size")

	fs.StringVar(&c.InventoryWatchKeys, "inventory-watch-keys", "", "extra comma separated keys probed by /-/inventory")
	fs.DurationVar(&c.InventoryMinInterval, "inventory-min-interval", 30*time.Second, "minimum time between bucket listings on /-/inventory")

	fs.DurationVar(&c.DrainPeriod, "drain-period", 60*time.Second, "time between failing readiness and stopping listeners on shutdown")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// SplitList splits a comma separated flag value, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}
	if c.EnablePyroscope {
		if u, err := url.Parse(c.PyroServer); c.PyroServer == "" || err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL when ENABLE_PYROSCOPE=true (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	switch c.Backend {
	case BackendS3:
		if c.S3Bucket == "" && c.S3BucketSSMParam == "" {
			errs = append(errs, fmt.Errorf("S3_BUCKET or S3_BUCKET_SSM_PARAM is required when BACKEND=s3"))
		}
		if c.S3Endpoint != "" {
			if u, err := url.Parse(c.S3Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Errorf("S3_ENDPOINT must be a URL (got %q)", c.S3Endpoint))
			}
		}
	case BackendDir:
		if c.DirRoot == "" {
			errs = append(errs, fmt.Errorf("DIR_ROOT is required when BACKEND=dir"))
		} else if st, err := os.Stat(c.DirRoot); err != nil || !st.IsDir() {
			errs = append(errs, fmt.Errorf("DIR_ROOT %q is not a readable directory", c.DirRoot))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid BACKEND %q (must be %s|%s)", c.Backend, BackendS3, BackendDir))
	}

	if c.Variant != VariantSimple && c.Variant != VariantFramed {
		errs = append(errs, fmt.Errorf("invalid VARIANT %q (must be %s|%s)", c.Variant, VariantSimple, VariantFramed))
	}
	if c.IndexDocument == "" || strings.Contains(c.IndexDocument, "/") {
		errs = append(errs, fmt.Errorf("INDEX_DOCUMENT must be a bare file name (got %q)", c.IndexDocument))
	}
	if c.Variant == VariantFramed {
		if u, err := url.Parse(c.InjectLinkURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("INJECT_LINK_URL must be an absolute URL (got %q)", c.InjectLinkURL))
		}
		// label and url are embedded in a single-quoted js string
		if strings.ContainsAny(c.InjectLinkURL+c.InjectLinkLabel, "'\\\n<") {
			errs = append(errs, fmt.Errorf("INJECT_LINK_URL and INJECT_LINK_LABEL must not contain quotes, backslashes, newlines or '<'"))
		}
	}
	if c.MaxInjectBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_INJECT_BYTES must be positive (got %d)", c.MaxInjectBytes))
	}

	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must be >= 0 (got %.2f)", c.RateLimitRPS))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be >= 1 when rate limiting is enabled (got %d)", c.RateLimitBurst))
	}
	if c.InventoryMinInterval < time.Second {
		errs = append(errs, fmt.Errorf("INVENTORY_MIN_INTERVAL must be at least 1s (got %s)", c.InventoryMinInterval))
	}
	if c.DrainPeriod < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_PERIOD must be >= 0 (got %s)", c.DrainPeriod))
	}

	return errors.Join(errs...)
}
