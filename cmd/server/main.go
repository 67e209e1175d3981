package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/bucketedge/internal/cfg"
	"github.com/keithlinneman/bucketedge/internal/diag"
	"github.com/keithlinneman/bucketedge/internal/health"
	"github.com/keithlinneman/bucketedge/internal/httpmw"
	"github.com/keithlinneman/bucketedge/internal/httpserver"
	"github.com/keithlinneman/bucketedge/internal/inject"
	"github.com/keithlinneman/bucketedge/internal/log"
	"github.com/keithlinneman/bucketedge/internal/metrics"
	"github.com/keithlinneman/bucketedge/internal/opshttp"
	"github.com/keithlinneman/bucketedge/internal/otelx"
	"github.com/keithlinneman/bucketedge/internal/prof"
	"github.com/keithlinneman/bucketedge/internal/ratelimit"
	"github.com/keithlinneman/bucketedge/internal/sitehandler"
	"github.com/keithlinneman/bucketedge/internal/storage"
	v "github.com/keithlinneman/bucketedge/internal/version"
	"github.com/keithlinneman/bucketedge/internal/xerrors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, "BUCKETEDGE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		Color:             conf.LogColor,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"backend", conf.Backend,
		"variant", conf.Variant,
		"s3_bucket", conf.S3Bucket,
		"s3_bucket_ssm_param", conf.S3BucketSSMParam,
		"s3_prefix", conf.S3Prefix,
		"s3_endpoint", conf.S3Endpoint,
		"dir_root", conf.DirRoot,
		"not_found_key", conf.NotFoundKey,
		"pinned_keys", conf.PinnedKeys,
		"cache_control", conf.CacheControl,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"trace_sample", conf.TraceSample,
		"rate_limit_rps", conf.RateLimitRPS,
		"trusted_hops", conf.TrustedHops,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"backend":   conf.Backend,
			"variant":   conf.Variant,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure because spans go to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
		Attributes: map[string]string{
			"bucketedge.backend": conf.Backend,
			"bucketedge.variant": conf.Variant,
		},
		OnError: func(err error) {
			L.Warn(context.Background(), "otel error", "error", err)
		},
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	rawBucket, err := openBucket(ctx, conf)
	if err != nil {
		L.Error(ctx, err, "failed to open bucket", "backend", conf.Backend)
		os.Exit(1)
	}
	bucket := storage.Instrument(rawBucket, m)

	variant, err := sitehandler.ParseVariant(conf.Variant)
	if err != nil {
		L.Error(ctx, err, "invalid variant")
		os.Exit(1)
	}
	pinned := cfg.SplitList(conf.PinnedKeys)

	siteOpts := sitehandler.Options{
		Logger:         L.With("component", "sitehandler"),
		Bucket:         bucket,
		Metrics:        m,
		Variant:        variant,
		IndexDocument:  conf.IndexDocument,
		NotFoundKey:    conf.NotFoundKey,
		CacheControl:   conf.CacheControl,
		MaxInjectBytes: conf.MaxInjectBytes,
	}
	if variant == sitehandler.VariantFramed {
		siteOpts.PinnedKeys = pinned
		siteOpts.Injector = inject.FrameLink{URL: conf.InjectLinkURL, Label: conf.InjectLinkLabel}
	}
	siteHandler, err := sitehandler.New(siteOpts)
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}

	// the probe key is expected to exist, a clean miss still proves the bucket answers
	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.CheckFunc(func(ctx context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if _, err := rawBucket.Head(cctx, conf.NotFoundKey); err != nil && !storage.IsNotFound(err) {
				return xerrors.Wrap(err, "bucket unreachable")
			}
			return nil
		}),
	)

	watch := append([]string{conf.NotFoundKey}, siteOpts.PinnedKeys...)
	watch = append(watch, cfg.SplitList(conf.InventoryWatchKeys)...)
	inventory, err := diag.New(diag.Options{
		Bucket:      bucket,
		Logger:      L.With("component", "inventory"),
		Metrics:     m,
		WatchKeys:   watch,
		MinInterval: conf.InventoryMinInterval,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create inventory")
		os.Exit(1)
	}

	var rateLimitMW func(http.Handler) http.Handler
	if conf.RateLimitRPS > 0 {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(ip string) {
				m.IncRateLimitDenied()
			}),
			// once per visitor until it is evicted
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		SiteHandler:  siteHandler,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  rateLimitMW,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		CORSOrigins:  cfg.SplitList(conf.CORSOrigins),
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// admin listener rejects public peers in middleware as well, in case the
	// security group is ever misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Inventory:    inventory.Handler(),
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining", "drain", conf.DrainPeriod)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// openBucket builds the configured backend. For s3 the bucket name comes
// from -s3-bucket or, when empty, from the SSM parameter.
func openBucket(ctx context.Context, conf cfg.App) (storage.Bucket, error) {
	if conf.Backend == cfg.BackendDir {
		b, err := storage.NewDirBucket(conf.DirRoot)
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if conf.S3Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(conf.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "load aws config")
	}

	name := conf.S3Bucket
	if name == "" {
		name, err = storage.ResolveBucketName(ctx, ssm.NewFromConfig(awsCfg), conf.S3BucketSSMParam)
		if err != nil {
			return nil, err
		}
		log.FromContext(ctx).Info(ctx, "resolved bucket name from ssm",
			"param", conf.S3BucketSSMParam,
			"bucket", name,
		)
	}

	client := storage.NewS3Client(awsCfg, storage.ClientOptions{
		Endpoint:  conf.S3Endpoint,
		Region:    conf.S3Region,
		PathStyle: conf.S3PathStyle,
	})
	b, err := storage.NewS3Bucket(client, storage.S3Options{
		Bucket: name,
		Prefix: conf.S3Prefix,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
