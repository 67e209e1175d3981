package cfg

import (
	"flag"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet and parses args, isolating
// each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) (App, *flag.FlagSet) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c, fs
}

// validConfig is the smallest config that passes Validate.
func validConfig(t *testing.T) App {
	t.Helper()
	c, _ := newTestConfig(t, []string{"-s3-bucket=site-assets"})
	return c
}

func TestRegister_Defaults(t *testing.T) {
	c, _ := newTestConfig(t, nil)

	if !c.LogJSON {
		t.Error("LogJSON: want true")
	}
	if c.HTTPPort != 8080 || c.AdminPort != 9000 {
		t.Errorf("ports = %d/%d, want 8080/9000", c.HTTPPort, c.AdminPort)
	}
	if c.Backend != BackendS3 {
		t.Errorf("Backend = %q", c.Backend)
	}
	if c.Variant != VariantFramed {
		t.Errorf("Variant = %q", c.Variant)
	}
	if c.NotFoundKey != "404.html" || c.IndexDocument != "index.html" {
		t.Errorf("documents = %q/%q", c.NotFoundKey, c.IndexDocument)
	}
	if c.CacheControl != "public, max-age=86400" {
		t.Errorf("CacheControl = %q", c.CacheControl)
	}
	if got := SplitList(c.PinnedKeys); len(got) != 2 {
		t.Errorf("PinnedKeys = %v, want two defaults", got)
	}
	if c.InventoryMinInterval != 30*time.Second {
		t.Errorf("InventoryMinInterval = %s", c.InventoryMinInterval)
	}
	if c.DrainPeriod != time.Minute {
		t.Errorf("DrainPeriod = %s", c.DrainPeriod)
	}
}

func TestFillFromEnv(t *testing.T) {
	t.Setenv("BUCKETEDGE_S3_BUCKET", "from-env")
	t.Setenv("BUCKETEDGE_HTTP_PORT", "8181")
	t.Setenv("BUCKETEDGE_VARIANT", "simple")
	t.Setenv("BUCKETEDGE_ADMIN_PORT", "not-a-number")

	c, fs := newTestConfig(t, []string{"-variant=framed"})
	var logs []string
	FillFromEnv(fs, "BUCKETEDGE_", func(format string, args ...any) {
		logs = append(logs, format)
	})

	if c.S3Bucket != "from-env" {
		t.Errorf("S3Bucket = %q, want env value", c.S3Bucket)
	}
	if c.HTTPPort != 8181 {
		t.Errorf("HTTPPort = %d, want 8181", c.HTTPPort)
	}
	if c.Variant != VariantFramed {
		t.Errorf("Variant = %q, cli should win over env", c.Variant)
	}
	if c.AdminPort != 9000 {
		t.Errorf("AdminPort = %d, invalid env should leave the default", c.AdminPort)
	}
	if len(logs) != 2 {
		t.Errorf("logf calls = %d, want 2 (override + invalid)", len(logs))
	}
}

func TestEnvKey(t *testing.T) {
	if got := EnvKey("BUCKETEDGE_", "s3-bucket-ssm-param"); got != "BUCKETEDGE_S3_BUCKET_SSM_PARAM" {
		t.Fatalf("EnvKey = %q", got)
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a.html, ,b.html,,")
	if len(got) != 2 || got[0] != "a.html" || got[1] != "b.html" {
		t.Fatalf("SplitList = %v", got)
	}
	if SplitList("") != nil {
		t.Fatal("empty input should give nil")
	}
}

func TestValidate_OK(t *testing.T) {
	if err := Validate(validConfig(t)); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_DirBackend(t *testing.T) {
	c := validConfig(t)
	c.Backend = BackendDir
	c.DirRoot = t.TempDir()
	if err := Validate(c); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	c.DirRoot = ""
	wantErrContains(t, Validate(c), "DIR_ROOT is required")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*App)
		want   string
	}{
		{"bad http port", func(c *App) { c.HTTPPort = 0 }, "invalid HTTP_PORT"},
		{"same ports", func(c *App) { c.AdminPort = c.HTTPPort }, "must differ"},
		{"bad log level", func(c *App) { c.LogLevel = "loud" }, "invalid LOG_LEVEL"},
		{"tracing without endpoint", func(c *App) { c.EnableTracing = true }, "OTLP_ENDPOINT required"},
		{"tracing bad endpoint", func(c *App) { c.EnableTracing = true; c.OTLPEndpoint = "collector" }, "host:port"},
		{"trace sample", func(c *App) { c.TraceSample = 2 }, "TRACE_SAMPLE"},
		{"pyroscope", func(c *App) { c.EnablePyroscope = true }, "PYRO_SERVER"},
		{"no bucket", func(c *App) { c.S3Bucket = "" }, "S3_BUCKET or S3_BUCKET_SSM_PARAM"},
		{"bad endpoint", func(c *App) { c.S3Endpoint = "r2.example" }, "S3_ENDPOINT"},
		{"bad backend", func(c *App) { c.Backend = "gcs" }, "invalid BACKEND"},
		{"bad variant", func(c *App) { c.Variant = "rich" }, "invalid VARIANT"},
		{"index with slash", func(c *App) { c.IndexDocument = "a/index.html" }, "INDEX_DOCUMENT"},
		{"relative link", func(c *App) { c.InjectLinkURL = "/home" }, "INJECT_LINK_URL"},
		{"quote in label", func(c *App) { c.InjectLinkLabel = "it's" }, "must not contain quotes"},
		{"inject limit", func(c *App) { c.MaxInjectBytes = 0 }, "MAX_INJECT_BYTES"},
		{"hops", func(c *App) { c.TrustedHops = -1 }, "TRUSTED_HOPS"},
		{"burst", func(c *App) { c.RateLimitBurst = 0 }, "RATE_LIMIT_BURST"},
		{"inventory interval", func(c *App) { c.InventoryMinInterval = time.Millisecond }, "INVENTORY_MIN_INTERVAL"},
		{"drain", func(c *App) { c.DrainPeriod = -time.Second }, "DRAIN_PERIOD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig(t)
			tt.mutate(&c)
			wantErrContains(t, Validate(c), tt.want)
		})
	}
}

func TestValidate_SSMParamSatisfiesBucket(t *testing.T) {
	c := validConfig(t)
	c.S3Bucket = ""
	c.S3BucketSSMParam = "/app/bucketedge/bucket"
	if err := Validate(c); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_SimpleVariantSkipsInjectChecks(t *testing.T) {
	c := validConfig(t)
	c.Variant = VariantSimple
	c.InjectLinkURL = ""
	if err := Validate(c); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	c := validConfig(t)
	c.HTTPPort = -1
	c.Variant = "x"
	err := Validate(c)
	wantErrContains(t, err, "HTTP_PORT")
	wantErrContains(t, err, "VARIANT")
}
