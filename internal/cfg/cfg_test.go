package cfg

import (
	"flag"
	"fmt"
	"os"
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

// newTestConfig registers flags on a fresh FlagSet, parses the given args,
// and returns the resulting App. This isolates each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if c.Source != "public" {
		t.Errorf("Source: want %q, got %q", "public", c.Source)
	}
	if c.ACL != "public-read" {
		t.Errorf("ACL: want %q, got %q", "public-read", c.ACL)
	}
	if c.Concurrency != 8 {
		t.Errorf("Concurrency: want 8, got %d", c.Concurrency)
	}
	if c.InvalidationBatch != 3000 {
		t.Errorf("InvalidationBatch: want 3000, got %d", c.InvalidationBatch)
	}
	if c.GzipLevel != 9 {
		t.Errorf("GzipLevel: want 9, got %d", c.GzipLevel)
	}
	if !c.Preflight {
		t.Error("Preflight: want true")
	}
	if c.ContinueOnError || c.DryRun || c.Yes || c.SniffContentType {
		t.Error("ContinueOnError/DryRun/Yes/SniffContentType: want false")
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel: want %q, got %q", "info", c.LogLevel)
	}
	if c.MetricsJob != "sitepublish" {
		t.Errorf("MetricsJob: want %q, got %q", "sitepublish", c.MetricsJob)
	}
	if !c.IncludeErrorLinks {
		t.Error("IncludeErrorLinks: want true")
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-source=site/out",
		"-marker=/tmp/marker",
		"-bucket=www.example.com",
		"-endpoint=localhost:9000",
		"-path-style",
		"-acl=private",
		"-distribution-id=E123",
		"-concurrency=1",
		"-rate-limit=2.5",
		"-continue-on-error",
		"-gzip-level=6",
		"-exclude=*.map,drafts/*",
		"-timeout=90s",
		"-log-json",
	})

	if c.Source != "site/out" || c.MarkerPath != "/tmp/marker" || c.Bucket != "www.example.com" {
		t.Fatalf("paths: got source=%q marker=%q bucket=%q", c.Source, c.MarkerPath, c.Bucket)
	}
	if c.Endpoint != "localhost:9000" || !c.PathStyle {
		t.Errorf("endpoint: got %q path-style=%v", c.Endpoint, c.PathStyle)
	}
	if c.ACL != "private" {
		t.Errorf("ACL: want private, got %q", c.ACL)
	}
	if c.DistributionID != "E123" {
		t.Errorf("DistributionID: got %q", c.DistributionID)
	}
	if c.Concurrency != 1 || c.RateLimit != 2.5 || !c.ContinueOnError || c.GzipLevel != 6 {
		t.Errorf("engine: got concurrency=%d rate=%v coe=%v gzip=%d", c.Concurrency, c.RateLimit, c.ContinueOnError, c.GzipLevel)
	}
	if c.Exclude != "*.map,drafts/*" {
		t.Errorf("Exclude: got %q", c.Exclude)
	}
	if c.Timeout != 90*time.Second {
		t.Errorf("Timeout: want 90s, got %s", c.Timeout)
	}
	if !c.LogJSON {
		t.Error("LogJSON: want true")
	}
}

func TestFillFromEnv(t *testing.T) {
	pfx := "TESTCFG_"
	t.Setenv(pfx+"BUCKET", "env-bucket")
	t.Setenv(pfx+"DISTRIBUTION_SSM_PARAM", "/site/cdn-id")
	t.Setenv(pfx+"CONCURRENCY", "4")
	t.Setenv(pfx+"DRY_RUN", "true")
	t.Setenv(pfx+"TRACE_SAMPLE", "0.25")
	t.Setenv(pfx+"OTLP_ENDPOINT", "otel:4317")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	FillFromEnv(fs, pfx, nil)

	if c.Bucket != "env-bucket" {
		t.Errorf("Bucket: want %q, got %q", "env-bucket", c.Bucket)
	}
	if c.DistributionSSMParam != "/site/cdn-id" {
		t.Errorf("DistributionSSMParam: got %q", c.DistributionSSMParam)
	}
	if c.Concurrency != 4 {
		t.Errorf("Concurrency: want 4, got %d", c.Concurrency)
	}
	if !c.DryRun {
		t.Error("DryRun: want true from env")
	}
	if c.TraceSample != 0.25 {
		t.Errorf("TraceSample: want 0.25, got %f", c.TraceSample)
	}
	if c.OTLPEndpoint != "otel:4317" {
		t.Errorf("OTLPEndpoint: want %q, got %q", "otel:4317", c.OTLPEndpoint)
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"BUCKET", "env-bucket")
	t.Setenv(pfx+"LOG_LEVEL", "warn")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-bucket=cli-bucket", "-log-level=debug"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var overrideMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		overrideMessages = append(overrideMessages, fmt.Sprintf(format, args...))
	})

	if c.Bucket != "cli-bucket" {
		t.Errorf("Bucket: want %q (cli), got %q", "cli-bucket", c.Bucket)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q (cli), got %q", "debug", c.LogLevel)
	}
	if len(overrideMessages) != 2 {
		t.Errorf("expected 2 override messages, got %d: %v", len(overrideMessages), overrideMessages)
	}
	for _, msg := range overrideMessages {
		if !strings.Contains(msg, "overrides env") {
			t.Errorf("unexpected override message format: %s", msg)
		}
	}
}

func TestFillFromEnv_InvalidEnvIgnored(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"CONCURRENCY", "lots")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var logMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		logMessages = append(logMessages, fmt.Sprintf(format, args...))
	})

	if c.Concurrency != 8 {
		t.Errorf("Concurrency: want 8 (default), got %d", c.Concurrency)
	}
	if len(logMessages) != 1 {
		t.Fatalf("expected 1 log message, got %d: %v", len(logMessages), logMessages)
	}
	if !strings.Contains(logMessages[0], "ignoring invalid env") {
		t.Errorf("unexpected log message: %s", logMessages[0])
	}
}

func TestValidate_OK(t *testing.T) {
	c := newTestConfig(t, []string{
		"-bucket=www.example.com",
		"-endpoint=http://localhost:9000",
		"-access-key-id=AKIA",
		"-secret-access-key=secret",
		"-enable-pyroscope=true",
		"-pyro-server=https://pyro:4040",
		"-enable-tracing=true",
		"-otlp-endpoint=otel:4317",
		"-trace-sample=0.2",
		"-metrics-pushgateway=http://pushgw:9091",
	})
	if err := Validate(c, CommandUpload); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_InvalidCombined(t *testing.T) {
	c := newTestConfig(t, []string{
		"-concurrency=0",
		"-gzip-level=11",
		"-invalidation-batch=5000",
		"-acl=world-writable",
		"-distribution-id=E1",
		"-distribution-ssm-param=/x",
		"-access-key-id=AKIA",
		"-endpoint=ftp://host",
		"-log-level=nope",
		"-stacktrace-level=alsonope",
		"-trace-sample=2.0",
		"-enable-pyroscope=true",
		"-pyro-server=not-a-url",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-max-error-links=0",
	})

	err := Validate(c, CommandUpload)
	if err == nil {
		t.Fatal("Validate() expected errors, got <nil>")
	}

	wantErrContains(t, err, "BUCKET is required")
	wantErrContains(t, err, "invalid CONCURRENCY")
	wantErrContains(t, err, "invalid GZIP_LEVEL")
	wantErrContains(t, err, "invalid INVALIDATION_BATCH")
	wantErrContains(t, err, "invalid ACL")
	wantErrContains(t, err, "mutually exclusive")
	wantErrContains(t, err, "must be set together")
	wantErrContains(t, err, "ENDPOINT scheme")
	wantErrContains(t, err, "invalid LOG_LEVEL")
	wantErrContains(t, err, "invalid STACKTRACE_LEVEL")
	wantErrContains(t, err, "invalid TRACE_SAMPLE")
	wantErrContains(t, err, "PYRO_SERVER must be a URL")
	wantErrContains(t, err, "OTLP_ENDPOINT must be host:port")
	wantErrContains(t, err, "MAX_ERROR_LINKS")
}

func TestValidate_EmptyRequiresConfirmation(t *testing.T) {
	c := newTestConfig(t, []string{"-bucket=b"})
	wantErrContains(t, Validate(c, CommandEmpty), "pass -yes")

	// dry-run does not stand in for confirmation
	c.DryRun = true
	wantErrContains(t, Validate(c, CommandEmpty), "pass -yes")

	c.Yes = true
	if err := Validate(c, CommandEmpty); err != nil {
		t.Fatalf("Validate(empty, -yes) unexpected error: %v", err)
	}

	// upload-only rules do not apply to empty
	c.Concurrency = 0
	if err := Validate(c, CommandEmpty); err != nil {
		t.Fatalf("Validate(empty) checked upload rules: %v", err)
	}
}

func TestValidate_ACLNone(t *testing.T) {
	for _, acl := range []string{"none", ""} {
		c := newTestConfig(t, []string{"-bucket=b", "-acl=" + acl})
		if err := Validate(c, CommandUpload); err != nil {
			t.Fatalf("Validate(acl=%q) unexpected error: %v", acl, err)
		}
		if got := c.CannedACL(); got != "" {
			t.Fatalf("CannedACL(acl=%q) = %q, want empty", acl, got)
		}
	}

	c := newTestConfig(t, []string{"-bucket=b", "-acl=private"})
	if got := c.CannedACL(); got != "private" {
		t.Fatalf("CannedACL = %q, want private", got)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"s3.us-west-2.amazonaws.com", "https://s3.us-west-2.amazonaws.com", false},
		{"localhost:9000", "https://localhost:9000", false},
		{"http://localhost:9000/", "http://localhost:9000", false},
		{"https://minio.internal", "https://minio.internal", false},
		{"ftp://host", "", true},
		{"http://", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeEndpoint(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizeEndpoint(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeEndpoint(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeEndpoint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
