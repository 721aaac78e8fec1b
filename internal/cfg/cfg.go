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

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/sitepublish/internal/log"
)

const EnvPrefix = "SITEPUBLISH_"

type App struct {
	// source / state
	Source     string
	MarkerPath string
	ConfigFile string
	Exclude    string

	// storage
	Bucket          string
	Endpoint        string
	Region          string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ACL             string

	// cdn
	DistributionID       string
	DistributionSSMParam string
	InvalidationBatch    int

	// engine
	Concurrency      int
	RateLimit        float64
	ContinueOnError  bool
	GzipLevel        int
	SniffContentType bool
	Preflight        bool
	DryRun           bool
	Yes              bool
	Timeout          time.Duration

	// observability
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	AWSDebug          bool
	EnableTracing     bool
	OTLPEndpoint      string
	TraceSample       float64
	EnablePyroscope   bool
	PyroServer        string
	PyroTenantID      string
	PushgatewayURL    string
	MetricsJob        string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.Source, "source", "public", "local directory tree to publish")
	fs.StringVar(&c.MarkerPath, "marker", "", "publish marker file (default: .last_published next to -source)")
	fs.StringVar(&c.ConfigFile, "config", "", "optional TOML or YAML file with redirects, gzip types, excludes and write options")
	fs.StringVar(&c.Exclude, "exclude", "", "comma-separated glob patterns of keys to skip (added to config file excludes)")

	fs.StringVar(&c.Bucket, "bucket", "", "destination S3 bucket")
	fs.StringVar(&c.Endpoint, "endpoint", "", "custom S3 endpoint URL or host (default: AWS)")
	fs.StringVar(&c.Region, "region", "", "AWS region (default: from AWS config chain)")
	fs.BoolVar(&c.PathStyle, "path-style", false, "use path-style bucket addressing (MinIO, LocalStack)")
	fs.StringVar(&c.AccessKeyID, "access-key-id", "", "static access key id (default: AWS credential chain)")
	fs.StringVar(&c.SecretAccessKey, "secret-access-key", "", "static secret access key")
	fs.StringVar(&c.SessionToken, "session-token", "", "static session token")
	fs.StringVar(&c.ACL, "acl", string(s3types.ObjectCannedACLPublicRead), "canned ACL applied to every object unless the config file overrides it; \"none\" sends no ACL (buckets with BucketOwnerEnforced)")

	fs.StringVar(&c.DistributionID, "distribution-id", "", "CloudFront distribution to invalidate (empty disables invalidation)")
	fs.StringVar(&c.DistributionSSMParam, "distribution-ssm-param", "", "SSM parameter holding the CloudFront distribution id")
	fs.IntVar(&c.InvalidationBatch, "invalidation-batch", 3000, "max paths per CloudFront invalidation request (1..3000)")

	fs.IntVar(&c.Concurrency, "concurrency", 8, "parallel uploads (1 = sequential)")
	fs.Float64Var(&c.RateLimit, "rate-limit", 0, "max PutObject requests per second (0 = unlimited)")
	fs.BoolVar(&c.ContinueOnError, "continue-on-error", false, "keep uploading after a file fails and report all failures")
	fs.IntVar(&c.GzipLevel, "gzip-level", 9, "gzip compression level (1..9)")
	fs.BoolVar(&c.SniffContentType, "sniff-content-type", false, "detect content type from file bytes when the extension is unknown")
	fs.BoolVar(&c.Preflight, "preflight", true, "check source and bucket access before publishing")
	fs.BoolVar(&c.DryRun, "dry-run", false, "plan and log uploads without writing anything")
	fs.BoolVar(&c.Yes, "yes", false, "confirm destructive commands (empty)")
	fs.DurationVar(&c.Timeout, "timeout", 0, "overall deadline for the command (0 = none)")

	fs.BoolVar(&c.LogJSON, "log-json", false, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.BoolVar(&c.AWSDebug, "aws-debug", false, "log AWS SDK retries and requests at debug level")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 1.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.PushgatewayURL, "metrics-pushgateway", "", "Prometheus Pushgateway URL to push run metrics to")
	fs.StringVar(&c.MetricsJob, "metrics-job", "sitepublish", "Pushgateway job name")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
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

// Command names the CLI subcommand being validated; rules differ slightly.
type Command string

const (
	CommandUpload Command = "upload"
	CommandEmpty  Command = "empty"
)

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App, cmd Command) error {
	var errs []error

	if c.Bucket == "" {
		errs = append(errs, fmt.Errorf("BUCKET is required"))
	}

	if cmd == CommandUpload {
		if c.Source == "" {
			errs = append(errs, fmt.Errorf("SOURCE is required"))
		}
		if c.Concurrency < 1 || c.Concurrency > 256 {
			errs = append(errs, fmt.Errorf("invalid CONCURRENCY %d (must be 1..256)", c.Concurrency))
		}
		if c.RateLimit < 0 {
			errs = append(errs, fmt.Errorf("invalid RATE_LIMIT %.2f (must be >= 0)", c.RateLimit))
		}
		if c.GzipLevel < 1 || c.GzipLevel > 9 {
			errs = append(errs, fmt.Errorf("invalid GZIP_LEVEL %d (must be 1..9)", c.GzipLevel))
		}
		if c.InvalidationBatch < 1 || c.InvalidationBatch > 3000 {
			errs = append(errs, fmt.Errorf("invalid INVALIDATION_BATCH %d (must be 1..3000)", c.InvalidationBatch))
		}
		if c.ACL != "" && c.ACL != ACLNone && !validACL(c.ACL) {
			errs = append(errs, fmt.Errorf("invalid ACL %q (must be %q or one of %v)", c.ACL, ACLNone, s3types.ObjectCannedACL("").Values()))
		}
		if c.DistributionID != "" && c.DistributionSSMParam != "" {
			errs = append(errs, fmt.Errorf("DISTRIBUTION_ID and DISTRIBUTION_SSM_PARAM are mutually exclusive"))
		}
	}

	if cmd == CommandEmpty && !c.Yes {
		errs = append(errs, fmt.Errorf("empty deletes every object in %q and cannot be undone; pass -yes to confirm", c.Bucket))
	}

	// static credentials come as a pair
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		errs = append(errs, fmt.Errorf("ACCESS_KEY_ID and SECRET_ACCESS_KEY must be set together"))
	}

	if c.Endpoint != "" {
		if _, err := NormalizeEndpoint(c.Endpoint); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("invalid TIMEOUT %s (must be >= 0)", c.Timeout))
	}

	// Log levels
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

	// Tracing
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

	// Pyroscope
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
	}

	// Pushgateway
	if c.PushgatewayURL != "" {
		if u, err := url.Parse(c.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("METRICS_PUSHGATEWAY must be a URL (got %q)", c.PushgatewayURL))
		}
		if c.MetricsJob == "" {
			errs = append(errs, fmt.Errorf("METRICS_JOB required when METRICS_PUSHGATEWAY is set"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ACLNone leaves PutObjectInput.ACL unset.
const ACLNone = "none"

// CannedACL is the default object ACL, empty when none should be sent.
func (c App) CannedACL() s3types.ObjectCannedACL {
	if c.ACL == ACLNone {
		return ""
	}
	return s3types.ObjectCannedACL(c.ACL)
}

func validACL(acl string) bool {
	for _, v := range s3types.ObjectCannedACL("").Values() {
		if string(v) == acl {
			return true
		}
	}
	return false
}

// NormalizeEndpoint accepts either a URL or a bare host ("s3.amazonaws.com",
// "localhost:9000") and returns a URL with a scheme. Bare hosts get https.
func NormalizeEndpoint(ep string) (string, error) {
	ep = strings.TrimSpace(ep)
	if !strings.Contains(ep, "://") {
		ep = "https://" + ep
	}
	u, err := url.Parse(ep)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("ENDPOINT must be a URL or host (got %q)", ep)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("ENDPOINT scheme must be http or https (got %q)", u.Scheme)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}
