package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/sitepublish/internal/awsclient"
	"github.com/keithlinneman/sitepublish/internal/cfg"
	"github.com/keithlinneman/sitepublish/internal/log"
	"github.com/keithlinneman/sitepublish/internal/metrics"
	"github.com/keithlinneman/sitepublish/internal/otelx"
	"github.com/keithlinneman/sitepublish/internal/prof"
	v "github.com/keithlinneman/sitepublish/internal/version"
)

const usageText = `usage: %[1]s [flags] <command> [flags]

commands:
  upload   publish files changed since the last run, then invalidate them
  empty    delete every object in the bucket and forget the last run (needs -yes)

flags (each also settable as %[2]sFLAG_NAME):
`

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred flushes happen before exit.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usageText, v.AppName, cfg.EnvPrefix)
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return 0
	}

	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}
	cmd := cfg.Command(flag.Arg(0))
	if cmd != cfg.CommandUpload && cmd != cfg.CommandEmpty {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		flag.Usage()
		return 2
	}
	// flags may also follow the command
	_ = flag.CommandLine.Parse(flag.Args()[1:])
	if flag.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected arguments: %v\n", flag.Args())
		return 2
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf, cmd); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	// Setup logging; stdout is reserved for the run summary
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		Writer:            os.Stderr,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		return 1
	}
	defer lg.Sync()
	L := lg.With("component", "cli", "command", string(cmd))
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "starting",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"bucket", conf.Bucket,
		"source", conf.Source,
		"endpoint", conf.Endpoint,
		"region", conf.Region,
		"distribution_id", conf.DistributionID,
		"distribution_ssm_param", conf.DistributionSSMParam,
		"concurrency", conf.Concurrency,
		"rate_limit", conf.RateLimit,
		"continue_on_error", conf.ContinueOnError,
		"dry_run", conf.DryRun,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
		"pushgateway", conf.PushgatewayURL,
	)

	if conf.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, conf.Timeout)
		defer cancel()
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "cli", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "cli",
			"command":   string(cmd),
			"version":   vi.Version,
			"bucket":    conf.Bucket,
		},
	})
	m.SetProfilingActive(conf.EnablePyroscope && err == nil)
	defer stopProf()

	// Insecure is true because spans go to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "cli",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, continuing without tracing")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			L.Warn(sctx, "otel flush failed", "err", err)
		}
	}()

	endpoint := ""
	if conf.Endpoint != "" {
		endpoint, _ = cfg.NormalizeEndpoint(conf.Endpoint)
	}
	clients, err := awsclient.New(ctx, awsclient.Options{
		Logger:          L,
		Region:          conf.Region,
		Endpoint:        endpoint,
		PathStyle:       conf.PathStyle,
		AccessKeyID:     conf.AccessKeyID,
		SecretAccessKey: conf.SecretAccessKey,
		SessionToken:    conf.SessionToken,
		Debug:           conf.AWSDebug,
	})
	if err != nil {
		L.Error(ctx, err, "failed to load AWS config")
		return 1
	}
	L.Debug(ctx, "aws config loaded", "region", clients.Config().Region, "endpoint", endpoint)

	start := time.Now()
	switch cmd {
	case cfg.CommandUpload:
		err = runUpload(ctx, L, conf, clients, m, os.Stdout)
	case cfg.CommandEmpty:
		err = runEmpty(ctx, L, conf, clients, m, os.Stdout)
	}
	m.RecordRun(time.Since(start), err == nil, time.Now())

	if conf.PushgatewayURL != "" {
		pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		perr := m.Push(pctx, conf.PushgatewayURL, conf.MetricsJob, map[string]string{
			"bucket":  conf.Bucket,
			"command": string(cmd),
		})
		cancel()
		if perr != nil {
			L.Warn(ctx, "metrics push failed", "err", perr, "pushgateway", conf.PushgatewayURL)
		}
	}

	if err != nil {
		L.Error(ctx, err, "command failed", "duration", time.Since(start))
		return 1
	}
	return 0
}
