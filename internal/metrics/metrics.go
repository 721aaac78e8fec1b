// Package metrics holds the Prometheus collectors for a publish run. A run
// is one-shot, so the registry is pushed to a Pushgateway at exit rather
// than scraped.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/sitepublish/internal/version"
	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

const namespace = "sitepublish"

type PublishMetrics struct {
	reg *prometheus.Registry

	filesTotal       *prometheus.CounterVec
	bytesTotal       *prometheus.CounterVec
	uploadDur        prometheus.Histogram
	invalidatedTotal prometheus.Counter
	deletedTotal     prometheus.Counter

	runDuration    prometheus.Gauge
	runSuccess     prometheus.Gauge
	lastSuccessTs  prometheus.Gauge
	throttledTotal prometheus.Counter
	throttledSecs  prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge
}

// New returns a fresh registry with the Go and process collectors and the
// publish metrics registered.
func New() *PublishMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &PublishMetrics{
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files considered by result (uploaded, skipped, failed)",
		}, []string{"result"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes written to the bucket by content encoding",
		}, []string{"encoding"}),
		uploadDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Time to transform and write one file",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		invalidatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidated_paths_total",
			Help:      "Paths submitted for CDN invalidation",
		}),
		deletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_deleted_total",
			Help:      "Objects removed from the bucket by a clear",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
		runSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_success",
			Help:      "Whether the last run succeeded (1) or failed (0)",
		}),
		lastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful run",
		}),
		throttledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_throttled_total",
			Help:      "Storage requests delayed by the request rate limiter",
		}),
		throttledSecs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_throttled_seconds_total",
			Help:      "Total time storage requests spent waiting on the rate limiter",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.filesTotal,
		m.bytesTotal,
		m.uploadDur,
		m.invalidatedTotal,
		m.deletedTotal,
		m.runDuration,
		m.runSuccess,
		m.throttledTotal,
		m.throttledSecs,
		m.buildInfo,
		m.profilingActive,
	)
	m.reg = reg
	return m
}

// set once at startup.
func (m *PublishMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *PublishMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *PublishMetrics) IncFiles(result string, n int) {
	m.filesTotal.WithLabelValues(result).Add(float64(n))
}

func (m *PublishMetrics) ObserveUpload(bytes int64, gzipped bool, seconds float64) {
	enc := "identity"
	if gzipped {
		enc = "gzip"
	}
	m.bytesTotal.WithLabelValues(enc).Add(float64(bytes))
	m.uploadDur.Observe(seconds)
}

func (m *PublishMetrics) AddInvalidatedPaths(n int) {
	m.invalidatedTotal.Add(float64(n))
}

func (m *PublishMetrics) AddObjectsDeleted(n int) {
	m.deletedTotal.Add(float64(n))
}

// ObserveThrottled matches ratelimit.WithOnThrottled.
func (m *PublishMetrics) ObserveThrottled(waited time.Duration) {
	m.throttledTotal.Inc()
	m.throttledSecs.Add(waited.Seconds())
}

// RecordRun stamps the outcome of a run. The last-success gauge joins the
// registry only when ok, so a failed run's push leaves the gateway's
// previous value alone.
func (m *PublishMetrics) RecordRun(d time.Duration, ok bool, finished time.Time) {
	m.runDuration.Set(d.Seconds())
	if !ok {
		m.runSuccess.Set(0)
		return
	}
	m.runSuccess.Set(1)
	m.lastSuccessTs.Set(float64(finished.Unix()))
	if err := m.reg.Register(m.lastSuccessTs); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
	}
}

// Push sends the registry to the Pushgateway at url under job and grouping.
// It uses POST, replacing only the metric names this run carries.
func (m *PublishMetrics) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	p := push.New(url, job).
		Gatherer(m.reg).
		Client(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)})
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	if err := p.AddContext(ctx); err != nil {
		return xerrors.Wrapf(err, "push metrics to %s", url)
	}
	return nil
}
