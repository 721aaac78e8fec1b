package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/keithlinneman/sitepublish/internal/awsclient"
	"github.com/keithlinneman/sitepublish/internal/cdn"
	"github.com/keithlinneman/sitepublish/internal/cfg"
	"github.com/keithlinneman/sitepublish/internal/contenttype"
	"github.com/keithlinneman/sitepublish/internal/log"
	"github.com/keithlinneman/sitepublish/internal/marker"
	"github.com/keithlinneman/sitepublish/internal/metrics"
	"github.com/keithlinneman/sitepublish/internal/paramstore"
	"github.com/keithlinneman/sitepublish/internal/pathutil"
	"github.com/keithlinneman/sitepublish/internal/preflight"
	"github.com/keithlinneman/sitepublish/internal/publish"
	"github.com/keithlinneman/sitepublish/internal/ratelimit"
	"github.com/keithlinneman/sitepublish/internal/source"
	"github.com/keithlinneman/sitepublish/internal/storage"
	"github.com/keithlinneman/sitepublish/internal/transform"
	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

func runUpload(ctx context.Context, L log.Logger, conf cfg.App, clients *awsclient.Factory, m *metrics.PublishMetrics, out io.Writer) error {
	fc := &cfg.FileConfig{}
	if conf.ConfigFile != "" {
		var err error
		if fc, err = cfg.LoadFile(conf.ConfigFile); err != nil {
			return err
		}
		L.Info(ctx, "loaded config file",
			"path", conf.ConfigFile,
			"redirects", len(fc.Redirects),
			"gzip_types", fc.GzipTypes,
			"exclude", fc.Exclude,
		)
	}

	loc, err := resolveMarker(conf.Source, conf.MarkerPath)
	if err != nil {
		return err
	}
	srcFS := osfs.New(loc.root)
	markerFS := osfs.New(loc.dir)

	var srcOpts []source.Option
	if excl := mergeExcludes(fc.Exclude, conf.Exclude); len(excl) > 0 {
		srcOpts = append(srcOpts, source.WithExclude(excl...))
	}
	if loc.skipKey != "" {
		srcOpts = append(srcOpts, source.WithSkipKeys(loc.skipKey))
	}

	var types contenttype.DB = contenttype.Extension{}
	if conf.SniffContentType {
		types = contenttype.Sniffing{Next: contenttype.Extension{}, FS: srcFS}
	}
	gzipTypes := transform.NewTypeSet(transform.DefaultGzipTypes...)
	if len(fc.GzipTypes) > 0 {
		gzipTypes = transform.NewTypeSet(fc.GzipTypes...)
	}
	L.Debug(ctx, "content transform", "gzip_types", gzipTypes.Names(), "gzip_level", conf.GzipLevel, "sniff", conf.SniffContentType)
	tr, err := transform.New(transform.Options{
		FS:    srcFS,
		Types: types,
		Gzip:  gzipTypes,
		Level: conf.GzipLevel,
	})
	if err != nil {
		return err
	}

	bucket, err := newBucket(L, conf, clients, fc.Write, m)
	if err != nil {
		return err
	}

	if conf.Preflight {
		check := preflight.All(
			preflight.Named("source", preflight.DirReadable(srcFS)),
			preflight.Named("marker directory", preflight.DirReadable(markerFS)),
			preflight.Named("bucket", preflight.BucketReachable(bucket)),
		)
		if err := check.Check(ctx); err != nil {
			return err
		}
		L.Debug(ctx, "preflight passed")
	}

	dist := conf.DistributionID
	if conf.DistributionSSMParam != "" {
		if dist, err = paramstore.New(clients.SSM()).Get(ctx, conf.DistributionSSMParam); err != nil {
			return xerrors.Wrap(err, "resolve distribution id")
		}
		L.Info(ctx, "resolved distribution id", "param", conf.DistributionSSMParam, "distribution_id", dist)
	}

	var inv publish.Invalidator
	if dist != "" {
		if inv, err = cdn.New(cdn.Options{
			Logger:   L,
			Client:   clients.CloudFront(),
			MaxPaths: conf.InvalidationBatch,
		}); err != nil {
			return err
		}
	}

	policy := publish.FailFast
	if conf.ContinueOnError {
		policy = publish.ContinueOnError
	}
	engine, err := publish.New(publish.Options{
		Logger:         L,
		Source:         source.New(srcFS, srcOpts...),
		Transformer:    tr,
		Bucket:         bucket,
		Marker:         marker.NewStore(markerFS, loc.name),
		Invalidator:    inv,
		DistributionID: dist,
		Redirects:      publish.RedirectTable(fc.Redirects),
		Concurrency:    conf.Concurrency,
		Policy:         policy,
		DryRun:         conf.DryRun,
		Metrics:        m,
	})
	if err != nil {
		return err
	}

	res, err := engine.Publish(ctx)
	if res != nil {
		printSummary(out, res)
	}
	return err
}

func runEmpty(ctx context.Context, L log.Logger, conf cfg.App, clients *awsclient.Factory, m *metrics.PublishMetrics, out io.Writer) error {
	loc, err := resolveMarker(conf.Source, conf.MarkerPath)
	if err != nil {
		return err
	}
	bucket, err := newBucket(L, conf, clients, cfg.WriteConfig{}, m)
	if err != nil {
		return err
	}
	if conf.Preflight {
		if err := preflight.Named("bucket", preflight.BucketReachable(bucket)).Check(ctx); err != nil {
			return err
		}
	}

	engine, err := publish.New(publish.Options{
		Logger:  L,
		Bucket:  bucket,
		Marker:  marker.NewStore(osfs.New(loc.dir), loc.name),
		Metrics: m,
	})
	if err != nil {
		return err
	}

	L.Warn(ctx, "deleting every object", "bucket", conf.Bucket)
	n, err := engine.Clear(ctx)
	fmt.Fprintf(out, "bucket=%s deleted=%d\n", conf.Bucket, n)
	return err
}

func newBucket(L log.Logger, conf cfg.App, clients *awsclient.Factory, w cfg.WriteConfig, m *metrics.PublishMetrics) (*storage.Bucket, error) {
	limiter := ratelimit.New(
		ratelimit.WithRate(conf.RateLimit, max(conf.Concurrency, 1)),
		ratelimit.WithOnThrottled(m.ObserveThrottled),
	)
	return storage.New(storage.Options{
		Logger:  L,
		Bucket:  conf.Bucket,
		Client:  clients.S3(),
		ACL:     conf.CannedACL(),
		Write:   writeOptions(w),
		Limiter: limiter,
	})
}

func writeOptions(w cfg.WriteConfig) storage.WriteOptions {
	return storage.WriteOptions{
		ACL:                  s3types.ObjectCannedACL(w.ACL),
		CacheControl:         w.CacheControl,
		StorageClass:         s3types.StorageClass(w.StorageClass),
		ServerSideEncryption: s3types.ServerSideEncryption(w.ServerSideEncryption),
		SSEKMSKeyID:          w.SSEKMSKeyID,
		ContentDisposition:   w.ContentDisposition,
		Metadata:             w.Metadata,
	}
}

type markerLocation struct {
	root    string // absolute source root
	dir     string // directory holding the marker
	name    string // marker file name
	skipKey string // key of the marker when it sits inside root
}

// resolveMarker places the marker next to the source root unless a path is
// given. A marker inside the tree is hidden from enumeration.
func resolveMarker(sourceRoot, markerPath string) (markerLocation, error) {
	root, err := filepath.Abs(sourceRoot)
	if err != nil {
		return markerLocation{}, xerrors.Wrapf(err, "resolve source %s", sourceRoot)
	}
	if markerPath == "" {
		markerPath = filepath.Join(filepath.Dir(root), marker.DefaultName)
	}
	abs, err := filepath.Abs(markerPath)
	if err != nil {
		return markerLocation{}, xerrors.Wrapf(err, "resolve marker %s", markerPath)
	}
	if abs == root {
		return markerLocation{}, xerrors.Newf("marker %s cannot be the source root", markerPath)
	}

	loc := markerLocation{root: root, dir: filepath.Dir(abs), name: filepath.Base(abs)}
	if key, err := pathutil.BucketKey(root, abs); err == nil {
		loc.skipKey = key
	}
	return loc, nil
}

// mergeExcludes joins config file patterns with the comma-separated flag.
func mergeExcludes(file []string, flagValue string) []string {
	out := append([]string(nil), file...)
	for _, p := range strings.Split(flagValue, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printSummary(w io.Writer, res *publish.Result) {
	ids := make([]string, 0, len(res.Invalidations))
	for _, r := range res.Invalidations {
		ids = append(ids, r.ID)
	}
	mode := "publish"
	if res.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(w, "%s: planned=%d uploaded=%d skipped=%d failed=%d gzipped=%d bytes=%d invalidations=%s marker_updated=%t duration=%s\n",
		mode, res.Planned, res.Uploaded, res.Skipped, res.Failed, res.Gzipped, res.Bytes,
		strings.Join(ids, ","), res.MarkerTouched, res.Duration.Round(time.Millisecond),
	)
}
