// Package publish runs an incremental publish of a local directory tree to a
// bucket: plan the changed files, upload them on a bounded pool, invalidate
// their CDN paths, then advance the marker.
package publish

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/sitepublish/internal/cdn"
	"github.com/keithlinneman/sitepublish/internal/log"
	"github.com/keithlinneman/sitepublish/internal/marker"
	"github.com/keithlinneman/sitepublish/internal/source"
	"github.com/keithlinneman/sitepublish/internal/storage"
	"github.com/keithlinneman/sitepublish/internal/transform"
	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

const DefaultConcurrency = 8

// Source lists the candidate files under the publish root.
type Source interface {
	All() iter.Seq2[source.Candidate, error]
	Root() string
}

// Transformer turns a source file into an upload payload.
type Transformer interface {
	Transform(ctx context.Context, name string) (*transform.Payload, error)
}

// Bucket is the storage side of a publish.
type Bucket interface {
	Name() string
	Put(ctx context.Context, obj storage.Object) error
	DeleteAll(ctx context.Context) (int, error)
}

// Invalidator asks the CDN to drop cached copies of paths.
type Invalidator interface {
	Invalidate(ctx context.Context, distributionID string, paths []string) ([]cdn.Result, error)
}

// MarkerStore persists the last-published instant.
type MarkerStore interface {
	Read() (marker.Marker, error)
	Touch() error
	Remove() error
	Path() string
}

// Metrics is implemented by the metrics package to observe publish runs.
type Metrics interface {
	IncFiles(result string, n int)
	ObserveUpload(bytes int64, gzipped bool, seconds float64)
	AddInvalidatedPaths(n int)
	AddObjectsDeleted(n int)
}

// File results reported through Metrics.IncFiles.
const (
	FileUploaded = "uploaded"
	FileSkipped  = "skipped"
	FileFailed   = "failed"
)

// FailurePolicy decides what a per-file error does to the rest of the run.
type FailurePolicy int

const (
	// FailFast stops starting new files after the first failure.
	FailFast FailurePolicy = iota
	// ContinueOnError attempts every planned file and reports all failures.
	ContinueOnError
)

func (p FailurePolicy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case ContinueOnError:
		return "continue-on-error"
	default:
		return "unknown"
	}
}

type Options struct {
	Logger log.Logger

	// Source and Transformer are needed by Publish only; Clear runs
	// without them.
	Source      Source
	Transformer Transformer
	Bucket      Bucket
	Marker      MarkerStore

	// Invalidator may be nil, which disables invalidation. So does an
	// empty DistributionID.
	Invalidator    Invalidator
	DistributionID string

	Redirects RedirectTable

	// Concurrency bounds in-flight uploads; 0 uses DefaultConcurrency.
	Concurrency int
	Policy      FailurePolicy

	// DryRun plans and logs the upload set without writing anything.
	DryRun bool

	Metrics Metrics
}

// Result summarizes a run. It is returned even when the run fails.
type Result struct {
	Planned  int
	Uploaded int
	Skipped  int
	Failed   int
	Gzipped  int
	Bytes    int64

	// Paths are the CDN paths of every object written, in completion order.
	Paths         []string
	Invalidations []cdn.Result

	MarkerTouched bool
	DryRun        bool
	Duration      time.Duration
}

type Engine struct {
	logger      log.Logger
	source      Source
	transformer Transformer
	bucket      Bucket
	marker      MarkerStore
	invalidator Invalidator
	dist        string
	redirects   RedirectTable
	concurrency int
	policy      FailurePolicy
	dryRun      bool
	metrics     Metrics
	tracer      trace.Tracer
}

func New(opts Options) (*Engine, error) {
	var errs []error
	if opts.Bucket == nil {
		errs = append(errs, errors.New("bucket is required"))
	}
	if opts.Marker == nil {
		errs = append(errs, errors.New("marker store is required"))
	}
	if opts.Concurrency < 0 {
		errs = append(errs, xerrors.Newf("concurrency must be >= 0, got %d", opts.Concurrency))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, xerrors.Wrap(err, "publish: invalid options")
	}

	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = DefaultConcurrency
	}

	return &Engine{
		logger:      opts.Logger,
		source:      opts.Source,
		transformer: opts.Transformer,
		bucket:      opts.Bucket,
		marker:      opts.Marker,
		invalidator: opts.Invalidator,
		dist:        opts.DistributionID,
		redirects:   opts.Redirects,
		concurrency: opts.Concurrency,
		policy:      opts.Policy,
		dryRun:      opts.DryRun,
		metrics:     opts.Metrics,
		tracer:      otel.Tracer("sitepublish/publish"),
	}, nil
}

// Publish uploads every file changed since the marker, invalidates the
// written paths and advances the marker. The marker moves only when every
// planned file was written; an invalidation failure does not hold it back.
func (e *Engine) Publish(ctx context.Context) (res *Result, err error) {
	if e.source == nil || e.transformer == nil {
		return nil, xerrors.New("publish: source and transformer are required to publish")
	}
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "publish",
		trace.WithAttributes(
			attribute.String("bucket", e.bucket.Name()),
			attribute.String("policy", e.policy.String()),
			attribute.Bool("dry_run", e.dryRun),
		))
	res = &Result{DryRun: e.dryRun}
	defer func() {
		res.Duration = time.Since(start)
		span.SetAttributes(
			attribute.Int("files.planned", res.Planned),
			attribute.Int("files.uploaded", res.Uploaded),
			attribute.Int("files.skipped", res.Skipped),
			attribute.Int("files.failed", res.Failed),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	m, err := e.marker.Read()
	if err != nil {
		return res, err
	}

	plan, err := e.plan(ctx, m, res)
	if err != nil {
		return res, err
	}
	e.logger.Info(ctx, "publish planned",
		"root", e.source.Root(),
		"bucket", e.bucket.Name(),
		"planned", res.Planned,
		"skipped", res.Skipped,
		"marker_present", m.Present,
		"marker_time", m.Time,
	)

	if e.dryRun {
		for _, c := range plan {
			e.logger.Info(ctx, "would upload", "key", c.Key, "size", c.Size)
		}
		return res, nil
	}

	paths := &PathSet{}
	uploadErr := e.upload(ctx, plan, paths, res)
	res.Paths = paths.Paths()
	e.logger.Debug(ctx, "uploads finished", "written", paths.Len(), "planned", res.Planned)

	if uploadErr != nil && e.policy == FailFast {
		return res, uploadErr
	}

	invErr := e.invalidate(ctx, res.Paths, res)

	if uploadErr != nil {
		if invErr != nil {
			return res, errors.Join(uploadErr, invErr)
		}
		return res, uploadErr
	}

	if err := e.marker.Touch(); err != nil {
		if invErr != nil {
			return res, errors.Join(invErr, err)
		}
		return res, err
	}
	res.MarkerTouched = true

	e.logger.Info(ctx, "publish complete",
		"uploaded", res.Uploaded,
		"skipped", res.Skipped,
		"bytes", res.Bytes,
		"gzipped", res.Gzipped,
		"marker", e.marker.Path(),
	)
	return res, invErr
}

// plan enumerates the whole tree before anything is written, so a listing
// failure leaves the bucket untouched.
func (e *Engine) plan(ctx context.Context, m marker.Marker, res *Result) ([]source.Candidate, error) {
	var plan []source.Candidate
	for c, err := range e.source.All() {
		if err != nil {
			return nil, &EnumerationError{Root: e.source.Root(), Err: err}
		}
		if err := ctx.Err(); err != nil {
			return nil, xerrors.Wrap(err, "planning interrupted")
		}
		if c.IsDir {
			continue
		}
		if !marker.IsChanged(c.ModTime, m) {
			res.Skipped++
			continue
		}
		plan = append(plan, c)
	}
	res.Planned = len(plan)
	if e.metrics != nil && res.Skipped > 0 {
		e.metrics.IncFiles(FileSkipped, res.Skipped)
	}
	return plan, nil
}

func (e *Engine) upload(ctx context.Context, plan []source.Candidate, paths *PathSet, res *Result) error {
	var (
		mu       sync.Mutex
		failures []error
		g        *errgroup.Group
		runCtx   = ctx
	)
	if e.policy == FailFast {
		g, runCtx = errgroup.WithContext(ctx)
	} else {
		g = new(errgroup.Group)
	}
	g.SetLimit(e.concurrency)

	for _, c := range plan {
		if runCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			up, err := e.publishFile(runCtx, c, paths)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// a sibling's failure cancelled this one; only the first
				// failure is reported under fail-fast
				if e.policy == FailFast && ctx.Err() == nil && runCtx.Err() != nil && errors.Is(err, context.Canceled) {
					return err
				}
				res.Failed++
				failures = append(failures, err)
				if e.metrics != nil {
					e.metrics.IncFiles(FileFailed, 1)
				}
				e.logger.Error(ctx, err, "file failed", "key", c.Key)
				if e.policy == FailFast {
					return err
				}
				return nil
			}
			res.Uploaded++
			res.Bytes += up.size
			if up.gzipped {
				res.Gzipped++
			}
			return nil
		})
	}
	werr := g.Wait()

	if e.policy == FailFast {
		if werr != nil {
			return werr
		}
		if err := ctx.Err(); err != nil {
			return xerrors.Wrap(err, "publish interrupted")
		}
		return nil
	}

	if err := ctx.Err(); err != nil {
		failures = append(failures, xerrors.Wrap(err, "publish interrupted"))
	}
	return errors.Join(failures...)
}

type uploaded struct {
	size    int64
	gzipped bool
}

func (e *Engine) publishFile(ctx context.Context, c source.Candidate, paths *PathSet) (uploaded, error) {
	ctx, span := e.tracer.Start(ctx, "publish.file", trace.WithAttributes(attribute.String("key", c.Key)))
	defer span.End()
	start := time.Now()

	p, err := e.transformer.Transform(ctx, c.Key)
	if err != nil {
		err = &TransformError{Key: c.Key, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return uploaded{}, err
	}
	defer p.Close()

	obj := storage.Object{
		Key:             c.Key,
		Body:            p.Body,
		ContentLength:   p.Size,
		ContentType:     p.ContentType,
		ContentEncoding: p.ContentEncoding,
	}
	if target, ok := e.redirects.Resolve(c.Key); ok {
		obj.RedirectLocation = target
	}

	if err := e.bucket.Put(ctx, obj); err != nil {
		err = &UploadError{Key: c.Key, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return uploaded{}, err
	}
	paths.Add(c.Key)

	gz := p.ContentEncoding == "gzip"
	if e.metrics != nil {
		e.metrics.IncFiles(FileUploaded, 1)
		e.metrics.ObserveUpload(p.Size, gz, time.Since(start).Seconds())
	}
	span.SetAttributes(
		attribute.Int64("bytes", p.Size),
		attribute.String("content_type", p.ContentType),
		attribute.Bool("gzip", gz),
	)
	e.logger.Debug(ctx, "file published",
		"key", c.Key,
		"bytes", p.Size,
		"content_type", p.ContentType,
		"content_encoding", p.ContentEncoding,
		"redirect", obj.RedirectLocation,
	)
	return uploaded{size: p.Size, gzipped: gz}, nil
}

func (e *Engine) invalidate(ctx context.Context, paths []string, res *Result) error {
	if e.invalidator == nil || e.dist == "" {
		return nil
	}
	if len(paths) == 0 {
		e.logger.Info(ctx, "nothing written, skipping invalidation", "distribution_id", e.dist)
		return nil
	}

	results, err := e.invalidator.Invalidate(ctx, e.dist, paths)
	res.Invalidations = results
	if err != nil {
		err = &InvalidationError{DistributionID: e.dist, Err: err}
		e.logger.Error(ctx, err, "invalidation failed; uploads stand",
			"distribution_id", e.dist,
			"paths", len(paths),
			"batches_sent", len(results),
		)
		return err
	}
	if e.metrics != nil {
		e.metrics.AddInvalidatedPaths(len(paths))
	}
	return nil
}

// Clear deletes every object in the bucket and then the marker, so the next
// publish uploads the whole tree. If deletion fails the marker stays.
func (e *Engine) Clear(ctx context.Context) (n int, err error) {
	ctx, span := e.tracer.Start(ctx, "clear", trace.WithAttributes(attribute.String("bucket", e.bucket.Name())))
	defer func() {
		span.SetAttributes(attribute.Int("objects.deleted", n))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	n, err = e.bucket.DeleteAll(ctx)
	if e.metrics != nil && n > 0 {
		e.metrics.AddObjectsDeleted(n)
	}
	if err != nil {
		return n, &ClearError{Bucket: e.bucket.Name(), Err: err}
	}
	e.logger.Info(ctx, "bucket emptied", "bucket", e.bucket.Name(), "deleted", n)

	if err := e.marker.Remove(); err != nil {
		return n, err
	}
	return n, nil
}
