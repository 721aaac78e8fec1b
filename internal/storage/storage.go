// Package storage writes and clears objects in a single S3 bucket.
//
// It speaks to S3 through API, a narrow subset of *s3.Client, so tests and
// S3-compatible stores can stand in for AWS.
package storage

import (
	"context"
	"io"
	"maps"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/sitepublish/internal/log"
	"github.com/keithlinneman/sitepublish/internal/ratelimit"
	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

// API is the part of *s3.Client the bucket needs.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

var _ API = (*s3.Client)(nil)

// WriteOptions are caller-configured attributes applied to every object.
// Empty fields are left unset, or fall back to the bucket's computed
// defaults where one exists. Body, length, content type, content encoding
// and redirect always come from the file, so they have no field here.
type WriteOptions struct {
	ACL                  types.ObjectCannedACL
	CacheControl         string
	StorageClass         types.StorageClass
	ServerSideEncryption types.ServerSideEncryption
	SSEKMSKeyID          string
	ContentDisposition   string
	Metadata             map[string]string
}

// Object describes one upload. It is built once per file and consumed by Put.
type Object struct {
	Key             string
	Body            io.ReadSeeker
	ContentLength   int64
	ContentType     string
	ContentEncoding string

	// RedirectLocation sets the S3 website redirect for the key
	RedirectLocation string
}

type Options struct {
	Logger log.Logger

	Bucket string
	Client API

	// ACL is the computed default canned ACL; WriteOptions.ACL wins over it.
	// Empty sends no ACL.
	ACL   types.ObjectCannedACL
	Write WriteOptions

	// Limiter throttles PutObject calls; nil means unlimited
	Limiter *ratelimit.Limiter
}

type Bucket struct {
	name    string
	api     API
	acl     types.ObjectCannedACL
	write   WriteOptions
	limiter *ratelimit.Limiter
	logger  log.Logger
}

func New(opts Options) (*Bucket, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("storage: bucket name is required")
	}
	if opts.Client == nil {
		return nil, xerrors.New("storage: client is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Bucket{
		name:    opts.Bucket,
		api:     opts.Client,
		acl:     opts.ACL,
		write:   opts.Write,
		limiter: opts.Limiter,
		logger:  opts.Logger,
	}, nil
}

func (b *Bucket) Name() string { return b.name }

// Put issues exactly one PutObject for obj.
func (b *Bucket) Put(ctx context.Context, obj Object) error {
	if obj.Key == "" {
		return xerrors.New("storage: object key is empty")
	}
	if obj.Body == nil {
		return xerrors.Newf("storage: object %s has no body", obj.Key)
	}

	in := b.putInput(obj)

	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := b.api.PutObject(ctx, in); err != nil {
		return xerrors.Wrapf(err, "put s3://%s/%s", b.name, obj.Key)
	}
	b.logger.Debug(ctx, "object written",
		"bucket", b.name,
		"key", obj.Key,
		"bytes", obj.ContentLength,
		"content_type", obj.ContentType,
		"content_encoding", obj.ContentEncoding,
	)
	return nil
}

// putInput layers the request: computed defaults, then caller write
// options, then the file-derived fields which nothing can override.
func (b *Bucket) putInput(obj Object) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket: aws.String(b.name),
		ACL:    b.acl,
	}

	w := b.write
	if w.ACL != "" {
		in.ACL = w.ACL
	}
	if w.CacheControl != "" {
		in.CacheControl = aws.String(w.CacheControl)
	}
	if w.StorageClass != "" {
		in.StorageClass = w.StorageClass
	}
	if w.ServerSideEncryption != "" {
		in.ServerSideEncryption = w.ServerSideEncryption
	}
	if w.SSEKMSKeyID != "" {
		in.SSEKMSKeyId = aws.String(w.SSEKMSKeyID)
	}
	if w.ContentDisposition != "" {
		in.ContentDisposition = aws.String(w.ContentDisposition)
	}
	if len(w.Metadata) > 0 {
		in.Metadata = maps.Clone(w.Metadata)
	}

	in.Key = aws.String(obj.Key)
	in.Body = obj.Body
	in.ContentLength = aws.Int64(obj.ContentLength)
	if obj.ContentType != "" {
		in.ContentType = aws.String(obj.ContentType)
	}
	if obj.ContentEncoding != "" {
		in.ContentEncoding = aws.String(obj.ContentEncoding)
	}
	if obj.RedirectLocation != "" {
		in.WebsiteRedirectLocation = aws.String(obj.RedirectLocation)
	}
	return in
}

// Head checks that the bucket exists and the credentials can reach it.
func (b *Bucket) Head(ctx context.Context) error {
	if _, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.name)}); err != nil {
		return xerrors.Wrapf(err, "head bucket %s", b.name)
	}
	return nil
}
