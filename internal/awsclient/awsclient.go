// Package awsclient builds the AWS service clients used by a run from one
// shared aws.Config.
package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/keithlinneman/sitepublish/internal/log"
	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

type Options struct {
	Logger log.Logger

	// Region overrides the region from the environment/shared config
	Region string

	// Endpoint is a full URL for an S3-compatible store (MinIO, LocalStack).
	// It applies to S3 only.
	Endpoint  string
	PathStyle bool

	// Static credentials; when AccessKeyID is empty the default chain is used
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// Debug logs SDK retries and request lines through Logger at debug level
	Debug bool

	// HTTPClient replaces the SDK's buildable client. A client without
	// WithTransportOptions cannot honor AWS_CA_BUNDLE.
	HTTPClient aws.HTTPClient
}

type Factory struct {
	cfg       aws.Config
	endpoint  string
	pathStyle bool
}

// New loads the AWS config once. Clients built from the factory share its
// credentials cache, HTTP transport and logger.
func New(ctx context.Context, opts Options) (*Factory, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	var hc aws.HTTPClient = awshttp.NewBuildableClient()
	if opts.HTTPClient != nil {
		hc = opts.HTTPClient
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(hc),
		config.WithLogger(log.SmithyLogger{L: opts.Logger.With("component", "aws"), Ctx: ctx}),
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}
	if opts.Debug {
		loadOpts = append(loadOpts, config.WithClientLogMode(aws.LogRetries|aws.LogRequest))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "load AWS config")
	}
	// spans per SDK operation, parented to the run's span
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	return &Factory{cfg: cfg, endpoint: opts.Endpoint, pathStyle: opts.PathStyle}, nil
}

func (f *Factory) Config() aws.Config { return f.cfg }

func (f *Factory) S3() *s3.Client {
	return s3.NewFromConfig(f.cfg, func(o *s3.Options) {
		if f.endpoint != "" {
			o.BaseEndpoint = aws.String(f.endpoint)
		}
		o.UsePathStyle = f.pathStyle
	})
}

func (f *Factory) CloudFront() *cloudfront.Client {
	return cloudfront.NewFromConfig(f.cfg)
}

func (f *Factory) SSM() *ssm.Client {
	return ssm.NewFromConfig(f.cfg)
}
