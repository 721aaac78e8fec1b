// Package cdn invalidates CloudFront cache paths after a publish.
package cdn

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"

	"github.com/keithlinneman/sitepublish/internal/log"
	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

// MaxPaths is CloudFront's limit on paths in one invalidation request.
const MaxPaths = 3000

type API interface {
	CreateInvalidation(ctx context.Context, in *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

var _ API = (*cloudfront.Client)(nil)

type Options struct {
	Logger log.Logger
	Client API

	// MaxPaths caps paths per request; 0 or anything above the CloudFront limit uses MaxPaths
	MaxPaths int

	// Now is the clock used for caller references; defaults to time.Now
	Now func() time.Time
}

// Result is one accepted invalidation request.
type Result struct {
	ID              string
	Status          string
	CallerReference string
	Paths           int
}

type Invalidator struct {
	api      API
	maxPaths int
	now      func() time.Time
	logger   log.Logger
}

func New(opts Options) (*Invalidator, error) {
	if opts.Client == nil {
		return nil, xerrors.New("cdn: client is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MaxPaths <= 0 || opts.MaxPaths > MaxPaths {
		opts.MaxPaths = MaxPaths
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Invalidator{
		api:      opts.Client,
		maxPaths: opts.MaxPaths,
		now:      opts.Now,
		logger:   opts.Logger,
	}, nil
}

// Invalidate asks CloudFront to drop the given paths from distributionID's
// cache. An empty distribution id or path set makes no request. Paths are
// sent in order, split into batches of at most MaxPaths; the first failing
// batch stops the loop and the results of earlier batches are returned
// with the error.
func (inv *Invalidator) Invalidate(ctx context.Context, distributionID string, paths []string) ([]Result, error) {
	if distributionID == "" || len(paths) == 0 {
		return nil, nil
	}

	base := CallerReference(distributionID, inv.now())
	results := make([]Result, 0, (len(paths)+inv.maxPaths-1)/inv.maxPaths)

	for n, start := 0, 0; start < len(paths); n, start = n+1, start+inv.maxPaths {
		batch := paths[start:min(start+inv.maxPaths, len(paths))]
		ref := base
		if n > 0 {
			ref = fmt.Sprintf("%s-%d", base, n)
		}

		out, err := inv.api.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
			DistributionId: aws.String(distributionID),
			InvalidationBatch: &types.InvalidationBatch{
				CallerReference: aws.String(ref),
				Paths: &types.Paths{
					Quantity: aws.Int32(int32(len(batch))),
					Items:    batch,
				},
			},
		})
		if err != nil {
			return results, xerrors.Wrapf(err, "create invalidation %s (%d paths)", ref, len(batch))
		}

		r := Result{CallerReference: ref, Paths: len(batch)}
		if out != nil && out.Invalidation != nil {
			r.ID = aws.ToString(out.Invalidation.Id)
			r.Status = aws.ToString(out.Invalidation.Status)
		}
		results = append(results, r)

		inv.logger.Info(ctx, "invalidation created",
			"distribution_id", distributionID,
			"invalidation_id", r.ID,
			"status", r.Status,
			"caller_reference", ref,
			"paths", len(batch),
		)
	}
	return results, nil
}

// CallerReference is the idempotency token for an invalidation started at t.
func CallerReference(distributionID string, t time.Time) string {
	return fmt.Sprintf("%s-sitepublish-%d", distributionID, t.UnixNano())
}
