package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

// MaxDeleteBatch is the most keys a single DeleteObjects request accepts.
const MaxDeleteBatch = 1000

// KeyError is one key S3 refused to delete.
type KeyError struct {
	Key     string
	Code    string
	Message string
}

func (e KeyError) String() string {
	return fmt.Sprintf("%s: %s %s", e.Key, e.Code, e.Message)
}

// DeleteError reports keys rejected inside an otherwise successful
// DeleteObjects response.
type DeleteError struct {
	Bucket string
	Keys   []KeyError
}

func (e *DeleteError) Error() string {
	const show = 5
	parts := make([]string, 0, show)
	for i, k := range e.Keys {
		if i == show {
			break
		}
		parts = append(parts, k.String())
	}
	msg := fmt.Sprintf("delete from %s: %d keys failed: %s", e.Bucket, len(e.Keys), strings.Join(parts, "; "))
	if len(e.Keys) > show {
		msg += "; ..."
	}
	return msg
}

// DeleteAll removes every object in the bucket and returns how many were
// deleted. It stops at the first batch that fails, either as a request or
// with per-key errors in the response, so the count reflects real progress.
func (b *Bucket) DeleteAll(ctx context.Context) (int, error) {
	p := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.name),
		MaxKeys: aws.Int32(MaxDeleteBatch),
	})

	deleted := 0
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return deleted, xerrors.Wrapf(err, "list s3://%s", b.name)
		}

		keys := make([]string, 0, len(page.Contents))
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}

		for start := 0; start < len(keys); start += MaxDeleteBatch {
			end := min(start+MaxDeleteBatch, len(keys))
			n, err := b.deleteBatch(ctx, keys[start:end])
			deleted += n
			if err != nil {
				return deleted, err
			}
		}
	}

	b.logger.Debug(ctx, "bucket emptied", "bucket", b.name, "deleted", deleted)
	return deleted, nil
}

func (b *Bucket) deleteBatch(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	ids := make([]types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
	}

	out, err := b.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(b.name),
		Delete: &types.Delete{
			Objects: ids,
			// quiet mode only reports failures
			Quiet: aws.Bool(true),
		},
	})
	if err != nil {
		return 0, xerrors.Wrapf(err, "delete %d objects from s3://%s", len(keys), b.name)
	}

	if len(out.Errors) > 0 {
		de := &DeleteError{Bucket: b.name, Keys: make([]KeyError, 0, len(out.Errors))}
		for _, e := range out.Errors {
			de.Keys = append(de.Keys, KeyError{
				Key:     aws.ToString(e.Key),
				Code:    aws.ToString(e.Code),
				Message: aws.ToString(e.Message),
			})
		}
		return len(keys) - len(out.Errors), xerrors.WithStack(de)
	}
	return len(keys), nil
}
