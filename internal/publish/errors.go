package publish

import "fmt"

// EnumerationError means the source tree could not be listed. Nothing was
// uploaded.
type EnumerationError struct {
	Root string
	Err  error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumerate %s: %v", e.Root, e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// TransformError means a file could not be read or compressed.
type TransformError struct {
	Key string
	Err error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Key, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// UploadError means the storage write for Key failed.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// InvalidationError means the CDN rejected the invalidation. Uploads that
// preceded it stand.
type InvalidationError struct {
	DistributionID string
	Err            error
}

func (e *InvalidationError) Error() string {
	return fmt.Sprintf("invalidate distribution %s: %v", e.DistributionID, e.Err)
}

func (e *InvalidationError) Unwrap() error { return e.Err }

// ClearError means the bucket could not be fully emptied; the marker was
// left in place.
type ClearError struct {
	Bucket string
	Err    error
}

func (e *ClearError) Error() string {
	return fmt.Sprintf("clear bucket %s: %v", e.Bucket, e.Err)
}

func (e *ClearError) Unwrap() error { return e.Err }
