// Package pathutil derives bucket keys and CDN paths from local paths.
package pathutil

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// BucketKey returns the object key for file under root: the slash-separated
// path relative to root with no leading separator. It is a real prefix-relative
// computation, so a root name repeated deeper in the path is left alone.
func BucketKey(root, file string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(file))
	if err != nil {
		return "", xerrors.Wrapf(err, "relative path of %s under %s", file, root)
	}
	key := strings.TrimLeft(filepath.ToSlash(rel), "/")
	if key == "" || key == "." {
		return "", xerrors.Newf("%s is the source root itself", file)
	}
	if HasDotSegments(key) {
		return "", xerrors.Newf("%s is not under %s", file, root)
	}
	return key, nil
}

// CDNPath is the invalidation path for a bucket key: the key with a single
// leading slash.
func CDNPath(key string) string {
	return "/" + strings.TrimLeft(key, "/")
}

// MatchAny reports whether key matches any of the path.Match patterns, either
// as a whole or by its base name. Malformed patterns never match.
func MatchAny(patterns []string, key string) bool {
	base := path.Base(key)
	for _, p := range patterns {
		if ok, _ := path.Match(p, key); ok {
			return true
		}
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}
