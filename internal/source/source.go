// Package source enumerates the local tree that gets published.
package source

import (
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/keithlinneman/sitepublish/internal/pathutil"
	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

// Candidate is one entry under the source root.
type Candidate struct {
	// Path is the entry's location on disk, for logs and errors
	Path string
	// Key is the slash-separated path relative to the root; it is also the
	// name to open the entry with on the enumerator's filesystem
	Key     string
	ModTime time.Time
	Size    int64
	IsDir   bool
}

type Enumerator struct {
	fs      billy.Filesystem
	exclude []string
	skip    map[string]bool
}

type Option func(*Enumerator)

// WithExclude skips keys matching any of the path.Match patterns, by full
// key or base name. A matching directory is skipped with everything below it.
func WithExclude(patterns ...string) Option {
	return func(e *Enumerator) {
		e.exclude = append(e.exclude, patterns...)
	}
}

// WithSkipKeys never yields the given keys. Used to hide the publish marker
// when it lives inside the source root.
func WithSkipKeys(keys ...string) Option {
	return func(e *Enumerator) {
		for _, k := range keys {
			e.skip[k] = true
		}
	}
}

// New enumerates fsys from its root. For a directory on disk pass
// osfs.New(dir).
func New(fsys billy.Filesystem, opts ...Option) *Enumerator {
	e := &Enumerator{fs: fsys, skip: make(map[string]bool)}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Root is the on-disk root of the filesystem being enumerated.
func (e *Enumerator) Root() string { return e.fs.Root() }

var errStop = errors.New("stop")

// All walks the tree in lexical order and yields every file and directory
// below the root exactly once. Each call walks again. A walk failure,
// including a missing root, is yielded as a single error and ends the
// sequence.
func (e *Enumerator) All() iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		err := util.Walk(e.fs, ".", func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return xerrors.Wrapf(err, "walk %s", filepath.Join(e.fs.Root(), p))
			}
			if p == "." {
				return nil
			}

			key, err := pathutil.BucketKey(".", p)
			if err != nil {
				return err
			}
			if e.skip[key] {
				return skipEntry(info)
			}
			if pathutil.MatchAny(e.exclude, key) {
				return skipEntry(info)
			}

			// Walk does not descend into linked directories; a link is
			// reported as what it points at, and a linked directory's
			// contents are not enumerated
			if info.Mode()&fs.ModeSymlink != 0 {
				target, err := e.fs.Stat(p)
				if err != nil {
					return xerrors.Wrapf(err, "resolve link %s", filepath.Join(e.fs.Root(), p))
				}
				info = target
			}

			c := Candidate{
				Path:    filepath.Join(e.fs.Root(), filepath.FromSlash(key)),
				Key:     key,
				ModTime: info.ModTime(),
				Size:    info.Size(),
				IsDir:   info.IsDir(),
			}
			if !yield(c, nil) {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield(Candidate{}, err)
		}
	}
}

func skipEntry(info os.FileInfo) error {
	if info.IsDir() {
		return filepath.SkipDir
	}
	return nil
}
