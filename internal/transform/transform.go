// Package transform turns a source file into an upload payload: it picks
// the content type and gzips text assets.
package transform

import (
	"bytes"
	"context"
	"io"
	"maps"
	"slices"

	"github.com/go-git/go-billy/v5"
	"github.com/klauspost/compress/gzip"

	"github.com/keithlinneman/sitepublish/internal/contenttype"
	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

// DefaultGzipTypes are compressed unless the config overrides them.
// text/javascript is listed alongside application/javascript because the
// platform mime table reports it for .js on most hosts.
var DefaultGzipTypes = []string{
	"text/css",
	"text/html",
	"application/javascript",
	"text/javascript",
}

// TypeSet is a set of media types compared without parameters, case-insensitively.
type TypeSet map[string]struct{}

func NewTypeSet(types ...string) TypeSet {
	s := make(TypeSet, len(types))
	for _, t := range types {
		if mt := contenttype.MediaType(t); mt != "" {
			s[mt] = struct{}{}
		}
	}
	return s
}

func (s TypeSet) Contains(t string) bool {
	_, ok := s[contenttype.MediaType(t)]
	return ok
}

// Payload is a ready-to-upload body. Close releases the underlying file.
type Payload struct {
	Body            io.ReadSeeker
	Size            int64
	ContentType     string
	ContentEncoding string

	closer io.Closer
}

func (p *Payload) Close() error {
	if p == nil || p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

type Options struct {
	FS    billy.Filesystem
	Types contenttype.DB

	// Gzip is the eligible set; nil uses DefaultGzipTypes
	Gzip TypeSet

	// Level is a compress/gzip level; 0 uses gzip.DefaultCompression
	Level int
}

type Transformer struct {
	fs    billy.Filesystem
	types contenttype.DB
	gzip  TypeSet
	level int
}

func New(opts Options) (*Transformer, error) {
	if opts.FS == nil {
		return nil, xerrors.New("transform: filesystem is required")
	}
	if opts.Types == nil {
		opts.Types = contenttype.Extension{}
	}
	if opts.Gzip == nil {
		opts.Gzip = NewTypeSet(DefaultGzipTypes...)
	}
	if opts.Level == 0 {
		opts.Level = gzip.DefaultCompression
	}
	if opts.Level < gzip.HuffmanOnly || opts.Level > gzip.BestCompression {
		return nil, xerrors.Newf("transform: invalid gzip level %d", opts.Level)
	}
	return &Transformer{fs: opts.FS, types: opts.Types, gzip: opts.Gzip, level: opts.Level}, nil
}

// Transform builds the payload for name. The content type is the first
// candidate the type DB reports, or none. When that type is gzip-eligible
// the whole file is compressed in memory; otherwise the open file is the
// body and the caller must Close the payload.
func (t *Transformer) Transform(ctx context.Context, name string) (*Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ct string
	if types := t.types.TypesFor(name); len(types) > 0 {
		ct = types[0]
	}

	f, err := t.fs.Open(name)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open %s", name)
	}

	if ct != "" && t.gzip.Contains(ct) {
		defer f.Close()
		body, err := t.compress(f)
		if err != nil {
			return nil, xerrors.Wrapf(err, "gzip %s", name)
		}
		return &Payload{
			Body:            bytes.NewReader(body),
			Size:            int64(len(body)),
			ContentType:     ct,
			ContentEncoding: "gzip",
		}, nil
	}

	fi, err := t.fs.Stat(name)
	if err != nil {
		f.Close()
		return nil, xerrors.Wrapf(err, "stat %s", name)
	}
	return &Payload{
		Body:        f,
		Size:        fi.Size(),
		ContentType: ct,
		closer:      f,
	}, nil
}

func (t *Transformer) compress(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, t.level)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(zw, r); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Names lists the set sorted, for logs.
func (s TypeSet) Names() []string {
	return slices.Sorted(maps.Keys(s))
}
