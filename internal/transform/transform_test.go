package transform

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"

	"github.com/keithlinneman/sitepublish/internal/contenttype"
)

func newTestTransformer(t *testing.T, files map[string]string, mutate ...func(*Options)) *Transformer {
	t.Helper()
	fs := memfs.New()
	for name, body := range files {
		if err := util.WriteFile(fs, name, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	opts := Options{FS: fs}
	for _, m := range mutate {
		m(&opts)
	}
	tr, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func gunzip(t *testing.T, r io.Reader) string {
	t.Helper()
	zr, err := gzip.NewReader(r)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer zr.Close()
	b, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	return string(b)
}

func TestTransform_GzipEligible(t *testing.T) {
	html := strings.Repeat("<p>hello</p>\n", 200)
	tr := newTestTransformer(t, map[string]string{"index.html": html})

	p, err := tr.Transform(context.Background(), "index.html")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	defer p.Close()

	if p.ContentType != "text/html" || p.ContentEncoding != "gzip" {
		t.Fatalf("type=%q encoding=%q, want text/html gzip", p.ContentType, p.ContentEncoding)
	}
	if p.Size >= int64(len(html)) {
		t.Errorf("compressed size %d not smaller than %d", p.Size, len(html))
	}
	if got := gunzip(t, p.Body); got != html {
		t.Fatal("decompressed body differs from source")
	}

	// the body is seekable so the SDK can retry
	if _, err := p.Body.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := gunzip(t, p.Body); got != html {
		t.Fatal("body after rewind differs")
	}
}

func TestTransform_NotEligibleStreams(t *testing.T) {
	tr := newTestTransformer(t, map[string]string{"img/logo.png": "\x89PNG-bytes"})

	p, err := tr.Transform(context.Background(), "img/logo.png")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	defer p.Close()

	if p.ContentType != "image/png" || p.ContentEncoding != "" {
		t.Fatalf("type=%q encoding=%q, want image/png and no encoding", p.ContentType, p.ContentEncoding)
	}
	b, _ := io.ReadAll(p.Body)
	if string(b) != "\x89PNG-bytes" || p.Size != int64(len(b)) {
		t.Fatalf("body=%q size=%d", b, p.Size)
	}
}

func TestTransform_UnknownTypeNeverCompressed(t *testing.T) {
	tr := newTestTransformer(t, map[string]string{"LICENSE": "text that looks like text"})

	p, err := tr.Transform(context.Background(), "LICENSE")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	defer p.Close()
	if p.ContentType != "" || p.ContentEncoding != "" {
		t.Fatalf("type=%q encoding=%q, want both empty", p.ContentType, p.ContentEncoding)
	}
}

type fixedDB []string

func (d fixedDB) TypesFor(string) []string { return d }

func TestTransform_FirstCandidateDecides(t *testing.T) {
	files := map[string]string{"a.js": "var a = 1;"}

	// first candidate eligible
	tr := newTestTransformer(t, files, func(o *Options) {
		o.Types = fixedDB{"application/javascript", "application/x-other"}
	})
	p, err := tr.Transform(context.Background(), "a.js")
	if err != nil {
		t.Fatal(err)
	}
	if p.ContentEncoding != "gzip" {
		t.Errorf("first candidate eligible: encoding=%q, want gzip", p.ContentEncoding)
	}

	// eligible type only as a later candidate
	tr = newTestTransformer(t, files, func(o *Options) {
		o.Types = fixedDB{"application/x-other", "application/javascript"}
	})
	p, err = tr.Transform(context.Background(), "a.js")
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if p.ContentType != "application/x-other" || p.ContentEncoding != "" {
		t.Errorf("later candidate eligible: type=%q encoding=%q", p.ContentType, p.ContentEncoding)
	}
}

func TestTransform_CustomGzipSetIgnoresParameters(t *testing.T) {
	tr := newTestTransformer(t, map[string]string{"data.json": `{"a":1}`}, func(o *Options) {
		o.Types = fixedDB{"Application/JSON; charset=utf-8"}
		o.Gzip = NewTypeSet("application/json")
		o.Level = gzip.BestSpeed
	})
	p, err := tr.Transform(context.Background(), "data.json")
	if err != nil {
		t.Fatal(err)
	}
	if p.ContentEncoding != "gzip" {
		t.Fatalf("encoding=%q, want gzip", p.ContentEncoding)
	}
	if p.ContentType != "Application/JSON; charset=utf-8" {
		t.Errorf("content type rewritten to %q", p.ContentType)
	}
	if got := gunzip(t, p.Body); got != `{"a":1}` {
		t.Errorf("body = %q", got)
	}
}

func TestTransform_Errors(t *testing.T) {
	tr := newTestTransformer(t, nil)
	if _, err := tr.Transform(context.Background(), "missing.html"); err == nil {
		t.Fatal("Transform of a missing file should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Transform(ctx, "x"); err == nil {
		t.Fatal("Transform with cancelled context should fail")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New without filesystem should fail")
	}
	if _, err := New(Options{FS: memfs.New(), Level: 42}); err == nil {
		t.Fatal("New with invalid level should fail")
	}
}

func TestTypeSet(t *testing.T) {
	s := NewTypeSet(DefaultGzipTypes...)
	for _, ct := range []string{"text/html", "TEXT/CSS", "text/javascript; charset=utf-8", "application/javascript"} {
		if !s.Contains(ct) {
			t.Errorf("Contains(%q) = false", ct)
		}
	}
	for _, ct := range []string{"image/png", "application/json", ""} {
		if s.Contains(ct) {
			t.Errorf("Contains(%q) = true", ct)
		}
	}
	want := []string{"application/javascript", "text/css", "text/html", "text/javascript"}
	if diff := cmp.Diff(want, s.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
}

func TestPayload_CloseNil(t *testing.T) {
	var p *Payload
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := (&Payload{Body: bytes.NewReader(nil)}).Close(); err != nil {
		t.Fatal(err)
	}
}

var _ contenttype.DB = fixedDB(nil)
