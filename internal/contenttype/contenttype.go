// Package contenttype maps file names to media types.
package contenttype

import (
	"io"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"
)

// DB returns candidate media types for a file, most specific first. An
// empty result means the type is unknown and no Content-Type is sent.
type DB interface {
	TypesFor(name string) []string
}

// builtin covers the assets a static site ships. The stdlib table varies by
// host (it reads /etc/mime.types), so these are pinned.
var builtin = map[string][]string{
	".html":        {"text/html"},
	".htm":         {"text/html"},
	".css":         {"text/css"},
	".js":          {"application/javascript", "text/javascript"},
	".mjs":         {"application/javascript", "text/javascript"},
	".json":        {"application/json"},
	".map":         {"application/json"},
	".xml":         {"application/xml", "text/xml"},
	".rss":         {"application/rss+xml"},
	".atom":        {"application/atom+xml"},
	".txt":         {"text/plain"},
	".md":          {"text/markdown"},
	".csv":         {"text/csv"},
	".svg":         {"image/svg+xml"},
	".png":         {"image/png"},
	".jpg":         {"image/jpeg"},
	".jpeg":        {"image/jpeg"},
	".gif":         {"image/gif"},
	".webp":        {"image/webp"},
	".avif":        {"image/avif"},
	".ico":         {"image/vnd.microsoft.icon", "image/x-icon"},
	".woff":        {"font/woff"},
	".woff2":       {"font/woff2"},
	".ttf":         {"font/ttf"},
	".otf":         {"font/otf"},
	".eot":         {"application/vnd.ms-fontobject"},
	".pdf":         {"application/pdf"},
	".wasm":        {"application/wasm"},
	".webmanifest": {"application/manifest+json"},
	".mp4":         {"video/mp4"},
	".webm":        {"video/webm"},
	".mp3":         {"audio/mpeg"},
	".zip":         {"application/zip"},
	".gz":          {"application/gzip"},
}

// Extension looks types up by file extension: the pinned table first, then
// the platform table from mime.TypeByExtension.
type Extension struct{}

func (Extension) TypesFor(name string) []string {
	ext := strings.ToLower(path.Ext(path.Base(name)))
	if ext == "" {
		return nil
	}

	out := append([]string(nil), builtin[ext]...)
	if t := mime.TypeByExtension(ext); t != "" && !containsMedia(out, t) {
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SniffLimit is how many leading bytes Sniffing inspects.
const SniffLimit = 3072

// Sniffing falls back to content detection when Next knows nothing about
// a name. Names are opened on FS.
type Sniffing struct {
	Next DB
	FS   billy.Filesystem
}

func (s Sniffing) TypesFor(name string) []string {
	if s.Next != nil {
		if ts := s.Next.TypesFor(name); len(ts) > 0 {
			return ts
		}
	}
	if s.FS == nil {
		return nil
	}

	f, err := s.FS.Open(name)
	if err != nil {
		return nil
	}
	defer f.Close()

	head := make([]byte, SniffLimit)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil
	}

	mt := mimetype.Detect(head[:n])
	// octet-stream is the detector's "no idea"
	if mt.Is("application/octet-stream") {
		return nil
	}
	return []string{mt.String()}
}

// MediaType strips parameters and lowercases: "Text/HTML; charset=utf-8"
// becomes "text/html".
func MediaType(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(strings.TrimSpace(t))
}

func containsMedia(list []string, t string) bool {
	mt := MediaType(t)
	for _, x := range list {
		if MediaType(x) == mt {
			return true
		}
	}
	return false
}
