// Package marker tracks the last successful publish with a sentinel file
// whose modification time is the publish instant.
package marker

import (
	"errors"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

// DefaultName is the marker file name used when no path is configured.
const DefaultName = ".last_published"

type Marker struct {
	Present bool
	Time    time.Time
}

// IsChanged reports whether a file modified at modTime needs publishing.
// Without a marker everything is changed. Otherwise only files strictly
// older than the marker are unchanged.
func IsChanged(modTime time.Time, m Marker) bool {
	if !m.Present {
		return true
	}
	return !modTime.Before(m.Time)
}

// Store reads and writes the marker file name on fs.
type Store struct {
	fs   billy.Filesystem
	name string
	now  func() time.Time
}

func NewStore(fs billy.Filesystem, name string) *Store {
	if name == "" {
		name = DefaultName
	}
	return &Store{fs: fs, name: name, now: time.Now}
}

// Path is the marker's location on disk.
func (s *Store) Path() string { return s.fs.Join(s.fs.Root(), s.name) }

func (s *Store) Read() (Marker, error) {
	fi, err := s.fs.Stat(s.name)
	if errors.Is(err, os.ErrNotExist) {
		return Marker{}, nil
	}
	if err != nil {
		return Marker{}, xerrors.Wrapf(err, "stat marker %s", s.Path())
	}
	return Marker{Present: true, Time: fi.ModTime()}, nil
}

// Touch creates or rewrites the marker. Rewriting is what advances the
// mtime, so the body is always written even when unchanged.
func (s *Store) Touch() error {
	body := []byte(s.now().UTC().Format(time.RFC3339Nano) + "\n")
	if err := util.WriteFile(s.fs, s.name, body, 0o644); err != nil {
		return xerrors.Wrapf(err, "write marker %s", s.Path())
	}
	return nil
}

// Remove deletes the marker; a marker that is already gone is not an error.
func (s *Store) Remove() error {
	err := s.fs.Remove(s.name)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return xerrors.Wrapf(err, "remove marker %s", s.Path())
	}
	return nil
}
