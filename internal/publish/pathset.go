package publish

import (
	"sync"

	"github.com/keithlinneman/sitepublish/internal/pathutil"
)

// PathSet collects the CDN paths of objects written during one run.
type PathSet struct {
	mu    sync.Mutex
	paths []string
}

// Add records key as "/"+key.
func (s *PathSet) Add(key string) {
	s.mu.Lock()
	s.paths = append(s.paths, pathutil.CDNPath(key))
	s.mu.Unlock()
}

// Paths returns a copy in insertion order.
func (s *PathSet) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func (s *PathSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}
