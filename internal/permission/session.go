package permission

import (
	"path/filepath"
	"strings"
	"sync"
)

// SessionGrants holds the in-memory write permissions for file-mutating
// tools. Grants are per target directory, never written to disk, and
// vanish when the process exits.
type SessionGrants struct {
	mu   sync.RWMutex
	dirs map[string]bool
}

// NewSessionGrants creates an empty session grant set.
func NewSessionGrants() *SessionGrants {
	return &SessionGrants{dirs: make(map[string]bool)}
}

// GrantDir permits file mutations under dir for the rest of the session.
func (s *SessionGrants) GrantDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs[filepath.Clean(dir)] = true
}

// Allows reports whether path falls under a granted directory.
func (s *SessionGrants) Allows(path string) bool {
	path = filepath.Clean(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for dir := range s.dirs {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
