package tools

import (
	"sync"
	"time"
)

// FileTimestamps records when each file was last read during an agent run.
// Edit and write tools use it to detect files changed on disk since the
// model last saw them. Last writer wins on concurrent records.
type FileTimestamps struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

// NewFileTimestamps creates an empty timestamp map.
func NewFileTimestamps() *FileTimestamps {
	return &FileTimestamps{seen: make(map[string]time.Time)}
}

// Record notes that path was read at the given time.
func (f *FileTimestamps) Record(path string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[path] = at
}

// Get returns the last recorded read time for path.
func (f *FileTimestamps) Get(path string) (time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	at, ok := f.seen[path]
	return at, ok
}

// Stale reports whether the file at path changed on disk after it was last
// read. Files never read are not considered stale; the edit tools require a
// prior read separately.
func (f *FileTimestamps) Stale(path string, modTime time.Time) bool {
	at, ok := f.Get(path)
	if !ok {
		return false
	}
	return modTime.After(at)
}
