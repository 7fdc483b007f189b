// Package permission decides whether a tool call may run automatically,
// needs human approval, or is denied.
package permission

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// GrantStore holds persisted permission keys, keyed by absolute project
// path. Keys have the form `tool`, `tool(command)` or `tool(prefix:*)`.
type GrantStore interface {
	// Grants returns the keys recorded for the project.
	Grants(project string) ([]string, error)
	// Add records keys for the project. Adding an existing key is a no-op.
	Add(project string, keys ...string) error
	// Remove deletes keys from the project.
	Remove(project string, keys ...string) error
}

// FileGrantStore persists grants as a JSON object mapping project path to
// an ordered array of keys. Writes re-read the file first and merge by set
// union, so concurrent additions from other processes are not lost.
type FileGrantStore struct {
	mu   sync.Mutex
	path string
}

// NewFileGrantStore creates a store backed by the given file. The file is
// created on first write.
func NewFileGrantStore(path string) *FileGrantStore {
	return &FileGrantStore{path: path}
}

func (s *FileGrantStore) Grants(project string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return nil, err
	}
	return all[project], nil
}

func (s *FileGrantStore) Add(project string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return err
	}
	existing := map[string]bool{}
	for _, key := range all[project] {
		existing[key] = true
	}
	for _, key := range keys {
		if !existing[key] {
			all[project] = append(all[project], key)
			existing[key] = true
		}
	}
	return s.save(all)
}

func (s *FileGrantStore) Remove(project string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return err
	}
	drop := map[string]bool{}
	for _, key := range keys {
		drop[key] = true
	}
	kept := all[project][:0]
	for _, key := range all[project] {
		if !drop[key] {
			kept = append(kept, key)
		}
	}
	if len(kept) == 0 {
		delete(all, project)
	} else {
		all[project] = kept
	}
	return s.save(all)
}

func (s *FileGrantStore) load() (map[string][]string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]string{}, nil
		}
		return nil, fmt.Errorf("read grant store: %w", err)
	}
	all := map[string][]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &all); err != nil {
			return nil, fmt.Errorf("parse grant store: %w", err)
		}
	}
	return all, nil
}

// save writes atomically via a temp file and rename.
func (s *FileGrantStore) save(all map[string][]string) error {
	encoded, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode grant store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create grant store directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".grants-*")
	if err != nil {
		return fmt.Errorf("create temp grant file: %w", err)
	}
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write grant store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close grant store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace grant store: %w", err)
	}
	return nil
}

// MemoryGrantStore is an in-memory GrantStore for tests.
type MemoryGrantStore struct {
	mu     sync.Mutex
	grants map[string]map[string]bool
}

func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: make(map[string]map[string]bool)}
}

func (s *MemoryGrantStore) Grants(project string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.grants[project]))
	for key := range s.grants[project] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryGrantStore) Add(project string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[project] == nil {
		s.grants[project] = make(map[string]bool)
	}
	for _, key := range keys {
		s.grants[project][key] = true
	}
	return nil
}

func (s *MemoryGrantStore) Remove(project string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.grants[project], key)
	}
	return nil
}
