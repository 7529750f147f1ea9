package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store serializes level files to disk. Writes go through a temp file
// and a rename so a reader never observes a half-written document, and
// a per-path mutex so two writers never race on the same file.
type Store struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{locks: make(map[string]*sync.Mutex)}
}

func (s *Store) lock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	mu := s.locks[abs]
	if mu == nil {
		mu = &sync.Mutex{}
		s.locks[abs] = mu
	}
	return mu
}

// SaveRaw writes a raw level map atomically, creating parent
// directories as needed. The unmask flow writes raw maps rather than
// typed documents so unknown keys survive the round trip. New files
// are created private: they usually carry credentials.
func (s *Store) SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("serialize config: %w", err)
	}
	return s.write(path, data)
}

func (s *Store) write(path string, data []byte) error {
	mu := s.lock(path)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	mode := os.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// LoadRaw reads one level file into a raw map without expanding
// environment references, preserving the text users wrote. This is the
// projection Mask and Unmask operate on.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SanitizeName lowercases a name and collapses non-alphanumeric runs
// to single dashes, for use in file names. Empty input sanitizes to
// "untitled".
func SanitizeName(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "untitled"
	}
	return out
}
