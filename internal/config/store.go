// Package config implements the daemon's TOML-backed key-value store,
// addressed by (section, key) pairs. The sync core reads and writes
// ("internal", "lastsync") through it; the CLI layer reads the sync root
// and exclusion list.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// File and directory permissions for the config file (owner rw, group/other r).
const (
	filePermissions = 0o644
	dirPermissions  = 0o755
)

// Store is a (section, key) → value configuration store persisted as a TOML
// file. Every Set rewrites the file atomically (temp file + rename), so a
// crash never leaves a torn config behind. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]map[string]any
}

// DefaultPath returns the standard config file location,
// $XDG_CONFIG_HOME/dropsync/config.toml or ~/.config/dropsync/config.toml.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dropsync", "config.toml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "dropsync", "config.toml")
}

// Load reads the store from path. A missing file yields an empty store;
// the file is created on first Set.
func Load(path string) (*Store, error) {
	s := &Store{path: path, data: make(map[string]map[string]any)}

	if _, err := toml.DecodeFile(path, &s.data); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: decoding %s: %w", path, err)
		}
	}

	return s, nil
}

// Float returns the float64 value at (section, key), or def when unset.
// Integer TOML values are widened.
func (s *Store) Float(section, key string, def float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch v := s.lookup(section, key).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return def
	}
}

// String returns the string value at (section, key), or def when unset.
func (s *Store) String(section, key, def string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.lookup(section, key).(string); ok {
		return v
	}

	return def
}

// Strings returns the string-slice value at (section, key), or nil.
func (s *Store) Strings(section, key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.lookup(section, key).([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(raw))

	for _, item := range raw {
		if str, isStr := item.(string); isStr {
			out = append(out, str)
		}
	}

	return out
}

// Set stores a value at (section, key) and persists the file.
func (s *Store) Set(section, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.data[section]
	if !ok {
		sec = make(map[string]any)
		s.data[section] = sec
	}

	sec[key] = value

	return s.write()
}

// SetFloat stores a float64 at (section, key) and persists the file.
func (s *Store) SetFloat(section, key string, value float64) error {
	return s.Set(section, key, value)
}

func (s *Store) lookup(section, key string) any {
	sec, ok := s.data[section]
	if !ok {
		return nil
	}

	return sec[key]
}

// write persists the store atomically: encode to a temp file in the same
// directory, then rename over the target.
func (s *Store) write() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("config: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}

	if err := toml.NewEncoder(tmp).Encode(s.data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("config: encoding: %w", err)
	}

	if err := tmp.Chmod(filePermissions); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("config: setting permissions: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("config: closing temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("config: replacing %s: %w", s.path, err)
	}

	return nil
}
