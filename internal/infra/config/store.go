package config

import (
	"sync"
)

// Store guards a loaded configuration and persists every update.
type Store struct {
	mu   sync.Mutex
	path string
	cfg  *Config
}

// NewStore creates a store for cfg backed by path.
func NewStore(path string, cfg *Config) *Store {
	return &Store{path: path, cfg: cfg}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *s.cfg
	if s.cfg.Bindings != nil {
		c.Bindings = make(map[string]string, len(s.cfg.Bindings))
		for k, v := range s.cfg.Bindings {
			c.Bindings[k] = v
		}
	}
	return c
}

// Update applies fn and saves the result.
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(s.cfg)
	return s.cfg.Save(s.path)
}
