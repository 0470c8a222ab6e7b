package calibration

import (
	"sync"
	"time"
)

// Store owns the process-wide calibration matrices and the file they are
// persisted to. It is safe for concurrent use.
type Store struct {
	mu   *sync.RWMutex
	m    Matrices
	path string
	now  func() time.Time
}

// NewStore returns a store with zero matrices bound to path. Nothing is read
// until Load is called.
func NewStore(path string) *Store {
	return &Store{
		mu:   &sync.RWMutex{},
		m:    NewMatrices(),
		path: path,
		now:  time.Now,
	}
}

// Path returns the calibration file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the calibration file. See ReadFile for the error contract; on
// any error the in-memory matrices that were not read keep their values.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := ReadFile(s.path, s.m)
	s.m = m
	return err
}

// Snapshot returns a deep copy of the current matrices.
func (s *Store) Snapshot() Matrices {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.m.Clone()
}

// Replace persists m and, only if that succeeds, makes it the current value.
// A failed write leaves the in-memory matrices unchanged.
func (s *Store) Replace(m Matrices) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := WriteFile(s.path, m, s.now()); err != nil {
		return err
	}
	s.m = m.Clone()
	return nil
}
