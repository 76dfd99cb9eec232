package state

import (
	"errors"
	"fmt"
)

// ErrLocked is returned when another process already holds the state lock.
var ErrLocked = errors.New("state file is locked by another process")

// Lock takes the advisory single-writer lock next to the state file.
func (s *Store) Lock() error {
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire state lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, s.lock.Path())
	}
	return nil
}

// Unlock releases the lock taken by Lock. Safe to call without holding it.
func (s *Store) Unlock() error {
	if !s.lock.Locked() {
		return nil
	}
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to release state lock: %w", err)
	}
	return nil
}
