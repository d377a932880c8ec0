package directory

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNotFound is returned when no principal matches.
var ErrNotFound = errors.New("directory: principal not found")

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("directory: backend unavailable")

// Principal is the local account an external identity maps to.
type Principal struct {
	ID     string
	Email  string
	Role   string
	Active bool
}

// NormalizeEmail lowercases and trims an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Static is an in-memory directory keyed by normalized email. It is safe for
// concurrent use.
type Static struct {
	mu      sync.RWMutex
	byEmail map[string]Principal
	byID    map[string]Principal
}

// NewStatic builds a [Static] directory from principals.
func NewStatic(principals ...Principal) *Static {
	s := &Static{
		byEmail: make(map[string]Principal, len(principals)),
		byID:    make(map[string]Principal, len(principals)),
	}
	for _, p := range principals {
		s.Put(p)
	}
	return s
}

// Put inserts or replaces p.
func (s *Static) Put(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byID[p.ID]; ok {
		delete(s.byEmail, NormalizeEmail(old.Email))
	}
	s.byEmail[NormalizeEmail(p.Email)] = p
	s.byID[p.ID] = p
}

// Remove deletes the principal with id. It reports whether it existed.
func (s *Static) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
		delete(s.byEmail, NormalizeEmail(p.Email))
	}
	return ok
}

// SetActive flips the active flag of the principal with id.
func (s *Static) SetActive(id string, active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return false
	}
	p.Active = active
	s.byID[id] = p
	s.byEmail[NormalizeEmail(p.Email)] = p
	return true
}

// FindByEmail implements the lookup used by the OAuth coordinator.
func (s *Static) FindByEmail(_ context.Context, email string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

// FindByID returns the principal with id.
func (s *Static) FindByID(_ context.Context, id string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}
