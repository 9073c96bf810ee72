// Package profilecache holds the last known profile per backend user for one
// client session. It never fetches and never expires entries on its own; callers
// invalidate after writes that change a profile's name or role and after sign-in.
package profilecache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jrsteele09/fairway-identity/profiles"
)

const DefaultSize = 1024

// Store is safe for concurrent use. Profiles are copied on the way in and out.
type Store struct {
	entries *lru.Cache[string, *profiles.Profile]
}

// New creates a Store holding up to size profiles. Evicting an entry only ever
// causes a refetch.
func New(size int) (*Store, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, *profiles.Profile](size)
	if err != nil {
		return nil, fmt.Errorf("create profile cache: %w", err)
	}
	return &Store{entries: entries}, nil
}

// Get returns the cached profile for userID. ok is false on a miss.
func (s *Store) Get(userID string) (profiles.Profile, bool) {
	p, ok := s.entries.Get(userID)
	if !ok || p == nil {
		return profiles.Profile{}, false
	}
	return *p.Clone(), true
}

// Set records profile as the last known state of userID.
func (s *Store) Set(userID string, profile profiles.Profile) {
	s.entries.Add(userID, profile.Clone())
}

// Invalidate drops userID so the next Get misses.
func (s *Store) Invalidate(userID string) {
	s.entries.Remove(userID)
}

// Purge drops every entry. Used on sign-out.
func (s *Store) Purge() {
	s.entries.Purge()
}

// Len is the number of cached profiles.
func (s *Store) Len() int {
	return s.entries.Len()
}
