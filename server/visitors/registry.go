// Package visitors keeps one live value per browser visitor, keyed by the visitor
// cookie. Idle visitors expire and the least recently seen are evicted first.
package visitors

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultSize    = 10000
	DefaultIdleTTL = 30 * time.Minute
)

// Repo stores per-visitor values.
type Repo[T any] interface {
	Upsert(visitorID string, value T) error
	Get(visitorID string) (T, bool)
	Delete(visitorID string)
	Len() int
}

// Registry is an in-memory Repo. onEvict runs for values that expire, are
// evicted or deleted; Upsert of a known visitor only refreshes its expiry.
type Registry[T any] struct {
	entries *expirable.LRU[string, T]
}

var _ Repo[int] = (*Registry[int])(nil)

// NewRegistry creates a Registry holding at most size visitors, each for at most
// idleTTL since it was last stored.
func NewRegistry[T any](size int, idleTTL time.Duration, onEvict func(visitorID string, value T)) *Registry[T] {
	if size <= 0 {
		size = DefaultSize
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Registry[T]{entries: expirable.NewLRU[string, T](size, onEvict, idleTTL)}
}

func (r *Registry[T]) Upsert(visitorID string, value T) error {
	if visitorID == "" {
		return fmt.Errorf("visitorID is required")
	}
	r.entries.Add(visitorID, value)
	return nil
}

func (r *Registry[T]) Get(visitorID string) (T, bool) {
	return r.entries.Get(visitorID)
}

func (r *Registry[T]) Delete(visitorID string) {
	r.entries.Remove(visitorID)
}

func (r *Registry[T]) Len() int {
	return r.entries.Len()
}
