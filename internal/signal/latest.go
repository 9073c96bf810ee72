// Package signal provides a latest-wins value that many readers can follow.
package signal

import (
	"context"
	"sync"
)

// Latest holds the most recent value of a signal. Subscribers never see a backlog:
// a value that was not read before the next Set is replaced.
type Latest[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	changed chan struct{}
}

// NewLatest creates a Latest holding initial.
func NewLatest[T any](initial T) *Latest[T] {
	return &Latest[T]{value: initial, changed: make(chan struct{})}
}

// Set publishes v and wakes every waiter.
func (l *Latest[T]) Set(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = v
	l.version++
	close(l.changed)
	l.changed = make(chan struct{})
}

// Get returns the current value and its version. Version 0 is the initial value.
func (l *Latest[T]) Get() (T, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.version
}

// Wait blocks until the version moves past after, returning the new value.
func (l *Latest[T]) Wait(ctx context.Context, after uint64) (T, uint64, error) {
	for {
		l.mu.Lock()
		value, version, changed := l.value, l.version, l.changed
		l.mu.Unlock()
		if version > after {
			return value, version, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, after, ctx.Err()
		case <-changed:
		}
	}
}

// Stream delivers the current value and then every newer one until ctx ends. The
// channel has room for one value; an undelivered value is replaced by a newer one.
func (l *Latest[T]) Stream(ctx context.Context) <-chan T {
	out := make(chan T, 1)
	go func() {
		defer close(out)
		value, version := l.Get()
		for {
			select {
			case <-out:
			default:
			}
			out <- value

			var err error
			value, version, err = l.Wait(ctx, version)
			if err != nil {
				return
			}
		}
	}()
	return out
}
