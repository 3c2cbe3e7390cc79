// File: internal/client/loader.go
package client

import (
	"context"
	"sync"
)

// KeyedLoader runs one load at a time for the currently selected key.
// Starting a load cancels the previous one, and a load that finishes after
// it was superseded reports ErrStale instead of its result.
type KeyedLoader[K comparable, V any] struct {
	load func(ctx context.Context, key K) (V, error)

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
}

func NewKeyedLoader[K comparable, V any](load func(ctx context.Context, key K) (V, error)) *KeyedLoader[K, V] {
	return &KeyedLoader[K, V]{load: load}
}

func (l *KeyedLoader[K, V]) Load(ctx context.Context, key K) (V, error) {
	ctx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.generation++
	gen := l.generation
	l.cancel = cancel
	l.mu.Unlock()

	value, err := l.load(ctx, key)

	l.mu.Lock()
	current := l.generation == gen
	if current {
		l.cancel = nil
	}
	l.mu.Unlock()
	cancel()

	if !current {
		var zero V
		return zero, ErrStale
	}
	return value, err
}

// Cancel aborts the in-flight load, if any.
func (l *KeyedLoader[K, V]) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.generation++
}
