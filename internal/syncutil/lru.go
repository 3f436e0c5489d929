package syncutil

import (
	"context"
	"sync"
)

// AsyncLRU is a bounded map whose values are built and torn down
// asynchronously. Entries keep LRU order (most recently used at the tail);
// inserting beyond capacity evicts the oldest entry without waiting for
// its destructor. A new constructor for a key never starts while a
// previous destructor for the same key is still running, which matters
// when the destructor removes state the constructor will recreate.
type AsyncLRU[K comparable, V any] struct {
	mu         sync.Mutex
	capacity   int
	construct  func(K) (V, error)
	destruct   func(K, V)
	cache      map[K]*lruEntry[V]
	order      []K
	destroying map[K]chan struct{}
}

type lruEntry[V any] struct {
	ready chan struct{}
	value V
	err   error
}

func (e *lruEntry[V]) wait(ctx context.Context) (V, error) {
	select {
	case <-e.ready:
		return e.value, e.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// NewAsyncLRU builds an AsyncLRU with the given capacity (must be >= 1).
// destruct is only invoked for values whose construction succeeded.
func NewAsyncLRU[K comparable, V any](capacity int, construct func(K) (V, error), destruct func(K, V)) *AsyncLRU[K, V] {
	if capacity < 1 {
		panic("syncutil: AsyncLRU capacity must be >= 1")
	}
	return &AsyncLRU[K, V]{
		capacity:   capacity,
		construct:  construct,
		destruct:   destruct,
		cache:      make(map[K]*lruEntry[V]),
		destroying: make(map[K]chan struct{}),
	}
}

// Get returns the value for key, constructing it if absent. A hit is moved
// to the tail of the LRU order. The wait is bounded by ctx; cancelling the
// wait does not cancel the construction.
func (l *AsyncLRU[K, V]) Get(ctx context.Context, key K) (V, error) {
	l.mu.Lock()
	if e, ok := l.cache[key]; ok {
		l.removeFromOrder(key)
		l.order = append(l.order, key)
		l.mu.Unlock()
		return e.wait(ctx)
	}

	e := &lruEntry[V]{ready: make(chan struct{})}
	l.cache[key] = e
	l.order = append(l.order, key)
	for len(l.cache) > l.capacity {
		head := l.order[0]
		if head == key {
			break
		}
		l.destroyLocked(head, l.cache[head])
	}
	prev := l.destroying[key]
	l.mu.Unlock()

	go func() {
		if prev != nil {
			<-prev
		}
		v, err := l.construct(key)
		l.mu.Lock()
		if err != nil {
			e.err = err
			if l.cache[key] == e {
				delete(l.cache, key)
				l.removeFromOrder(key)
			}
		} else {
			e.value = v
		}
		l.mu.Unlock()
		close(e.ready)
	}()

	return e.wait(ctx)
}

// Delete evicts key, returning a channel that closes when its destructor
// has finished. Deleting an absent key returns the in-flight destruction
// for that key if any, else an already-closed channel.
func (l *AsyncLRU[K, V]) Delete(key K) <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.cache[key]
	if !ok {
		if d, busy := l.destroying[key]; busy {
			return d
		}
		done := make(chan struct{})
		close(done)
		return done
	}
	return l.destroyLocked(key, e)
}

// destroyLocked removes the entry from the cache and starts its async
// destruction, chained behind any earlier destruction of the same key.
// Callers must hold l.mu.
func (l *AsyncLRU[K, V]) destroyLocked(key K, e *lruEntry[V]) <-chan struct{} {
	delete(l.cache, key)
	l.removeFromOrder(key)
	d := make(chan struct{})
	prev := l.destroying[key]
	l.destroying[key] = d

	go func() {
		<-e.ready
		if prev != nil {
			<-prev
		}
		if e.err == nil {
			l.destruct(key, e.value)
		}
		l.mu.Lock()
		if l.destroying[key] == d {
			delete(l.destroying, key)
		}
		l.mu.Unlock()
		close(d)
	}()
	return d
}

// Len reports the number of cached entries, constructed or constructing.
func (l *AsyncLRU[K, V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cache)
}

// Keys returns the cached keys in LRU order, oldest first.
func (l *AsyncLRU[K, V]) Keys() []K {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]K, len(l.order))
	copy(keys, l.order)
	return keys
}

func (l *AsyncLRU[K, V]) removeFromOrder(key K) {
	for i, k := range l.order {
		if k == key {
			l.order = append(l.order[:i], l.order[i+1:]...)
			return
		}
	}
}
