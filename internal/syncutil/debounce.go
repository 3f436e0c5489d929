// Package syncutil holds the concurrency primitives shared by the HLS
// core: a collapsing debounce and a bounded map with asynchronous
// construction and destruction.
package syncutil

import "sync"

// Debounce wraps f so that overlapping triggers collapse: at most one
// invocation runs at a time and at most one follow-up is queued behind it.
// The returned trigger yields a channel that closes when an invocation
// started no earlier than the trigger has completed.
func Debounce(f func()) func() <-chan struct{} {
	var mu sync.Mutex
	var inflight, queued chan struct{}

	var launch func(done chan struct{})
	launch = func(done chan struct{}) {
		go func() {
			f()
			mu.Lock()
			next := queued
			inflight = next
			queued = nil
			mu.Unlock()
			close(done)
			if next != nil {
				launch(next)
			}
		}()
	}

	return func() <-chan struct{} {
		mu.Lock()
		defer mu.Unlock()
		if inflight == nil {
			inflight = make(chan struct{})
			launch(inflight)
			return inflight
		}
		if queued == nil {
			queued = make(chan struct{})
		}
		return queued
	}
}
