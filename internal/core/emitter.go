package core

import "sync"

// Emitter is a typed synchronous publish/subscribe point. Listeners run on
// the goroutine that calls Emit, in subscription order.
type Emitter[T any] struct {
	mu        sync.RWMutex
	next      uint64
	listeners []listener[T]
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

func (e *Emitter[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	e.mu.Lock()
	e.next++
	id := e.next
	e.listeners = append(e.listeners, listener[T]{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, l := range e.listeners {
				if l.id == id {
					e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	ls := make([]listener[T], len(e.listeners))
	copy(ls, e.listeners)
	e.mu.RUnlock()
	for _, l := range ls {
		l.fn(v)
	}
}
