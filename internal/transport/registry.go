package transport

import (
	"sync"

	"go.uber.org/zap"
)

// Registry is an independent set of listeners for one channel.
type Registry[T any] struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(T)
	name string
	log  *zap.Logger
}

func NewRegistry[T any](name string, log *zap.Logger) *Registry[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry[T]{subs: make(map[int]func(T)), name: name, log: log}
}

// Subscribe adds fn and returns a func that removes it. Calling the
// returned func more than once is harmless.
func (r *Registry[T]) Subscribe(fn func(T)) func() {
	r.mu.Lock()
	id := r.next
	r.next++
	r.subs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Emit calls every listener outside the lock so listeners may subscribe or
// unsubscribe from inside the callback.
func (r *Registry[T]) Emit(v T) {
	r.mu.RLock()
	fns := make([]func(T), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		r.call(fn, v)
	}
}

func (r *Registry[T]) call(fn func(T), v T) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("subscriber panicked", zap.String("channel", r.name), zap.Any("panic", p))
		}
	}()
	fn(v)
}
