package events

import (
	"fmt"
	"sync"

	"dealsignal/internal/logger"
)

// Bus is a synchronous typed publish/subscribe hub. Handlers run on the
// publisher's goroutine in subscription order.
type Bus[T any] struct {
	name string
	log  logger.Logger

	mu       sync.RWMutex
	nextID   int
	handlers []handlerEntry[T]
}

type handlerEntry[T any] struct {
	id int
	fn func(T)
}

func NewBus[T any](name string, log logger.Logger) *Bus[T] {
	if log == nil {
		log = logger.NewNop()
	}
	return &Bus[T]{name: name, log: log}
}

// Subscribe registers fn and returns a func that removes it.
func (b *Bus[T]) Subscribe(fn func(T)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, handlerEntry[T]{id: id, fn: fn})
	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Bus[T]) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if h.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	handlers := make([]handlerEntry[T], len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	for _, h := range handlers {
		b.dispatch(h.fn, v)
	}
}

func (b *Bus[T]) dispatch(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				logger.String("bus", b.name),
				logger.String("panic", fmt.Sprint(r)))
		}
	}()
	fn(v)
}

// Len reports the number of active subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
