package event

import (
	"reflect"
	"sync"
)

// topic is the type-erased view of one event type's queue.
type topic interface {
	swap()
	dispatch()
	pending() int
}

type queue[T any] struct {
	back     []T
	front    []T
	handlers []func(T)
}

func (q *queue[T]) swap() {
	q.front, q.back = q.back, q.front[:0]
}

func (q *queue[T]) dispatch() {
	for _, ev := range q.front {
		for _, h := range q.handlers {
			h(ev)
		}
	}
}

func (q *queue[T]) pending() int { return len(q.back) }

// Bus is a double-buffered event bus. Emit appends to the back buffer;
// SwapBuffers makes those events visible to DispatchAll. Event types are
// dispatched in the order they were first seen.
type Bus struct {
	mu     sync.Mutex // guards topics and order
	topics map[reflect.Type]topic
	order  []topic
}

func NewBus() *Bus {
	return &Bus{topics: make(map[reflect.Type]topic)}
}

func queueFor[T any](b *Bus) *queue[T] {
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.topics[t]; ok {
		return q.(*queue[T])
	}
	q := &queue[T]{}
	b.topics[t] = q
	b.order = append(b.order, q)
	return q
}

// Emit queues an event for the next dispatch.
func Emit[T any](b *Bus, event T) {
	q := queueFor[T](b)
	q.back = append(q.back, event)
}

// Subscribe registers a handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	q := queueFor[T](b)
	q.handlers = append(q.handlers, fn)
}

// SwapBuffers moves queued events to the front buffer and drops the
// previously dispatched ones.
func (b *Bus) SwapBuffers() {
	for _, q := range b.order {
		q.swap()
	}
}

// DispatchAll delivers the front buffer to subscribers.
func (b *Bus) DispatchAll() {
	for _, q := range b.order {
		q.dispatch()
	}
}

// Pending reports how many events wait for the next swap.
func (b *Bus) Pending() int {
	n := 0
	for _, q := range b.order {
		n += q.pending()
	}
	return n
}
