package esp32

import (
	"sync"
	"sync/atomic"
)

// Subscription is the handle returned when registering a callback.
type Subscription struct {
	active atomic.Bool
	remove func()
}

// Unsubscribe stops further callbacks. It takes effect immediately, also
// for a dispatch already in progress, and is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	if s.active.CompareAndSwap(true, false) && s.remove != nil {
		s.remove()
	}
}

// Active reports whether the subscription still receives callbacks.
func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}

type observer[T any] struct {
	sub *Subscription
	fn  func(T)
}

// observers is an ordered list of callbacks for one event kind.
type observers[T any] struct {
	mu   sync.Mutex
	list []*observer[T]
}

func (o *observers[T]) subscribe(fn func(T)) *Subscription {
	entry := &observer[T]{sub: &Subscription{}, fn: fn}
	entry.sub.active.Store(true)
	entry.sub.remove = func() { o.removeEntry(entry) }

	o.mu.Lock()
	o.list = append(o.list, entry)
	o.mu.Unlock()

	return entry.sub
}

func (o *observers[T]) removeEntry(entry *observer[T]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, e := range o.list {
		if e == entry {
			o.list = append(o.list[:i:i], o.list[i+1:]...)
			return
		}
	}
}

func (o *observers[T]) empty() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.list) == 0
}

// notify calls every active callback in subscription order. The list is
// copied first so callbacks may subscribe or unsubscribe freely.
func (o *observers[T]) notify(v T) {
	o.mu.Lock()
	snapshot := make([]*observer[T], len(o.list))
	copy(snapshot, o.list)
	o.mu.Unlock()

	for _, e := range snapshot {
		if e.sub.active.Load() {
			e.fn(v)
		}
	}
}

func (o *observers[T]) clear() {
	o.mu.Lock()
	list := o.list
	o.list = nil
	o.mu.Unlock()

	for _, e := range list {
		e.sub.active.Store(false)
	}
}
