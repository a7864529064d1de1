package docstore

import "sync"

// Feed holds the latest value of a stream and pushes each new value to its
// subscribers synchronously, in subscription order. A new subscriber receives
// the current value immediately. Callbacks must not subscribe or publish on
// the same feed.
type Feed[T any] struct {
	publishMu sync.Mutex

	mu      sync.Mutex
	current T
	subs    []*feedSub[T]
	nextID  uint64
}

type feedSub[T any] struct {
	id     uint64
	fn     func(T)
	active bool
}

// NewFeed returns a feed holding initial.
func NewFeed[T any](initial T) *Feed[T] {
	return &Feed[T]{current: initial}
}

// Current returns the latest value.
func (f *Feed[T]) Current() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Publish replaces the current value and notifies every subscriber.
func (f *Feed[T]) Publish(v T) {
	f.publishMu.Lock()
	defer f.publishMu.Unlock()

	f.mu.Lock()
	f.current = v
	subs := make([]*feedSub[T], len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, s := range subs {
		if f.isActive(s) {
			s.fn(v)
		}
	}
}

// Subscribe registers fn and delivers the current value to it before
// returning. The returned cancel stops further deliveries.
func (f *Feed[T]) Subscribe(fn func(T)) (cancel func()) {
	f.publishMu.Lock()
	defer f.publishMu.Unlock()

	f.mu.Lock()
	f.nextID++
	sub := &feedSub[T]{id: f.nextID, fn: fn, active: true}
	f.subs = append(f.subs, sub)
	current := f.current
	f.mu.Unlock()

	fn(current)

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !sub.active {
			return
		}
		sub.active = false
		for i, s := range f.subs {
			if s.id == sub.id {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				break
			}
		}
	}
}

// Subscribers returns the number of active subscribers.
func (f *Feed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed[T]) isActive(s *feedSub[T]) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return s.active
}
