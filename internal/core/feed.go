package core

import "sync"

// Subscription is a live watch on the signaling store.
type Subscription interface {
	// Cancel stops delivery. No callback runs after Cancel returns.
	Cancel()
	// Done is closed once the subscription has ended, by Cancel or by the store.
	Done() <-chan struct{}
}

// Feed delivers pushed values to a callback from one goroutine, in push order.
// When a key func is set, a value whose key was already delivered is dropped.
// The callback must not call Cancel on its own feed.
type Feed[T any] struct {
	fn  func(T)
	key func(T) string

	mu        sync.Mutex
	queue     []T
	cancelled bool
	onCancel  func()
	wake      chan struct{}

	// deliverMu is held while fn runs so Cancel can wait it out.
	deliverMu sync.Mutex
	seen      map[string]struct{}

	once sync.Once
	done chan struct{}
}

func NewFeed[T any](key func(T) string, fn func(T)) *Feed[T] {
	f := &Feed[T]{
		fn:   fn,
		key:  key,
		wake: make(chan struct{}, 1),
		seen: make(map[string]struct{}),
		done: make(chan struct{}),
	}
	go f.run()
	return f
}

// OnCancel registers a hook run once after the feed is cancelled.
func (f *Feed[T]) OnCancel(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCancel = fn
}

// Push queues v for delivery. It never blocks and reports false once cancelled.
func (f *Feed[T]) Push(v T) bool {
	f.mu.Lock()
	if f.cancelled {
		f.mu.Unlock()
		return false
	}
	f.queue = append(f.queue, v)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
	return true
}

func (f *Feed[T]) run() {
	for {
		select {
		case <-f.done:
			return
		case <-f.wake:
		}
		for {
			v, ok := f.pop()
			if !ok {
				break
			}
			f.deliver(v)
		}
	}
}

func (f *Feed[T]) pop() (T, bool) {
	var zero T
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled || len(f.queue) == 0 {
		return zero, false
	}
	v := f.queue[0]
	f.queue[0] = zero
	f.queue = f.queue[1:]
	return v, true
}

func (f *Feed[T]) deliver(v T) {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()
	if f.isCancelled() {
		return
	}
	if f.key != nil {
		k := f.key(v)
		if _, dup := f.seen[k]; dup {
			return
		}
		f.seen[k] = struct{}{}
	}
	f.fn(v)
}

func (f *Feed[T]) isCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *Feed[T]) Cancel() {
	f.once.Do(func() {
		f.mu.Lock()
		f.cancelled = true
		f.queue = nil
		hook := f.onCancel
		f.mu.Unlock()

		// wait for an in-flight callback
		f.deliverMu.Lock()
		f.deliverMu.Unlock()

		close(f.done)
		if hook != nil {
			hook()
		}
	})
}

func (f *Feed[T]) Done() <-chan struct{} { return f.done }
