package wsclient

import "sync"

// observerList keeps callbacks in registration order.
type observerList[F any] struct {
	mu      sync.Mutex
	next    uint64
	entries []observerEntry[F]
}

type observerEntry[F any] struct {
	id uint64
	fn F
}

// add registers fn and returns a func that removes it. The returned func
// may be called more than once.
func (l *observerList[F]) add(fn F) func() {
	l.mu.Lock()
	id := l.next
	l.next++
	l.entries = append(l.entries, observerEntry[F]{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, e := range l.entries {
			if e.id == id {
				l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

// snapshot returns the current callbacks so they can run without the lock.
func (l *observerList[F]) snapshot() []F {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]F, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.fn
	}
	return out
}
