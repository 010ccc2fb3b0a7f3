package wsclient

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// fakeClock runs timer callbacks synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	for {
		due := c.dueLocked(target)
		if due == nil {
			break
		}
		c.now = due.at
		due.fired = true
		c.mu.Unlock()
		due.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *fakeClock) dueLocked(target time.Duration) *fakeTimer {
	var live []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.timers = live
	sort.SliceStable(live, func(i, j int) bool { return live[i].at < live[j].at })
	if len(live) == 0 || live[0].at > target {
		return nil
	}
	return live[0]
}

// Pending returns the number of scheduled timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

var errConnClosed = errors.New("fake conn closed")

// fakeConn is an in-memory transport. Frames pushed by the test are read
// by the client's read loop in order.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	// Deliver queued frames before reporting the close.
	select {
	case data := <-f.in:
		return 1, data, nil
	default:
	}
	select {
	case data := <-f.in:
		return 1, data, nil
	case <-f.closed:
		return 0, nil, errConnClosed
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return errConnClosed
	default:
	}
	f.mu.Lock()
	f.writes = append(f.writes, string(data))
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(frame string) { f.in <- []byte(frame) }

// drop simulates the server closing the connection.
func (f *fakeConn) drop() { _ = f.Close() }

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeConn) count(frame string) int {
	n := 0
	for _, w := range f.Writes() {
		if w == frame {
			n++
		}
	}
	return n
}

// fakeDialer hands out fakeConns, or fails while err is set.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	dials int
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) Fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

type staticIdentity string

func (s staticIdentity) UserID() string { return string(s) }
