package wsclient

import "time"

// heartbeat is a self-rearming ping timer. Every method must be called with
// the owning Client's mu held. Each start gets a fresh sequence number so a
// tick that fires after stop sees a stale seq and does nothing.
type heartbeat struct {
	clock    Clock
	interval time.Duration
	seq      uint64
	timer    Timer
}

// start replaces any running timer and schedules tick after one interval.
func (h *heartbeat) start(tick func(seq uint64)) {
	h.stop()
	h.arm(h.seq, tick)
}

// arm schedules the next tick for seq.
func (h *heartbeat) arm(seq uint64, tick func(seq uint64)) {
	h.timer = h.clock.AfterFunc(h.interval, func() { tick(seq) })
}

func (h *heartbeat) stop() {
	h.seq++
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

func (h *heartbeat) active(seq uint64) bool {
	return h.timer != nil && seq == h.seq
}
