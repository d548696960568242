package sim

import (
	"sync/atomic"
	"time"
)

// host is the scheduling framework the core sees: a virtual clock shared
// by every CPU, runnable counts split by class, and reschedule requests.
type host struct {
	now atomic.Int64

	// energy is what the core adds through AddNrRunning; other counts the
	// runnable threads of every other class.
	energy []atomic.Int64
	other  []atomic.Int64

	resched []atomic.Bool
}

func newHost(cpus int) *host {
	return &host{
		energy:  make([]atomic.Int64, cpus),
		other:   make([]atomic.Int64, cpus),
		resched: make([]atomic.Bool, cpus),
	}
}

func (h *host) Clock(int) time.Duration { return time.Duration(h.now.Load()) }

func (h *host) setClock(now time.Duration) { h.now.Store(int64(now)) }

func (h *host) NrRunning() int {
	var n int64
	for cpu := range h.energy {
		n += h.energy[cpu].Load() + h.other[cpu].Load()
	}
	return int(n)
}

func (h *host) CPUNrRunning(cpu int) int {
	return int(h.energy[cpu].Load() + h.other[cpu].Load())
}

func (h *host) AddNrRunning(cpu int, delta int) {
	h.energy[cpu].Add(int64(delta))
}

func (h *host) addOther(cpu int, delta int) {
	h.other[cpu].Add(int64(delta))
}

func (h *host) Resched(cpu int) {
	h.resched[cpu].Store(true)
}

func (h *host) takeResched(cpu int) bool {
	return h.resched[cpu].Swap(false)
}
