package sched

import (
	"sync"
	"sync/atomic"
	"time"

	"energy-sched/internal/cpuset"
	"energy-sched/internal/ring"
)

// globalRunqueue holds every managed task. It is shared by all CPUs.
type globalRunqueue struct {
	mu sync.Mutex

	tasks     ring.Ring[*EnergyTask]
	nrTasks   int
	nrThreads int

	// curr is the task that owns the CPUs while the class runs. At most
	// one task is Running at a time.
	curr *EnergyTask

	running      bool
	startRunning time.Duration
	stopRunning  time.Duration

	switches SwitchCounters
}

// localRunqueue holds the threads assigned to one CPU.
type localRunqueue struct {
	mu sync.Mutex

	cpu    int
	domain cpuset.Set

	threads    ring.Ring[*Thread]
	nrRunnable int
	nrAssigned int
	blocked    bool

	curr *Thread
	idle *Thread

	// currTask is written with both the global and the local lock held, so
	// holding either one is enough to read it.
	currTask *EnergyTask

	resched atomic.Bool
}

// SwitchCounters counts state machine transitions.
type SwitchCounters struct {
	ToEnergy      uint64
	FromEnergy    uint64
	In            uint64
	Distributions uint64
}

// held proves that the global lock is held. It is only ever constructed by
// Core.lockGlobal, so code that needs the global lock takes a held and code
// running under a local lock alone has no way to get one.
type held struct {
	*Core
}

// lockGlobal runs fn with the global lock held.
func (c *Core) lockGlobal(fn func(g held)) {
	c.grq.mu.Lock()
	defer c.grq.mu.Unlock()
	fn(held{c})
}

// local runs fn with rq's lock held, nested inside the global lock. fn must
// not take another local lock.
func (g held) local(rq *localRunqueue, fn func()) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	fn()
}

// lockLocal runs fn with only rq's lock held. fn must not take the global
// lock.
func (c *Core) lockLocal(rq *localRunqueue, fn func()) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	fn()
}
