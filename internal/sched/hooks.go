package sched

import (
	"time"

	"energy-sched/internal/cpuset"

	"github.com/sirupsen/logrus"
)

// Dispatcher is the hook set a host scheduling framework calls. Unless
// noted, cpu is the CPU the hook runs on.
type Dispatcher interface {
	Enqueue(cpu int, t *Thread)
	Dequeue(cpu int, t *Thread)
	Yield(cpu int)
	YieldTo(cpu int, t *Thread, preempt bool) bool
	CheckPreemptCurr(cpu int, t *Thread)
	PickNext(cpu int, prev *Thread) *Thread
	PutPrev(cpu int, t *Thread)
	SetCurr(cpu int, t *Thread)
	Tick(cpu int, t *Thread)
	RRInterval(cpu int, t *Thread) time.Duration
	UpdateCurr(cpu int)
	SelectTaskRQ(t *Thread, cpu int) int

	Fork(t *Thread)
	Dead(t *Thread)
	Migrate(t *Thread, cpu int)
	Waking(t *Thread)
	Woken(cpu int, t *Thread)
	SetCPUsAllowed(t *Thread, allowed cpuset.Set)
	Online(cpu int)
	Offline(cpu int)
}

var _ Dispatcher = (*Core)(nil)

// Enqueue makes t runnable on cpu, creating its task on first sight.
func (c *Core) Enqueue(cpu int, t *Thread) {
	rq := c.rq(cpu)

	c.lockGlobal(func(g held) {
		if !t.QueuedInTask() {
			t.cpu.Store(int32(cpu))
		}

		task := g.findEnergyTask(t.Leader())
		if task == nil {
			task = g.createEnergyTask(t.Leader())
		}

		g.enqueueRunnable(task, t)

		if g.shouldRedistribute(task, t) {
			g.redistribute(rq, task, true)
		}
	})
}

// Dequeue removes t from its CPU and its task. A task left without
// runnable threads that is not running is freed right away.
func (c *Core) Dequeue(cpu int, t *Thread) {
	rq := c.rq(cpu)

	c.lockGlobal(func(g held) {
		task := g.findEnergyTask(t.Leader())
		if task == nil {
			g.logger.WithFields(logrus.Fields{
				"cpu":    cpu,
				"thread": t.ID,
			}).Panic("Dequeue of thread without energy task")
		}

		if t.QueuedOnCPU() {
			trq := g.rq(t.CPU())
			g.local(trq, func() {
				g.dequeueRunning(trq, t)
			})
		}

		g.dequeueRunnable(task, t)

		switch {
		case g.shouldRedistribute(task, t):
			g.redistribute(rq, task, false)
		case task.nrRunnable == 0 && task.state == TaskIdle:
			g.freeEnergyTask(task)
		}
	})
}

// Yield reschedules locally when other threads share the CPU.
func (c *Core) Yield(cpu int) {
	rq := c.rq(cpu)

	var resched bool
	c.lockLocal(rq, func() {
		resched = rq.nrRunnable > 2
	})
	if resched {
		c.reschedLocal(rq)
	}
}

func (c *Core) YieldTo(int, *Thread, bool) bool { return false }

// CheckPreemptCurr never preempts the running thread.
func (c *Core) CheckPreemptCurr(int, *Thread) {}

// PickNext runs the switch state machine for cpu and returns the thread to
// run, or nil if the class has nothing for cpu.
func (c *Core) PickNext(cpu int, prev *Thread) *Thread {
	rq := c.rq(cpu)

	c.lockGlobal(func(g held) {
		if !g.grq.running {
			if g.shouldSwitchTo(rq) {
				g.switchTo(rq, g.pickNextEnergyTask())
			} else if g.shouldCheckCPUs() {
				g.checkCPUs(rq)
			}
			return
		}

		curr := g.grq.curr
		if g.shouldSwitchFrom(rq) {
			g.switchFrom(rq, curr)
		} else if g.shouldSwitchIn(rq) {
			g.switchIn(rq, curr, g.pickNextEnergyTask())
		}
	})

	if rq.resched.Load() {
		c.PutPrev(cpu, prev)
		c.pickNextLocalTask(rq)
	}

	var next *Thread
	c.lockLocal(rq, func() {
		next = rq.curr
	})
	return next
}

// PutPrev stops t from being the running thread of cpu.
func (c *Core) PutPrev(cpu int, t *Thread) {
	rq := c.rq(cpu)
	c.lockLocal(rq, func() {
		c.putLocalTask(rq, t)
	})
}

// SetCurr makes t the running thread of cpu without a pick. A thread of the
// running task is assigned to cpu if it is not assigned anywhere yet and
// cpu belongs to the task's domain.
func (c *Core) SetCurr(cpu int, t *Thread) {
	rq := c.rq(cpu)
	c.lockGlobal(func(g held) {
		task := g.findEnergyTask(t.Leader())
		g.local(rq, func() {
			if task != nil && task.state == TaskRunning && task.domain.Has(cpu) &&
				t.QueuedInTask() && t.CPU() == cpu && !t.QueuedOnCPU() {
				g.enqueueRunning(rq, t)
			}
			g.setLocalTask(rq, t)
		})
	})
}

// Tick charges runtime to t and asks for a reschedule once a slice is used
// up.
func (c *Core) Tick(cpu int, t *Thread) {
	rq := c.rq(cpu)

	c.lockLocal(rq, func() {
		if t == rq.curr {
			c.updateLocalStatistics(rq, t)
		}
	})

	var resched, local bool
	c.lockGlobal(func(g held) {
		resched = g.shouldSwitchIn(rq) || g.shouldSwitchFrom(rq)
		g.local(rq, func() {
			local = g.shouldSwitchLocal(rq)
		})
	})

	if resched {
		c.host.Resched(cpu)
	}
	if local {
		c.reschedLocal(rq)
	}
}

func (c *Core) RRInterval(cpu int, _ *Thread) time.Duration {
	rq := c.rq(cpu)

	var slice time.Duration
	c.lockGlobal(func(g held) {
		g.local(rq, func() {
			slice = g.sliceLocal(rq)
		})
	})
	return slice
}

// UpdateCurr charges runtime to the running thread outside a tick.
func (c *Core) UpdateCurr(cpu int) {
	rq := c.rq(cpu)
	c.lockLocal(rq, func() {
		c.updateLocalStatistics(rq, rq.curr)
	})
}

func (c *Core) SelectTaskRQ(_ *Thread, cpu int) int { return cpu }

func (c *Core) Fork(t *Thread)             { c.ext.Fork(t) }
func (c *Core) Dead(t *Thread)             { c.ext.Dead(t) }
func (c *Core) Migrate(t *Thread, cpu int) { c.ext.Migrate(t, cpu) }
func (c *Core) Waking(t *Thread)           { c.ext.Waking(t) }
func (c *Core) Woken(cpu int, t *Thread)   { c.ext.Woken(cpu, t) }
func (c *Core) Online(cpu int)             { c.ext.Online(cpu) }
func (c *Core) Offline(cpu int)            { c.ext.Offline(cpu) }

// SetCPUsAllowed records the new affinity of t. It takes effect the next
// time t is distributed.
func (c *Core) SetCPUsAllowed(t *Thread, allowed cpuset.Set) {
	c.lockGlobal(func(held) {
		t.allowed = allowed
	})
	c.ext.SetCPUsAllowed(t, allowed)
}
