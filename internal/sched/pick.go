package sched

import "time"

// pickNextEnergyTask rotates the task list and returns the first idle task
// with runnable threads, or nil after a full round.
func (g held) pickNextEnergyTask() *EnergyTask {
	for i, n := 0, g.grq.tasks.Len(); i < n; i++ {
		task, _ := g.grq.tasks.Front()
		g.grq.tasks.RotateLeft()

		if task.state == TaskIdle && task.nrRunnable != 0 {
			return task
		}
	}
	return nil
}

// pickNextLocalTask makes the head of rq's threads current and rotates it
// to the tail. Without assigned threads the idle thread runs.
func (c *Core) pickNextLocalTask(rq *localRunqueue) *Thread {
	rq.resched.Store(false)

	var next *Thread
	c.lockLocal(rq, func() {
		if t, ok := rq.threads.Front(); ok {
			next = t
			rq.threads.RotateLeft()
		} else {
			next = rq.idle
		}
		c.setLocalTask(rq, next)
	})
	return next
}

// setLocalTask requires rq's lock.
func (c *Core) setLocalTask(rq *localRunqueue, t *Thread) {
	t.set(flagRunning)
	rq.curr = t

	t.execStart.Store(int64(c.host.Clock(rq.cpu)))
	t.prevSumExec.Store(t.sumExec.Load())
}

// putLocalTask requires rq's lock. A t that is no longer rq's current
// thread was already put when the CPU was cleared.
func (c *Core) putLocalTask(rq *localRunqueue, t *Thread) {
	if t != nil && t == rq.curr {
		c.updateLocalStatistics(rq, t)
		t.clear(flagRunning)
	}
	rq.curr = nil
}

// updateLocalStatistics charges the time since t last started executing.
// Requires rq's lock.
func (c *Core) updateLocalStatistics(rq *localRunqueue, t *Thread) {
	if t == nil {
		return
	}

	now := c.host.Clock(rq.cpu)
	delta := now - time.Duration(t.execStart.Load())
	if delta <= 0 {
		return
	}
	t.execStart.Store(int64(now))

	if int64(delta) > t.execMax.Load() {
		t.execMax.Store(int64(delta))
	}
	t.sumExec.Add(int64(delta))
}
