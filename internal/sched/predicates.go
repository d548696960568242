package sched

import "time"

// shouldSwitchTo reports whether the class should take over the CPUs again.
func (g held) shouldSwitchTo(rq *localRunqueue) bool {
	nrThreads := g.grq.nrThreads
	if nrThreads == 0 {
		return false
	}

	nrRunning := g.host.NrRunning()
	if nrRunning == nrThreads {
		return true
	}

	var assigned int
	g.local(rq, func() { assigned = rq.nrAssigned })
	if nrRunning == assigned || nrRunning == 0 {
		return true
	}

	notRunning := since(g.host.Clock(rq.cpu), g.grq.stopRunning)
	return notRunning > g.sliceOther()
}

func (g held) shouldCheckCPUs() bool {
	return g.grq.nrTasks != 0
}

// shouldSwitchFrom reports whether the class should hand the CPUs back.
func (g held) shouldSwitchFrom(rq *localRunqueue) bool {
	if g.grq.nrThreads == 0 {
		return true
	}
	if g.host.NrRunning() == g.grq.nrThreads {
		return false
	}

	running := since(g.host.Clock(rq.cpu), g.grq.startRunning)
	return running > g.sliceClass()
}

// shouldSwitchIn reports whether another task should replace the running
// one. While the class is active without a running task any waiting task
// starts, even the only one left.
func (g held) shouldSwitchIn(rq *localRunqueue) bool {
	task := g.grq.curr
	if task == nil && g.grq.running && g.grq.nrTasks != 0 {
		return true
	}
	if g.grq.nrTasks <= 1 {
		return false
	}
	if task == nil {
		return true
	}

	running := since(g.host.Clock(rq.cpu), task.startRunning)
	return running > g.sliceEnergy(task)
}

// shouldSwitchLocal reports whether another thread assigned to rq should
// run. Requires rq's lock.
func (g held) shouldSwitchLocal(rq *localRunqueue) bool {
	if rq.nrRunnable <= 1 {
		return false
	}
	curr := rq.curr
	if curr == nil {
		return true
	}

	executed := time.Duration(curr.sumExec.Load() - curr.prevSumExec.Load())
	return executed > g.sliceLocal(rq)
}

func (g held) shouldRedistribute(task *EnergyTask, t *Thread) bool {
	return task.state == TaskRunning || t.Running()
}
