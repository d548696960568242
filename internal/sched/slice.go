package sched

import "time"

// sliceClass is how long the class may run before other classes get the
// CPUs back.
func (g held) sliceClass() time.Duration {
	return time.Duration(g.grq.nrThreads) * g.slice
}

// sliceEnergy is how long task may run before another task gets its turn.
func (g held) sliceEnergy(task *EnergyTask) time.Duration {
	if task == nil {
		return 0
	}
	return time.Duration(task.nrRunnable) * g.slice
}

// sliceLocal splits the slice of the CPU's task between the threads
// assigned to the CPU. Requires rq's lock.
func (g held) sliceLocal(rq *localRunqueue) time.Duration {
	s := g.sliceEnergy(rq.currTask)
	if rq.nrRunnable == 0 {
		return s
	}
	return s / time.Duration(rq.nrRunnable)
}

// sliceOther is how long everything outside the class may run.
func (g held) sliceOther() time.Duration {
	others := g.host.NrRunning() - g.grq.nrThreads
	if others < 0 {
		others = 0
	}
	return time.Duration(others) * g.slice
}

// since returns now-then, or zero if then is not in the past.
func since(now, then time.Duration) time.Duration {
	if now <= then {
		return 0
	}
	return now - then
}
