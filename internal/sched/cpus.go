package sched

// A blocked CPU keeps its assigned threads but hides them from the host's
// runnable count, so other classes see it as idle.

func (g held) acquireCPU(rq *localRunqueue) {
	rq.blocked = false
	g.host.AddNrRunning(rq.cpu, rq.nrAssigned)
}

func (g held) releaseCPU(rq *localRunqueue) {
	rq.blocked = true
	g.host.AddNrRunning(rq.cpu, -rq.nrAssigned)
}

// acquireCPUs unblocks every blocked CPU of rq's domain.
func (g held) acquireCPUs(rq *localRunqueue) {
	rq.domain.Each(func(cpu int) {
		other := g.rqs[cpu]
		g.local(other, func() {
			if other.blocked {
				g.acquireCPU(other)
			}
		})
	})
}

// releaseCPUs blocks every CPU of rq's domain that runs nothing but
// assigned threads.
func (g held) releaseCPUs(rq *localRunqueue) {
	rq.domain.Each(func(cpu int) {
		other := g.rqs[cpu]
		g.local(other, func() {
			if !other.blocked && g.host.CPUNrRunning(cpu) == other.nrAssigned {
				g.releaseCPU(other)
			}
		})
	})
}

// checkCPUs unblocks CPUs that have work again and blocks the ones that
// have nothing but assigned threads.
func (g held) checkCPUs(rq *localRunqueue) {
	rq.domain.Each(func(cpu int) {
		other := g.rqs[cpu]
		g.local(other, func() {
			nrRunning := g.host.CPUNrRunning(cpu)
			switch {
			case other.blocked && nrRunning > 0:
				g.acquireCPU(other)
			case !other.blocked && nrRunning == other.nrAssigned:
				g.releaseCPU(other)
			}
		})
	})
}
