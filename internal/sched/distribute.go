package sched

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"
)

// distributeEnergyTask marks task running on rq's domain and spreads its
// threads over the domain.
func (g held) distributeEnergyTask(rq *localRunqueue, task *EnergyTask) {
	task.state = TaskRunning
	task.startRunning = g.host.Clock(rq.cpu)
	task.domain = rq.domain
	g.grq.curr = task

	g.distribute(task)
}

// distribute assigns every runnable thread of task that has no CPU yet to
// the least loaded CPU it may run on, then makes every CPU of the domain
// pick again. Ties keep the thread where it is.
func (g held) distribute(task *EnergyTask) {
	task.runnable.Each(func(t *Thread) bool {
		if t.QueuedOnCPU() {
			return true
		}

		candidates := task.domain.And(t.allowed)
		best := g.rq(t.CPU())
		minLoad := g.load(best)
		if !candidates.Has(best.cpu) {
			minLoad = math.MaxInt
		}
		candidates.Each(func(cpu int) {
			if cpu >= len(g.rqs) {
				return
			}
			if load := g.load(g.rqs[cpu]); load < minLoad {
				minLoad = load
				best = g.rqs[cpu]
			}
		})

		g.distributeLocalTask(best, t)
		return true
	})

	task.domain.Each(func(cpu int) {
		rq := g.rqs[cpu]
		g.local(rq, func() {
			rq.currTask = task
		})
		g.reschedLocal(rq)
	})

	g.grq.switches.Distributions++
	g.logger.WithFields(logrus.Fields{
		"task":        task.ID(),
		"nr_runnable": task.nrRunnable,
		"domain":      task.domain.String(),
	}).Debug("Energy task distributed")
}

func (g held) load(rq *localRunqueue) int {
	var n int
	g.local(rq, func() { n = rq.nrRunnable })
	return n
}

func (g held) distributeLocalTask(rq *localRunqueue, t *Thread) {
	rq.resched.Store(false)

	g.moveLocalTask(t, rq)

	g.local(rq, func() {
		g.enqueueRunning(rq, t)
	})
}

// moveLocalTask reassigns t to rq, moving its runnable count along.
func (g held) moveLocalTask(t *Thread, to *localRunqueue) {
	from := g.rq(t.CPU())
	if from == to {
		return
	}

	g.local(from, func() {
		g.decNrRunning(from)
	})
	t.cpu.Store(int32(to.cpu))
	g.local(to, func() {
		g.incNrRunning(to)
	})
}

// redistribute reacts to a thread of task arriving or leaving while task
// runs or the thread itself runs.
func (g held) redistribute(rq *localRunqueue, task *EnergyTask, arrived bool) {
	if arrived {
		if !g.grq.running {
			g.switchToClass(rq)
		}
		if task.state != TaskRunning {
			g.switchIn(rq, g.grq.curr, task)
		} else {
			g.distribute(task)
		}
		return
	}

	if task.nrRunnable != 0 {
		if task.state == TaskRunning {
			g.distribute(task)
		}
		return
	}

	g.putEnergyTask(task)
	if g.grq.nrTasks == 0 {
		g.switchFromClass(rq)
	}
}

// putEnergyTask charges task for the energy used since the last update and
// takes its threads off the CPUs. The task is freed if it has no runnable
// threads left.
func (g held) putEnergyTask(task *EnergyTask) {
	if g.accountant != nil {
		if err := g.accountant.Update(context.Background(), &task.leader.energy); err != nil {
			g.logger.WithField("task", task.ID()).WithError(err).Warn("Skipping energy accounting cycle")
		}
	}

	g.clearEnergyTask(task)

	task.state = TaskIdle
	task.domain.Clear()
	if g.grq.curr == task {
		g.grq.curr = nil
	}

	if task.nrRunnable == 0 {
		g.freeEnergyTask(task)
	}
}

func (g held) clearEnergyTask(task *EnergyTask) {
	task.domain.Each(func(cpu int) {
		g.clearLocalTasks(g.rqs[cpu])
	})
}

// clearLocalTasks drops every assignment of rq and forces it to pick again.
func (g held) clearLocalTasks(rq *localRunqueue) {
	g.local(rq, func() {
		for rq.threads.Len() > 0 {
			t, _ := rq.threads.Front()
			g.dequeueRunning(rq, t)
		}
		rq.nrRunnable = 0

		if curr := rq.curr; curr != nil {
			g.updateLocalStatistics(rq, curr)
			curr.clear(flagRunning)
		}
		rq.curr = nil
		rq.currTask = nil

		rq.resched.Store(false)
	})

	g.host.Resched(rq.cpu)
}

// switchToClass makes the class active and takes back the CPUs of rq's
// domain.
func (g held) switchToClass(rq *localRunqueue) {
	g.grq.running = true
	g.grq.startRunning = g.host.Clock(rq.cpu)
	g.grq.switches.ToEnergy++

	g.acquireCPUs(rq)

	g.logger.WithFields(logrus.Fields{
		"cpu":        rq.cpu,
		"nr_threads": g.grq.nrThreads,
	}).Debug("Switched to energy class")
}

// switchFromClass hands the idle CPUs of rq's domain back to other classes.
func (g held) switchFromClass(rq *localRunqueue) {
	g.releaseCPUs(rq)

	g.grq.running = false
	g.grq.stopRunning = g.host.Clock(rq.cpu)
	g.grq.switches.FromEnergy++

	g.logger.WithFields(logrus.Fields{
		"cpu":        rq.cpu,
		"nr_threads": g.grq.nrThreads,
	}).Debug("Switched from energy class")
}

func (g held) switchTo(rq *localRunqueue, to *EnergyTask) {
	if to == nil {
		return
	}
	if from := g.grq.curr; from != nil {
		g.putEnergyTask(from)
	}
	g.switchToClass(rq)
	g.distributeEnergyTask(rq, to)
}

func (g held) switchFrom(rq *localRunqueue, from *EnergyTask) {
	if from != nil {
		g.putEnergyTask(from)
	}
	g.switchFromClass(rq)
}

func (g held) switchIn(rq *localRunqueue, from, to *EnergyTask) {
	if from != nil {
		g.putEnergyTask(from)
	}
	if to != nil {
		g.distributeEnergyTask(rq, to)
	}
	g.grq.switches.In++
}

// reschedLocal makes the next PickNext on rq select a thread again.
func (c *Core) reschedLocal(rq *localRunqueue) {
	rq.resched.Store(true)
	c.host.Resched(rq.cpu)
}
