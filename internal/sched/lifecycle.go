package sched

import (
	"github.com/sirupsen/logrus"
)

// findEnergyTask returns the task led by leader, or nil.
func (g held) findEnergyTask(leader *Thread) *EnergyTask {
	var found *EnergyTask
	g.grq.tasks.Each(func(task *EnergyTask) bool {
		if task.leader == leader {
			found = task
			return false
		}
		return true
	})
	return found
}

func (g held) createEnergyTask(leader *Thread) *EnergyTask {
	task := &EnergyTask{leader: leader, state: TaskIdle}
	g.grq.tasks.PushBack(task)
	g.grq.nrTasks++

	g.logger.WithFields(logrus.Fields{
		"task":     leader.ID,
		"nr_tasks": g.grq.nrTasks,
	}).Debug("Energy task created")
	return task
}

func (g held) freeEnergyTask(task *EnergyTask) {
	if task.nrRunnable != 0 {
		g.logger.WithFields(logrus.Fields{
			"task":        task.ID(),
			"nr_runnable": task.nrRunnable,
		}).Panic("Freeing energy task with runnable threads")
	}
	if !g.grq.tasks.Remove(task) {
		g.logger.WithField("task", task.ID()).Panic("Freeing unknown energy task")
	}
	g.grq.nrTasks--

	g.logger.WithFields(logrus.Fields{
		"task":     task.ID(),
		"nr_tasks": g.grq.nrTasks,
	}).Debug("Energy task freed")
}

// incNrRunning accounts a thread assigned to rq. Blocked CPUs keep the
// count to themselves. Requires rq's lock.
func (g held) incNrRunning(rq *localRunqueue) {
	if !rq.blocked {
		g.host.AddNrRunning(rq.cpu, 1)
	}
	rq.nrAssigned++
}

func (g held) decNrRunning(rq *localRunqueue) {
	if !rq.blocked {
		g.host.AddNrRunning(rq.cpu, -1)
	}
	rq.nrAssigned--
}

// enqueueRunnable appends t to the runnable threads of task.
func (g held) enqueueRunnable(task *EnergyTask, t *Thread) {
	if t.QueuedInTask() {
		g.logger.WithFields(logrus.Fields{
			"task":   task.ID(),
			"thread": t.ID,
		}).Panic("Thread already queued in energy task")
	}

	task.runnable.PushBack(t)
	task.nrRunnable++
	t.set(flagQueuedTask)

	g.grq.nrThreads++

	rq := g.rq(t.CPU())
	g.local(rq, func() {
		g.incNrRunning(rq)
	})
}

func (g held) dequeueRunnable(task *EnergyTask, t *Thread) {
	if !t.QueuedInTask() {
		g.logger.WithFields(logrus.Fields{
			"task":   task.ID(),
			"thread": t.ID,
		}).Panic("Thread not queued in energy task")
	}

	task.runnable.Remove(t)
	task.nrRunnable--
	t.clear(flagQueuedTask)

	g.grq.nrThreads--

	rq := g.rq(t.CPU())
	g.local(rq, func() {
		g.decNrRunning(rq)
	})
}

// enqueueRunning assigns t to rq. Requires rq's lock.
func (c *Core) enqueueRunning(rq *localRunqueue, t *Thread) {
	if t.QueuedOnCPU() {
		c.logger.WithFields(logrus.Fields{
			"cpu":    rq.cpu,
			"thread": t.ID,
		}).Panic("Thread already queued on CPU")
	}

	rq.threads.PushBack(t)
	rq.nrRunnable++
	t.set(flagQueuedCPU)
}

// dequeueRunning removes t from rq. Requires rq's lock.
func (c *Core) dequeueRunning(rq *localRunqueue, t *Thread) {
	if !t.QueuedOnCPU() || !rq.threads.Remove(t) {
		c.logger.WithFields(logrus.Fields{
			"cpu":    rq.cpu,
			"thread": t.ID,
		}).Panic("Thread not queued on CPU")
	}

	rq.nrRunnable--
	t.clear(flagQueuedCPU)
}
