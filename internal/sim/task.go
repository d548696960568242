package sim

import (
	"sync/atomic"
	"time"

	"energy-sched/internal/cpuset"
	"energy-sched/internal/sched"
)

// TaskSpec describes one workload of a simulation.
type TaskSpec struct {
	Name string

	// PID of the group leader. Zero picks one.
	PID int

	Threads int

	// Work is the CPU time each thread needs before it exits.
	Work time.Duration

	Arrival time.Duration

	// Managed tasks are moved into the energy policy when they arrive.
	Managed bool

	// Allowed restricts the CPUs the threads may run on. Empty means all.
	Allowed cpuset.Set
}

type task struct {
	spec    TaskSpec
	pid     int
	threads []*thread

	arrived   bool
	remaining atomic.Int32
	completed atomic.Int64
}

func (t *task) leader() *sched.Thread { return t.threads[0].sched }

func (t *task) done() bool { return t.arrived && t.remaining.Load() == 0 }

// thread is a simulated thread. Only the CPU currently running it changes
// its progress, but two CPUs may briefly see it as current while the core
// moves it, hence the atomics.
type thread struct {
	task  *task
	sched *sched.Thread

	// home is the CPU the thread queues on in the other class.
	home int

	energyClass bool

	remaining atomic.Int64
	executed  atomic.Int64
	finished  atomic.Bool
}

// run charges d of execution and reports whether this call finished the
// thread.
func (t *thread) run(d time.Duration) bool {
	if t.finished.Load() {
		return false
	}
	t.executed.Add(int64(d))
	if t.remaining.Add(-int64(d)) > 0 {
		return false
	}
	return t.finished.CompareAndSwap(false, true)
}

// otherQueue is the round robin queue of one CPU for threads outside the
// energy class.
type otherQueue struct {
	threads []*thread
	next    int
}

func (q *otherQueue) push(t *thread) { q.threads = append(q.threads, t) }

func (q *otherQueue) remove(t *thread) bool {
	for i, o := range q.threads {
		if o == t {
			q.threads = append(q.threads[:i], q.threads[i+1:]...)
			if q.next > i {
				q.next--
			}
			return true
		}
	}
	return false
}

// pick returns the next thread in round robin order.
func (q *otherQueue) pick() *thread {
	if len(q.threads) == 0 {
		return nil
	}
	if q.next >= len(q.threads) {
		q.next = 0
	}
	t := q.threads[q.next]
	q.next++
	return t
}
