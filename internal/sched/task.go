package sched

import (
	"time"

	"energy-sched/internal/cpuset"
	"energy-sched/internal/ring"
)

type TaskState int

const (
	TaskIdle TaskState = iota
	TaskRunning
)

func (s TaskState) String() string {
	if s == TaskRunning {
		return "running"
	}
	return "idle"
}

// EnergyTask groups the runnable threads of one thread group. All fields are
// guarded by the global lock.
type EnergyTask struct {
	leader *Thread
	state  TaskState

	// domain holds the CPUs the task was distributed over while running.
	domain cpuset.Set

	runnable   ring.Ring[*Thread]
	nrRunnable int

	startRunning time.Duration
}

// ID is the thread id of the group leader.
func (e *EnergyTask) ID() int { return e.leader.ID }
