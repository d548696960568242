package sched

import (
	"sync/atomic"
	"time"

	"energy-sched/internal/cpuset"
	"energy-sched/internal/energy"
)

const (
	flagQueuedTask uint32 = 1 << iota
	flagQueuedCPU
	flagRunning
)

// Thread is a host thread as seen by the scheduler. The host owns its
// lifetime; the scheduler only attaches state to it.
type Thread struct {
	ID int

	leader *Thread
	idle   bool

	// allowed is written under the global lock.
	allowed cpuset.Set

	flags atomic.Uint32
	cpu   atomic.Int32

	// Runtime statistics are written under the local lock of the CPU
	// running the thread. They are atomic because a handle may outlive the
	// assignment on a CPU that has not picked again yet.
	sumExec     atomic.Int64
	prevSumExec atomic.Int64
	execStart   atomic.Int64
	execMax     atomic.Int64

	// energy is only meaningful on group leaders and is written under the
	// global lock.
	energy energy.Statistics
}

// NewThread creates a thread belonging to leader's group. A nil leader makes
// the thread its own group leader. An empty allowed set allows every CPU.
func NewThread(id int, leader *Thread, allowed cpuset.Set) *Thread {
	if allowed.IsEmpty() {
		allowed = cpuset.All(cpuset.MaxCPUs)
	}
	return &Thread{ID: id, leader: leader, allowed: allowed}
}

func newIdleThread(cpu int) *Thread {
	t := &Thread{ID: -(cpu + 1), idle: true, allowed: cpuset.New(cpu)}
	t.cpu.Store(int32(cpu))
	return t
}

// Leader returns the group leader identifying the thread's task.
func (t *Thread) Leader() *Thread {
	if t.leader == nil {
		return t
	}
	return t.leader
}

// CPU returns the CPU the thread is currently assigned to.
func (t *Thread) CPU() int { return int(t.cpu.Load()) }

func (t *Thread) IsIdle() bool { return t.idle }

// SumExecRuntime is the total time the thread has executed.
func (t *Thread) SumExecRuntime() time.Duration { return time.Duration(t.sumExec.Load()) }

// ExecMax is the longest single stretch the thread has executed.
func (t *Thread) ExecMax() time.Duration { return time.Duration(t.execMax.Load()) }

func (t *Thread) QueuedInTask() bool { return t.has(flagQueuedTask) }
func (t *Thread) QueuedOnCPU() bool  { return t.has(flagQueuedCPU) }
func (t *Thread) Running() bool      { return t.has(flagRunning) }

func (t *Thread) has(flag uint32) bool { return t.flags.Load()&flag != 0 }
func (t *Thread) set(flag uint32) {
	for {
		old := t.flags.Load()
		if t.flags.CompareAndSwap(old, old|flag) {
			return
		}
	}
}

func (t *Thread) clear(flag uint32) {
	for {
		old := t.flags.Load()
		if t.flags.CompareAndSwap(old, old&^flag) {
			return
		}
	}
}
