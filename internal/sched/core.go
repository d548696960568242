// Package sched implements a two-level scheduler that runs the threads of
// one managed task at a time across a CPU domain and charges the energy
// consumed in that time to the task.
//
// Every hook takes the global lock before any local lock. Local locks are
// taken one at a time.
package sched

import (
	"context"
	"fmt"
	"time"

	"energy-sched/internal/cpuset"
	"energy-sched/internal/energy"
	"energy-sched/internal/logging"

	"github.com/sirupsen/logrus"
)

// DefaultThreadSlice is the time each runnable thread contributes to the
// slices of its task and of the class.
const DefaultThreadSlice = 10 * time.Millisecond

// Host is the scheduling framework driving the core. Its methods are called
// with scheduler locks held and must not call back into the core.
type Host interface {
	// Clock returns the current time as seen by cpu.
	Clock(cpu int) time.Duration

	// NrRunning returns the number of runnable threads on the whole host.
	NrRunning() int

	// CPUNrRunning returns the number of runnable threads on cpu.
	CPUNrRunning(cpu int) int

	// AddNrRunning adjusts the runnable count of cpu.
	AddNrRunning(cpu int, delta int)

	// Resched asks cpu to call PickNext soon.
	Resched(cpu int)
}

// Accountant charges energy to a task when it stops running.
type Accountant interface {
	Update(ctx context.Context, stats *energy.Statistics) error
}

type Options struct {
	NumCPUs     int
	ThreadSlice time.Duration

	// Domain restricts the CPUs managed tasks are spread across. Empty means
	// all CPUs.
	Domain cpuset.Set

	// Accountant may be nil, in which case no energy is charged.
	Accountant Accountant

	Extensions Extensions
	Logger     logrus.FieldLogger
}

// Core owns the global runqueue and one local runqueue per CPU.
type Core struct {
	host       Host
	slice      time.Duration
	accountant Accountant
	ext        Extensions
	logger     logrus.FieldLogger

	grq globalRunqueue
	rqs []*localRunqueue
}

func New(host Host, opts Options) (*Core, error) {
	if host == nil {
		return nil, fmt.Errorf("scheduler host is nil")
	}
	if opts.NumCPUs <= 0 || opts.NumCPUs > cpuset.MaxCPUs {
		return nil, fmt.Errorf("invalid number of CPUs: %d", opts.NumCPUs)
	}
	if opts.ThreadSlice <= 0 {
		opts.ThreadSlice = DefaultThreadSlice
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetSchedulerLogger()
	}
	if opts.Extensions == nil {
		opts.Extensions = NopExtensions{}
	}

	all := cpuset.All(opts.NumCPUs)
	domain := opts.Domain
	if domain.IsEmpty() {
		domain = all
	}
	if !domain.And(all).Equal(domain) {
		return nil, fmt.Errorf("domain %s exceeds %d CPUs", domain, opts.NumCPUs)
	}

	c := &Core{
		host:       host,
		slice:      opts.ThreadSlice,
		accountant: opts.Accountant,
		ext:        opts.Extensions,
		logger:     opts.Logger,
		rqs:        make([]*localRunqueue, opts.NumCPUs),
	}
	for cpu := range c.rqs {
		c.rqs[cpu] = &localRunqueue{
			cpu:    cpu,
			domain: domain,
			idle:   newIdleThread(cpu),
		}
	}

	c.logger.WithFields(logrus.Fields{
		"cpus":         opts.NumCPUs,
		"domain":       domain.String(),
		"thread_slice": opts.ThreadSlice,
	}).Info("Scheduler core initialized")

	return c, nil
}

func (c *Core) NumCPUs() int { return len(c.rqs) }

func (c *Core) ThreadSlice() time.Duration { return c.slice }

// IdleThread returns the thread PickNext hands out when cpu has nothing
// assigned.
func (c *Core) IdleThread(cpu int) *Thread { return c.rq(cpu).idle }

func (c *Core) rq(cpu int) *localRunqueue {
	if cpu < 0 || cpu >= len(c.rqs) {
		c.logger.WithField("cpu", cpu).Panic("CPU out of range")
	}
	return c.rqs[cpu]
}

// ReadStatistics returns the energy charged so far to the task led by leader.
func (c *Core) ReadStatistics(leader *Thread) energy.Statistics {
	var stats energy.Statistics
	c.lockGlobal(func(held) {
		stats = leader.Leader().energy
	})
	return stats
}

type TaskSnapshot struct {
	ID         int
	State      TaskState
	NrRunnable int
	Domain     cpuset.Set
	Energy     energy.Statistics
}

type CPUSnapshot struct {
	CPU        int
	NrRunnable int
	NrAssigned int
	Blocked    bool

	// Curr is the id of the running thread, 0 when none.
	Curr int
	// CurrTask is the id of the task the CPU runs, 0 when none.
	CurrTask int
}

type Snapshot struct {
	Running   bool
	NrTasks   int
	NrThreads int
	Switches  SwitchCounters
	Tasks     []TaskSnapshot
	CPUs      []CPUSnapshot
}

// Snapshot returns a consistent copy of the runqueue state.
func (c *Core) Snapshot() Snapshot {
	var s Snapshot
	c.lockGlobal(func(g held) {
		s.Running = g.grq.running
		s.NrTasks = g.grq.nrTasks
		s.NrThreads = g.grq.nrThreads
		s.Switches = g.grq.switches

		g.grq.tasks.Each(func(task *EnergyTask) bool {
			s.Tasks = append(s.Tasks, TaskSnapshot{
				ID:         task.ID(),
				State:      task.state,
				NrRunnable: task.nrRunnable,
				Domain:     task.domain,
				Energy:     task.leader.energy,
			})
			return true
		})

		for _, rq := range g.rqs {
			g.local(rq, func() {
				cs := CPUSnapshot{
					CPU:        rq.cpu,
					NrRunnable: rq.nrRunnable,
					NrAssigned: rq.nrAssigned,
					Blocked:    rq.blocked,
				}
				if rq.curr != nil {
					cs.Curr = rq.curr.ID
				}
				if rq.currTask != nil {
					cs.CurrTask = rq.currTask.ID()
				}
				s.CPUs = append(s.CPUs, cs)
			})
		}
	})
	return s
}
