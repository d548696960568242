// Package sim drives the scheduler core with a deterministic multi-CPU
// host. Every CPU runs in its own goroutine for each tick, so the core sees
// truly concurrent hook calls while the virtual clock stays reproducible.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"energy-sched/internal/admin"
	"energy-sched/internal/cpuset"
	"energy-sched/internal/energy"
	"energy-sched/internal/logging"
	"energy-sched/internal/sched"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTick    = time.Millisecond
	DefaultMaxTime = 10 * time.Second

	// firstPID is where automatically assigned pids start.
	firstPID = 1000
	selfPID  = 1
)

type Options struct {
	CPUs    int
	Tick    time.Duration
	MaxTime time.Duration

	// OtherLoad is the number of threads of other classes that stay
	// runnable on every CPU for the whole run.
	OtherLoad int

	ThreadSlice time.Duration
	Domain      cpuset.Set

	Tasks []TaskSpec

	// Meter configures the simulated energy meter. Its clock is replaced by
	// the simulation clock. Without any power the package draws 10 W.
	Meter              energy.SimulatedOptions
	IntervalIterations int
	LoopIterations     int

	EnergyPolicy int
	NormalPolicy int

	// Observer is called from the driver every ObserveEvery ticks.
	Observer     func(now time.Duration, s sched.Snapshot)
	ObserveEvery int

	Logger          logrus.FieldLogger
	SchedulerLogger logrus.FieldLogger
}

type cpu struct {
	id int

	// curr is what the core handed out on the last pick; nil while another
	// class owns the CPU.
	curr *sched.Thread
	// ran is the thread of another class that ran since the last step.
	ran   *thread
	other otherQueue
}

// Simulator is the host of one scheduler core. It is also the process
// table and policy setter of its admin.Manager, so managed tasks join the
// energy class the same way they would on a real kernel.
type Simulator struct {
	opts   Options
	logger logrus.FieldLogger

	host       *host
	core       *sched.Core
	meter      *energy.SimulatedMeter
	accountant *energy.Accountant
	manager    *admin.Manager
	lifecycle  *lifecycle

	tasks []*task
	byTID map[int]*thread
	cpus  []*cpu
}

var (
	_ admin.ProcessTable = (*Simulator)(nil)
	_ admin.PolicySetter = (*Simulator)(nil)
)

// lifecycle counts the thread hooks the core forwards.
type lifecycle struct {
	sched.NopExtensions
	forks atomic.Uint64
	exits atomic.Uint64
}

func (l *lifecycle) Fork(*sched.Thread) { l.forks.Add(1) }
func (l *lifecycle) Dead(*sched.Thread) { l.exits.Add(1) }

// New builds the simulated host, calibrates its meter and creates the core.
func New(ctx context.Context, opts Options) (*Simulator, error) {
	if err := applyDefaults(&opts); err != nil {
		return nil, err
	}

	s := &Simulator{
		opts:      opts,
		logger:    opts.Logger,
		host:      newHost(opts.CPUs),
		lifecycle: &lifecycle{},
		byTID:     make(map[int]*thread),
		cpus:      make([]*cpu, opts.CPUs),
	}
	for i := range s.cpus {
		s.cpus[i] = &cpu{id: i}
		s.host.addOther(i, opts.OtherLoad)
	}
	if err := s.buildTasks(); err != nil {
		return nil, err
	}

	meterOpts := opts.Meter
	meterOpts.Clock = func() time.Duration { return s.host.Clock(0) }
	s.meter = energy.NewSimulatedMeter(meterOpts)

	cal, err := energy.Calibrate(ctx, s.meter, opts.IntervalIterations, opts.LoopIterations)
	if err != nil {
		return nil, fmt.Errorf("calibrate simulated meter: %w", err)
	}
	s.accountant, err = energy.NewAccountant(ctx, s.meter, cal, s.logger)
	if err != nil {
		return nil, err
	}

	s.core, err = sched.New(s.host, sched.Options{
		NumCPUs:     opts.CPUs,
		ThreadSlice: opts.ThreadSlice,
		Domain:      opts.Domain,
		Accountant:  s.accountant,
		Extensions:  s.lifecycle,
		Logger:      opts.SchedulerLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("create scheduler core: %w", err)
	}

	s.manager = admin.NewManager(s, s,
		admin.WithPolicies(opts.EnergyPolicy, opts.NormalPolicy),
		admin.WithLogger(s.logger))

	return s, nil
}

func applyDefaults(opts *Options) error {
	if opts.CPUs <= 0 || opts.CPUs > cpuset.MaxCPUs {
		return fmt.Errorf("invalid number of CPUs: %d", opts.CPUs)
	}
	if opts.OtherLoad < 0 {
		return fmt.Errorf("negative other load: %d", opts.OtherLoad)
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.MaxTime <= 0 {
		opts.MaxTime = DefaultMaxTime
	}
	if opts.IntervalIterations <= 0 {
		opts.IntervalIterations = energy.DefaultIntervalIterations
	}
	if opts.LoopIterations <= 0 {
		opts.LoopIterations = energy.DefaultLoopIterations
	}
	if opts.EnergyPolicy == 0 && opts.NormalPolicy == 0 {
		opts.EnergyPolicy = admin.DefaultEnergyPolicy
		opts.NormalPolicy = admin.DefaultNormalPolicy
	}
	if opts.EnergyPolicy == opts.NormalPolicy {
		return fmt.Errorf("energy and normal policy are both %d", opts.EnergyPolicy)
	}
	if opts.Meter.Watts == [energy.NumDomains]float64{} {
		opts.Meter.Watts[energy.Package] = 10
	}
	if opts.Observer != nil && opts.ObserveEvery <= 0 {
		opts.ObserveEvery = 100
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("sim")
	}
	if opts.SchedulerLogger == nil {
		opts.SchedulerLogger = logging.GetSchedulerLogger()
	}
	return nil
}

func (s *Simulator) buildTasks() error {
	all := cpuset.All(s.opts.CPUs)
	names := make(map[string]bool)
	nextPID := firstPID

	for _, spec := range s.opts.Tasks {
		switch {
		case spec.Name == "":
			return fmt.Errorf("task without name")
		case names[spec.Name]:
			return fmt.Errorf("duplicate task %s", spec.Name)
		case spec.Threads <= 0:
			return fmt.Errorf("task %s: threads must be positive", spec.Name)
		case spec.Work <= 0:
			return fmt.Errorf("task %s: work must be positive", spec.Name)
		case spec.Arrival < 0:
			return fmt.Errorf("task %s: negative arrival", spec.Name)
		case spec.PID < 0 || spec.PID == selfPID:
			return fmt.Errorf("task %s: invalid pid %d", spec.Name, spec.PID)
		}
		names[spec.Name] = true

		homes := all
		if !spec.Allowed.IsEmpty() {
			homes = spec.Allowed.And(all)
		}
		if homes.IsEmpty() {
			return fmt.Errorf("task %s: allowed CPUs %s outside 0-%d", spec.Name, spec.Allowed, s.opts.CPUs-1)
		}

		pid := spec.PID
		if pid == 0 {
			for s.pidRangeUsed(nextPID, spec.Threads) {
				nextPID += 100
			}
			pid = nextPID
			nextPID += ((spec.Threads / 100) + 1) * 100
		} else if s.pidRangeUsed(pid, spec.Threads) {
			return fmt.Errorf("task %s: pid %d overlaps another task", spec.Name, pid)
		}

		tk := &task{spec: spec, pid: pid}
		tk.remaining.Store(int32(spec.Threads))

		cpus := homes.CPUs()
		var leader *sched.Thread
		for i := 0; i < spec.Threads; i++ {
			tid := pid + i
			st := sched.NewThread(tid, leader, spec.Allowed)
			if leader == nil {
				leader = st
			}
			th := &thread{task: tk, sched: st, home: cpus[i%len(cpus)]}
			th.remaining.Store(int64(spec.Work))
			tk.threads = append(tk.threads, th)
			s.byTID[tid] = th
		}
		s.tasks = append(s.tasks, tk)
	}
	return nil
}

func (s *Simulator) pidRangeUsed(pid, n int) bool {
	for tid := pid; tid < pid+n; tid++ {
		if _, ok := s.byTID[tid]; ok {
			return true
		}
	}
	return false
}

// Core exposes the scheduler core being driven.
func (s *Simulator) Core() *sched.Core { return s.core }

func (s *Simulator) Calibration() energy.Calibration { return s.accountant.Calibration() }

// Run advances the clock tick by tick until every task exited or MaxTime
// passed.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	var (
		now       time.Duration
		ticks     int
		truncated bool
	)

	s.logger.WithFields(logrus.Fields{
		"cpus":  s.opts.CPUs,
		"tasks": len(s.tasks),
		"tick":  s.opts.Tick,
	}).Info("Starting simulation")

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.host.setClock(now)
		if err := s.arrive(now); err != nil {
			return nil, err
		}
		s.stepAll()
		ticks++

		if s.opts.Observer != nil && ticks%s.opts.ObserveEvery == 0 {
			s.opts.Observer(now, s.core.Snapshot())
		}
		if s.allDone() {
			break
		}

		now += s.opts.Tick
		if now > s.opts.MaxTime {
			now = s.opts.MaxTime
			truncated = true
			break
		}
	}

	res := s.result(now, ticks, truncated)
	s.logger.WithFields(logrus.Fields{
		"elapsed":   res.Elapsed,
		"ticks":     res.Ticks,
		"truncated": res.Truncated,
	}).Info("Simulation finished")
	return res, nil
}

// arrive starts every task whose arrival time has come. Threads start in
// another class; managed tasks are then moved through the admin manager.
func (s *Simulator) arrive(now time.Duration) error {
	for _, tk := range s.tasks {
		if tk.arrived || tk.spec.Arrival > now {
			continue
		}
		tk.arrived = true

		for _, th := range tk.threads {
			s.core.Fork(th.sched)
			s.cpus[th.home].other.push(th)
			s.host.addOther(th.home, 1)
		}

		if tk.spec.Managed {
			if err := s.manager.Start(tk.pid); err != nil {
				return fmt.Errorf("manage task %s: %w", tk.spec.Name, err)
			}
		}

		s.logger.WithFields(logrus.Fields{
			"task":    tk.spec.Name,
			"pid":     tk.pid,
			"threads": len(tk.threads),
			"managed": tk.spec.Managed,
		}).Debug("Task arrived")
	}
	return nil
}

func (s *Simulator) stepAll() {
	var wg sync.WaitGroup
	for _, c := range s.cpus {
		wg.Add(1)
		go func(c *cpu) {
			defer wg.Done()
			s.step(c)
		}(c)
	}
	wg.Wait()
}

// step charges the tick that just ended to whatever ran on c, then picks
// again if anything asked for it.
func (s *Simulator) step(c *cpu) {
	tick := s.opts.Tick

	if c.curr != nil {
		s.core.Tick(c.id, c.curr)
		// A thread the core moved away meanwhile makes progress on its new
		// CPU only.
		if th := s.byTID[c.curr.ID]; th != nil && th.sched.CPU() == c.id && th.run(tick) {
			s.exit(c, th)
		}
	}
	if th := c.ran; th != nil && th.run(tick) {
		s.exit(c, th)
	}
	c.ran = nil

	resched := s.host.takeResched(c.id)
	if resched || c.curr == nil {
		c.curr = s.core.PickNext(c.id, c.curr)
	}
	if c.curr == nil {
		c.ran = c.other.pick()
	}
}

func (s *Simulator) exit(c *cpu, th *thread) {
	if th.energyClass {
		s.core.Dequeue(c.id, th.sched)
		if c.curr == th.sched {
			s.core.PutPrev(c.id, th.sched)
			c.curr = nil
		}
	} else if s.cpus[th.home].other.remove(th) {
		s.host.addOther(th.home, -1)
	}
	s.core.Dead(th.sched)

	if th.task.remaining.Add(-1) == 0 {
		now := s.host.Clock(c.id)
		th.task.completed.Store(int64(now))
		s.logger.WithFields(logrus.Fields{
			"task":      th.task.spec.Name,
			"completed": now,
		}).Debug("Task completed")
	}
}

func (s *Simulator) allDone() bool {
	for _, tk := range s.tasks {
		if !tk.done() {
			return false
		}
	}
	return true
}

// Close releases the simulated meter.
func (s *Simulator) Close() error {
	return s.meter.Close()
}

func (s *Simulator) Self() int { return selfPID }

func (s *Simulator) Leader(pid int) (int, error) {
	th, ok := s.byTID[pid]
	if !ok || !th.task.arrived || th.finished.Load() {
		return 0, fmt.Errorf("pid %d: %w", pid, admin.ErrNotFound)
	}
	return th.task.pid, nil
}

// Threads lists the live threads of the task led by leader.
func (s *Simulator) Threads(leader int) ([]int, error) {
	th, ok := s.byTID[leader]
	if !ok || th.task.pid != leader || !th.task.arrived {
		return nil, fmt.Errorf("task %d: %w", leader, admin.ErrNotFound)
	}

	var tids []int
	for _, t := range th.task.threads {
		if !t.finished.Load() {
			tids = append(tids, t.sched.ID)
		}
	}
	sort.Ints(tids)
	return tids, nil
}

// SetPolicy moves one thread between the energy class and the other
// classes. It must only be called between ticks.
func (s *Simulator) SetPolicy(tid int, policy int) error {
	th, ok := s.byTID[tid]
	if !ok || !th.task.arrived || th.finished.Load() {
		return fmt.Errorf("thread %d: %w", tid, admin.ErrNotFound)
	}

	switch policy {
	case s.opts.EnergyPolicy:
		if th.energyClass {
			return nil
		}
		if s.cpus[th.home].other.remove(th) {
			s.host.addOther(th.home, -1)
		}
		th.energyClass = true
		s.core.Enqueue(th.home, th.sched)

	case s.opts.NormalPolicy:
		if !th.energyClass {
			return nil
		}
		th.energyClass = false
		s.core.Dequeue(th.sched.CPU(), th.sched)
		for _, c := range s.cpus {
			if c.curr == th.sched {
				s.core.PutPrev(c.id, th.sched)
				c.curr = nil
			}
		}
		s.cpus[th.home].other.push(th)
		s.host.addOther(th.home, 1)

	default:
		return fmt.Errorf("unsupported policy %d", policy)
	}
	return nil
}
