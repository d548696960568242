package sched

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"energy-sched/internal/cpuset"
	"energy-sched/internal/energy"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHost records runnable counts and reschedule requests.
type fakeHost struct {
	mu      sync.Mutex
	now     time.Duration
	running []int
	resched []int
}

func newFakeHost(cpus int) *fakeHost {
	return &fakeHost{running: make([]int, cpus), resched: make([]int, cpus)}
}

func (h *fakeHost) Clock(int) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *fakeHost) NrRunning() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.running {
		n += r
	}
	return n
}

func (h *fakeHost) CPUNrRunning(cpu int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running[cpu]
}

func (h *fakeHost) AddNrRunning(cpu int, delta int) {
	h.mu.Lock()
	h.running[cpu] += delta
	h.mu.Unlock()
}

func (h *fakeHost) Resched(cpu int) {
	h.mu.Lock()
	h.resched[cpu]++
	h.mu.Unlock()
}

func (h *fakeHost) setNow(now time.Duration) {
	h.mu.Lock()
	h.now = now
	h.mu.Unlock()
}

func (h *fakeHost) advance(d time.Duration) {
	h.mu.Lock()
	h.now += d
	h.mu.Unlock()
}

func (h *fakeHost) cpuRunning(cpu int) int { return h.CPUNrRunning(cpu) }

// fakeAccountant charges a fixed amount per update.
type fakeAccountant struct {
	calls int
	err   error
}

func (a *fakeAccountant) Update(_ context.Context, stats *energy.Statistics) error {
	a.calls++
	if a.err != nil {
		return a.err
	}
	stats.MicroJoules[energy.Package] += 100
	stats.Updates++
	return nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestCore(t *testing.T, cpus int, opts Options) (*Core, *fakeHost) {
	t.Helper()
	host := newFakeHost(cpus)
	opts.NumCPUs = cpus
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	c, err := New(host, opts)
	require.NoError(t, err)
	return c, host
}

// newGroup returns a leader and n-1 further threads of its group.
func newGroup(id, n int) []*Thread {
	leader := NewThread(id, nil, cpuset.Set{})
	threads := []*Thread{leader}
	for i := 1; i < n; i++ {
		threads = append(threads, NewThread(id+i, leader, cpuset.Set{}))
	}
	return threads
}

func requireInvariants(t *testing.T, c *Core) {
	t.Helper()
	s := c.Snapshot()

	sum := 0
	for _, task := range s.Tasks {
		sum += task.NrRunnable
	}
	require.Equal(t, s.NrThreads, sum, "nr_threads must equal the runnable threads of all tasks")
	require.Equal(t, s.NrTasks, len(s.Tasks))
	for _, cpu := range s.CPUs {
		require.LessOrEqual(t, cpu.NrRunnable, cpu.NrAssigned, "cpu %d", cpu.CPU)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil, Options{NumCPUs: 1})
	assert.Error(t, err)

	_, err = New(newFakeHost(1), Options{NumCPUs: 0})
	assert.Error(t, err)

	_, err = New(newFakeHost(2), Options{NumCPUs: 2, Domain: cpuset.New(0, 3), Logger: quietLogger()})
	assert.Error(t, err)

	c, _ := newTestCore(t, 2, Options{})
	assert.Equal(t, DefaultThreadSlice, c.ThreadSlice())
	assert.True(t, c.IdleThread(1).IsIdle())
	assert.Equal(t, 1, c.IdleThread(1).CPU())
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	c, host := newTestCore(t, 2, Options{})
	thread := newGroup(100, 1)[0]

	c.Enqueue(1, thread)
	s := c.Snapshot()
	assert.Equal(t, 1, s.NrTasks)
	assert.Equal(t, 1, s.NrThreads)
	assert.Equal(t, 1, host.cpuRunning(1))
	assert.True(t, thread.QueuedInTask())
	requireInvariants(t, c)

	c.Dequeue(1, thread)
	s = c.Snapshot()
	assert.Zero(t, s.NrTasks)
	assert.Zero(t, s.NrThreads)
	assert.Zero(t, host.NrRunning())
	assert.False(t, thread.QueuedInTask())
	requireInvariants(t, c)
}

func TestEnqueueTwicePanics(t *testing.T) {
	c, _ := newTestCore(t, 1, Options{})
	thread := newGroup(1, 1)[0]
	c.Enqueue(0, thread)

	assert.Panics(t, func() { c.Enqueue(0, thread) })
}

func TestDequeueUnknownThreadPanics(t *testing.T) {
	c, _ := newTestCore(t, 1, Options{})
	assert.Panics(t, func() { c.Dequeue(0, newGroup(1, 1)[0]) })
}

func TestDequeueNotQueuedThreadPanics(t *testing.T) {
	c, _ := newTestCore(t, 1, Options{})
	group := newGroup(1, 2)
	c.Enqueue(0, group[0])

	assert.Panics(t, func() { c.Dequeue(0, group[1]) })
}

func TestDistributeSpreadsThreadsOverDomain(t *testing.T) {
	c, host := newTestCore(t, 2, Options{})
	group := newGroup(10, 2)
	for _, th := range group {
		c.Enqueue(0, th)
	}

	next := c.PickNext(0, nil)
	require.NotNil(t, next)
	assert.Equal(t, group[0], next)

	s := c.Snapshot()
	require.True(t, s.Running)
	assert.Equal(t, 1, s.CPUs[0].NrRunnable)
	assert.Equal(t, 1, s.CPUs[1].NrRunnable)
	assert.Equal(t, 10, s.CPUs[0].CurrTask)
	assert.Equal(t, 10, s.CPUs[1].CurrTask)
	assert.Equal(t, 0, group[0].CPU(), "tie keeps the current CPU")
	assert.Equal(t, 1, group[1].CPU())
	assert.Equal(t, 1, host.cpuRunning(0))
	assert.Equal(t, 1, host.cpuRunning(1))

	assert.Equal(t, group[1], c.PickNext(1, nil))
	requireInvariants(t, c)
}

func TestArrivingThreadGoesToLeastLoadedCPU(t *testing.T) {
	c, _ := newTestCore(t, 2, Options{})
	leader := NewThread(20, nil, cpuset.New(0))
	group := []*Thread{leader, NewThread(21, leader, cpuset.New(0)), NewThread(22, leader, cpuset.New(0))}
	for _, th := range group {
		c.Enqueue(0, th)
	}
	c.PickNext(0, nil)

	s := c.Snapshot()
	require.Equal(t, 3, s.CPUs[0].NrRunnable)
	require.Equal(t, 0, s.CPUs[1].NrRunnable)

	fourth := NewThread(23, leader, cpuset.Set{})
	c.Enqueue(0, fourth)

	assert.Equal(t, 1, fourth.CPU())
	assert.True(t, fourth.QueuedOnCPU())
	s = c.Snapshot()
	assert.Equal(t, 3, s.CPUs[0].NrRunnable)
	assert.Equal(t, 1, s.CPUs[1].NrRunnable)
	requireInvariants(t, c)
}

func TestLocalPicksRotateFairly(t *testing.T) {
	c, host := newTestCore(t, 1, Options{})
	group := newGroup(30, 3)
	for _, th := range group {
		c.Enqueue(0, th)
	}

	const rounds = 4
	counts := map[int]int{}
	var order []int

	curr := c.PickNext(0, nil)
	for i := 0; i < rounds*len(group); i++ {
		require.NotNil(t, curr)
		counts[curr.ID]++
		order = append(order, curr.ID)

		host.advance(4 * DefaultThreadSlice)
		c.Tick(0, curr)
		curr = c.PickNext(0, curr)
	}

	for _, th := range group {
		assert.Equal(t, rounds, counts[th.ID])
	}
	for i := range order {
		assert.Equal(t, group[i%len(group)].ID, order[i])
	}
	assert.Equal(t, 4*DefaultThreadSlice*rounds, group[0].SumExecRuntime())
	assert.Equal(t, 4*DefaultThreadSlice, group[0].ExecMax())
}

func TestSwitchFromHysteresis(t *testing.T) {
	c, host := newTestCore(t, 1, Options{})
	host.AddNrRunning(0, 1) // a thread of another class

	thread := newGroup(40, 1)[0]
	c.Enqueue(0, thread)

	assert.Nil(t, c.PickNext(0, nil))
	require.False(t, c.Snapshot().Running)

	host.setNow(DefaultThreadSlice + 1)
	require.NotNil(t, c.PickNext(0, nil))
	require.True(t, c.Snapshot().Running)

	start := DefaultThreadSlice + 1
	rq := c.rqs[0]
	for _, at := range []time.Duration{start, start + DefaultThreadSlice/2, start + DefaultThreadSlice} {
		host.setNow(at)
		c.lockGlobal(func(g held) {
			assert.False(t, g.shouldSwitchFrom(rq), "at %v", at)
		})
	}

	host.setNow(start + DefaultThreadSlice + 1)
	c.lockGlobal(func(g held) {
		assert.True(t, g.shouldSwitchFrom(rq))
	})
}

func TestSwitchFromNeverWhenOnlyManagedThreadsRun(t *testing.T) {
	c, host := newTestCore(t, 1, Options{})
	c.Enqueue(0, newGroup(41, 1)[0])
	c.PickNext(0, nil)

	host.setNow(time.Hour)
	c.lockGlobal(func(g held) {
		assert.False(t, g.shouldSwitchFrom(c.rqs[0]))
	})
}

func TestSwitchInAfterTaskSlice(t *testing.T) {
	c, host := newTestCore(t, 4, Options{})
	a := newGroup(50, 1)
	b := newGroup(60, 3)
	for _, th := range append(append([]*Thread{}, a...), b...) {
		c.Enqueue(0, th)
	}

	c.PickNext(0, nil)
	rq := c.rqs[0]
	c.lockGlobal(func(g held) {
		require.Equal(t, a[0], rq.currTask.leader)
		assert.Equal(t, DefaultThreadSlice, g.sliceEnergy(rq.currTask))
		assert.Equal(t, 3*DefaultThreadSlice, g.sliceEnergy(g.findEnergyTask(b[0])))
	})

	host.setNow(DefaultThreadSlice)
	c.lockGlobal(func(g held) {
		assert.False(t, g.shouldSwitchIn(rq))
	})

	host.setNow(DefaultThreadSlice + 1)
	c.lockGlobal(func(g held) {
		assert.True(t, g.shouldSwitchIn(rq))
	})

	c.PickNext(0, nil)
	s := c.Snapshot()
	assert.Equal(t, uint64(1), s.Switches.In)
	for _, task := range s.Tasks {
		if task.ID == 60 {
			assert.Equal(t, TaskRunning, task.State)
		} else {
			assert.Equal(t, TaskIdle, task.State)
		}
	}
	requireInvariants(t, c)
}

func TestLastWaitingTaskStartsWhenRunningTaskRetires(t *testing.T) {
	c, _ := newTestCore(t, 1, Options{})
	a := newGroup(55, 1)[0]
	b := newGroup(65, 1)[0]
	c.Enqueue(0, a)
	c.Enqueue(0, b)

	require.Equal(t, a, c.PickNext(0, nil))
	c.Dequeue(0, a)

	s := c.Snapshot()
	require.True(t, s.Running)
	require.Equal(t, 1, s.NrTasks)

	assert.Equal(t, b, c.PickNext(0, a))
	s = c.Snapshot()
	assert.Equal(t, TaskRunning, s.Tasks[0].State)
	assert.Equal(t, 65, s.CPUs[0].CurrTask)
	requireInvariants(t, c)
}

func TestSwitchFromOutsideDomainPutsRunningTask(t *testing.T) {
	acc := &fakeAccountant{}
	c, host := newTestCore(t, 2, Options{Domain: cpuset.New(1), Accountant: acc})
	host.AddNrRunning(0, 1) // a thread of another class

	thread := newGroup(70, 1)[0]
	c.Enqueue(0, thread)

	start := DefaultThreadSlice + 1
	host.setNow(start)
	c.PickNext(0, nil)
	s := c.Snapshot()
	require.True(t, s.Running)
	require.Equal(t, TaskRunning, s.Tasks[0].State)
	require.Equal(t, 70, s.CPUs[1].CurrTask)
	require.Zero(t, s.CPUs[0].CurrTask)

	host.setNow(start + DefaultThreadSlice + 1)
	c.PickNext(0, nil)

	s = c.Snapshot()
	assert.False(t, s.Running)
	assert.Equal(t, uint64(1), s.Switches.FromEnergy)
	assert.Equal(t, TaskIdle, s.Tasks[0].State)
	assert.Zero(t, s.CPUs[1].CurrTask)
	assert.Zero(t, s.CPUs[1].NrRunnable)
	assert.False(t, thread.QueuedOnCPU())
	assert.Equal(t, 1, acc.calls)
	requireInvariants(t, c)
}

func TestSwitchInOutsideDomainPutsRunningTask(t *testing.T) {
	acc := &fakeAccountant{}
	c, host := newTestCore(t, 2, Options{Domain: cpuset.New(1), Accountant: acc})
	a := newGroup(80, 1)[0]
	b := newGroup(90, 1)[0]
	c.Enqueue(0, a)
	c.Enqueue(0, b)

	c.PickNext(0, nil)
	first := runningTasks(c.Snapshot())
	require.Len(t, first, 1)
	require.Zero(t, c.Snapshot().CPUs[0].CurrTask)

	host.setNow(DefaultThreadSlice + 1)
	c.PickNext(0, nil)

	s := c.Snapshot()
	running := runningTasks(s)
	require.Len(t, running, 1)
	assert.NotEqual(t, first[0], running[0])
	assert.Equal(t, running[0], s.CPUs[1].CurrTask)
	assert.Equal(t, uint64(1), s.Switches.In)
	assert.Equal(t, 1, acc.calls)
	requireInvariants(t, c)
}

func runningTasks(s Snapshot) []int {
	var ids []int
	for _, task := range s.Tasks {
		if task.State == TaskRunning {
			ids = append(ids, task.ID)
		}
	}
	return ids
}

func TestSlices(t *testing.T) {
	c, host := newTestCore(t, 2, Options{ThreadSlice: time.Millisecond})
	host.AddNrRunning(1, 5)
	group := newGroup(70, 3)
	for _, th := range group {
		c.Enqueue(0, th)
	}

	c.lockGlobal(func(g held) {
		assert.Equal(t, 3*time.Millisecond, g.sliceClass())
		assert.Equal(t, time.Duration(0), g.sliceEnergy(nil))
		assert.Equal(t, 5*time.Millisecond, g.sliceOther())
	})

	host.setNow(time.Second)
	c.PickNext(0, nil)

	c.lockGlobal(func(g held) {
		rq := c.rqs[0]
		g.local(rq, func() {
			assert.Equal(t, 2, rq.nrRunnable)
			assert.Equal(t, 3*time.Millisecond/2, g.sliceLocal(rq))
		})
	})
	assert.Equal(t, 3*time.Millisecond, c.RRInterval(1, nil))
}

func TestDequeueLastThreadFreesTask(t *testing.T) {
	acc := &fakeAccountant{}
	c, host := newTestCore(t, 2, Options{Accountant: acc})
	thread := newGroup(80, 1)[0]
	c.Enqueue(0, thread)
	curr := c.PickNext(0, nil)
	require.Equal(t, thread, curr)

	c.Dequeue(0, thread)

	s := c.Snapshot()
	assert.Zero(t, s.NrTasks)
	assert.False(t, s.Running)
	assert.Equal(t, uint64(1), s.Switches.FromEnergy)
	assert.Equal(t, 1, acc.calls)
	assert.Equal(t, uint64(100), c.ReadStatistics(thread).MicroJoules[energy.Package])
	assert.False(t, thread.Running())
	assert.Zero(t, host.NrRunning())
	requireInvariants(t, c)

	assert.Nil(t, c.PickNext(0, curr))
}

func TestAccountingErrorIsNotFatal(t *testing.T) {
	acc := &fakeAccountant{err: errors.New("meter gone")}
	c, _ := newTestCore(t, 1, Options{Accountant: acc})
	thread := newGroup(90, 1)[0]
	c.Enqueue(0, thread)
	c.PickNext(0, nil)

	c.Dequeue(0, thread)

	assert.Equal(t, 1, acc.calls)
	assert.Equal(t, energy.Statistics{}, c.ReadStatistics(thread))
	assert.Zero(t, c.Snapshot().NrTasks)
}

func TestRunningTaskKeepsThreadsAfterDeparture(t *testing.T) {
	c, _ := newTestCore(t, 2, Options{})
	group := newGroup(95, 3)
	for _, th := range group {
		c.Enqueue(0, th)
	}
	c.PickNext(0, nil)

	c.Dequeue(group[2].CPU(), group[2])

	s := c.Snapshot()
	require.Len(t, s.Tasks, 1)
	assert.Equal(t, 2, s.Tasks[0].NrRunnable)
	assert.Equal(t, TaskRunning, s.Tasks[0].State)
	requireInvariants(t, c)
}

func TestReleaseAndAcquireCPUs(t *testing.T) {
	c, host := newTestCore(t, 2, Options{})
	host.AddNrRunning(1, 1)
	thread := newGroup(110, 1)[0]
	c.Enqueue(0, thread)

	// Not entitled yet, so the idle CPU 0 is handed to other classes.
	assert.Nil(t, c.PickNext(0, nil))
	s := c.Snapshot()
	assert.True(t, s.CPUs[0].Blocked)
	assert.False(t, s.CPUs[1].Blocked)
	assert.Equal(t, 1, s.CPUs[0].NrAssigned)
	assert.Zero(t, host.cpuRunning(0))

	// Only managed work is hidden now, so the class takes over again.
	require.Equal(t, thread, c.PickNext(0, nil))
	s = c.Snapshot()
	assert.True(t, s.Running)
	assert.False(t, s.CPUs[0].Blocked)
	assert.Equal(t, 1, host.cpuRunning(0))
	requireInvariants(t, c)
}

func TestPickNextEnergyTaskRotates(t *testing.T) {
	c, _ := newTestCore(t, 1, Options{})
	for _, id := range []int{1, 2, 3} {
		c.Enqueue(0, NewThread(id, nil, cpuset.Set{}))
	}

	c.lockGlobal(func(g held) {
		assert.Equal(t, 1, g.pickNextEnergyTask().ID())
		assert.Equal(t, 2, g.pickNextEnergyTask().ID())

		for _, task := range g.grq.tasks.Values() {
			if task.ID() == 3 {
				task.state = TaskRunning
			}
		}
		assert.Equal(t, 1, g.pickNextEnergyTask().ID())
	})
}

func TestPickNextEnergyTaskSkipsRunning(t *testing.T) {
	c, _ := newTestCore(t, 1, Options{})
	a := NewThread(1, nil, cpuset.Set{})
	b := NewThread(2, nil, cpuset.Set{})
	c.Enqueue(0, a)
	c.Enqueue(0, b)

	c.lockGlobal(func(g held) {
		g.findEnergyTask(a).state = TaskRunning
		g.findEnergyTask(b).state = TaskRunning
		assert.Nil(t, g.pickNextEnergyTask())
	})

	empty, _ := newTestCore(t, 1, Options{})
	empty.lockGlobal(func(g held) {
		assert.Nil(t, g.pickNextEnergyTask())
	})
}

func TestYieldNeedsMoreThanTwoThreads(t *testing.T) {
	c, _ := newTestCore(t, 1, Options{})
	group := newGroup(120, 3)
	for _, th := range group[:2] {
		c.Enqueue(0, th)
	}
	curr := c.PickNext(0, nil)

	c.Yield(0)
	assert.False(t, c.rqs[0].resched.Load())

	c.Enqueue(0, group[2])
	c.PickNext(0, curr)
	c.Yield(0)
	assert.True(t, c.rqs[0].resched.Load())

	assert.False(t, c.YieldTo(0, group[0], true))
	assert.Equal(t, 3, c.SelectTaskRQ(group[0], 3))
}

func TestSetCurrAssignsThreadOfRunningTask(t *testing.T) {
	c, _ := newTestCore(t, 2, Options{})
	thread := newGroup(130, 1)[0]
	c.Enqueue(1, thread)
	require.Equal(t, thread, c.PickNext(1, nil))

	// Take the thread off its CPU as if it had never been distributed.
	rq := c.rqs[1]
	c.PutPrev(1, thread)
	c.lockGlobal(func(g held) {
		g.local(rq, func() { g.dequeueRunning(rq, thread) })
	})
	require.False(t, thread.QueuedOnCPU())

	c.SetCurr(1, thread)
	assert.True(t, thread.QueuedOnCPU())
	assert.True(t, thread.Running())
	s := c.Snapshot()
	assert.Equal(t, 130, s.CPUs[1].Curr)
	assert.Equal(t, 1, s.CPUs[1].NrRunnable)
	requireInvariants(t, c)

	other := newGroup(140, 1)[0]
	c.SetCurr(0, other)
	assert.False(t, other.QueuedOnCPU())
	requireInvariants(t, c)
}

func TestSetCurrLeavesIdleTaskUnassigned(t *testing.T) {
	c, _ := newTestCore(t, 2, Options{})
	b := newGroup(150, 2)
	for _, th := range b {
		c.Enqueue(0, th)
	}
	c.PickNext(0, nil)
	require.Equal(t, []int{150}, runningTasks(c.Snapshot()))

	a := newGroup(160, 1)[0]
	c.Enqueue(0, a)
	before := c.Snapshot().CPUs[0].NrRunnable

	c.SetCurr(0, a)
	assert.False(t, a.QueuedOnCPU())
	assert.Equal(t, before, c.Snapshot().CPUs[0].NrRunnable)

	rq := c.rqs[0]
	c.PutPrev(0, a)
	next := c.pickNextLocalTask(rq)
	assert.Equal(t, b[0], next.Leader())
	requireInvariants(t, c)
}

func TestSetCurrOutsideTaskDomain(t *testing.T) {
	c, _ := newTestCore(t, 2, Options{Domain: cpuset.New(1)})
	thread := newGroup(170, 1)[0]
	c.Enqueue(0, thread)
	c.PickNext(0, nil)
	require.Equal(t, []int{170}, runningTasks(c.Snapshot()))
	require.Equal(t, 1, thread.CPU())

	// Move the unassigned thread to a CPU the task does not run on.
	c.lockGlobal(func(g held) {
		from := g.rqs[1]
		g.local(from, func() { g.dequeueRunning(from, thread) })
		g.moveLocalTask(thread, g.rqs[0])
	})

	c.SetCurr(0, thread)
	assert.False(t, thread.QueuedOnCPU())
	assert.Zero(t, c.Snapshot().CPUs[0].NrRunnable)
	requireInvariants(t, c)
}

type recordingExtensions struct {
	NopExtensions
	allowed []cpuset.Set
	online  []int
}

func (r *recordingExtensions) SetCPUsAllowed(_ *Thread, allowed cpuset.Set) {
	r.allowed = append(r.allowed, allowed)
}

func (r *recordingExtensions) Online(cpu int) { r.online = append(r.online, cpu) }

func TestExtensionHooksAreForwarded(t *testing.T) {
	ext := &recordingExtensions{}
	c, _ := newTestCore(t, 2, Options{Extensions: ext})
	thread := newGroup(150, 1)[0]

	c.SetCPUsAllowed(thread, cpuset.New(1))
	c.Online(1)
	c.Fork(thread)
	c.Offline(1)

	require.Len(t, ext.allowed, 1)
	assert.Equal(t, "1", ext.allowed[0].String())
	assert.Equal(t, []int{1}, ext.online)

	c.Enqueue(0, thread)
	c.PickNext(0, nil)
	assert.Equal(t, 1, thread.CPU(), "affinity applies on distribution")
}

func TestConcurrentHooksKeepInvariants(t *testing.T) {
	const cpus = 4
	c, host := newTestCore(t, cpus, Options{ThreadSlice: time.Millisecond})

	var groups [][]*Thread
	for i := 0; i < cpus; i++ {
		groups = append(groups, newGroup(1000*(i+1), 3))
	}

	var wg sync.WaitGroup
	for cpu := 0; cpu < cpus; cpu++ {
		wg.Add(1)
		go func(cpu int) {
			defer wg.Done()
			mine := groups[cpu]
			queued := make([]bool, len(mine))
			var curr *Thread

			for i := 0; i < 300; i++ {
				idx := i % len(mine)
				th := mine[idx]
				if queued[idx] {
					c.Dequeue(cpu, th)
				} else {
					c.Enqueue(cpu, th)
				}
				queued[idx] = !queued[idx]

				host.advance(100 * time.Microsecond)
				c.Tick(cpu, curr)
				curr = c.PickNext(cpu, curr)
				c.UpdateCurr(cpu)
			}
			for idx, q := range queued {
				if q {
					c.Dequeue(cpu, mine[idx])
				}
			}
		}(cpu)
	}
	wg.Wait()

	requireInvariants(t, c)
	s := c.Snapshot()
	assert.Zero(t, s.NrThreads)
	assert.Zero(t, s.NrTasks)
}
