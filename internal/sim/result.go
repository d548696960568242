package sim

import (
	"sort"
	"time"

	"energy-sched/internal/energy"
	"energy-sched/internal/sched"
)

type TaskResult struct {
	Name    string
	PID     int
	Managed bool
	Threads int

	Arrival   time.Duration
	Completed time.Duration
	Done      bool

	// Executed is the CPU time the threads received.
	Executed time.Duration

	// Energy is what the core charged to the task; zero for unmanaged tasks.
	Energy energy.Statistics
}

// Turnaround is the time from arrival to completion.
func (r TaskResult) Turnaround() time.Duration {
	if !r.Done {
		return 0
	}
	return r.Completed - r.Arrival
}

type Result struct {
	Elapsed   time.Duration
	Ticks     int
	Truncated bool

	Calibration energy.Calibration
	Switches    sched.SwitchCounters
	Forks       uint64
	Exits       uint64

	Tasks []TaskResult
}

// Task returns the result of the named task.
func (r *Result) Task(name string) (TaskResult, bool) {
	for _, t := range r.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskResult{}, false
}

func (s *Simulator) result(elapsed time.Duration, ticks int, truncated bool) *Result {
	snap := s.core.Snapshot()
	res := &Result{
		Elapsed:     elapsed,
		Ticks:       ticks,
		Truncated:   truncated,
		Calibration: s.accountant.Calibration(),
		Switches:    snap.Switches,
		Forks:       s.lifecycle.forks.Load(),
		Exits:       s.lifecycle.exits.Load(),
	}

	for _, tk := range s.tasks {
		tr := TaskResult{
			Name:    tk.spec.Name,
			PID:     tk.pid,
			Managed: tk.spec.Managed,
			Threads: len(tk.threads),
			Arrival: tk.spec.Arrival,
			Done:    tk.done(),
		}
		if tr.Done {
			tr.Completed = time.Duration(tk.completed.Load())
		}
		for _, th := range tk.threads {
			tr.Executed += time.Duration(th.executed.Load())
		}
		if tk.spec.Managed {
			tr.Energy = s.core.ReadStatistics(tk.leader())
		}
		res.Tasks = append(res.Tasks, tr)
	}
	sort.Slice(res.Tasks, func(i, j int) bool { return res.Tasks[i].Name < res.Tasks[j].Name })

	return res
}
