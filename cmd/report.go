package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"energy-sched/internal/config"
	"energy-sched/internal/energy"
	"energy-sched/internal/sim"
)

func printReport(out io.Writer, cfg *config.Config, res *sim.Result) {
	fmt.Fprintf(out, "%s: %d CPUs, simulated %v in %d ticks", cfg.Name, cfg.Simulation.CPUs, res.Elapsed, res.Ticks)
	if res.Truncated {
		fmt.Fprint(out, " (time limit reached)")
	}
	fmt.Fprintln(out)

	cal := res.Calibration
	fmt.Fprintf(out, "calibration: update interval %v, unit %.3f uJ, polling cost %d\n",
		cal.UpdateInterval, cal.UnitMicroJoules, cal.Loop[energy.Package])
	fmt.Fprintf(out, "switches: to energy %d, from energy %d, task %d, distributions %d\n\n",
		res.Switches.ToEnergy, res.Switches.FromEnergy, res.Switches.In, res.Switches.Distributions)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tPID\tMANAGED\tTHREADS\tARRIVAL\tCOMPLETED\tEXECUTED\tPACKAGE J\tDRAM J\tUPDATES")
	for _, t := range res.Tasks {
		completed := "-"
		if t.Done {
			completed = t.Completed.Round(time.Microsecond).String()
		}
		fmt.Fprintf(w, "%s\t%d\t%t\t%d\t%v\t%s\t%v\t%.3f\t%.3f\t%d\n",
			t.Name, t.PID, t.Managed, t.Threads, t.Arrival, completed, t.Executed,
			t.Energy.Joules(energy.Package), t.Energy.Joules(energy.DRAM), t.Energy.Updates)
	}
	_ = w.Flush()
}
