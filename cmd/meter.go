package cmd

import (
	"fmt"
	"strings"

	"energy-sched/internal/config"
	"energy-sched/internal/energy"
)

// normalizeMeterKind maps user spellings of a meter to its canonical name.
func normalizeMeterKind(kind string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(kind))
	k = strings.NewReplacer("-", "", "_", "").Replace(k)

	switch k {
	case "", "sim", "simulated":
		return "sim", nil
	case "msr", "rapl", "raplmsr":
		return "msr", nil
	case "perf", "perfevent", "powercap":
		return "perf", nil
	default:
		return "", fmt.Errorf("unknown energy meter %q (want sim, msr or perf)", kind)
	}
}

// defaultPackageWatts keeps a simulated meter without configured power
// moving.
const defaultPackageWatts = 10

// simulatedOptions translates the simulated meter settings.
func simulatedOptions(e config.EnergyConfig) energy.SimulatedOptions {
	var opts energy.SimulatedOptions
	opts.Watts[energy.Package] = e.Sim.PackageWatts
	opts.Watts[energy.DRAM] = e.Sim.DRAMWatts
	opts.Watts[energy.Core] = e.Sim.CoreWatts
	opts.Watts[energy.GPU] = e.Sim.GPUWatts
	if opts.Watts == [energy.NumDomains]float64{} {
		opts.Watts[energy.Package] = defaultPackageWatts
	}
	opts.UpdateInterval = e.Sim.UpdateInterval
	opts.PollCost = e.Sim.PollCost
	opts.UnitMicroJoules = e.Sim.UnitMicroJoules
	opts.WaitTimeout = e.WaitTimeout
	return opts
}
