package cmd

import (
	"testing"
	"time"

	"energy-sched/internal/config"
	"energy-sched/internal/energy"
)

func TestNormalizeMeterKind_AllowsSpellings(t *testing.T) {
	cases := map[string]string{
		"":           "sim",
		"Simulated":  "sim",
		"rapl-msr":   "msr",
		"RAPL_MSR":   "msr",
		"perf":       "perf",
		"perf-event": "perf",
	}
	for in, want := range cases {
		got, err := normalizeMeterKind(in)
		if err != nil {
			t.Fatalf("normalizeMeterKind(%q): unexpected error: %v", in, err)
		}
		if got != want {
			t.Fatalf("normalizeMeterKind(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeMeterKind_RejectsUnknown(t *testing.T) {
	_, err := normalizeMeterKind("wattmeter")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestSimulatedOptions(t *testing.T) {
	opts := simulatedOptions(config.EnergyConfig{
		WaitTimeout: time.Second,
		Sim:         config.SimulatedMeterConfig{PackageWatts: 12, GPUWatts: 3, PollCost: time.Microsecond},
	})
	if opts.Watts[energy.Package] != 12 || opts.Watts[energy.GPU] != 3 {
		t.Fatalf("unexpected watts %v", opts.Watts)
	}
	if opts.PollCost != time.Microsecond || opts.WaitTimeout != time.Second {
		t.Fatalf("unexpected timing %v / %v", opts.PollCost, opts.WaitTimeout)
	}
}
