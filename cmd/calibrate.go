package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"energy-sched/internal/config"
	"energy-sched/internal/energy"
	"energy-sched/internal/host"
	"energy-sched/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type calibrateOptions struct {
	configFile         string
	meter              string
	cpu                int
	waitTimeout        time.Duration
	intervalIterations int
	loopIterations     int
}

func newCalibrateCommand() *cobra.Command {
	var opts calibrateOptions

	calibrateCmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Measure update interval, unit and polling cost of an energy meter",
		RunE: func(cmd *cobra.Command, args []string) error {
			energyCfg, err := calibrationSettings(cmd, opts)
			if err != nil {
				return err
			}
			return runCalibration(cmd.Context(), energyCfg, cmd.OutOrStdout())
		},
	}
	calibrateCmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Take meter settings from a configuration file")
	calibrateCmd.Flags().StringVar(&opts.meter, "meter", "sim", "Energy meter (sim, msr, perf or auto)")
	calibrateCmd.Flags().IntVar(&opts.cpu, "cpu", 0, "CPU whose package counters are read")
	calibrateCmd.Flags().DurationVar(&opts.waitTimeout, "wait-timeout", energy.DefaultWaitTimeout, "Longest wait for a counter update")
	calibrateCmd.Flags().IntVar(&opts.intervalIterations, "interval-iterations", config.DefaultIntervalIterations, "Counter updates timed to find the update interval")
	calibrateCmd.Flags().IntVar(&opts.loopIterations, "loop-iterations", config.DefaultLoopIterations, "Waited reads averaged to find the polling cost")

	return calibrateCmd
}

// calibrationSettings starts from the config file, if any, and applies the
// flags the user set explicitly.
func calibrationSettings(cmd *cobra.Command, opts calibrateOptions) (config.EnergyConfig, error) {
	e := config.EnergyConfig{
		Meter:              opts.meter,
		CPU:                opts.cpu,
		WaitTimeout:        opts.waitTimeout,
		IntervalIterations: opts.intervalIterations,
		LoopIterations:     opts.loopIterations,
	}

	if opts.configFile != "" {
		cfg, err := config.LoadConfig(opts.configFile)
		if err != nil {
			return e, fmt.Errorf("failed to load config: %w", err)
		}
		fromFile := cfg.Energy
		flags := cmd.Flags()
		if flags.Changed("meter") {
			fromFile.Meter = opts.meter
		}
		if flags.Changed("cpu") {
			fromFile.CPU = opts.cpu
		}
		if flags.Changed("wait-timeout") {
			fromFile.WaitTimeout = opts.waitTimeout
		}
		if flags.Changed("interval-iterations") {
			fromFile.IntervalIterations = opts.intervalIterations
		}
		if flags.Changed("loop-iterations") {
			fromFile.LoopIterations = opts.loopIterations
		}
		e = fromFile
	}

	if strings.EqualFold(strings.TrimSpace(e.Meter), "auto") {
		e.Meter = host.GetHostConfig().PreferredMeter()
	}
	kind, err := normalizeMeterKind(e.Meter)
	if err != nil {
		return e, err
	}
	e.Meter = kind

	if e.IntervalIterations <= 0 || e.LoopIterations <= 0 {
		return e, fmt.Errorf("iterations must be positive (interval %d, loop %d)", e.IntervalIterations, e.LoopIterations)
	}
	if e.CPU < 0 {
		return e, fmt.Errorf("invalid cpu %d", e.CPU)
	}
	return e, nil
}

func runCalibration(ctx context.Context, e config.EnergyConfig, out io.Writer) error {
	logger := logging.Component("calibrate")

	meter, err := energy.Open(energy.Options{
		Kind:        e.Meter,
		CPU:         e.CPU,
		WaitTimeout: e.WaitTimeout,
		Simulated:   simulatedOptions(e),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open %s meter on cpu %d: %w", e.Meter, e.CPU, err)
	}
	defer meter.Close()

	logger.WithFields(logrus.Fields{
		"host":                host.GetHostConfig().String(),
		"meter":               e.Meter,
		"cpu":                 e.CPU,
		"interval_iterations": e.IntervalIterations,
		"loop_iterations":     e.LoopIterations,
	}).Info("Calibrating energy meter")

	cal, err := energy.Calibrate(ctx, meter, e.IntervalIterations, e.LoopIterations)
	if err != nil {
		return fmt.Errorf("calibration failed: %w", err)
	}

	printCalibration(out, e.Meter, cal)
	return nil
}

func printCalibration(out io.Writer, meter string, cal energy.Calibration) {
	fmt.Fprintf(out, "meter:           %s\n", meter)
	fmt.Fprintf(out, "update interval: %v\n", cal.UpdateInterval)
	fmt.Fprintf(out, "unit:            %.6f uJ\n", cal.UnitMicroJoules)
	for _, d := range energy.Domains() {
		fmt.Fprintf(out, "loop %-11s  %d\n", d.String()+":", cal.Loop[d])
	}
}
