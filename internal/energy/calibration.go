package energy

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultIntervalIterations = 100
	DefaultLoopIterations     = 50
)

// Calibration describes a meter. It is computed once and not modified
// afterwards.
type Calibration struct {
	// UpdateInterval is the typical time between two counter increments.
	UpdateInterval time.Duration

	// UnitMicroJoules is the energy of one counter increment.
	UnitMicroJoules float64

	// Loop is the average per-domain increase observed across one waited
	// read with no workload, i.e. the cost of polling the counters.
	Loop [NumDomains]uint32
}

// Calibrate measures the update interval by timing intervalIterations
// consecutive counter changes, then the polling overhead by averaging the
// deltas of loopIterations consecutive waited reads, and finally reads the
// counter unit. Meters implementing Calibrator are asked directly.
func Calibrate(ctx context.Context, m Meter, intervalIterations, loopIterations int) (Calibration, error) {
	if c, ok := m.(Calibrator); ok {
		return c.Calibrate(ctx)
	}
	if intervalIterations <= 0 {
		intervalIterations = DefaultIntervalIterations
	}
	if loopIterations <= 0 {
		loopIterations = DefaultLoopIterations
	}

	var cal Calibration

	begin, _, err := m.Read(ctx, true)
	if err != nil {
		return cal, fmt.Errorf("calibrate interval: %w", err)
	}
	end := begin
	for i := 0; i < intervalIterations; i++ {
		if end, _, err = m.Read(ctx, true); err != nil {
			return cal, fmt.Errorf("calibrate interval: %w", err)
		}
	}
	cal.UpdateInterval = end.LastUpdate.Sub(begin.LastUpdate) / time.Duration(intervalIterations)
	if cal.UpdateInterval <= 0 {
		cal.UpdateInterval = time.Microsecond
	}

	first, _, err := m.Read(ctx, true)
	if err != nil {
		return cal, fmt.Errorf("calibrate loop: %w", err)
	}
	last := first
	for i := 0; i < loopIterations; i++ {
		if last, _, err = m.Read(ctx, true); err != nil {
			return cal, fmt.Errorf("calibrate loop: %w", err)
		}
	}
	for _, d := range Domains() {
		cal.Loop[d] = Diff(last.Get(d), first.Get(d)) / uint32(loopIterations)
	}

	unit, err := m.Unit()
	if err != nil {
		return cal, fmt.Errorf("calibrate unit: %w", err)
	}
	if unit <= 0 {
		return cal, ErrNotCalibrated
	}
	cal.UnitMicroJoules = unit

	return cal, nil
}

// overhead returns consumption reduced by the energy spent polling for
// elapsed, floored at zero.
func (c Calibration) overhead(consumption uint32, elapsed time.Duration, d Domain) uint32 {
	if c.UpdateInterval <= 0 || elapsed <= 0 {
		return consumption
	}
	loop := uint64(c.Loop[d]) * uint64(elapsed) / uint64(c.UpdateInterval)
	if loop > uint64(consumption) {
		return 0
	}
	return consumption - uint32(loop)
}
