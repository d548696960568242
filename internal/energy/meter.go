package energy

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultWaitTimeout bounds a waited read when no timeout is configured.
const DefaultWaitTimeout = time.Second

// Meter reads the four hardware energy counters.
type Meter interface {
	// Read returns the counters. With wait set it blocks until the package
	// counter changes and reports how long it waited; otherwise it reads
	// once and reports zero.
	Read(ctx context.Context, wait bool) (Counters, time.Duration, error)

	// Unit returns the energy of one counter increment in microjoules.
	Unit() (float64, error)

	Close() error
}

// Calibrator is implemented by meters that know their calibration without
// measuring it.
type Calibrator interface {
	Calibrate(ctx context.Context) (Calibration, error)
}

// Options selects and configures a meter.
type Options struct {
	// Kind is one of "sim", "msr" or "perf".
	Kind        string
	CPU         int
	WaitTimeout time.Duration
	Simulated   SimulatedOptions
	Logger      logrus.FieldLogger
}

// Open returns the meter described by opts.
func Open(opts Options) (Meter, error) {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	switch opts.Kind {
	case "", "sim":
		opts.Simulated.WaitTimeout = opts.WaitTimeout
		return NewSimulatedMeter(opts.Simulated), nil
	case "msr":
		m, err := OpenMSRMeter(opts.CPU, opts.WaitTimeout, opts.Logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "perf":
		m, err := OpenPerfMeter(opts.CPU, opts.WaitTimeout, opts.Logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown meter %q: %w", opts.Kind, ErrUnsupported)
	}
}

// pollUntilChange spins on read until the returned value differs from the
// first one. It gives up with ErrMeterTimeout after timeout.
func pollUntilChange(ctx context.Context, timeout time.Duration, read func() (uint32, error)) (uint32, time.Time, time.Duration, error) {
	start := time.Now()

	first, err := read()
	if err != nil {
		return 0, time.Time{}, 0, err
	}

	for i := 0; ; i++ {
		v, err := read()
		if err != nil {
			return 0, time.Time{}, 0, err
		}
		now := time.Now()
		if v != first {
			return v, now, now.Sub(start), nil
		}
		if now.Sub(start) > timeout {
			return first, now, now.Sub(start), ErrMeterTimeout
		}
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return first, now, now.Sub(start), err
			}
		}
	}
}
