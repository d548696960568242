package energy

import (
	"context"
	"fmt"
	"time"

	"energy-sched/internal/logging"

	"github.com/sirupsen/logrus"
)

// Accountant turns counter snapshots into energy attributed to tasks.
//
// It is not safe for concurrent use; the scheduling core only calls it with
// its global lock held.
type Accountant struct {
	meter   Meter
	cal     Calibration
	current Counters
	logger  logrus.FieldLogger
}

// NewAccountant takes the initial snapshot with a waited read so the first
// update starts on a counter boundary.
func NewAccountant(ctx context.Context, meter Meter, cal Calibration, logger logrus.FieldLogger) (*Accountant, error) {
	if meter == nil {
		return nil, fmt.Errorf("energy meter is nil")
	}
	if cal.UnitMicroJoules <= 0 {
		return nil, ErrNotCalibrated
	}
	if logger == nil {
		logger = logging.GetSchedulerLogger()
	}

	current, _, err := meter.Read(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("initial counter read: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"update_interval_us": cal.UpdateInterval.Microseconds(),
		"unit_uj":            cal.UnitMicroJoules,
		"loop_package":       cal.Loop[Package],
		"loop_dram":          cal.Loop[DRAM],
		"loop_core":          cal.Loop[Core],
		"loop_gpu":           cal.Loop[GPU],
	}).Info("Energy accounting initialized")

	return &Accountant{
		meter:   meter,
		cal:     cal,
		current: current,
		logger:  logger,
	}, nil
}

func (a *Accountant) Calibration() Calibration { return a.cal }

// Snapshot returns the last counter reading.
func (a *Accountant) Snapshot() Counters { return a.current }

// Update reads the counters again, waiting for the next change, and adds
// the consumption since the previous snapshot to stats. On a read error
// stats is left untouched and the previous snapshot is kept.
func (a *Accountant) Update(ctx context.Context, stats *Statistics) error {
	last := a.current

	current, elapsed, err := a.meter.Read(ctx, true)
	if err != nil {
		return fmt.Errorf("read energy counters: %w", err)
	}
	a.current = current

	a.accumulate(stats, last, current, elapsed)
	return nil
}

func (a *Accountant) accumulate(stats *Statistics, last, current Counters, elapsed time.Duration) {
	stats.Updates++
	stats.Defers++
	stats.DeferredMicros += uint64(elapsed.Microseconds())

	for _, d := range Domains() {
		consumption := a.cal.overhead(Diff(current.Get(d), last.Get(d)), elapsed, d)
		stats.MicroJoules[d] += uint64(float64(consumption) * a.cal.UnitMicroJoules)
	}
}
