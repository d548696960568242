package energy

import (
	"context"
	"math"
	"sync"
	"time"
)

// DefaultSimulatedUnit matches the common RAPL energy status unit of 2^-14 J.
const DefaultSimulatedUnit = 1e6 / 16384.0

// SimulatedOptions configures a SimulatedMeter.
type SimulatedOptions struct {
	// Clock returns the current virtual time. Nil uses wall time elapsed
	// since the meter was created.
	Clock func() time.Duration

	// Watts is the constant power drawn per domain.
	Watts [NumDomains]float64

	// UpdateInterval is the counter refresh period. Defaults to 1ms.
	UpdateInterval time.Duration

	// PollCost is added to the meter's own time offset on every read,
	// modelling the time spent polling.
	PollCost time.Duration

	UnitMicroJoules float64
	WaitTimeout     time.Duration
}

// SimulatedMeter derives counter values from a constant power draw over a
// virtual clock. Waited reads advance a meter-local offset instead of
// sleeping, so results are deterministic for a deterministic clock.
type SimulatedMeter struct {
	mu     sync.Mutex
	opts   SimulatedOptions
	offset time.Duration
	closed bool
}

func NewSimulatedMeter(opts SimulatedOptions) *SimulatedMeter {
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = time.Millisecond
	}
	if opts.UnitMicroJoules <= 0 {
		opts.UnitMicroJoules = DefaultSimulatedUnit
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.Clock == nil {
		start := time.Now()
		opts.Clock = func() time.Duration { return time.Since(start) }
	}
	return &SimulatedMeter{opts: opts}
}

func (m *SimulatedMeter) Read(ctx context.Context, wait bool) (Counters, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return Counters{}, 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Counters{}, 0, ErrUnsupported
	}

	m.offset += m.opts.PollCost
	now := m.opts.Clock() + m.offset

	if !wait {
		at := m.quantize(now)
		return m.countersAt(at, now), 0, nil
	}

	interval := m.opts.UpdateInterval
	current := m.count(Package, m.quantize(now))
	for next := m.quantize(now) + interval; next-now <= m.opts.WaitTimeout; next += interval {
		if m.count(Package, next) != current {
			elapsed := next - now
			m.offset += elapsed
			return m.countersAt(next, next), elapsed, nil
		}
	}

	m.offset += m.opts.WaitTimeout
	return Counters{}, m.opts.WaitTimeout, ErrMeterTimeout
}

func (m *SimulatedMeter) Unit() (float64, error) {
	return m.opts.UnitMicroJoules, nil
}

func (m *SimulatedMeter) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *SimulatedMeter) quantize(t time.Duration) time.Duration {
	if t < 0 {
		return 0
	}
	return t - t%m.opts.UpdateInterval
}

func (m *SimulatedMeter) count(d Domain, at time.Duration) uint32 {
	uj := m.opts.Watts[d] * at.Seconds() * 1e6
	return uint32(uint64(math.Floor(uj / m.opts.UnitMicroJoules)))
}

func (m *SimulatedMeter) countersAt(at, observed time.Duration) Counters {
	var c Counters
	for _, d := range Domains() {
		c.Values[d] = m.count(d, at)
	}
	c.LastUpdate = time.Unix(0, 0).Add(observed)
	return c
}
