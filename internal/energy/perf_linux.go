//go:build linux

package energy

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-perf"
	"github.com/sirupsen/logrus"
)

const (
	powerPMU       = "power"
	powerEventsDir = "/sys/bus/event_source/devices/power/events"

	// perfCountShift drops the low bits of the 2^-32 J perf counts so they
	// wrap like the 32 bit hardware registers.
	perfCountShift = 18
)

var powerEvents = [NumDomains]struct {
	name   string
	config uint64
}{
	Package: {"energy-pkg", 0x02},
	DRAM:    {"energy-ram", 0x03},
	Core:    {"energy-cores", 0x01},
	GPU:     {"energy-gpu", 0x04},
}

// PerfMeter reads the RAPL counters through the perf power PMU, which does
// not need raw MSR access.
type PerfMeter struct {
	events  [NumDomains]*perf.Event
	cpu     int
	timeout time.Duration
	scale   float64
	logger  logrus.FieldLogger
}

func OpenPerfMeter(cpu int, timeout time.Duration, logger logrus.FieldLogger) (*PerfMeter, error) {
	pmuType, err := perf.LookupEventType(powerPMU)
	if err != nil {
		return nil, fmt.Errorf("lookup %s pmu: %w", powerPMU, ErrUnsupported)
	}

	m := &PerfMeter{cpu: cpu, timeout: timeout, logger: logger}
	for _, d := range Domains() {
		ev := powerEvents[d]
		attr := &perf.Attr{
			Type:   pmuType,
			Config: ev.config,
			Label:  ev.name,
		}
		event, err := perf.Open(attr, perf.AllThreads, cpu, nil)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"cpu":   cpu,
				"event": ev.name,
			}).WithError(err).Warn("Failed to open power event, reporting zero")
			continue
		}
		if err := event.Enable(); err != nil {
			event.Close()
			m.Close()
			return nil, fmt.Errorf("enable %s: %w", ev.name, err)
		}
		m.events[d] = event
	}
	if m.events[Package] == nil {
		m.Close()
		return nil, fmt.Errorf("%s event on cpu %d: %w", powerEvents[Package].name, cpu, ErrUnsupported)
	}

	m.scale = readEventScale(powerEvents[Package].name)
	return m, nil
}

// readEventScale returns the joules per count advertised by sysfs, or the
// documented 2^-32 J when the file is missing.
func readEventScale(name string) float64 {
	raw, err := os.ReadFile(powerEventsDir + "/" + name + ".scale")
	if err != nil {
		return 1.0 / float64(uint64(1)<<32)
	}
	scale, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil || scale <= 0 {
		return 1.0 / float64(uint64(1)<<32)
	}
	return scale
}

func (m *PerfMeter) readDomain(d Domain) (uint32, error) {
	event := m.events[d]
	if event == nil {
		return 0, nil
	}
	count, err := event.ReadCount()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", powerEvents[d].name, err)
	}
	return uint32(count.Value >> perfCountShift), nil
}

func (m *PerfMeter) Read(ctx context.Context, wait bool) (Counters, time.Duration, error) {
	var c Counters
	var elapsed time.Duration

	if wait {
		pkg, changed, waited, err := pollUntilChange(ctx, m.timeout, func() (uint32, error) {
			return m.readDomain(Package)
		})
		if err != nil {
			return c, waited, err
		}
		c.Values[Package] = pkg
		c.LastUpdate = changed
		elapsed = waited
	} else {
		pkg, err := m.readDomain(Package)
		if err != nil {
			return c, 0, err
		}
		c.Values[Package] = pkg
		c.LastUpdate = time.Now()
	}

	for _, d := range []Domain{DRAM, Core, GPU} {
		v, err := m.readDomain(d)
		if err != nil {
			return c, elapsed, err
		}
		c.Values[d] = v
	}
	return c, elapsed, nil
}

// Unit returns microjoules per shifted count.
func (m *PerfMeter) Unit() (float64, error) {
	return m.scale * float64(uint64(1)<<perfCountShift) * 1e6, nil
}

func (m *PerfMeter) Close() error {
	var firstErr error
	for i, event := range m.events {
		if event == nil {
			continue
		}
		if err := event.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.events[i] = nil
	}
	return firstErr
}
