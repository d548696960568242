//go:build linux

package energy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	msrPowerUnit       = 0x606
	msrPkgEnergyStatus = 0x611
	msrDRAMEnergy      = 0x619
	msrPP0Energy       = 0x639
	msrPP1Energy       = 0x641

	energyUnitMask  = 0x1f00
	energyUnitShift = 8
)

var msrRegisters = [NumDomains]int64{
	Package: msrPkgEnergyStatus,
	DRAM:    msrDRAMEnergy,
	Core:    msrPP0Energy,
	GPU:     msrPP1Energy,
}

// MSRMeter reads the RAPL energy status registers through the msr driver.
type MSRMeter struct {
	fd        int
	cpu       int
	timeout   time.Duration
	supported [NumDomains]bool
	logger    logrus.FieldLogger
}

// OpenMSRMeter opens /dev/cpu/<cpu>/msr. Domains whose register cannot be
// read are reported as zero; the package domain is required.
func OpenMSRMeter(cpu int, timeout time.Duration, logger logrus.FieldLogger) (*MSRMeter, error) {
	path := fmt.Sprintf("/dev/cpu/%d/msr", cpu)
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", path, ErrUnsupported)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	m := &MSRMeter{fd: fd, cpu: cpu, timeout: timeout, logger: logger}
	for _, d := range Domains() {
		if _, err := m.readMSR(msrRegisters[d]); err != nil {
			logger.WithFields(logrus.Fields{
				"cpu":    cpu,
				"domain": d.String(),
			}).WithError(err).Warn("Energy domain not readable, reporting zero")
			continue
		}
		m.supported[d] = true
	}
	if !m.supported[Package] {
		unix.Close(fd)
		return nil, fmt.Errorf("package energy register on cpu %d: %w", cpu, ErrUnsupported)
	}
	return m, nil
}

func (m *MSRMeter) readMSR(reg int64) (uint64, error) {
	buf := make([]byte, 8)
	n, err := unix.Pread(m.fd, buf, reg)
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, fmt.Errorf("short msr read of 0x%x: %d bytes", reg, n)
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (m *MSRMeter) readDomain(d Domain) (uint32, error) {
	if !m.supported[d] {
		return 0, nil
	}
	v, err := m.readMSR(msrRegisters[d])
	if err != nil {
		return 0, fmt.Errorf("read %s energy: %w", d, err)
	}
	return uint32(v), nil
}

func (m *MSRMeter) Read(ctx context.Context, wait bool) (Counters, time.Duration, error) {
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

// Unit decodes the energy status unit field of MSR_RAPL_POWER_UNIT.
func (m *MSRMeter) Unit() (float64, error) {
	raw, err := m.readMSR(msrPowerUnit)
	if err != nil {
		return 0, fmt.Errorf("read power unit: %w", err)
	}
	return decodeEnergyUnit(raw), nil
}

func (m *MSRMeter) Close() error {
	return unix.Close(m.fd)
}

// decodeEnergyUnit returns microjoules per counter increment.
func decodeEnergyUnit(raw uint64) float64 {
	shift := (raw & energyUnitMask) >> energyUnitShift
	return 1e6 / float64(uint64(1)<<shift)
}
