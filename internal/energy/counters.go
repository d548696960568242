package energy

import (
	"math"
	"time"
)

// Domain identifies one of the hardware energy counters.
type Domain int

const (
	Package Domain = iota
	DRAM
	Core
	GPU

	NumDomains = 4
)

var domainNames = [NumDomains]string{"package", "dram", "core", "gpu"}

func (d Domain) String() string {
	if d < 0 || int(d) >= NumDomains {
		return "unknown"
	}
	return domainNames[d]
}

// Domains lists all counter domains in reading order.
func Domains() []Domain {
	return []Domain{Package, DRAM, Core, GPU}
}

// Counters is one snapshot of the raw counter registers.
type Counters struct {
	Values [NumDomains]uint32

	// LastUpdate is the time the package counter was last seen changing,
	// or the read time for reads that did not wait.
	LastUpdate time.Time
}

func (c Counters) Get(d Domain) uint32 { return c.Values[d] }

// Diff returns first-second for two readings of a 32 bit counter that may
// have wrapped between them.
func Diff(first, second uint32) uint32 {
	if first < second {
		return (math.MaxUint32 - second) + first
	}
	return first - second
}

// Statistics is the energy attributed to one task. It is mutated only by
// the scheduling core while it holds its global lock.
type Statistics struct {
	// MicroJoules accumulated per domain.
	MicroJoules [NumDomains]uint64

	Updates        uint64
	Defers         uint64
	DeferredMicros uint64
}

// Joules returns the accumulated energy of a domain in joules.
func (s Statistics) Joules(d Domain) float64 {
	return float64(s.MicroJoules[d]) / 1e6
}
