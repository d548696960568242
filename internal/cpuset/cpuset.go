package cpuset

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// MaxCPUs is the highest number of CPUs a Set can describe.
const MaxCPUs = 1024

const wordBits = 64

// Set is a fixed-size CPU mask. The zero value is the empty set and
// assignment copies the mask.
type Set struct {
	words [MaxCPUs / wordBits]uint64
}

// New returns a set holding the given CPUs. Out of range CPUs are ignored.
func New(cpus ...int) Set {
	var s Set
	for _, cpu := range cpus {
		s.Add(cpu)
	}
	return s
}

// All returns the set {0, ..., n-1}.
func All(n int) Set {
	var s Set
	for cpu := 0; cpu < n && cpu < MaxCPUs; cpu++ {
		s.Add(cpu)
	}
	return s
}

func (s *Set) Add(cpu int) {
	if cpu < 0 || cpu >= MaxCPUs {
		return
	}
	s.words[cpu/wordBits] |= 1 << uint(cpu%wordBits)
}

func (s *Set) Remove(cpu int) {
	if cpu < 0 || cpu >= MaxCPUs {
		return
	}
	s.words[cpu/wordBits] &^= 1 << uint(cpu%wordBits)
}

func (s *Set) Clear() {
	s.words = [MaxCPUs / wordBits]uint64{}
}

func (s Set) Has(cpu int) bool {
	if cpu < 0 || cpu >= MaxCPUs {
		return false
	}
	return s.words[cpu/wordBits]&(1<<uint(cpu%wordBits)) != 0
}

func (s Set) Len() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

func (s Set) IsEmpty() bool {
	for _, w := range s.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// And returns the intersection of s and o.
func (s Set) And(o Set) Set {
	var out Set
	for i := range s.words {
		out.words[i] = s.words[i] & o.words[i]
	}
	return out
}

// Or returns the union of s and o.
func (s Set) Or(o Set) Set {
	var out Set
	for i := range s.words {
		out.words[i] = s.words[i] | o.words[i]
	}
	return out
}

func (s Set) Equal(o Set) bool {
	return s.words == o.words
}

// Each calls fn for every CPU in ascending order.
func (s Set) Each(fn func(cpu int)) {
	for i, w := range s.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			fn(i*wordBits + b)
			w &^= 1 << uint(b)
		}
	}
}

// CPUs returns the members in ascending order.
func (s Set) CPUs() []int {
	out := make([]int, 0, s.Len())
	s.Each(func(cpu int) { out = append(out, cpu) })
	return out
}

// String formats the set as a canonical cpuset string, e.g. "0-3,6".
func (s Set) String() string {
	cpus := s.CPUs()
	if len(cpus) == 0 {
		return ""
	}
	var parts []string
	start, prev := cpus[0], cpus[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, cpu := range cpus[1:] {
		if cpu == prev+1 {
			prev = cpu
			continue
		}
		flush()
		start, prev = cpu, cpu
	}
	flush()
	return strings.Join(parts, ",")
}

// Parse reads CPU specification strings like "0", "0,2,4", or "0-3".
func Parse(spec string) (Set, error) {
	var s Set

	parts := strings.Split(spec, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return Set{}, fmt.Errorf("invalid CPU range: %s", part)
			}

			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil {
				return Set{}, fmt.Errorf("invalid CPU range start: %s", rangeParts[0])
			}

			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil {
				return Set{}, fmt.Errorf("invalid CPU range end: %s", rangeParts[1])
			}

			if start > end {
				return Set{}, fmt.Errorf("invalid CPU range: start > end (%d > %d)", start, end)
			}
			if start < 0 || end >= MaxCPUs {
				return Set{}, fmt.Errorf("CPU range %s out of bounds [0,%d)", part, MaxCPUs)
			}

			for i := start; i <= end; i++ {
				s.Add(i)
			}
		} else {
			cpu, err := strconv.Atoi(part)
			if err != nil {
				return Set{}, fmt.Errorf("invalid CPU number: %s", part)
			}
			if cpu < 0 || cpu >= MaxCPUs {
				return Set{}, fmt.Errorf("CPU %d out of bounds [0,%d)", cpu, MaxCPUs)
			}
			s.Add(cpu)
		}
	}

	if s.IsEmpty() {
		return Set{}, fmt.Errorf("no CPUs specified")
	}

	return s, nil
}

// ParseWithDefault parses spec, treating "" and "all" as the first n CPUs.
func ParseWithDefault(spec string, n int) (Set, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" || strings.EqualFold(trimmed, "all") {
		if n <= 0 {
			return Set{}, fmt.Errorf("no CPUs specified")
		}
		return All(n), nil
	}
	return Parse(trimmed)
}
