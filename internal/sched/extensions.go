package sched

import "energy-sched/internal/cpuset"

// Extensions receives the hooks the core itself does not act on. They are
// called without any scheduler lock held.
type Extensions interface {
	Fork(t *Thread)
	Dead(t *Thread)
	Migrate(t *Thread, cpu int)
	Waking(t *Thread)
	Woken(cpu int, t *Thread)
	SetCPUsAllowed(t *Thread, allowed cpuset.Set)
	Online(cpu int)
	Offline(cpu int)
}

// NopExtensions ignores every hook.
type NopExtensions struct{}

func (NopExtensions) Fork(*Thread)                       {}
func (NopExtensions) Dead(*Thread)                       {}
func (NopExtensions) Migrate(*Thread, int)               {}
func (NopExtensions) Waking(*Thread)                     {}
func (NopExtensions) Woken(int, *Thread)                 {}
func (NopExtensions) SetCPUsAllowed(*Thread, cpuset.Set) {}
func (NopExtensions) Online(int)                         {}
func (NopExtensions) Offline(int)                        {}
