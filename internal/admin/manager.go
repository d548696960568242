// Package admin switches whole tasks into and out of the energy scheduling
// policy.
package admin

import (
	"fmt"

	"energy-sched/internal/logging"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultEnergyPolicy is the policy number of the energy class on a
	// patched kernel.
	DefaultEnergyPolicy = 7
	// DefaultNormalPolicy is SCHED_OTHER.
	DefaultNormalPolicy = 0
)

// ProcessTable resolves process identifiers to thread groups.
type ProcessTable interface {
	// Self returns the pid of the calling task.
	Self() int
	// Leader returns the thread group leader of pid.
	Leader(pid int) (int, error)
	// Threads lists every thread of the group led by leader.
	Threads(leader int) ([]int, error)
}

// PolicySetter changes the scheduling policy of one thread.
type PolicySetter interface {
	SetPolicy(tid int, policy int) error
}

type Manager struct {
	table        ProcessTable
	setter       PolicySetter
	energyPolicy int
	normalPolicy int
	logger       logrus.FieldLogger
}

type Option func(*Manager)

func WithPolicies(energy, normal int) Option {
	return func(m *Manager) {
		m.energyPolicy = energy
		m.normalPolicy = normal
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(m *Manager) { m.logger = logger }
}

func NewManager(table ProcessTable, setter PolicySetter, opts ...Option) *Manager {
	m := &Manager{
		table:        table,
		setter:       setter,
		energyPolicy: DefaultEnergyPolicy,
		normalPolicy: DefaultNormalPolicy,
		logger:       logging.Component("admin"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start moves every thread of pid's task into the energy policy. Pid 0 is
// the caller's own task.
func (m *Manager) Start(pid int) error {
	return m.apply(pid, m.energyPolicy)
}

// Stop moves every thread of pid's task back to the normal policy.
func (m *Manager) Stop(pid int) error {
	return m.apply(pid, m.normalPolicy)
}

// apply sets policy on each thread of the group and returns the result of
// the last thread.
func (m *Manager) apply(pid, policy int) error {
	if pid < 0 {
		return fmt.Errorf("pid %d: %w", pid, ErrInvalidPID)
	}
	if pid == 0 {
		pid = m.table.Self()
	}

	leader, err := m.table.Leader(pid)
	if err != nil {
		return fmt.Errorf("resolve pid %d: %w", pid, err)
	}
	threads, err := m.table.Threads(leader)
	if err != nil {
		return fmt.Errorf("list threads of %d: %w", leader, err)
	}
	if len(threads) == 0 {
		return fmt.Errorf("task %d has no threads: %w", leader, ErrNotFound)
	}

	var last error
	for _, tid := range threads {
		last = m.setter.SetPolicy(tid, policy)
		if last != nil {
			m.logger.WithFields(logrus.Fields{
				"task":   leader,
				"thread": tid,
				"policy": policy,
			}).WithError(last).Warn("Failed to set scheduling policy")
		}
	}

	m.logger.WithFields(logrus.Fields{
		"task":    leader,
		"threads": len(threads),
		"policy":  policy,
	}).Info("Scheduling policy applied")

	return last
}
