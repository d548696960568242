package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"energy-sched/internal/cpuset"
	"energy-sched/internal/logging"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultThreadSlice        = 10 * time.Millisecond
	DefaultWaitTimeout        = time.Second
	DefaultIntervalIterations = 100
	DefaultLoopIterations     = 50
	DefaultTick               = time.Millisecond
	DefaultMaxT               = 10 * time.Second
	DefaultMeter              = "sim"
)

func LoadConfig(filepath string) (*Config, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

// LoadConfigWithContent also returns the file as written, before
// environment expansion.
func LoadConfigWithContent(filepath string) (*Config, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)

	config, err := Parse([]byte(expandEnvVars(originalContent)))
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to load config file")
		return nil, "", err
	}
	return config, originalContent, nil
}

// Parse decodes, completes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&config)

	if err := resolveCPUs(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func applyDefaults(config *Config) {
	if config.Scheduler.ThreadSlice == 0 {
		config.Scheduler.ThreadSlice = DefaultThreadSlice
	}

	e := &config.Energy
	if e.Meter == "" {
		e.Meter = DefaultMeter
	}
	if e.WaitTimeout == 0 {
		e.WaitTimeout = DefaultWaitTimeout
	}
	if e.IntervalIterations == 0 {
		e.IntervalIterations = DefaultIntervalIterations
	}
	if e.LoopIterations == 0 {
		e.LoopIterations = DefaultLoopIterations
	}

	if config.Simulation.Tick == 0 {
		config.Simulation.Tick = DefaultTick
	}
	if config.Simulation.MaxT == 0 {
		config.Simulation.MaxT = DefaultMaxT
	}
}

// resolveCPUs parses the CPU specifications against the simulated CPUs.
func resolveCPUs(config *Config) error {
	n := config.Simulation.CPUs
	if n <= 0 {
		if len(config.Simulation.Tasks) > 0 {
			return fmt.Errorf("%d CPUs: %w", n, ErrNoCPUs)
		}
		return nil
	}

	all := cpuset.All(n)
	domain, err := cpuset.ParseWithDefault(config.Scheduler.Domain, n)
	if err != nil {
		return fmt.Errorf("scheduler domain '%s': %w", config.Scheduler.Domain, err)
	}
	if !domain.And(all).Equal(domain) {
		return fmt.Errorf("scheduler domain %s exceeds %d CPUs", domain, n)
	}
	config.Scheduler.DomainCPUs = domain

	for name, task := range config.Simulation.Tasks {
		allowed, err := cpuset.ParseWithDefault(task.Allowed, n)
		if err != nil {
			logging.GetLogger().WithFields(logrus.Fields{
				"task":    name,
				"allowed": task.Allowed,
			}).WithError(err).Error("Failed to parse CPU specification")
			return fmt.Errorf("task %s: invalid CPU specification '%s': %w", name, task.Allowed, err)
		}
		if allowed.And(all).IsEmpty() {
			return fmt.Errorf("task %s: allowed CPUs %s outside 0-%d", name, allowed, n-1)
		}
		task.AllowedCPUs = allowed
		config.Simulation.Tasks[name] = task
	}
	return nil
}

func validateConfig(config *Config) error {
	if config.Name == "" {
		return fmt.Errorf("name is required")
	}
	for _, level := range []string{config.LogLevel, config.SchedulerLogLevel} {
		if level == "" {
			continue
		}
		if _, err := logrus.ParseLevel(level); err != nil {
			return fmt.Errorf("log level: %w", err)
		}
	}

	if config.Scheduler.ThreadSlice < 0 {
		return fmt.Errorf("thread_slice must not be negative")
	}

	if err := validateEnergy(&config.Energy); err != nil {
		return err
	}

	sim := config.Simulation
	if sim.Tick < 0 || sim.MaxT < 0 {
		return fmt.Errorf("simulation tick and max_t must not be negative")
	}
	if sim.OtherLoad < 0 {
		return fmt.Errorf("simulation other_load must not be negative")
	}
	if sim.ObserveEvery < 0 {
		return fmt.Errorf("simulation observe_every must not be negative")
	}
	pids := make(map[int]string)
	for name, task := range sim.Tasks {
		if task.Threads <= 0 {
			return fmt.Errorf("task %s: threads must be greater than 0", name)
		}
		if task.Work <= 0 {
			return fmt.Errorf("task %s: work must be greater than 0", name)
		}
		if task.Arrival < 0 {
			return fmt.Errorf("task %s: arrival must not be negative", name)
		}
		if task.PID < 0 {
			return fmt.Errorf("task %s: pid must not be negative", name)
		}
		if task.PID != 0 {
			if other, ok := pids[task.PID]; ok {
				return fmt.Errorf("task %s: pid %d is already used by %s", name, task.PID, other)
			}
			pids[task.PID] = name
		}
	}

	a := config.Admin
	if a.EnergyPolicy < 0 || a.NormalPolicy < 0 {
		return fmt.Errorf("scheduling policies must not be negative")
	}
	if a.EnergyPolicy != 0 && a.EnergyPolicy == a.NormalPolicy {
		return fmt.Errorf("energy_policy and normal_policy must differ")
	}

	db := config.Data.DB
	if db.Enabled() && (db.Name == "" || db.User == "" || db.Password == "" || db.Org == "") {
		return fmt.Errorf("incomplete database configuration")
	}

	return nil
}

func validateEnergy(e *EnergyConfig) error {
	switch e.Meter {
	case "sim", "msr", "perf":
	default:
		return fmt.Errorf("unknown energy meter '%s'", e.Meter)
	}
	if e.CPU < 0 {
		return fmt.Errorf("energy cpu must not be negative")
	}
	if e.WaitTimeout < 0 || e.IntervalIterations < 0 || e.LoopIterations < 0 {
		return fmt.Errorf("energy wait_timeout and iterations must not be negative")
	}

	s := e.Sim
	for _, w := range []float64{s.PackageWatts, s.DRAMWatts, s.CoreWatts, s.GPUWatts} {
		if w < 0 {
			return fmt.Errorf("simulated power must not be negative")
		}
	}
	if s.UpdateInterval < 0 || s.PollCost < 0 || s.UnitMicroJoules < 0 {
		return fmt.Errorf("simulated meter settings must not be negative")
	}
	return nil
}
