package config

import (
	"sort"
	"time"

	"energy-sched/internal/cpuset"
)

type Config struct {
	Name              string `yaml:"name"`
	Description       string `yaml:"description"`
	LogLevel          string `yaml:"log_level"`
	SchedulerLogLevel string `yaml:"scheduler_log_level"`

	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Energy     EnergyConfig     `yaml:"energy"`
	Simulation SimulationConfig `yaml:"simulation"`
	Admin      AdminConfig      `yaml:"admin"`
	Data       DataConfig       `yaml:"data"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type SchedulerConfig struct {
	ThreadSlice time.Duration `yaml:"thread_slice"`
	Domain      string        `yaml:"domain"`

	// DomainCPUs is parsed from Domain against the simulated CPUs.
	DomainCPUs cpuset.Set `yaml:"-"`
}

type EnergyConfig struct {
	Meter              string               `yaml:"meter"`
	CPU                int                  `yaml:"cpu"`
	WaitTimeout        time.Duration        `yaml:"wait_timeout"`
	IntervalIterations int                  `yaml:"interval_iterations"`
	LoopIterations     int                  `yaml:"loop_iterations"`
	Sim                SimulatedMeterConfig `yaml:"sim"`
}

type SimulatedMeterConfig struct {
	PackageWatts    float64       `yaml:"package_watts"`
	DRAMWatts       float64       `yaml:"dram_watts"`
	CoreWatts       float64       `yaml:"core_watts"`
	GPUWatts        float64       `yaml:"gpu_watts"`
	UpdateInterval  time.Duration `yaml:"update_interval"`
	PollCost        time.Duration `yaml:"poll_cost"`
	UnitMicroJoules float64       `yaml:"unit_uj"`
}

type SimulationConfig struct {
	CPUs      int                   `yaml:"cpus"`
	Tick      time.Duration         `yaml:"tick"`
	MaxT      time.Duration         `yaml:"max_t"`
	OtherLoad int                   `yaml:"other_load"`
	Tasks     map[string]TaskConfig `yaml:"tasks"`
	// ObserveEvery samples the scheduler state every that many ticks for
	// metrics and timelines.
	ObserveEvery int `yaml:"observe_every"`
}

type TaskConfig struct {
	PID     int           `yaml:"pid"`
	Threads int           `yaml:"threads"`
	Work    time.Duration `yaml:"work"`
	Arrival time.Duration `yaml:"arrival"`
	Managed bool          `yaml:"managed"`
	Allowed string        `yaml:"allowed"`

	AllowedCPUs cpuset.Set `yaml:"-"`
}

type AdminConfig struct {
	EnergyPolicy int `yaml:"energy_policy"`
	NormalPolicy int `yaml:"normal_policy"`
}

type DataConfig struct {
	DB       DatabaseConfig `yaml:"db"`
	SpoolDir string         `yaml:"spool_dir"`
	// TimelineDir receives CSV timelines of the class and every task.
	// Empty disables them.
	TimelineDir string `yaml:"timeline_dir"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

// Enabled reports whether results go to InfluxDB instead of the spool.
func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// TaskNames returns the simulated task names in sorted order.
func (c *Config) TaskNames() []string {
	names := make([]string, 0, len(c.Simulation.Tasks))
	for name := range c.Simulation.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
