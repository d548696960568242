package host

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"energy-sched/internal/logging"

	"github.com/sirupsen/logrus"
)

// HostConfig contains host system configuration information.
// It is initialized once and shared by everything that reports on the host.
type HostConfig struct {
	// CPU Information
	CPUVendor    string
	CPUModel     string
	TotalThreads int
	NumSockets   int

	// Energy counter information
	Energy EnergyConfig

	// System Information
	Hostname      string
	OSInfo        string
	KernelVersion string

	logger *logrus.Logger
}

// EnergyConfig describes which energy counter interfaces the host exposes.
type EnergyConfig struct {
	PerfSupported     bool
	MSRSupported      bool
	PowercapSupported bool
	// PerfEvents lists the power events known to perf, e.g. energy-pkg.
	PerfEvents []string
}

// Paths locates the files host detection reads. Tests point them at a
// temporary tree.
type Paths struct {
	ProcRoot string
	SysRoot  string
	DevRoot  string
}

func DefaultPaths() Paths {
	return Paths{ProcRoot: "/proc", SysRoot: "/sys", DevRoot: "/dev"}
}

var (
	globalHostConfig *HostConfig
	hostConfigOnce   sync.Once
)

// GetHostConfig returns the global host configuration.
// It initializes the configuration on first call.
func GetHostConfig() *HostConfig {
	hostConfigOnce.Do(func() {
		globalHostConfig = Detect(DefaultPaths())
	})
	return globalHostConfig
}

// Detect reads the host configuration below paths. Missing files leave the
// affected fields at "unknown" or unsupported.
func Detect(paths Paths) *HostConfig {
	logger := logging.GetLogger()

	config := &HostConfig{
		logger: logger,
	}

	config.initSystemInfo(paths)
	config.initCPUInfo(paths)
	config.initEnergyInfo(paths)

	logger.WithFields(logrus.Fields{
		"cpu_model":     config.CPUModel,
		"total_threads": config.TotalThreads,
		"sockets":       config.NumSockets,
		"perf_energy":   config.Energy.PerfSupported,
		"msr_energy":    config.Energy.MSRSupported,
	}).Debug("Host configuration initialized")

	return config
}

func (hc *HostConfig) initSystemInfo(paths Paths) {
	hc.Hostname = "unknown"
	if hostname, err := os.Hostname(); err == nil {
		hc.Hostname = hostname
	}

	hc.OSInfo = runtime.GOOS + "/" + runtime.GOARCH

	// Kernel version is the third field of /proc/version
	if data, err := os.ReadFile(filepath.Join(paths.ProcRoot, "version")); err == nil {
		version := strings.Fields(string(data))
		if len(version) >= 3 {
			hc.KernelVersion = version[2]
		}
	}
	if hc.KernelVersion == "" {
		hc.KernelVersion = "unknown"
	}
}

func (hc *HostConfig) initCPUInfo(paths Paths) {
	hc.TotalThreads = runtime.NumCPU()
	hc.CPUVendor = "unknown"
	hc.CPUModel = "unknown"
	hc.NumSockets = 1

	file, err := os.Open(filepath.Join(paths.ProcRoot, "cpuinfo"))
	if err != nil {
		hc.logger.WithError(err).Debug("Failed to read cpuinfo")
		return
	}
	defer file.Close()

	var vendor, model string
	var processors int
	sockets := make(map[string]struct{})

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "processor":
			processors++
		case "vendor_id":
			if vendor == "" {
				vendor = value
			}
		case "model name":
			if model == "" {
				model = value
			}
		case "physical id":
			sockets[value] = struct{}{}
		}
	}

	if vendor != "" {
		hc.CPUVendor = vendor
	}
	if model != "" {
		hc.CPUModel = model
	}
	if processors > 0 {
		hc.TotalThreads = processors
	}
	if len(sockets) > 0 {
		hc.NumSockets = len(sockets)
	}
}

func (hc *HostConfig) initEnergyInfo(paths Paths) {
	eventsDir := filepath.Join(paths.SysRoot, "bus", "event_source", "devices", "power", "events")
	if entries, err := os.ReadDir(eventsDir); err == nil {
		for _, entry := range entries {
			name := entry.Name()
			if !strings.HasPrefix(name, "energy-") || strings.Contains(name, ".") {
				continue
			}
			hc.Energy.PerfEvents = append(hc.Energy.PerfEvents, name)
			if name == "energy-pkg" {
				hc.Energy.PerfSupported = true
			}
		}
	}

	if _, err := os.Stat(filepath.Join(paths.DevRoot, "cpu", "0", "msr")); err == nil {
		hc.Energy.MSRSupported = true
	}

	if _, err := os.Stat(filepath.Join(paths.SysRoot, "class", "powercap", "intel-rapl:0", "energy_uj")); err == nil {
		hc.Energy.PowercapSupported = true
	}
}

// PreferredMeter returns the most precise energy meter the host supports,
// falling back to the simulated one.
func (hc *HostConfig) PreferredMeter() string {
	switch {
	case hc.Energy.PerfSupported:
		return "perf"
	case hc.Energy.MSRSupported:
		return "msr"
	default:
		return "sim"
	}
}

// String summarizes the host for reports.
func (hc *HostConfig) String() string {
	return fmt.Sprintf("%s (%s, %d threads, %d sockets) on %s %s",
		hc.Hostname, hc.CPUModel, hc.TotalThreads, hc.NumSockets, hc.OSInfo, hc.KernelVersion)
}
