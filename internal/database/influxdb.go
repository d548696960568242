package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"energy-sched/internal/config"
	"energy-sched/internal/energy"
	"energy-sched/internal/host"
	"energy-sched/internal/logging"
	"energy-sched/internal/sim"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

// RunMetadata describes one simulation run.
type RunMetadata struct {
	RunID            int    `json:"run_id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	WorkloadChecksum string `json:"workload_checksum"`
	RunStarted       string `json:"run_started"`  // RFC3339 timestamp
	RunFinished      string `json:"run_finished"` // RFC3339 timestamp
	SimulatedNS      int64  `json:"simulated_ns"`
	Truncated        bool   `json:"truncated"`
	CPUs             int    `json:"cpus"`
	ThreadSliceNS    int64  `json:"thread_slice_ns"`
	Meter            string `json:"meter"`
	TotalTasks       int    `json:"total_tasks"`
	DriverVersion    string `json:"driver_version"`
	Hostname         string `json:"hostname"`
	OSInfo           string `json:"os_info"`
	KernelVersion    string `json:"kernel_version"`
	CPUVendor        string `json:"cpu_vendor"`
	CPUModel         string `json:"cpu_model"`
	CPUThreads       int    `json:"cpu_threads"`
	ConfigFile       string `json:"config_file"`
}

// SystemInfo contains host system information
type SystemInfo struct {
	Hostname      string
	OSInfo        string
	KernelVersion string
	CPUVendor     string
	CPUModel      string
	CPUThreads    int
}

func collectSystemInfo() *SystemInfo {
	hc := host.GetHostConfig()
	return &SystemInfo{
		Hostname:      hc.Hostname,
		OSInfo:        hc.OSInfo,
		KernelVersion: hc.KernelVersion,
		CPUVendor:     hc.CPUVendor,
		CPUModel:      hc.CPUModel,
		CPUThreads:    hc.TotalThreads,
	}
}

// CollectRunMetadata gathers the metadata of a finished run.
func CollectRunMetadata(runID int, cfg *config.Config, configContent string, res *sim.Result, startTime, endTime time.Time, driverVersion string) (*RunMetadata, error) {
	if cfg == nil || res == nil {
		return nil, fmt.Errorf("config and result are required")
	}
	checksum, err := config.WorkloadChecksum(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to compute workload checksum: %w", err)
	}
	sysInfo := collectSystemInfo()

	return &RunMetadata{
		RunID:            runID,
		Name:             cfg.Name,
		Description:      cfg.Description,
		WorkloadChecksum: checksum,
		RunStarted:       startTime.Format(time.RFC3339),
		RunFinished:      endTime.Format(time.RFC3339),
		SimulatedNS:      int64(res.Elapsed),
		Truncated:        res.Truncated,
		CPUs:             cfg.Simulation.CPUs,
		ThreadSliceNS:    int64(cfg.Scheduler.ThreadSlice),
		Meter:            cfg.Energy.Meter,
		TotalTasks:       len(res.Tasks),
		DriverVersion:    driverVersion,
		Hostname:         sysInfo.Hostname,
		OSInfo:           sysInfo.OSInfo,
		KernelVersion:    sysInfo.KernelVersion,
		CPUVendor:        sysInfo.CPUVendor,
		CPUModel:         sysInfo.CPUModel,
		CPUThreads:       sysInfo.CPUThreads,
		ConfigFile:       configContent,
	}, nil
}

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

func NewInfluxDBClient(cfg config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Password)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, err
	}
	if health.Status != "pass" {
		message := ""
		if health.Message != nil {
			message = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": message,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, fmt.Errorf("influxdb at %s is %s", cfg.Host, health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Name,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Name),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Name,
		org:      cfg.Org,
	}, nil
}

func (idb *InfluxDBClient) GetLastRunID(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -30d)
		|> filter(fn: (r) => r._measurement == "task_energy")
		|> distinct(column: "run_id")
		|> map(fn: (r) => ({_value: int(v: r.run_id)}))
		|> max()
		|> yield(name: "max_run_id")
	`, idb.bucket)

	result, err := idb.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query last run ID: %w", err)
	}
	defer result.Close()

	maxID := 0
	for result.Next() {
		if id, ok := result.Record().Value().(int64); ok {
			maxID = int(id)
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("error reading query results: %w", result.Err())
	}
	return maxID, nil
}

// WriteResult stores one task_energy point per task of the run.
func (idb *InfluxDBClient) WriteResult(ctx context.Context, meta *RunMetadata, res *sim.Result, at time.Time) error {
	points := TaskPoints(meta, res, at)
	if len(points) == 0 {
		return nil
	}
	if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write task points: %w", err)
	}
	return nil
}

func (idb *InfluxDBClient) WriteMetadata(ctx context.Context, meta *RunMetadata) error {
	if err := idb.writeAPI.WritePoint(ctx, MetadataPoint(meta, time.Now())); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// TaskPoints builds the task_energy points of a run.
func TaskPoints(meta *RunMetadata, res *sim.Result, at time.Time) []*write.Point {
	points := make([]*write.Point, 0, len(res.Tasks))
	for _, t := range res.Tasks {
		tags := map[string]string{
			"run_id":            strconv.Itoa(meta.RunID),
			"run_name":          meta.Name,
			"workload_checksum": meta.WorkloadChecksum,
			"task":              t.Name,
			"managed":           strconv.FormatBool(t.Managed),
		}
		points = append(points, influxdb2.NewPoint("task_energy", tags, taskFields(t), at))
	}
	return points
}

func taskFields(t sim.TaskResult) map[string]interface{} {
	fields := map[string]interface{}{
		"pid":             t.PID,
		"threads":         t.Threads,
		"done":            t.Done,
		"arrival_ns":      int64(t.Arrival),
		"completed_ns":    int64(t.Completed),
		"turnaround_ns":   int64(t.Turnaround()),
		"executed_ns":     int64(t.Executed),
		"updates":         t.Energy.Updates,
		"deferred_micros": t.Energy.DeferredMicros,
	}
	for _, d := range energy.Domains() {
		fields[d.String()+"_uj"] = t.Energy.MicroJoules[d]
	}
	return fields
}

func MetadataPoint(meta *RunMetadata, at time.Time) *write.Point {
	return influxdb2.NewPoint("run_meta",
		map[string]string{
			"run_id": strconv.Itoa(meta.RunID),
		},
		map[string]interface{}{
			"name":              meta.Name,
			"description":       meta.Description,
			"workload_checksum": meta.WorkloadChecksum,
			"run_started":       meta.RunStarted,
			"run_finished":      meta.RunFinished,
			"simulated_ns":      meta.SimulatedNS,
			"truncated":         meta.Truncated,
			"cpus":              meta.CPUs,
			"thread_slice_ns":   meta.ThreadSliceNS,
			"meter":             meta.Meter,
			"total_tasks":       meta.TotalTasks,
			"driver_version":    meta.DriverVersion,
			"hostname":          meta.Hostname,
			"os_info":           meta.OSInfo,
			"kernel_version":    meta.KernelVersion,
			"cpu_vendor":        meta.CPUVendor,
			"cpu_model":         meta.CPUModel,
			"cpu_threads":       meta.CPUThreads,
			"config_file":       meta.ConfigFile,
		},
		at)
}

func (idb *InfluxDBClient) Close() {
	if idb.client != nil {
		idb.client.Close()
	}
}
