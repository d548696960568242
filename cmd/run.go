package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"energy-sched/internal/config"
	"energy-sched/internal/database"
	"energy-sched/internal/logging"
	"energy-sched/internal/metrics"
	"energy-sched/internal/sched"
	"energy-sched/internal/sim"
	"energy-sched/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var configFile, spoolDir string
	var noExport, hold bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Simulate a workload under the energy scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), configFile, spoolDir, !noExport, hold, cmd.OutOrStdout())
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
	runCmd.Flags().StringVar(&spoolDir, "spool-dir", "", "Directory for result artifacts when no database is configured")
	runCmd.Flags().BoolVar(&noExport, "no-export", false, "Only print the report")
	runCmd.Flags().BoolVar(&hold, "hold", false, "Keep serving metrics after the run until interrupted")
	_ = runCmd.MarkFlagRequired("config")

	return runCmd
}

func applyLogLevels(cfg *config.Config) {
	logger := logging.GetLogger()

	if cfg.LogLevel != "" {
		if err := logging.SetLogLevel(cfg.LogLevel); err != nil {
			logger.WithField("log_level", cfg.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
			_ = logging.SetLogLevel("info")
		}
	}
	if cfg.SchedulerLogLevel != "" {
		if err := logging.SetSchedulerLogLevel(cfg.SchedulerLogLevel); err != nil {
			logger.WithField("scheduler_log_level", cfg.SchedulerLogLevel).WithError(err).Warn("Invalid scheduler log level in config")
		}
	}
}

func runSimulation(ctx context.Context, configFile, spoolDir string, export, hold bool, out io.Writer) error {
	logger := logging.GetLogger()

	cfg, content, err := config.LoadConfigWithContent(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLogLevels(cfg)

	if len(cfg.Simulation.Tasks) == 0 {
		return fmt.Errorf("config %s defines no simulation tasks", configFile)
	}
	if cfg.Energy.Meter != "sim" {
		logger.WithField("meter", cfg.Energy.Meter).Warn("Simulations always use the simulated meter")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := simulationOptions(cfg)
	startTime := time.Now()

	var exporter *metrics.Exporter
	if cfg.Metrics.Listen != "" {
		exporter = metrics.NewExporter()
		go func() {
			if err := exporter.Serve(ctx, cfg.Metrics.Listen); err != nil {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	var timeline *storage.RunDataFrames
	if cfg.Data.TimelineDir != "" {
		timeline = storage.NewRunDataFrames(cfg.Name, startTime)
	}

	if exporter != nil || timeline != nil {
		opts.Observer = func(now time.Duration, s sched.Snapshot) {
			if exporter != nil {
				exporter.Update(s)
			}
			if timeline != nil {
				timeline.AddSnapshot(now, s)
			}
		}
	}

	s, err := sim.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to set up simulation: %w", err)
	}
	defer s.Close()

	res, err := s.Run(ctx)
	if err != nil {
		return fmt.Errorf("simulation aborted: %w", err)
	}
	endTime := time.Now()

	if exporter != nil {
		exporter.ObserveResult(res)
	}
	if timeline != nil {
		if err := exportTimeline(timeline, cfg.Data.TimelineDir, res, endTime); err != nil {
			logger.WithError(err).Warn("Failed to export timeline")
		}
	}

	printReport(out, cfg, res)

	if export {
		if err := exportResult(ctx, cfg, content, res, startTime, endTime, spoolDir); err != nil {
			return err
		}
	}

	if hold && exporter != nil {
		logger.WithField("listen", cfg.Metrics.Listen).Info("Serving final metrics until interrupted")
		<-ctx.Done()
	}
	return nil
}

func simulationOptions(cfg *config.Config) sim.Options {
	opts := sim.Options{
		CPUs:               cfg.Simulation.CPUs,
		Tick:               cfg.Simulation.Tick,
		MaxTime:            cfg.Simulation.MaxT,
		OtherLoad:          cfg.Simulation.OtherLoad,
		ObserveEvery:       cfg.Simulation.ObserveEvery,
		ThreadSlice:        cfg.Scheduler.ThreadSlice,
		Domain:             cfg.Scheduler.DomainCPUs,
		Meter:              simulatedOptions(cfg.Energy),
		IntervalIterations: cfg.Energy.IntervalIterations,
		LoopIterations:     cfg.Energy.LoopIterations,
		EnergyPolicy:       cfg.Admin.EnergyPolicy,
		NormalPolicy:       cfg.Admin.NormalPolicy,
		Logger:             logging.Component("sim"),
		SchedulerLogger:    logging.GetSchedulerLogger(),
	}

	for _, name := range cfg.TaskNames() {
		t := cfg.Simulation.Tasks[name]
		opts.Tasks = append(opts.Tasks, sim.TaskSpec{
			Name:    name,
			PID:     t.PID,
			Threads: t.Threads,
			Work:    t.Work,
			Arrival: t.Arrival,
			Managed: t.Managed,
			Allowed: t.AllowedCPUs,
		})
	}
	return opts
}

func exportTimeline(timeline *storage.RunDataFrames, dir string, res *sim.Result, endTime time.Time) error {
	for _, t := range res.Tasks {
		timeline.NameTask(t.PID, t.Name)
	}
	timeline.SetRunFinished(endTime)
	timeline.LogDataFramesSummary()

	_, err := timeline.ExportToCSV(dir)
	return err
}

// exportResult writes the run to InfluxDB, or to the spool directory when
// no database is configured or it cannot be reached.
func exportResult(ctx context.Context, cfg *config.Config, content string, res *sim.Result, startTime, endTime time.Time, spoolDir string) error {
	logger := logging.GetLogger()

	if cfg.Data.DB.Enabled() {
		err := writeToDatabase(ctx, cfg, content, res, startTime, endTime)
		if err == nil {
			return nil
		}
		logger.WithError(err).Warn("Failed to store results in InfluxDB, writing spool artifact instead")
	}

	meta, err := database.CollectRunMetadata(0, cfg, content, res, startTime, endTime, Version)
	if err != nil {
		return err
	}
	if spoolDir == "" {
		spoolDir = cfg.Data.SpoolDir
	}
	path, err := database.WriteSpoolArtifact(spoolDir, database.BuildSpoolArtifact(0, content, meta, res, startTime, endTime))
	if err != nil {
		return fmt.Errorf("failed to write spool artifact: %w", err)
	}
	logger.WithField("path", path).Info("Results written to spool")
	return nil
}

func writeToDatabase(ctx context.Context, cfg *config.Config, content string, res *sim.Result, startTime, endTime time.Time) error {
	logger := logging.GetLogger()

	db, err := database.NewInfluxDBClient(cfg.Data.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	lastID, err := db.GetLastRunID(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to query last run ID, starting from 1")
		lastID = 0
	}
	runID := lastID + 1

	meta, err := database.CollectRunMetadata(runID, cfg, content, res, startTime, endTime, Version)
	if err != nil {
		return err
	}
	if err := db.WriteResult(ctx, meta, res, endTime); err != nil {
		return err
	}
	if err := db.WriteMetadata(ctx, meta); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"run_id":   runID,
		"tasks":    len(res.Tasks),
		"workload": meta.WorkloadChecksum,
	}).Info("Results written to InfluxDB")
	return nil
}
