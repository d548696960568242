// Package metrics exposes the runqueue state and the energy charged to
// tasks as prometheus gauges.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"energy-sched/internal/energy"
	"energy-sched/internal/logging"
	"energy-sched/internal/sched"
	"energy-sched/internal/sim"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Exporter struct {
	registry *prometheus.Registry
	logger   logrus.FieldLogger

	tasks   prometheus.Gauge
	threads prometheus.Gauge
	running prometheus.Gauge

	switches    *prometheus.GaugeVec
	cpuAssigned *prometheus.GaugeVec
	cpuRunnable *prometheus.GaugeVec
	cpuBlocked  *prometheus.GaugeVec

	taskRunnable *prometheus.GaugeVec
	taskEnergy   *prometheus.GaugeVec
}

func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		logger:   logging.Component("metrics"),

		tasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "energy_sched_tasks",
			Help: "Number of energy tasks in the global runqueue.",
		}),
		threads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "energy_sched_threads",
			Help: "Number of runnable threads of all energy tasks.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "energy_sched_class_running",
			Help: "1 while the energy class owns its CPUs.",
		}),
		switches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "energy_sched_switches",
			Help: "Class and task switches since start.",
		}, []string{"kind"}),
		cpuAssigned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "energy_sched_cpu_assigned",
			Help: "Threads of energy tasks accounted to a CPU.",
		}, []string{"cpu"}),
		cpuRunnable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "energy_sched_cpu_runnable",
			Help: "Threads queued to run on a CPU.",
		}, []string{"cpu"}),
		cpuBlocked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "energy_sched_cpu_blocked",
			Help: "1 while a CPU hides its assigned threads from other classes.",
		}, []string{"cpu"}),
		taskRunnable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "energy_sched_task_runnable",
			Help: "Runnable threads per energy task.",
		}, []string{"task"}),
		taskEnergy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "energy_sched_task_energy_joules",
			Help: "Energy charged to a task per RAPL domain.",
		}, []string{"task", "domain"}),
	}

	e.registry.MustRegister(
		e.tasks, e.threads, e.running, e.switches,
		e.cpuAssigned, e.cpuRunnable, e.cpuBlocked,
		e.taskRunnable, e.taskEnergy,
	)
	return e
}

func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// Update replaces the exported state with s. Tasks that left the runqueue
// keep their last energy reading.
func (e *Exporter) Update(s sched.Snapshot) {
	e.tasks.Set(float64(s.NrTasks))
	e.threads.Set(float64(s.NrThreads))
	e.running.Set(boolGauge(s.Running))

	e.switches.WithLabelValues("to_energy").Set(float64(s.Switches.ToEnergy))
	e.switches.WithLabelValues("from_energy").Set(float64(s.Switches.FromEnergy))
	e.switches.WithLabelValues("in").Set(float64(s.Switches.In))
	e.switches.WithLabelValues("distributions").Set(float64(s.Switches.Distributions))

	for _, c := range s.CPUs {
		cpu := strconv.Itoa(c.CPU)
		e.cpuAssigned.WithLabelValues(cpu).Set(float64(c.NrAssigned))
		e.cpuRunnable.WithLabelValues(cpu).Set(float64(c.NrRunnable))
		e.cpuBlocked.WithLabelValues(cpu).Set(boolGauge(c.Blocked))
	}

	e.taskRunnable.Reset()
	for _, t := range s.Tasks {
		id := strconv.Itoa(t.ID)
		e.taskRunnable.WithLabelValues(id).Set(float64(t.NrRunnable))
		e.setEnergy(id, t.Energy)
	}
}

// ObserveResult exports the final energy of every managed task of a run,
// labelled by task name.
func (e *Exporter) ObserveResult(res *sim.Result) {
	for _, t := range res.Tasks {
		if t.Managed {
			e.setEnergy(t.Name, t.Energy)
		}
	}
	e.switches.WithLabelValues("to_energy").Set(float64(res.Switches.ToEnergy))
	e.switches.WithLabelValues("from_energy").Set(float64(res.Switches.FromEnergy))
	e.switches.WithLabelValues("in").Set(float64(res.Switches.In))
	e.switches.WithLabelValues("distributions").Set(float64(res.Switches.Distributions))
}

func (e *Exporter) setEnergy(task string, stats energy.Statistics) {
	for _, d := range energy.Domains() {
		e.taskEnergy.WithLabelValues(task, d.String()).Set(stats.Joules(d))
	}
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	e.logger.WithField("listen", addr).Info("Starting metrics server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
