package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"energy-sched/internal/energy"
	"energy-sched/internal/sched"

	log "github.com/sirupsen/logrus"
)

// ClassEntry is the state of the scheduling class at one sampling step.
type ClassEntry struct {
	SamplingStep int64         `json:"sampling_step"`
	Time         time.Duration `json:"time_ns"`

	Running   bool `json:"running"`
	NrTasks   int  `json:"nr_tasks"`
	NrThreads int  `json:"nr_threads"`

	Switches sched.SwitchCounters `json:"switches"`
}

// TaskEntry is the state of one energy task at one sampling step.
type TaskEntry struct {
	SamplingStep int64         `json:"sampling_step"`
	Time         time.Duration `json:"time_ns"`

	State      string `json:"state"`
	NrRunnable int    `json:"nr_runnable"`
	Domain     string `json:"domain"`

	Joules  [energy.NumDomains]float64 `json:"joules"`
	Updates uint64                     `json:"updates"`
}

// TaskDataFrame holds the samples of a single task
type TaskDataFrame struct {
	TaskID   int    `json:"task_id"`
	TaskName string `json:"task_name"`

	Entries []TaskEntry `json:"entries"`

	mutex sync.RWMutex
}

// RunDataFrames holds the timeline of a whole run
type RunDataFrames struct {
	RunName     string    `json:"run_name"`
	RunStarted  time.Time `json:"run_started"`
	RunFinished time.Time `json:"run_finished,omitempty"`

	Class []ClassEntry             `json:"class"`
	Tasks map[int]*TaskDataFrame `json:"tasks"`

	step  int64
	mutex sync.RWMutex
}

func NewRunDataFrames(runName string, runStarted time.Time) *RunDataFrames {
	return &RunDataFrames{
		RunName:    runName,
		RunStarted: runStarted,
		Tasks:      make(map[int]*TaskDataFrame),
	}
}

// AddSnapshot records the class and every task visible in snap at time now.
func (rdf *RunDataFrames) AddSnapshot(now time.Duration, snap sched.Snapshot) {
	rdf.mutex.Lock()
	defer rdf.mutex.Unlock()

	step := rdf.step
	rdf.step++

	rdf.Class = append(rdf.Class, ClassEntry{
		SamplingStep: step,
		Time:         now,
		Running:      snap.Running,
		NrTasks:      snap.NrTasks,
		NrThreads:    snap.NrThreads,
		Switches:     snap.Switches,
	})

	for _, ts := range snap.Tasks {
		taskDF, exists := rdf.Tasks[ts.ID]
		if !exists {
			taskDF = &TaskDataFrame{TaskID: ts.ID}
			rdf.Tasks[ts.ID] = taskDF

			log.WithField("task_id", ts.ID).Debug("Added task DataFrame")
		}

		entry := TaskEntry{
			SamplingStep: step,
			Time:         now,
			State:        ts.State.String(),
			NrRunnable:   ts.NrRunnable,
			Domain:       ts.Domain.String(),
			Updates:      ts.Energy.Updates,
		}
		for _, d := range energy.Domains() {
			entry.Joules[d] = ts.Energy.Joules(d)
		}

		taskDF.mutex.Lock()
		taskDF.Entries = append(taskDF.Entries, entry)
		taskDF.mutex.Unlock()
	}
}

// NameTask attaches a readable name to the frame of task id, if sampled.
func (rdf *RunDataFrames) NameTask(id int, name string) {
	rdf.mutex.RLock()
	defer rdf.mutex.RUnlock()

	if taskDF, ok := rdf.Tasks[id]; ok {
		taskDF.mutex.Lock()
		taskDF.TaskName = name
		taskDF.mutex.Unlock()
	}
}

func (rdf *RunDataFrames) SetRunFinished(finishedTime time.Time) {
	rdf.mutex.Lock()
	defer rdf.mutex.Unlock()

	rdf.RunFinished = finishedTime
}

func (rdf *RunDataFrames) GetTaskCount() int {
	rdf.mutex.RLock()
	defer rdf.mutex.RUnlock()

	return len(rdf.Tasks)
}

// GetTotalDataPoints counts class samples and task samples together.
func (rdf *RunDataFrames) GetTotalDataPoints() int {
	rdf.mutex.RLock()
	defer rdf.mutex.RUnlock()

	total := len(rdf.Class)
	for _, taskDF := range rdf.Tasks {
		taskDF.mutex.RLock()
		total += len(taskDF.Entries)
		taskDF.mutex.RUnlock()
	}
	return total
}

func (rdf *RunDataFrames) LogDataFramesSummary() {
	log.WithFields(log.Fields{
		"run_name":          rdf.RunName,
		"run_started":       rdf.RunStarted,
		"run_finished":      rdf.RunFinished,
		"task_count":        rdf.GetTaskCount(),
		"total_data_points": rdf.GetTotalDataPoints(),
	}).Info("Run DataFrames Summary")

	rdf.mutex.RLock()
	defer rdf.mutex.RUnlock()

	for _, id := range rdf.taskIDs() {
		taskDF := rdf.Tasks[id]
		taskDF.mutex.RLock()
		entriesCount := len(taskDF.Entries)

		var first, last time.Duration
		if entriesCount > 0 {
			first = taskDF.Entries[0].Time
			last = taskDF.Entries[entriesCount-1].Time
		}

		log.WithFields(log.Fields{
			"task_id":       id,
			"task_name":     taskDF.TaskName,
			"entries_count": entriesCount,
			"first_sample":  first,
			"last_sample":   last,
		}).Debug("Task DataFrame Summary")

		taskDF.mutex.RUnlock()
	}
}

// ExportToCSV writes one file for the class and one per task into
// exportPath and returns the written paths.
func (rdf *RunDataFrames) ExportToCSV(exportPath string) ([]string, error) {
	rdf.mutex.RLock()
	defer rdf.mutex.RUnlock()

	if err := os.MkdirAll(exportPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	timestamp := rdf.RunStarted.Format("20060102_150405")
	var written []string

	classFile := filepath.Join(exportPath, fmt.Sprintf("%s_%s_class.csv", rdf.RunName, timestamp))
	if err := rdf.exportClass(classFile); err != nil {
		return written, fmt.Errorf("failed to export class timeline: %w", err)
	}
	written = append(written, classFile)

	for _, id := range rdf.taskIDs() {
		taskDF := rdf.Tasks[id]
		label := strconv.Itoa(id)
		if taskDF.TaskName != "" {
			label = taskDF.TaskName
		}
		filename := filepath.Join(exportPath, fmt.Sprintf("%s_%s_task_%s.csv", rdf.RunName, timestamp, label))
		if err := taskDF.ExportToCSV(filename); err != nil {
			return written, fmt.Errorf("failed to export task %d: %w", id, err)
		}
		written = append(written, filename)
	}

	log.WithFields(log.Fields{
		"export_path": exportPath,
		"files":       len(written),
	}).Info("Exported run DataFrames to CSV")

	return written, nil
}

func (rdf *RunDataFrames) taskIDs() []int {
	ids := make([]int, 0, len(rdf.Tasks))
	for id := range rdf.Tasks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (rdf *RunDataFrames) exportClass(filename string) error {
	rows := [][]string{{
		"sampling_step", "time_ns", "running", "nr_tasks", "nr_threads",
		"to_energy", "from_energy", "switch_in", "distributions",
	}}
	for _, e := range rdf.Class {
		rows = append(rows, []string{
			strconv.FormatInt(e.SamplingStep, 10),
			strconv.FormatInt(int64(e.Time), 10),
			strconv.FormatBool(e.Running),
			strconv.Itoa(e.NrTasks),
			strconv.Itoa(e.NrThreads),
			strconv.FormatUint(e.Switches.ToEnergy, 10),
			strconv.FormatUint(e.Switches.FromEnergy, 10),
			strconv.FormatUint(e.Switches.In, 10),
			strconv.FormatUint(e.Switches.Distributions, 10),
		})
	}
	return writeCSV(filename, rows)
}

func (tdf *TaskDataFrame) ExportToCSV(filename string) error {
	tdf.mutex.RLock()
	defer tdf.mutex.RUnlock()

	header := []string{"sampling_step", "time_ns", "state", "nr_runnable", "domain"}
	for _, d := range energy.Domains() {
		header = append(header, d.String()+"_joules")
	}
	header = append(header, "updates")

	rows := [][]string{header}
	for _, e := range tdf.Entries {
		row := []string{
			strconv.FormatInt(e.SamplingStep, 10),
			strconv.FormatInt(int64(e.Time), 10),
			e.State,
			strconv.Itoa(e.NrRunnable),
			e.Domain,
		}
		for _, d := range energy.Domains() {
			row = append(row, strconv.FormatFloat(e.Joules[d], 'f', 6, 64))
		}
		row = append(row, strconv.FormatUint(e.Updates, 10))
		rows = append(rows, row)
	}
	return writeCSV(filename, rows)
}

func writeCSV(filename string, rows [][]string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
