package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"energy-sched/internal/config"
	"energy-sched/internal/energy"
	"energy-sched/internal/sim"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRun(t *testing.T) (*config.Config, *sim.Result) {
	t.Helper()
	cfg, err := config.Parse([]byte(`name: spool
simulation:
  cpus: 2
  tasks:
    solver: {threads: 2, work: 10ms, managed: true}
    daemon: {threads: 1, work: 5ms}
`))
	require.NoError(t, err)

	var stats energy.Statistics
	stats.MicroJoules[energy.Package] = 1234
	stats.Updates = 3
	res := &sim.Result{
		Elapsed: 12 * time.Millisecond,
		Ticks:   13,
		Tasks: []sim.TaskResult{
			{Name: "daemon", PID: 1100, Threads: 1, Done: true, Completed: 5 * time.Millisecond, Executed: 5 * time.Millisecond},
			{Name: "solver", PID: 1000, Threads: 2, Managed: true, Done: true, Completed: 12 * time.Millisecond, Executed: 20 * time.Millisecond, Energy: stats},
		},
	}
	return cfg, res
}

func TestCollectRunMetadata(t *testing.T) {
	cfg, res := testRun(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	meta, err := CollectRunMetadata(7, cfg, "name: spool", res, start, start.Add(time.Second), "test")
	require.NoError(t, err)

	checksum, err := config.WorkloadChecksum(cfg)
	require.NoError(t, err)
	assert.Equal(t, checksum, meta.WorkloadChecksum)
	assert.Equal(t, 7, meta.RunID)
	assert.Equal(t, "2026-03-01T12:00:00Z", meta.RunStarted)
	assert.Equal(t, int64(12*time.Millisecond), meta.SimulatedNS)
	assert.Equal(t, 2, meta.TotalTasks)
	assert.Equal(t, "sim", meta.Meter)
	assert.NotEmpty(t, meta.OSInfo)

	_, err = CollectRunMetadata(7, nil, "", res, start, start, "test")
	assert.Error(t, err)
}

func TestTaskPoints(t *testing.T) {
	cfg, res := testRun(t)
	meta, err := CollectRunMetadata(3, cfg, "", res, time.Now(), time.Now(), "test")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0)
	points := TaskPoints(meta, res, at)
	require.Len(t, points, 2)

	line := write.PointToLineProtocol(points[1], time.Nanosecond)
	assert.True(t, strings.HasPrefix(line, "task_energy,"), line)
	assert.Contains(t, line, "run_id=3")
	assert.Contains(t, line, "task=solver")
	assert.Contains(t, line, "managed=true")
	assert.Contains(t, line, "package_uj=1234u")
	assert.Contains(t, line, "updates=3u")
	assert.Contains(t, line, "done=true")
	assert.Contains(t, line, "1700000000000000000")

	meta2 := MetadataPoint(meta, at)
	assert.Contains(t, write.PointToLineProtocol(meta2, time.Nanosecond), "run_meta,run_id=3")
}

func TestSpoolArtifactRoundTrip(t *testing.T) {
	cfg, res := testRun(t)
	start := time.Now().Add(-time.Minute)
	meta, err := CollectRunMetadata(1, cfg, "name: spool", res, start, time.Now(), "test")
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "spool")
	path, err := WriteSpoolArtifact(dir, BuildSpoolArtifact(1, "name: spool", meta, res, start, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, "_"+meta.WorkloadChecksum+".json.gz"), path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files remain")

	back, err := ReadSpoolArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, "spool", back.RunName)
	assert.Equal(t, "name: spool", back.ConfigContent)
	require.NotNil(t, back.Result)
	solver, ok := back.Result.Task("solver")
	require.True(t, ok)
	assert.Equal(t, uint64(1234), solver.Energy.MicroJoules[energy.Package])
}

func TestWriteSpoolArtifactRejectsNil(t *testing.T) {
	_, err := WriteSpoolArtifact(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestDefaultSpoolDir(t *testing.T) {
	t.Setenv("ENERGY_SCHED_SPOOL_DIR", "/tmp/energy-spool")
	assert.Equal(t, "/tmp/energy-spool", DefaultSpoolDir())

	t.Setenv("ENERGY_SCHED_SPOOL_DIR", "")
	assert.Equal(t, "spool", DefaultSpoolDir())
}
