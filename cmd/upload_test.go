package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"energy-sched/internal/config"
	"energy-sched/internal/database"
	"energy-sched/internal/sim"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spoolRun(t *testing.T, dir, name string, created time.Time) {
	t.Helper()
	artifact := database.BuildSpoolArtifact(0, "name: "+name+"\n",
		&database.RunMetadata{Name: name, WorkloadChecksum: name},
		&sim.Result{Elapsed: time.Millisecond}, created, created)
	artifact.CreatedAt = created
	_, err := database.WriteSpoolArtifact(dir, artifact)
	require.NoError(t, err)
}

func TestLoadSpoolOrdersAndSkipsBroken(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	spoolRun(t, dir, "late", base.Add(time.Hour))
	spoolRun(t, dir, "early", base)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run_9_x_y.json.gz"), []byte("not gzip"), 0o644))

	runs, err := loadSpool(dir)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "early", runs[0].artifact.RunName)
	assert.Equal(t, "late", runs[1].artifact.RunName)
}

func TestUploadSpoolNeedsDatabase(t *testing.T) {
	_, err := uploadSpool(context.Background(), config.DatabaseConfig{}, t.TempDir(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database configured")
}

func TestUploadSpoolEmptyDirDoesNotConnect(t *testing.T) {
	n, err := uploadSpool(context.Background(), config.DatabaseConfig{Host: "http://127.0.0.1:1"}, t.TempDir(), false)
	require.NoError(t, err)
	assert.Zero(t, n)
}
