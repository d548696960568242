package database

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"energy-sched/internal/sim"
)

type SpoolArtifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	RunID            int    `json:"run_id"`
	RunName          string `json:"run_name"`
	WorkloadChecksum string `json:"workload_checksum"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ConfigContent string `json:"config_content"`

	Metadata *RunMetadata `json:"metadata"`
	Result   *sim.Result  `json:"result"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("ENERGY_SCHED_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// WriteSpoolArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteSpoolArtifact(dir string, artifact *SpoolArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("spool artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	checksum := artifact.WorkloadChecksum
	if checksum == "" {
		checksum = "nocsum"
	}
	name := fmt.Sprintf(
		"run_%d_%s_%s.json.gz",
		artifact.RunID,
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		checksum,
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// ReadSpoolArtifact loads an artifact written by WriteSpoolArtifact.
func ReadSpoolArtifact(path string) (*SpoolArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	var artifact SpoolArtifact
	if err := json.NewDecoder(gz).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("decode spool artifact: %w", err)
	}
	return &artifact, nil
}

// BuildSpoolArtifact constructs a spool artifact from the in-memory run results.
func BuildSpoolArtifact(runID int, configContent string, metadata *RunMetadata, result *sim.Result, startTime, endTime time.Time) *SpoolArtifact {
	artifact := &SpoolArtifact{
		Version:       1,
		CreatedAt:     time.Now(),
		RunID:         runID,
		StartTime:     startTime,
		EndTime:       endTime,
		ConfigContent: configContent,
		Metadata:      metadata,
		Result:        result,
	}
	if metadata != nil {
		artifact.RunName = metadata.Name
		artifact.WorkloadChecksum = metadata.WorkloadChecksum
	}
	return artifact
}
