package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"energy-sched/internal/config"
	"energy-sched/internal/database"
	"energy-sched/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const uploadedSuffix = ".uploaded"

func newUploadCommand() *cobra.Command {
	var configFile, spoolDir string
	var keep bool

	uploadCmd := &cobra.Command{
		Use:   "upload",
		Short: "Write spooled run results to InfluxDB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if spoolDir == "" {
				spoolDir = cfg.Data.SpoolDir
			}
			if spoolDir == "" {
				spoolDir = database.DefaultSpoolDir()
			}
			_, err = uploadSpool(cmd.Context(), cfg.Data.DB, spoolDir, keep)
			return err
		},
	}
	uploadCmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file with the database settings")
	uploadCmd.Flags().StringVar(&spoolDir, "spool-dir", "", "Directory holding spooled results")
	uploadCmd.Flags().BoolVar(&keep, "keep", false, "Leave uploaded artifacts untouched")
	_ = uploadCmd.MarkFlagRequired("config")

	return uploadCmd
}

type spooledRun struct {
	path     string
	artifact *database.SpoolArtifact
}

// loadSpool reads every pending artifact in dir, oldest first. Unreadable or
// incomplete artifacts are skipped with a warning.
func loadSpool(dir string) ([]spooledRun, error) {
	logger := logging.GetLogger()

	paths, err := filepath.Glob(filepath.Join(dir, "run_*.json.gz"))
	if err != nil {
		return nil, err
	}

	var runs []spooledRun
	for _, path := range paths {
		artifact, err := database.ReadSpoolArtifact(path)
		if err != nil {
			logger.WithField("path", path).WithError(err).Warn("Skipping unreadable spool artifact")
			continue
		}
		if artifact.Metadata == nil || artifact.Result == nil {
			logger.WithField("path", path).Warn("Skipping incomplete spool artifact")
			continue
		}
		runs = append(runs, spooledRun{path: path, artifact: artifact})
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].artifact.CreatedAt.Before(runs[j].artifact.CreatedAt)
	})
	return runs, nil
}

// uploadSpool writes the spooled runs under fresh run ids and marks each
// uploaded file unless keep is set. It returns the number of uploaded runs.
func uploadSpool(ctx context.Context, dbCfg config.DatabaseConfig, dir string, keep bool) (int, error) {
	logger := logging.GetLogger()

	if !dbCfg.Enabled() {
		return 0, fmt.Errorf("no database configured")
	}

	runs, err := loadSpool(dir)
	if err != nil {
		return 0, err
	}
	if len(runs) == 0 {
		logger.WithField("spool_dir", dir).Info("Nothing to upload")
		return 0, nil
	}

	db, err := database.NewInfluxDBClient(dbCfg)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	lastID, err := db.GetLastRunID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to query last run ID: %w", err)
	}

	uploaded := 0
	for _, run := range runs {
		meta := *run.artifact.Metadata
		meta.RunID = lastID + 1

		if err := db.WriteResult(ctx, &meta, run.artifact.Result, run.artifact.EndTime); err != nil {
			return uploaded, fmt.Errorf("upload %s: %w", run.path, err)
		}
		if err := db.WriteMetadata(ctx, &meta); err != nil {
			return uploaded, fmt.Errorf("upload %s: %w", run.path, err)
		}
		lastID = meta.RunID
		uploaded++

		if !keep {
			if err := os.Rename(run.path, run.path+uploadedSuffix); err != nil {
				logger.WithField("path", run.path).WithError(err).Warn("Failed to mark artifact as uploaded")
			}
		}

		logger.WithFields(logrus.Fields{
			"run_id": meta.RunID,
			"path":   run.path,
		}).Info("Uploaded spooled run")
	}
	return uploaded, nil
}
