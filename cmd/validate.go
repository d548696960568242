package cmd

import (
	"fmt"

	"energy-sched/internal/config"
	"energy-sched/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var configFile string

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(configFile)
		},
	}
	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
	_ = validateCmd.MarkFlagRequired("config")

	return validateCmd
}

func validateConfig(configFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}

	checksum, err := config.WorkloadChecksum(cfg)
	if err != nil {
		return fmt.Errorf("workload checksum: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"config_file": configFile,
		"tasks":       len(cfg.Simulation.Tasks),
		"workload":    checksum,
	}).Info("Configuration is valid")
	return nil
}
