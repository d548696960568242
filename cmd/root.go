// Package cmd implements the energy-sched command line.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"energy-sched/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const Version = "0.3.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err != nil {
		// Try to load from the application directory
		execPath, err := os.Executable()
		if err != nil {
			return
		}
		envFile = filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(envFile); err != nil {
			return
		}
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
	} else {
		logger.WithField("file", envFile).Debug("Loaded environment variables")
	}
}

func newRootCommand() *cobra.Command {
	var logLevel, schedulerLogLevel string

	rootCmd := &cobra.Command{
		Use:           "energy-sched",
		Short:         "Energy-aware two-level scheduler",
		Long:          "Simulates, calibrates and administers an energy-aware scheduling class that runs one task at a time across a CPU domain",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			if schedulerLogLevel != "" {
				if err := logging.SetSchedulerLogLevel(schedulerLogLevel); err != nil {
					return fmt.Errorf("invalid scheduler log level: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&schedulerLogLevel, "scheduler-log-level", "", "Set log level of scheduling decisions")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newCalibrateCommand())
	rootCmd.AddCommand(newManageCommand())
	rootCmd.AddCommand(newUnmanageCommand())
	rootCmd.AddCommand(newUploadCommand())

	return rootCmd
}

// Execute runs the command line.
func Execute() error {
	loadEnvironment()
	return newRootCommand().Execute()
}
