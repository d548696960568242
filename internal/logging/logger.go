package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var (
	logger          *logrus.Logger
	schedulerLogger *logrus.Logger
)

func init() {
	logger = newTextLogger(nil)

	// Scheduling decisions are emitted from every CPU; they get their own
	// logger so their level can be tuned without touching the general log.
	schedulerLogger = newTextLogger(logrus.FieldMap{
		logrus.FieldKeyTime:  "time",
		logrus.FieldKeyLevel: "level",
		logrus.FieldKeyMsg:   "scheduler_msg",
	})
}

func newTextLogger(fields logrus.FieldMap) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		FieldMap:      fields,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// GetLogger returns the general purpose logger.
func GetLogger() *logrus.Logger {
	return logger
}

// GetSchedulerLogger returns the logger used by the scheduling core.
func GetSchedulerLogger() *logrus.Logger {
	return schedulerLogger
}

// Component returns an entry of the general logger tagged with a component name.
func Component(name string) *logrus.Entry {
	return logger.WithField("component", name)
}

func SetLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(logLevel)
	return nil
}

func SetSchedulerLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	schedulerLogger.SetLevel(logLevel)
	return nil
}

// SetOutput redirects both loggers, e.g. to io.Discard in tests.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
	schedulerLogger.SetOutput(w)
}

func SetFormatter(formatter logrus.Formatter) {
	logger.SetFormatter(formatter)
	schedulerLogger.SetFormatter(formatter)
}
