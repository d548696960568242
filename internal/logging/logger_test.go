package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetLogLevel(t *testing.T) {
	defer func() {
		GetLogger().SetLevel(logrus.InfoLevel)
		GetSchedulerLogger().SetLevel(logrus.InfoLevel)
	}()

	if err := SetLogLevel("debug"); err != nil {
		t.Fatalf("SetLogLevel: %v", err)
	}
	if GetLogger().GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", GetLogger().GetLevel())
	}
	if err := SetSchedulerLogLevel("warn"); err != nil {
		t.Fatalf("SetSchedulerLogLevel: %v", err)
	}
	if GetSchedulerLogger().GetLevel() != logrus.WarnLevel {
		t.Fatalf("expected warn level, got %s", GetSchedulerLogger().GetLevel())
	}
	if err := SetLogLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestComponentTagsEntries(t *testing.T) {
	entry := Component("sim")
	if entry.Data["component"] != "sim" {
		t.Fatalf("expected component field, got %v", entry.Data)
	}
}
