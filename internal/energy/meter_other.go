//go:build !linux

package energy

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Hardware meters need the Linux msr driver or perf power PMU.

func OpenMSRMeter(int, time.Duration, logrus.FieldLogger) (Meter, error) {
	return nil, ErrUnsupported
}

func OpenPerfMeter(int, time.Duration, logrus.FieldLogger) (Meter, error) {
	return nil, ErrUnsupported
}
