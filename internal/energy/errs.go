package energy

import "errors"

var (
	// ErrMeterTimeout indicates that a waited read saw no counter change
	// within the configured timeout.
	ErrMeterTimeout = errors.New("energy: counter did not change before timeout")

	// ErrUnsupported indicates that the requested meter is not available on
	// this platform or CPU.
	ErrUnsupported = errors.New("energy: meter unsupported")

	// ErrNotCalibrated indicates that calibration could not derive a usable
	// update interval or unit.
	ErrNotCalibrated = errors.New("energy: meter not calibrated")
)
