package config

import "errors"

// ErrNoCPUs indicates a simulation without CPUs.
var ErrNoCPUs = errors.New("simulation needs at least one CPU")
