package fpga

import "errors"

var (
	// ErrNoPIDAvailable is returned when every PID of the pool is owned.
	ErrNoPIDAvailable = errors.New("all pids are currently in use")

	// ErrPIDIndex is returned for PID indices outside the device range.
	ErrPIDIndex = errors.New("pid index out of range")

	// ErrNotOpen is returned when the device is used before Open.
	ErrNotOpen = errors.New("device not open")
)
