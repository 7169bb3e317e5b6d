package client

import "errors"

var (
	// ErrDaemonNotRunning means nothing listens on the daemon socket.
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrPermissionDenied means the daemon socket is not accessible to the user.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when the daemon answers 404, for example for an
	// unknown lockbox, output or stage.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the daemon answers 409, when the instrument
	// has no free PID left.
	ErrConflict = errors.New("conflict")
)
