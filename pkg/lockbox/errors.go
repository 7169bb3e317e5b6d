package lockbox

var (
	// ErrValidation is returned for values outside their allowed set, such as
	// an unknown state or a negative stage duration.
	ErrValidation = &lockboxError{"invalid value"}
	// ErrNotFound is returned for unknown stage, output, input or model names.
	ErrNotFound = &lockboxError{"not found"}
	// ErrNameConflict is returned when a rename would duplicate a name.
	ErrNameConflict = &lockboxError{"name already in use"}
	// ErrResourceExhausted is returned when no hardware PID is free.
	ErrResourceExhausted = &lockboxError{"no hardware pid available"}
	// ErrInvariantViolation is returned when removing the last output.
	ErrInvariantViolation = &lockboxError{"there has to be at least one output"}
	// ErrConfiguration is returned when persisted settings point at
	// something that does not exist.
	ErrConfiguration = &lockboxError{"invalid configuration"}
	// ErrClosed is returned by a lockbox that was replaced by a model switch.
	ErrClosed = &lockboxError{"lockbox closed"}
)

type lockboxError struct{ msg string }

func (e *lockboxError) Error() string { return e.msg }
