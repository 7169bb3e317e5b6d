package lockbox

// State is the lockbox state: StateUnlock, StateSweep or a stage name.
type State string

const (
	StateUnlock State = "unlock"
	StateSweep  State = "sweep"
)

// IsStage reports whether s names a stage rather than unlock or sweep.
func (s State) IsStage() bool {
	return s != StateUnlock && s != StateSweep
}

func (s State) String() string { return string(s) }

// LockOn values of a stage output setting.
const (
	LockOn     = "on"
	LockOff    = "off"
	LockIgnore = "ignore"
)
