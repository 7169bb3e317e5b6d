package fpga

// Mode is the operating mode of a PID block.
type Mode string

const (
	// ModeOff holds the output at its offset with feedback disabled.
	ModeOff Mode = "off"
	// ModeSweep drives the output with a triangular scan.
	ModeSweep Mode = "sweep"
	// ModeLock closes the feedback loop on the configured input.
	ModeLock Mode = "lock"
)

// PIDConfig is the full parameter set of one PID block.
type PIDConfig struct {
	Mode     Mode    `json:"mode"`
	Input    string  `json:"input"`
	Output   string  `json:"output"`
	Setpoint float64 `json:"setpoint"`
	P        float64 `json:"p"`
	I        float64 `json:"i"`
	// Ival is the integrator value. It is only written through
	// ResetIntegrator and is reported back by ReadPID.
	Ival           float64 `json:"ival"`
	Offset         float64 `json:"offset"`
	Min            float64 `json:"min"`
	Max            float64 `json:"max"`
	SweepAmplitude float64 `json:"sweepAmplitude"`
	SweepFrequency float64 `json:"sweepFrequency"`
}

// Device is the instrument backend a lockbox drives. Implementations are
// expected to be safe for concurrent use.
type Device interface {
	Open() error
	Close() error

	// PIDCount returns the number of PID blocks the device exposes.
	PIDCount() int
	WritePID(index int, c PIDConfig) error
	ReadPID(index int) (PIDConfig, error)
	ResetIntegrator(index int) error

	// Acquire returns n consecutive samples of the named signal.
	Acquire(signal string, n int) ([]float64, error)
}
