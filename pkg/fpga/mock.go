package fpga

import (
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var _ Device = &Mock{}

// Mock is an in-memory simulated instrument. Signals are served from
// prefilled sample buffers, PID writes are recorded.
type Mock struct {
	mu      sync.Mutex
	open    bool
	pids    []PIDConfig
	signals map[string][]float64
	errs    map[string]error
	writes  int
}

// NewMock returns a new mocked device with pidCount PID blocks and prefill
// sample buffers.
func NewMock(pidCount int, prefillSignals map[string][]float64) *Mock {
	m := &Mock{
		pids:    make([]PIDConfig, pidCount),
		signals: make(map[string][]float64),
		errs:    make(map[string]error),
	}
	for i := range m.pids {
		m.pids[i].Mode = ModeOff
	}
	for name, samples := range prefillSignals {
		m.SetSignal(name, samples)
	}

	return m
}

// Open opens the device.
func (m *Mock) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.open = true
	logrus.WithField("pids", len(m.pids)).Debug("simulated device opened")

	return nil
}

// Close closes the device. Every PID is switched off.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.pids {
		m.pids[i].Mode = ModeOff
	}
	m.open = false

	return nil
}

// PIDCount returns the number of PID blocks.
func (m *Mock) PIDCount() int {
	return len(m.pids)
}

// WritePID stores the configuration of a PID block. The integrator value is
// left untouched.
func (m *Mock) WritePID(index int, c PIDConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(index); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"pid":  index,
		"mode": c.Mode,
		"val":  c,
	}).Trace("Trying to write PID")

	c.Ival = m.pids[index].Ival
	m.pids[index] = c
	m.writes++

	return nil
}

// ReadPID returns the current configuration of a PID block.
func (m *Mock) ReadPID(index int) (PIDConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(index); err != nil {
		return PIDConfig{}, err
	}

	return m.pids[index], nil
}

// ResetIntegrator zeroes the integrator of a PID block.
func (m *Mock) ResetIntegrator(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(index); err != nil {
		return err
	}
	m.pids[index].Ival = 0

	return nil
}

// Acquire returns n samples of signal, cycling over the prefilled buffer.
// Unknown signals read as zero.
func (m *Mock) Acquire(signal string, n int) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return nil, ErrNotOpen
	}
	if err, ok := m.errs[signal]; ok {
		return nil, pkgerrors.Wrapf(err, "failed to acquire %s", signal)
	}

	ret := make([]float64, n)
	buf := m.signals[signal]
	if len(buf) == 0 {
		return ret, nil
	}
	for i := range ret {
		ret[i] = buf[i%len(buf)]
	}

	return ret, nil
}

// SetSignal replaces the sample buffer of signal.
func (m *Mock) SetSignal(signal string, samples []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.signals[signal] = append([]float64(nil), samples...)
}

// SetAcquireError makes every acquisition of signal fail with err. A nil err
// clears the failure.
func (m *Mock) SetAcquireError(signal string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.errs, signal)
		return
	}
	m.errs[signal] = err
}

// SetIntegrator sets the integrator value of a PID block, simulating a loop
// that has been running.
func (m *Mock) SetIntegrator(index int, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.check(index) == nil {
		m.pids[index].Ival = v
	}
}

// Writes returns the number of successful PID writes.
func (m *Mock) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.writes
}

func (m *Mock) check(index int) error {
	if !m.open {
		return ErrNotOpen
	}
	if index < 0 || index >= len(m.pids) {
		return pkgerrors.Wrapf(ErrPIDIndex, "pid %d", index)
	}
	return nil
}
