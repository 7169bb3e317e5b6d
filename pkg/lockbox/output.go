package lockbox

import (
	"math"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/fpga"
)

// OutputSignal is an actuator channel of a lockbox, backed by one hardware
// PID. The methods that touch the hardware are only called by the owning
// Lockbox, with its mutex held.
type OutputSignal struct {
	name string
	pid  *fpga.PID
	cfg  config.OutputConfig
	mode fpga.Mode

	// Parameters of the last lock, so that reconfiguring a locked output
	// keeps it locked.
	lockInput    string
	lockSetpoint float64
	lockGain     float64
	offset       float64
}

func newOutputSignal(name string, pid *fpga.PID, cfg config.OutputConfig) *OutputSignal {
	cfg.Name = name
	if cfg.MinVoltage == 0 && cfg.MaxVoltage == 0 {
		cfg.MinVoltage, cfg.MaxVoltage = -1, 1
	}
	return &OutputSignal{
		name: name,
		pid:  pid,
		cfg:  cfg,
		mode: fpga.ModeOff,
	}
}

// defaultOutputConfig is the configuration of a newly added output.
func defaultOutputConfig(name string) config.OutputConfig {
	return config.OutputConfig{
		Name:           name,
		Channel:        "out1",
		P:              0.1,
		I:              10,
		SweepAmplitude: 1,
		SweepFrequency: 50,
		MinVoltage:     -1,
		MaxVoltage:     1,
	}
}

// Name returns the output name.
func (o *OutputSignal) Name() string { return o.name }

// Mode returns the mode last written to the PID.
func (o *OutputSignal) Mode() fpga.Mode { return o.mode }

// Config returns a copy of the output parameters.
func (o *OutputSignal) Config() config.OutputConfig { return o.cfg }

// PIDName returns the name of the PID backing the output, empty once the
// output was cleared.
func (o *OutputSignal) PIDName() string {
	if o.pid == nil {
		return ""
	}
	return o.pid.Name()
}

func (o *OutputSignal) base() fpga.PIDConfig {
	return fpga.PIDConfig{
		Mode:   fpga.ModeOff,
		Output: o.cfg.Channel,
		Offset: o.offset,
		Min:    o.cfg.MinVoltage,
		Max:    o.cfg.MaxVoltage,
	}
}

func (o *OutputSignal) write(c fpga.PIDConfig) error {
	if o.pid == nil {
		return pkgerrors.Wrapf(ErrClosed, "output %s has no pid", o.name)
	}
	logrus.WithFields(logrus.Fields{
		"output": o.name,
		"pid":    o.pid.Name(),
		"mode":   c.Mode,
	}).Trace("writing output")
	if err := o.pid.Write(c); err != nil {
		return pkgerrors.Wrapf(err, "output %s", o.name)
	}
	o.mode = c.Mode
	return nil
}

// setup writes the idle parameters.
func (o *OutputSignal) setup() error {
	return o.write(o.base())
}

// unlock disables the feedback. The integrator is kept.
func (o *OutputSignal) unlock() error {
	return o.write(o.base())
}

func (o *OutputSignal) sweep() error {
	c := o.base()
	c.Mode = fpga.ModeSweep
	c.Offset = o.cfg.SweepOffset
	c.SweepAmplitude = o.cfg.SweepAmplitude
	c.SweepFrequency = o.cfg.SweepFrequency
	return o.write(c)
}

func (o *OutputSignal) resetIval() error {
	if o.pid == nil {
		return pkgerrors.Wrapf(ErrClosed, "output %s has no pid", o.name)
	}
	if err := o.pid.ResetIntegrator(); err != nil {
		return pkgerrors.Wrapf(err, "output %s", o.name)
	}
	return nil
}

// setOffset moves the idle offset and restarts the integrator from it.
func (o *OutputSignal) setOffset(v float64) error {
	o.offset = v
	if err := o.resetIval(); err != nil {
		return err
	}
	if o.mode == fpga.ModeOff {
		return o.unlock()
	}
	return nil
}

// lock closes the loop on in. The gains are normalized by the slope of the
// input at the setpoint, so the configured P and I are loop gains.
func (o *OutputSignal) lock(in *InputSignal, setpoint, gainFactor float64) error {
	slope := in.ExpectedSlope(setpoint)
	if slope == 0 || math.IsNaN(slope) || math.IsInf(slope, 0) {
		slope = 1
	}

	c := o.base()
	c.Mode = fpga.ModeLock
	c.Input = in.Signal()
	c.Setpoint = in.ExpectedSignal(setpoint)
	c.P = o.cfg.P * gainFactor / slope
	c.I = o.cfg.I * gainFactor / slope

	if err := o.write(c); err != nil {
		return err
	}
	o.lockInput = in.Name()
	o.lockSetpoint = setpoint
	o.lockGain = gainFactor
	return nil
}

// clear switches the PID off and hands it back to pool. It is safe to call
// more than once.
func (o *OutputSignal) clear(pool ResourcePool) {
	if o.pid == nil {
		return
	}
	if err := o.pid.Write(fpga.PIDConfig{Mode: fpga.ModeOff}); err != nil {
		logrus.WithError(err).WithField("output", o.name).Warn("failed to switch off output")
	}
	pool.Release(o.pid)
	o.pid = nil
	o.mode = fpga.ModeOff
}
