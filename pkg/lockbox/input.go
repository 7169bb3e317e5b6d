package lockbox

import (
	"math"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/config"
)

const (
	defaultLockTolerance = 0.2
	lockCheckSamples     = 64
)

// Calibration is the result of a calibration run.
type Calibration = config.Calibration

// InputSignal is a sensed signal of a lockbox. Its set is fixed by the model.
type InputSignal struct {
	spec InputSpec
	cfg  config.InputConfig
	acq  Acquirer
	set  bool
}

func newInputSignal(spec InputSpec, cfg config.InputConfig, acq Acquirer) *InputSignal {
	if cfg.Signal == "" {
		cfg.Signal = spec.Signal
	}
	return &InputSignal{spec: spec, cfg: cfg, acq: acq}
}

// Name returns the input name.
func (in *InputSignal) Name() string { return in.spec.Name }

// Signal returns the device signal the input reads.
func (in *InputSignal) Signal() string { return in.cfg.Signal }

// Config returns a copy of the persisted input parameters.
func (in *InputSignal) Config() config.InputConfig {
	c := in.cfg
	if c.Calibration != nil {
		cal := *c.Calibration
		c.Calibration = &cal
	}
	return c
}

// Calibration returns the last calibration, or nil.
func (in *InputSignal) Calibration() *Calibration {
	return in.Config().Calibration
}

// ExpectedSignal is the signal the input should read when the physical
// parameter equals setpoint.
func (in *InputSignal) ExpectedSignal(setpoint float64) float64 {
	return in.spec.Response.ExpectedSignal(setpoint, in.cfg.Calibration)
}

// ExpectedSlope is the derivative of ExpectedSignal at setpoint.
func (in *InputSignal) ExpectedSlope(setpoint float64) float64 {
	return in.spec.Response.ExpectedSlope(setpoint, in.cfg.Calibration)
}

func (in *InputSignal) setup() {
	in.set = true
}

func (in *InputSignal) unsetup() {
	in.set = false
}

// calibrate records the statistics of n samples of the signal.
func (in *InputSignal) calibrate(n int) error {
	samples, err := in.acq.Acquire(in.cfg.Signal, n)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to calibrate input %s", in.spec.Name)
	}
	if len(samples) == 0 {
		return pkgerrors.Wrapf(ErrValidation, "no samples acquired for input %s", in.spec.Name)
	}

	cal := &Calibration{
		Min:     math.Inf(1),
		Max:     math.Inf(-1),
		Samples: len(samples),
		At:      time.Now(),
	}
	var sum, sumSq float64
	for _, s := range samples {
		cal.Min = math.Min(cal.Min, s)
		cal.Max = math.Max(cal.Max, s)
		sum += s
		sumSq += s * s
	}
	cal.Mean = sum / float64(len(samples))
	cal.RMS = math.Sqrt(math.Max(sumSq/float64(len(samples))-cal.Mean*cal.Mean, 0))

	in.cfg.Calibration = cal

	logrus.WithFields(logrus.Fields{
		"input": in.spec.Name,
		"min":   cal.Min,
		"max":   cal.Max,
		"mean":  cal.Mean,
		"rms":   cal.RMS,
	}).Info("input calibrated")

	return nil
}

// isLocked reports whether the signal is within tolerance of the value
// expected at setpoint.
func (in *InputSignal) isLocked(setpoint float64) (bool, error) {
	samples, err := in.acq.Acquire(in.cfg.Signal, lockCheckSamples)
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to read input %s", in.spec.Name)
	}
	if len(samples) == 0 {
		return false, nil
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))

	tol := in.cfg.LockTolerance
	if tol <= 0 {
		tol = defaultLockTolerance
	}
	lo, hi := calRange(in.cfg.Calibration)
	expected := in.ExpectedSignal(setpoint)

	logrus.WithFields(logrus.Fields{
		"input":    in.spec.Name,
		"mean":     mean,
		"expected": expected,
	}).Trace("lock check")

	return math.Abs(mean-expected) <= tol*(hi-lo), nil
}

// calRange returns the calibrated signal range, [-1, 1] when uncalibrated.
func calRange(cal *Calibration) (float64, float64) {
	if cal == nil || cal.Max <= cal.Min {
		return -1, 1
	}
	return cal.Min, cal.Max
}
