package lockbox

import (
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/events"
	"github.com/charlie0129/lockbox/pkg/fpga"
)

// AddOutput creates an output named after the first unused "outputN" and
// binds it to a free PID.
func (lb *Lockbox) AddOutput() (*OutputSignal, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return nil, err
	}
	o, err := lb.addOutput()
	if err != nil {
		return nil, err
	}
	lb.sequence.updateOutputs(lb.outputNames())
	lb.saveSequence()
	return o, nil
}

// RemoveOutput removes the named output and releases its PID. Removing the
// last output fails with ErrInvariantViolation unless allowRemoveLast is set.
func (lb *Lockbox) RemoveOutput(name string, allowRemoveLast bool) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return err
	}
	if err := lb.removeOutput(name, allowRemoveLast); err != nil {
		return err
	}
	lb.sequence.updateOutputs(lb.outputNames())
	lb.saveSequence()
	return nil
}

// RemoveAllOutputs removes every output, the last one included.
func (lb *Lockbox) RemoveAllOutputs() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return err
	}
	for len(lb.outputs) > 0 {
		if err := lb.removeOutput(lb.outputs[0].name, true); err != nil {
			return err
		}
	}
	lb.sequence.updateOutputs(nil)
	lb.saveSequence()
	return nil
}

// RenameOutput renames an output together with its persisted section, its
// PID owner tag and its stage slots.
func (lb *Lockbox) RenameOutput(name, newName string) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return err
	}

	o := lb.output(name)
	if o == nil {
		return pkgerrors.Wrapf(ErrNotFound, "output %q", name)
	}
	if newName == name {
		return nil
	}
	if newName == "" {
		return pkgerrors.Wrapf(ErrValidation, "output name must not be empty")
	}
	if other := lb.output(newName); other != nil && other != o {
		return pkgerrors.Wrapf(ErrNameConflict, "output %q", newName)
	}

	o.name = newName
	o.cfg.Name = newName
	if o.pid != nil {
		lb.pool.SetOwner(o.pid, lb.pidOwner(newName))
	}
	lb.store.RenameOutput(name, newName)
	lb.sequence.renameOutput(name, newName)
	if lb.defaultSweep == name {
		lb.defaultSweep = newName
		lb.store.SetDefaultSweepOutput(newName)
	}
	lb.saveSequence()

	logrus.WithFields(logrus.Fields{
		"lockbox": lb.name,
		"from":    name,
		"to":      newName,
	}).Info("output renamed")

	lb.notify(events.OutputRenamed, events.RenamedEvent{
		Lockbox: lb.name,
		From:    name,
		To:      newName,
		Ts:      time.Now().Unix(),
	})
	return nil
}

// ConfigureOutput replaces the parameters of an output and writes them to
// its PID in the output's current mode.
func (lb *Lockbox) ConfigureOutput(name string, c config.OutputConfig) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return err
	}
	o := lb.output(name)
	if o == nil {
		return pkgerrors.Wrapf(ErrNotFound, "output %q", name)
	}
	if c.MaxVoltage <= c.MinVoltage {
		return pkgerrors.Wrapf(ErrValidation, "output %s: maxVoltage %v must be above minVoltage %v", name, c.MaxVoltage, c.MinVoltage)
	}
	if c.SweepFrequency < 0 || c.SweepAmplitude < 0 {
		return pkgerrors.Wrapf(ErrValidation, "output %s: sweep parameters must not be negative", name)
	}

	c.Name = name
	o.cfg = c
	lb.store.SetOutput(name, c)
	lb.save()

	switch o.mode {
	case fpga.ModeSweep:
		return o.sweep()
	case fpga.ModeLock:
		in, err := lb.lockInput(o.lockInput)
		if err != nil {
			return err
		}
		return o.lock(in, o.lockSetpoint, o.lockGain)
	default:
		return o.setup()
	}
}

// Output returns the named output.
func (lb *Lockbox) Output(name string) (*OutputSignal, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	o := lb.output(name)
	if o == nil {
		return nil, pkgerrors.Wrapf(ErrNotFound, "output %q", name)
	}
	return o, nil
}

// Outputs returns the outputs in creation order.
func (lb *Lockbox) Outputs() []*OutputSignal {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return append([]*OutputSignal(nil), lb.outputs...)
}

// OutputNames returns the output names in creation order.
func (lb *Lockbox) OutputNames() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return lb.outputNames()
}

// DefaultSweepOutput returns the name of the output swept by Sweep.
func (lb *Lockbox) DefaultSweepOutput() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return lb.defaultSweep
}

// SetDefaultSweepOutput selects the output swept by Sweep.
func (lb *Lockbox) SetDefaultSweepOutput(name string) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return err
	}
	if lb.output(name) == nil {
		return pkgerrors.Wrapf(ErrValidation, "default sweep output must be one of %v, got %q", lb.outputNames(), name)
	}
	lb.defaultSweep = name
	lb.store.SetDefaultSweepOutput(name)
	lb.save()
	return nil
}

func (lb *Lockbox) output(name string) *OutputSignal {
	for _, o := range lb.outputs {
		if o.name == name {
			return o
		}
	}
	return nil
}

func (lb *Lockbox) outputNames() []string {
	ret := make([]string, 0, len(lb.outputs))
	for _, o := range lb.outputs {
		ret = append(ret, o.name)
	}
	return ret
}

func (lb *Lockbox) uniqueOutputName() string {
	for i := 1; ; i++ {
		name := fmt.Sprintf("output%d", i)
		if lb.output(name) == nil {
			return name
		}
	}
}

func (lb *Lockbox) pidOwner(output string) string {
	return lb.name + "." + output
}

// addOutput creates an output with a fresh name and default parameters.
// Stage slots are left to the caller.
func (lb *Lockbox) addOutput() (*OutputSignal, error) {
	name := lb.uniqueOutputName()
	return lb.addOutputNamed(name, defaultOutputConfig(name))
}

func (lb *Lockbox) addOutputNamed(name string, cfg config.OutputConfig) (*OutputSignal, error) {
	if lb.pool.Available() < 1 {
		return nil, pkgerrors.Wrapf(ErrResourceExhausted, "cannot add output %s to lockbox %s", name, lb.name)
	}
	pid, err := lb.pool.Acquire(lb.pidOwner(name))
	if err != nil {
		if errors.Is(err, fpga.ErrNoPIDAvailable) {
			return nil, pkgerrors.Wrapf(ErrResourceExhausted, "cannot add output %s to lockbox %s", name, lb.name)
		}
		return nil, pkgerrors.Wrapf(err, "cannot add output %s to lockbox %s", name, lb.name)
	}

	o := newOutputSignal(name, pid, cfg)
	if err := o.setup(); err != nil {
		o.clear(lb.pool)
		return nil, err
	}

	lb.outputs = append(lb.outputs, o)
	lb.store.SetOutput(name, o.cfg)
	if lb.defaultSweep == "" {
		lb.defaultSweep = name
		lb.store.SetDefaultSweepOutput(name)
	}

	logrus.WithFields(logrus.Fields{
		"lockbox": lb.name,
		"output":  name,
		"pid":     pid.Name(),
	}).Info("output created")

	lb.notify(events.OutputCreated, events.EntitiesEvent{
		Lockbox: lb.name,
		Names:   []string{name},
		Ts:      time.Now().Unix(),
	})
	return o, nil
}

// removeOutput removes one output. Stage slots are left to the caller.
func (lb *Lockbox) removeOutput(name string, allowRemoveLast bool) error {
	idx := -1
	for i, o := range lb.outputs {
		if o.name == name {
			idx = i
		}
	}
	if idx < 0 {
		return pkgerrors.Wrapf(ErrNotFound, "output %q", name)
	}
	if len(lb.outputs) == 1 && !allowRemoveLast {
		return pkgerrors.Wrapf(ErrInvariantViolation, "cannot remove %s", name)
	}

	o := lb.outputs[idx]
	o.clear(lb.pool)
	lb.outputs = append(lb.outputs[:idx], lb.outputs[idx+1:]...)
	lb.store.DeleteOutput(name)

	logrus.WithFields(logrus.Fields{
		"lockbox": lb.name,
		"output":  name,
	}).Info("output deleted")

	lb.notify(events.OutputDeleted, events.EntitiesEvent{
		Lockbox: lb.name,
		Names:   []string{name},
		Ts:      time.Now().Unix(),
	})
	return nil
}
