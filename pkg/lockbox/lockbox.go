package lockbox

import (
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/events"
)

// Lockbox drives one feedback loop through its lock sequence. Every public
// method holds the lockbox mutex for its whole duration, including the
// auto-advance callback.
type Lockbox struct {
	mu sync.Mutex

	name   string
	model  *Model
	parent *Instrument

	store    config.Store
	pool     ResourcePool
	acq      Acquirer
	notifier Notifier
	timers   TimerService
	samples  int

	outputs  []*OutputSignal
	inputs   []*InputSignal
	sequence *Sequence

	state        State
	defaultSweep string
	autoRelock   bool

	timer    Timer
	timerGen uint64
	nextAt   time.Time
	closed   bool
}

// newLockbox builds a lockbox of model from the persisted section of name.
func newLockbox(parent *Instrument, name string, model *Model) (*Lockbox, error) {
	lb := &Lockbox{
		name:     name,
		model:    model,
		parent:   parent,
		store:    parent.store.Section(name),
		pool:     parent.pool,
		acq:      parent.acq,
		notifier: parent.notifier,
		timers:   parent.timers,
		samples:  parent.samples,
		state:    StateUnlock,
		sequence: &Sequence{},
	}
	logrus.WithFields(lb.store.LogrusFields()).Debug("persisted lockbox state")

	lb.autoRelock = lb.store.AutoRelock()
	lb.defaultSweep = lb.store.DefaultSweepOutput()

	for _, spec := range model.Inputs {
		cfg, _ := lb.store.Input(spec.Name)
		lb.addInput(newInputSignal(spec, cfg, lb.acq))
	}

	seen := make(map[string]bool)
	for _, oname := range lb.store.OutputNames() {
		if oname == "" || seen[oname] {
			logrus.WithFields(logrus.Fields{
				"lockbox": name,
				"output":  oname,
			}).Warn("skipping persisted output with an empty or duplicate name")
			continue
		}
		seen[oname] = true
		cfg, _ := lb.store.Output(oname)
		if _, err := lb.addOutputNamed(oname, cfg); err != nil {
			lb.teardown()
			return nil, pkgerrors.Wrapf(err, "failed to load output %s of lockbox %s", oname, name)
		}
	}
	if len(lb.outputs) == 0 {
		if _, err := lb.addOutput(); err != nil {
			lb.teardown()
			return nil, pkgerrors.Wrapf(err, "failed to create first output of lockbox %s", name)
		}
	}

	lb.sequence = newSequence(lb.store.Stages(), lb.outputNames())

	if lb.output(lb.defaultSweep) == nil {
		lb.defaultSweep = lb.outputs[0].name
	}
	lb.store.SetClassname(model.Name)
	lb.store.SetDefaultSweepOutput(lb.defaultSweep)
	lb.saveSequence()

	logrus.WithFields(logrus.Fields{
		"lockbox":   name,
		"classname": model.Name,
		"outputs":   lb.outputNames(),
		"inputs":    lb.inputNames(),
		"stages":    lb.sequence.names(),
	}).Info("lockbox loaded")

	return lb, nil
}

// Name returns the instance name.
func (lb *Lockbox) Name() string { return lb.name }

// Classname returns the name of the model the lockbox was built from.
func (lb *Lockbox) Classname() string { return lb.model.Name }

// State returns the current state.
func (lb *Lockbox) State() State {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return lb.state
}

// SetState moves the lockbox to s: unlock, sweep, or the named stage.
func (lb *Lockbox) SetState(s State) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return err
	}
	if err := lb.validState(s); err != nil {
		return err
	}

	switch s {
	case StateUnlock:
		return lb.unlock()
	case StateSweep:
		return lb.sweep()
	default:
		return lb.gotoStage(string(s))
	}
}

// Unlock stops any pending auto-advance and opens every loop. Integrators are
// kept.
func (lb *Lockbox) Unlock() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return err
	}
	return lb.unlock()
}

// Sweep unlocks, resets every integrator and sweeps the default sweep
// output.
func (lb *Lockbox) Sweep() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return err
	}
	return lb.sweep()
}

// Lock unlocks and starts the sequence from its first stage.
func (lb *Lockbox) Lock() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return err
	}
	if err := lb.unlock(); err != nil {
		return err
	}
	return lb.gotoNext()
}

// GotoNext enters the stage after the current one, the first stage from
// unlock or sweep, and arms the auto-advance unless that stage is the last.
func (lb *Lockbox) GotoNext() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return err
	}
	return lb.gotoNext()
}

// Goto applies the named stage to every output. A pending auto-advance is
// left armed.
func (lb *Lockbox) Goto(stage string) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return err
	}
	return lb.gotoStage(stage)
}

// IsLocked reports whether the lockbox sits in its last stage with every
// locking input within tolerance.
func (lb *Lockbox) IsLocked() (bool, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return false, err
	}
	n := len(lb.sequence.stages)
	if n == 0 || !lb.state.IsStage() || lb.sequence.index(string(lb.state)) != n-1 {
		return false, nil
	}

	st := lb.sequence.stages[n-1]
	for _, o := range lb.outputs {
		setting := st.Setting(o.name)
		if setting.LockOn != LockOn {
			continue
		}
		in, err := lb.lockInput(setting.Input)
		if err != nil {
			return false, err
		}
		ok, err := in.isLocked(setting.Setpoint)
		if err != nil {
			return false, err
		}
		if !ok {
			logrus.WithFields(logrus.Fields{
				"lockbox": lb.name,
				"output":  o.name,
				"input":   in.Name(),
			}).Debug("lockbox out of lock")
			return false, nil
		}
	}
	return true, nil
}

// AutoRelock reports whether the relock loop may relock the lockbox.
func (lb *Lockbox) AutoRelock() bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return lb.autoRelock
}

// SetAutoRelock enables or disables automatic relocking.
func (lb *Lockbox) SetAutoRelock(b bool) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return err
	}
	lb.autoRelock = b
	lb.store.SetAutoRelock(b)
	lb.save()
	return nil
}

// SetClassname switches the lockbox to another model. The lockbox is closed
// afterwards, the replacement is returned.
func (lb *Lockbox) SetClassname(classname string) (*Lockbox, error) {
	return lb.parent.SwitchModel(lb.name, classname)
}

// Close tears the lockbox down, releasing every PID. Further calls return
// ErrClosed.
func (lb *Lockbox) Close() {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.teardown()
}

func (lb *Lockbox) checkOpen() error {
	if lb.closed {
		return pkgerrors.Wrapf(ErrClosed, "lockbox %s", lb.name)
	}
	return nil
}

func (lb *Lockbox) validState(s State) error {
	if s == StateUnlock || s == StateSweep || lb.sequence.index(string(s)) >= 0 {
		return nil
	}
	return pkgerrors.Wrapf(ErrValidation, "state %q is neither unlock, sweep nor one of the stages %v", s, lb.sequence.names())
}

// setState records s. Callers validate s first.
func (lb *Lockbox) setState(s State) {
	from := lb.state
	lb.state = s

	logrus.WithFields(logrus.Fields{
		"lockbox": lb.name,
		"from":    from,
		"to":      s,
	}).Info("lockbox state changed")

	lb.notify(events.StateChanged, events.StateChangedEvent{
		Lockbox: lb.name,
		From:    string(from),
		To:      string(s),
		Ts:      time.Now().Unix(),
	})
}

func (lb *Lockbox) unlock() error {
	lb.stopTimer()
	lb.setState(StateUnlock)

	var firstErr error
	for _, o := range lb.outputs {
		if err := o.unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (lb *Lockbox) sweep() error {
	if err := lb.unlock(); err != nil {
		return err
	}
	for _, o := range lb.outputs {
		if err := o.resetIval(); err != nil {
			return err
		}
	}

	o := lb.output(lb.defaultSweep)
	if o == nil {
		return fmt.Errorf("%w: %w: default sweep output %q of lockbox %s does not exist",
			ErrConfiguration, ErrNotFound, lb.defaultSweep, lb.name)
	}
	if err := o.sweep(); err != nil {
		return err
	}

	lb.setState(StateSweep)
	return nil
}

func (lb *Lockbox) gotoNext() error {
	idx := 0
	if lb.state.IsStage() {
		cur := lb.sequence.index(string(lb.state))
		if cur < 0 {
			return pkgerrors.Wrapf(ErrConfiguration, "current state %q of lockbox %s is not a stage", lb.state, lb.name)
		}
		idx = cur + 1
	}
	if idx >= len(lb.sequence.stages) {
		if idx == 0 {
			return pkgerrors.Wrapf(ErrNotFound, "lockbox %s has no stages", lb.name)
		}
		return pkgerrors.Wrapf(ErrNotFound, "stage %q of lockbox %s is the last one", lb.state, lb.name)
	}

	lb.stopTimer()
	st := lb.sequence.stages[idx]
	if err := lb.gotoStage(st.name); err != nil {
		return err
	}

	if idx < len(lb.sequence.stages)-1 {
		lb.armTimer(st.Duration())
	}
	return nil
}

func (lb *Lockbox) gotoStage(name string) error {
	st, err := lb.sequence.get(name)
	if err != nil {
		return err
	}
	if err := lb.setupStage(st); err != nil {
		return pkgerrors.Wrapf(err, "failed to set up stage %s", name)
	}
	lb.setState(State(name))
	return nil
}

// setupStage applies st to every output in output order.
func (lb *Lockbox) setupStage(st *Stage) error {
	for _, o := range lb.outputs {
		setting := st.Setting(o.name)
		if setting.ResetOffset {
			if err := o.setOffset(setting.Offset); err != nil {
				return err
			}
		}

		switch setting.LockOn {
		case LockOn:
			in, err := lb.lockInput(setting.Input)
			if err != nil {
				return err
			}
			gain := setting.GainFactor
			if err := o.lock(in, setting.Setpoint, gain); err != nil {
				return err
			}
		case LockIgnore:
		default:
			if err := o.unlock(); err != nil {
				return err
			}
		}
	}
	return nil
}

// lockInput resolves the input of a stage setting. Empty means the first
// input of the model.
func (lb *Lockbox) lockInput(name string) (*InputSignal, error) {
	if name == "" {
		if len(lb.inputs) == 0 {
			return nil, pkgerrors.Wrapf(ErrNotFound, "lockbox %s has no inputs", lb.name)
		}
		return lb.inputs[0], nil
	}
	in := lb.input(name)
	if in == nil {
		return nil, pkgerrors.Wrapf(ErrNotFound, "input %q", name)
	}
	return in, nil
}

func (lb *Lockbox) armTimer(d time.Duration) {
	lb.stopTimer()
	gen := lb.timerGen
	lb.nextAt = time.Now().Add(d)
	lb.timer = lb.timers.AfterFunc(d, func() {
		lb.advance(gen)
	})

	logrus.WithFields(logrus.Fields{
		"lockbox": lb.name,
		"delay":   d,
	}).Debug("auto-advance armed")
}

// stopTimer cancels the pending auto-advance. A callback that fires anyway
// sees a newer generation and does nothing.
func (lb *Lockbox) stopTimer() {
	lb.timerGen++
	if lb.timer != nil {
		lb.timer.Stop()
		lb.timer = nil
	}
	lb.nextAt = time.Time{}
}

func (lb *Lockbox) advance(gen uint64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if lb.closed || gen != lb.timerGen {
		logrus.WithField("lockbox", lb.name).Trace("stale auto-advance ignored")
		return
	}
	lb.timer = nil
	lb.nextAt = time.Time{}

	// A manual goto may have entered the last stage meanwhile.
	if cur := lb.sequence.index(string(lb.state)); cur >= 0 && cur == len(lb.sequence.stages)-1 {
		logrus.WithFields(logrus.Fields{
			"lockbox": lb.name,
			"stage":   lb.state,
		}).Debug("auto-advance reached the last stage")
		return
	}

	if err := lb.gotoNext(); err != nil {
		logrus.WithError(err).WithField("lockbox", lb.name).Error("auto-advance failed")
	}
}

// teardown cancels the timer and releases outputs and inputs. It is safe to
// call on a partially built lockbox.
func (lb *Lockbox) teardown() {
	if lb.closed {
		return
	}
	lb.stopTimer()
	for _, o := range lb.outputs {
		o.clear(lb.pool)
	}
	for len(lb.inputs) > 0 {
		_ = lb.removeInput(lb.inputs[0].Name())
	}
	lb.closed = true

	logrus.WithField("lockbox", lb.name).Debug("lockbox torn down")
}

func (lb *Lockbox) notify(name string, payload any) {
	if lb.notifier == nil {
		return
	}
	lb.notifier.Publish(name, payload)
}

// save persists the store. Failures are logged: the in-memory lockbox stays
// authoritative.
func (lb *Lockbox) save() {
	if err := lb.store.Save(); err != nil {
		logrus.WithError(err).WithField("lockbox", lb.name).Warn("failed to save lockbox state")
	}
}

func (lb *Lockbox) saveSequence() {
	lb.store.SetStages(lb.sequence.configs())
	lb.save()
}
