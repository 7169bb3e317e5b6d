package lockbox

import (
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/events"
)

// AddStage appends a stage named after the first unused "stageN", with
// default settings for every output.
func (lb *Lockbox) AddStage() (*Stage, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkStructuralEdit(); err != nil {
		return nil, err
	}
	st := lb.sequence.add(lb.outputNames())
	lb.saveSequence()

	logrus.WithFields(logrus.Fields{
		"lockbox": lb.name,
		"stage":   st.name,
	}).Info("stage created")

	lb.notify(events.StageCreated, events.EntitiesEvent{
		Lockbox: lb.name,
		Names:   []string{st.name},
		Ts:      time.Now().Unix(),
	})
	return newStage(st.Config()), nil
}

// RemoveStage removes the named stage. The current stage cannot be removed.
func (lb *Lockbox) RemoveStage(name string) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkStructuralEdit(); err != nil {
		return err
	}
	if lb.state == State(name) {
		return pkgerrors.Wrapf(ErrValidation, "stage %s is the current state, unlock first", name)
	}
	if err := lb.sequence.remove(name); err != nil {
		return err
	}
	lb.saveSequence()

	logrus.WithFields(logrus.Fields{
		"lockbox": lb.name,
		"stage":   name,
	}).Info("stage deleted")

	lb.notify(events.StageDeleted, events.EntitiesEvent{
		Lockbox: lb.name,
		Names:   []string{name},
		Ts:      time.Now().Unix(),
	})
	return nil
}

// RenameStage renames a stage. The state follows the rename.
func (lb *Lockbox) RenameStage(name, newName string) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkStructuralEdit(); err != nil {
		return err
	}
	if err := lb.sequence.rename(name, newName); err != nil {
		return err
	}
	if name != newName && lb.state == State(name) {
		lb.setState(State(newName))
	}
	lb.saveSequence()

	lb.notify(events.StageRenamed, events.RenamedEvent{
		Lockbox: lb.name,
		From:    name,
		To:      newName,
		Ts:      time.Now().Unix(),
	})
	return nil
}

// RemoveAllStages empties the sequence. The lockbox must not be in a stage.
func (lb *Lockbox) RemoveAllStages() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkStructuralEdit(); err != nil {
		return err
	}
	if lb.state.IsStage() {
		return pkgerrors.Wrapf(ErrValidation, "lockbox %s is in stage %s, unlock first", lb.name, lb.state)
	}
	names := lb.sequence.names()
	lb.sequence.removeAll()
	lb.saveSequence()

	if len(names) > 0 {
		lb.notify(events.StageDeleted, events.EntitiesEvent{
			Lockbox: lb.name,
			Names:   names,
			Ts:      time.Now().Unix(),
		})
	}
	return nil
}

// UpdateOutputs resynchronizes the output slots of every stage with the
// current outputs.
func (lb *Lockbox) UpdateOutputs() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return err
	}
	lb.sequence.updateOutputs(lb.outputNames())
	lb.saveSequence()
	return nil
}

// ConfigureStage sets the duration of a stage and the settings of the
// outputs named in settings. Outputs not in settings are left unchanged.
// If the stage is the current state it is applied again.
func (lb *Lockbox) ConfigureStage(name string, duration float64, settings map[string]OutputSetting) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return err
	}
	st, err := lb.sequence.get(name)
	if err != nil {
		return err
	}
	if duration < 0 {
		return pkgerrors.Wrapf(ErrValidation, "stage %s: duration must not be negative, got %v", name, duration)
	}
	for output, setting := range settings {
		if lb.output(output) == nil {
			return pkgerrors.Wrapf(ErrNotFound, "output %q", output)
		}
		switch setting.LockOn {
		case LockOn, LockOff, LockIgnore, "":
		default:
			return pkgerrors.Wrapf(ErrValidation, "stage %s: lockOn of %s must be on, off or ignore, got %q", name, output, setting.LockOn)
		}
		if setting.Input != "" && lb.input(setting.Input) == nil {
			return pkgerrors.Wrapf(ErrNotFound, "input %q", setting.Input)
		}
	}

	st.duration = duration
	for output, setting := range settings {
		if setting.LockOn == "" {
			setting.LockOn = LockOff
		}
		st.outputs[output] = setting
	}
	lb.saveSequence()

	if lb.state == State(name) {
		if err := lb.setupStage(st); err != nil {
			return pkgerrors.Wrapf(err, "failed to set up stage %s", name)
		}
	}
	return nil
}

// Stage returns a copy of the named stage.
func (lb *Lockbox) Stage(name string) (*Stage, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	st, err := lb.sequence.get(name)
	if err != nil {
		return nil, err
	}
	return newStage(st.Config()), nil
}

// Stages returns copies of the stages in sequence order.
func (lb *Lockbox) Stages() []*Stage {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	ret := make([]*Stage, 0, len(lb.sequence.stages))
	for _, st := range lb.sequence.stages {
		ret = append(ret, newStage(st.Config()))
	}
	return ret
}

// StageNames returns the stage names in sequence order.
func (lb *Lockbox) StageNames() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return lb.sequence.names()
}

// checkStructuralEdit rejects edits of the stage list while an auto-advance
// is pending, since the next stage is looked up by index.
func (lb *Lockbox) checkStructuralEdit() error {
	if err := lb.checkOpen(); err != nil {
		return err
	}
	if lb.timer != nil {
		return pkgerrors.Wrapf(ErrValidation, "lockbox %s is advancing through its sequence, unlock first", lb.name)
	}
	return nil
}
