package lockbox

import (
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/lockbox/pkg/config"
)

// OutputSetting is what a stage does with one output.
type OutputSetting = config.OutputSetting

// DefaultOutputSetting is the setting of an output in a new stage slot.
func DefaultOutputSetting() OutputSetting {
	return OutputSetting{LockOn: LockOff, GainFactor: 1}
}

// Stage is one step of the lock sequence.
type Stage struct {
	name     string
	duration float64
	outputs  map[string]OutputSetting
}

func newStage(c config.StageConfig) *Stage {
	c = c.Copy()
	return &Stage{name: c.Name, duration: c.Duration, outputs: c.Outputs}
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.name }

// Duration is how long the stage settles before the next one is entered.
func (s *Stage) Duration() time.Duration {
	return time.Duration(s.duration * float64(time.Second))
}

// Setting returns the setting of output, or the default one.
func (s *Stage) Setting(output string) OutputSetting {
	if v, ok := s.outputs[output]; ok {
		return v
	}
	return DefaultOutputSetting()
}

// Config returns a copy of the stage.
func (s *Stage) Config() config.StageConfig {
	return config.StageConfig{
		Name:     s.name,
		Duration: s.duration,
		Outputs:  s.outputs,
	}.Copy()
}

// Sequence is the ordered list of stages. Its order defines the order in
// which stages are entered while locking.
type Sequence struct {
	stages []*Stage
}

func newSequence(cfgs []config.StageConfig, outputs []string) *Sequence {
	seq := &Sequence{}
	seen := make(map[string]bool)
	for _, c := range cfgs {
		if c.Name == "" || seen[c.Name] || !State(c.Name).IsStage() {
			continue
		}
		seen[c.Name] = true
		if c.Duration < 0 {
			c.Duration = 0
		}
		seq.stages = append(seq.stages, newStage(c))
	}
	seq.updateOutputs(outputs)
	return seq
}

func (seq *Sequence) names() []string {
	ret := make([]string, 0, len(seq.stages))
	for _, s := range seq.stages {
		ret = append(ret, s.name)
	}
	return ret
}

func (seq *Sequence) index(name string) int {
	for i, s := range seq.stages {
		if s.name == name {
			return i
		}
	}
	return -1
}

func (seq *Sequence) get(name string) (*Stage, error) {
	i := seq.index(name)
	if i < 0 {
		return nil, pkgerrors.Wrapf(ErrNotFound, "stage %q", name)
	}
	return seq.stages[i], nil
}

func (seq *Sequence) uniqueName() string {
	for i := 1; ; i++ {
		name := fmt.Sprintf("stage%d", i)
		if seq.index(name) < 0 {
			return name
		}
	}
}

// add appends a stage with default slots for outputs.
func (seq *Sequence) add(outputs []string) *Stage {
	st := &Stage{
		name:    seq.uniqueName(),
		outputs: make(map[string]OutputSetting, len(outputs)),
	}
	for _, o := range outputs {
		st.outputs[o] = DefaultOutputSetting()
	}
	seq.stages = append(seq.stages, st)
	return st
}

func (seq *Sequence) remove(name string) error {
	i := seq.index(name)
	if i < 0 {
		return pkgerrors.Wrapf(ErrNotFound, "stage %q", name)
	}
	seq.stages = append(seq.stages[:i], seq.stages[i+1:]...)
	return nil
}

func (seq *Sequence) rename(name, newName string) error {
	st, err := seq.get(name)
	if err != nil {
		return err
	}
	if newName == name {
		return nil
	}
	if newName == "" || newName == string(StateUnlock) || newName == string(StateSweep) {
		return pkgerrors.Wrapf(ErrValidation, "invalid stage name %q", newName)
	}
	if seq.index(newName) >= 0 {
		return pkgerrors.Wrapf(ErrNameConflict, "stage %q", newName)
	}
	st.name = newName
	return nil
}

func (seq *Sequence) removeAll() {
	seq.stages = nil
}

// updateOutputs makes the slots of every stage match outputs. Slots of
// outputs that still exist keep their values.
func (seq *Sequence) updateOutputs(outputs []string) {
	for _, st := range seq.stages {
		next := make(map[string]OutputSetting, len(outputs))
		for _, o := range outputs {
			if v, ok := st.outputs[o]; ok {
				next[o] = v
			} else {
				next[o] = DefaultOutputSetting()
			}
		}
		st.outputs = next
	}
}

// renameOutput moves the slot of old to new in every stage.
func (seq *Sequence) renameOutput(old, new string) {
	for _, st := range seq.stages {
		if v, ok := st.outputs[old]; ok {
			delete(st.outputs, old)
			st.outputs[new] = v
		}
	}
}

func (seq *Sequence) configs() []config.StageConfig {
	ret := make([]config.StageConfig, 0, len(seq.stages))
	for _, st := range seq.stages {
		ret = append(ret, st.Config())
	}
	return ret
}
