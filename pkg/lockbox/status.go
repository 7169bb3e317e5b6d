package lockbox

import (
	"time"

	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/fpga"
)

// Status is a snapshot of a lockbox, as served by the daemon.
type Status struct {
	Name               string               `json:"name"`
	Classname          string               `json:"classname"`
	ParameterName      string               `json:"parameterName"`
	State              State                `json:"state"`
	DefaultSweepOutput string               `json:"defaultSweepOutput"`
	AutoRelock         bool                 `json:"autoRelock"`
	Outputs            []OutputStatus       `json:"outputs"`
	Inputs             []InputStatus        `json:"inputs"`
	Stages             []config.StageConfig `json:"stages"`
	// NextAdvance is when the pending auto-advance fires, nil if none.
	NextAdvance *time.Time `json:"nextAdvance,omitempty"`
}

// OutputStatus describes one output.
type OutputStatus struct {
	Name   string              `json:"name"`
	PID    string              `json:"pid"`
	Mode   fpga.Mode           `json:"mode"`
	Config config.OutputConfig `json:"config"`
}

// InputStatus describes one input.
type InputStatus struct {
	Name        string              `json:"name"`
	Signal      string              `json:"signal"`
	Calibration *config.Calibration `json:"calibration,omitempty"`
}

// Status returns a snapshot of the lockbox.
func (lb *Lockbox) Status() Status {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	s := Status{
		Name:               lb.name,
		Classname:          lb.model.Name,
		ParameterName:      lb.model.ParameterName,
		State:              lb.state,
		DefaultSweepOutput: lb.defaultSweep,
		AutoRelock:         lb.autoRelock,
		Outputs:            make([]OutputStatus, 0, len(lb.outputs)),
		Inputs:             make([]InputStatus, 0, len(lb.inputs)),
		Stages:             lb.sequence.configs(),
	}
	for _, o := range lb.outputs {
		s.Outputs = append(s.Outputs, OutputStatus{
			Name:   o.name,
			PID:    o.PIDName(),
			Mode:   o.mode,
			Config: o.cfg,
		})
	}
	for _, in := range lb.inputs {
		s.Inputs = append(s.Inputs, InputStatus{
			Name:        in.Name(),
			Signal:      in.Signal(),
			Calibration: in.Calibration(),
		})
	}
	if lb.timer != nil {
		t := lb.nextAt
		s.NextAdvance = &t
	}
	return s
}

// StageUpdate is a partial update of a stage. A nil Duration keeps the
// current one.
type StageUpdate struct {
	Duration *float64                 `json:"duration,omitempty"`
	Outputs  map[string]OutputSetting `json:"outputs,omitempty"`
}

// UpdateStage applies u to the named stage.
func (lb *Lockbox) UpdateStage(name string, u StageUpdate) error {
	var duration float64
	if u.Duration != nil {
		duration = *u.Duration
	} else {
		st, err := lb.Stage(name)
		if err != nil {
			return err
		}
		duration = st.duration
	}
	return lb.ConfigureStage(name, duration, u.Outputs)
}
