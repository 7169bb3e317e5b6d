package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Store is the persisted section of one lockbox instance.
type Store interface {
	Classname() string
	DefaultSweepOutput() string
	AutoRelock() bool

	SetClassname(string)
	SetDefaultSweepOutput(string)
	SetAutoRelock(bool)

	// OutputNames returns the persisted output names in creation order.
	OutputNames() []string
	Output(name string) (OutputConfig, bool)
	// SetOutput writes the section of name, appending it if absent.
	SetOutput(name string, c OutputConfig)
	// RenameOutput re-keys the section of old under new, keeping its position.
	RenameOutput(old, new string)
	DeleteOutput(name string)

	Input(name string) (InputConfig, bool)
	SetInput(name string, c InputConfig)

	Stages() []StageConfig
	SetStages([]StageConfig)

	// Save persists the whole file the section belongs to.
	Save() error

	LogrusFields() logrus.Fields
}

// OutputConfig holds the persisted parameters of one output.
type OutputConfig struct {
	Name           string  `json:"name" yaml:"name"`
	Channel        string  `json:"channel,omitempty" yaml:"channel,omitempty"`
	P              float64 `json:"p" yaml:"p"`
	I              float64 `json:"i" yaml:"i"`
	SweepAmplitude float64 `json:"sweepAmplitude" yaml:"sweepAmplitude"`
	SweepOffset    float64 `json:"sweepOffset" yaml:"sweepOffset"`
	SweepFrequency float64 `json:"sweepFrequency" yaml:"sweepFrequency"`
	MinVoltage     float64 `json:"minVoltage" yaml:"minVoltage"`
	MaxVoltage     float64 `json:"maxVoltage" yaml:"maxVoltage"`
}

// Calibration is the result of the last calibration of an input.
type Calibration struct {
	Min     float64   `json:"min" yaml:"min"`
	Max     float64   `json:"max" yaml:"max"`
	Mean    float64   `json:"mean" yaml:"mean"`
	RMS     float64   `json:"rms" yaml:"rms"`
	Samples int       `json:"samples" yaml:"samples"`
	At      time.Time `json:"at" yaml:"at"`
}

// InputConfig holds the persisted parameters of one input.
type InputConfig struct {
	Signal string `json:"signal,omitempty" yaml:"signal,omitempty"`
	// LockTolerance is the accepted deviation from the expected signal, as a
	// fraction of the calibrated peak-to-peak amplitude.
	LockTolerance float64      `json:"lockTolerance,omitempty" yaml:"lockTolerance,omitempty"`
	Calibration   *Calibration `json:"calibration,omitempty" yaml:"calibration,omitempty"`
}

// OutputSetting is what a stage does with one output.
type OutputSetting struct {
	// LockOn is one of "on", "off" or "ignore".
	LockOn      string  `json:"lockOn" yaml:"lockOn"`
	Input       string  `json:"input,omitempty" yaml:"input,omitempty"`
	Setpoint    float64 `json:"setpoint" yaml:"setpoint"`
	GainFactor  float64 `json:"gainFactor" yaml:"gainFactor"`
	ResetOffset bool    `json:"resetOffset" yaml:"resetOffset"`
	Offset      float64 `json:"offset" yaml:"offset"`
}

// StageConfig is one persisted stage of the lock sequence.
type StageConfig struct {
	Name string `json:"name" yaml:"name"`
	// Duration is in seconds.
	Duration float64                  `json:"duration" yaml:"duration"`
	Outputs  map[string]OutputSetting `json:"outputs" yaml:"outputs"`
}

// Copy returns a deep copy of s.
func (s StageConfig) Copy() StageConfig {
	c := s
	c.Outputs = make(map[string]OutputSetting, len(s.Outputs))
	for k, v := range s.Outputs {
		c.Outputs[k] = v
	}
	return c
}
