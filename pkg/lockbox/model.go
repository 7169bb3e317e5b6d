package lockbox

import (
	"fmt"
	"sort"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// DefaultModel is the classname used when nothing else is configured.
const DefaultModel = "Lockbox"

// Response maps the physical parameter of a model to the signal an input is
// expected to read. cal is nil for an input that was never calibrated.
type Response interface {
	ExpectedSignal(setpoint float64, cal *Calibration) float64
	ExpectedSlope(setpoint float64, cal *Calibration) float64
}

// InputSpec declares one input of a model.
type InputSpec struct {
	Name string
	// Signal is the default device signal the input reads.
	Signal   string
	Response Response
}

// Model describes a physical system a lockbox can lock. Everything that
// differs between models is captured here, so switching model means building
// a new lockbox from another Model.
type Model struct {
	Name string
	// ParameterName names the controlled physical parameter, e.g. "detuning".
	ParameterName string
	Units         []string
	Inputs        []InputSpec
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Model)
)

// Register makes a model available by name. It panics if the name is empty,
// already registered, or the model declares duplicate input names.
func Register(m Model) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if m.Name == "" {
		panic("lockbox: Register model with empty name")
	}
	if _, dup := registry[m.Name]; dup {
		panic("lockbox: Register called twice for model " + m.Name)
	}
	seen := make(map[string]bool)
	for _, in := range m.Inputs {
		if seen[in.Name] {
			panic(fmt.Sprintf("lockbox: model %s declares input %s twice", m.Name, in.Name))
		}
		seen[in.Name] = true
	}
	registry[m.Name] = &m
}

// LookupModel returns the model registered under name.
func LookupModel(name string) (*Model, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	m, ok := registry[name]
	if !ok {
		return nil, pkgerrors.Wrapf(ErrNotFound, "model %q", name)
	}
	return m, nil
}

// Models returns the sorted names of all registered models.
func Models() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	ret := make([]string, 0, len(registry))
	for name := range registry {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// ModelInfo describes a model without its physics.
type ModelInfo struct {
	Name          string   `json:"name"`
	ParameterName string   `json:"parameterName"`
	Units         []string `json:"units"`
	Inputs        []string `json:"inputs"`
}

// Info returns the description of m.
func (m *Model) Info() ModelInfo {
	info := ModelInfo{
		Name:          m.Name,
		ParameterName: m.ParameterName,
		Units:         append([]string(nil), m.Units...),
	}
	for _, in := range m.Inputs {
		info.Inputs = append(info.Inputs, in.Name)
	}
	return info
}
