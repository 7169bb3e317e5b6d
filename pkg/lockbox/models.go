package lockbox

import "math"

func init() {
	Register(Model{
		Name:          DefaultModel,
		ParameterName: "signal",
		Units:         []string{"V"},
		Inputs: []InputSpec{
			{Name: "input1", Signal: "in1", Response: followResponse{}},
		},
	})
	Register(Model{
		Name:          "Linear",
		ParameterName: "position",
		Units:         []string{"m", "mm", "um", "nm"},
		Inputs: []InputSpec{
			{Name: "linear", Signal: "in1", Response: linearResponse{}},
		},
	})
	Register(Model{
		Name:          "Interferometer",
		ParameterName: "phase",
		Units:         []string{"rad"},
		Inputs: []InputSpec{
			{Name: "port1", Signal: "in1", Response: fringeResponse{}},
			{Name: "port2", Signal: "in2", Response: fringeResponse{phase: math.Pi}},
		},
	})
	Register(Model{
		Name:          "FabryPerot",
		ParameterName: "detuning",
		Units:         []string{"linewidth"},
		Inputs: []InputSpec{
			{Name: "transmission", Signal: "in1", Response: lorentzResponse{}},
			{Name: "reflection", Signal: "in2", Response: lorentzResponse{reflection: true}},
			{Name: "pdh", Signal: "iq0", Response: pdhResponse{}},
		},
	})
}

// span returns the center and half amplitude of the calibrated range.
func span(cal *Calibration) (mid, amp float64) {
	lo, hi := calRange(cal)
	return (hi + lo) / 2, (hi - lo) / 2
}

// followResponse reads the parameter itself.
type followResponse struct{}

func (followResponse) ExpectedSignal(x float64, _ *Calibration) float64 { return x }
func (followResponse) ExpectedSlope(float64, *Calibration) float64      { return 1 }

// linearResponse maps x in [-1, 1] onto the calibrated range.
type linearResponse struct{}

func (linearResponse) ExpectedSignal(x float64, cal *Calibration) float64 {
	mid, amp := span(cal)
	return mid + x*amp
}

func (linearResponse) ExpectedSlope(_ float64, cal *Calibration) float64 {
	_, amp := span(cal)
	return amp
}

// fringeResponse is a two beam interference fringe. x is the phase in
// radians.
type fringeResponse struct {
	phase float64
}

func (r fringeResponse) ExpectedSignal(x float64, cal *Calibration) float64 {
	mid, amp := span(cal)
	return mid + amp*math.Sin(x+r.phase)
}

func (r fringeResponse) ExpectedSlope(x float64, cal *Calibration) float64 {
	_, amp := span(cal)
	return amp * math.Cos(x+r.phase)
}

// lorentzResponse is the transmission (or reflection) of a cavity. x is the
// detuning in half linewidths.
type lorentzResponse struct {
	reflection bool
}

func (r lorentzResponse) ExpectedSignal(x float64, cal *Calibration) float64 {
	lo, hi := calRange(cal)
	peak := (hi - lo) / (1 + x*x)
	if r.reflection {
		return hi - peak
	}
	return lo + peak
}

func (r lorentzResponse) ExpectedSlope(x float64, cal *Calibration) float64 {
	lo, hi := calRange(cal)
	d := 1 + x*x
	slope := -(hi - lo) * 2 * x / (d * d)
	if r.reflection {
		return -slope
	}
	return slope
}

// pdhResponse is a Pound-Drever-Hall error signal, zero on resonance.
type pdhResponse struct{}

func (pdhResponse) ExpectedSignal(x float64, cal *Calibration) float64 {
	mid, amp := span(cal)
	return mid + 2*amp*x/(1+x*x)
}

func (pdhResponse) ExpectedSlope(x float64, cal *Calibration) float64 {
	_, amp := span(cal)
	d := 1 + x*x
	return 2 * amp * (1 - x*x) / (d * d)
}
