package lockbox

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestRegisteredModels(t *testing.T) {
	want := []string{"FabryPerot", "Interferometer", "Linear", "Lockbox"}
	if got := Models(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Models() = %v, want %v", got, want)
	}
	if _, err := LookupModel("Laser"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResponses(t *testing.T) {
	cal := &Calibration{Min: 0, Max: 2}
	const eps = 1e-12

	tests := []struct {
		name      string
		r         Response
		x         float64
		cal       *Calibration
		wantValue float64
		wantSlope float64
	}{
		{"follow", followResponse{}, 0.3, nil, 0.3, 1},
		{"linear uncalibrated", linearResponse{}, 0.5, nil, 0.5, 1},
		{"linear", linearResponse{}, -1, cal, 0, 1},
		{"fringe", fringeResponse{}, 0, cal, 1, 1},
		{"fringe shifted", fringeResponse{phase: math.Pi}, 0, cal, 1, -1},
		{"transmission peak", lorentzResponse{}, 0, cal, 2, 0},
		{"reflection dip", lorentzResponse{reflection: true}, 0, cal, 0, 0},
		{"transmission side", lorentzResponse{}, 1, cal, 1, -1},
		{"pdh zero", pdhResponse{}, 0, cal, 1, 2},
		{"pdh extremum", pdhResponse{}, 1, cal, 2, 0},
	}
	for _, tt := range tests {
		if got := tt.r.ExpectedSignal(tt.x, tt.cal); math.Abs(got-tt.wantValue) > eps {
			t.Errorf("%s: signal = %v, want %v", tt.name, got, tt.wantValue)
		}
		if got := tt.r.ExpectedSlope(tt.x, tt.cal); math.Abs(got-tt.wantSlope) > eps {
			t.Errorf("%s: slope = %v, want %v", tt.name, got, tt.wantSlope)
		}
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic")
		}
	}()
	Register(Model{Name: DefaultModel})
}
