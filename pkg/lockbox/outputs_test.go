package lockbox

import (
	"errors"
	"reflect"
	"testing"

	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/events"
	"github.com/charlie0129/lockbox/pkg/fpga"
)

func TestAddOutputUniqueNames(t *testing.T) {
	env := newTestEnv(t, 3, nil)
	lb := env.lockbox(t, "laser")
	addStages(t, lb, []string{"A"}, []float64{0})

	for _, want := range []string{"output2", "output3"} {
		o, err := lb.AddOutput()
		if err != nil {
			t.Fatalf("AddOutput failed: %v", err)
		}
		if o.Name() != want {
			t.Fatalf("expected %s, got %s", want, o.Name())
		}
	}

	if _, err := lb.AddOutput(); !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}

	custom := OutputSetting{LockOn: LockIgnore, GainFactor: 3}
	if err := lb.ConfigureStage("A", 0, map[string]OutputSetting{"output2": custom}); err != nil {
		t.Fatalf("ConfigureStage failed: %v", err)
	}

	if err := lb.RemoveOutput("output2", false); err != nil {
		t.Fatalf("RemoveOutput failed: %v", err)
	}
	if env.pool.Available() != 1 {
		t.Fatalf("removed output did not release its pid")
	}
	if got := stageSlots(t, lb, "A"); !reflect.DeepEqual(got, map[string]OutputSetting{
		"output1": DefaultOutputSetting(),
		"output3": DefaultOutputSetting(),
	}) {
		t.Fatalf("unexpected slots after remove: %+v", got)
	}

	o, err := lb.AddOutput()
	if err != nil {
		t.Fatalf("AddOutput failed: %v", err)
	}
	if o.Name() != "output2" {
		t.Fatalf("expected the freed name output2, got %s", o.Name())
	}

	// The slot of the removed output2 must not come back.
	if got := stageSlots(t, lb, "A"); !reflect.DeepEqual(got, map[string]OutputSetting{
		"output1": DefaultOutputSetting(),
		"output2": DefaultOutputSetting(),
		"output3": DefaultOutputSetting(),
	}) {
		t.Fatalf("unexpected slots after re-add: %+v", got)
	}
	if n := env.notifier.count(events.OutputCreated); n != 4 {
		t.Fatalf("expected 4 output created events, got %d", n)
	}
}

// stageSlots returns the output slots of stage as they are stored.
func stageSlots(t *testing.T, lb *Lockbox, stage string) map[string]OutputSetting {
	t.Helper()

	st, err := lb.Stage(stage)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	return st.Config().Outputs
}

func TestUpdateOutputs(t *testing.T) {
	env := newTestEnv(t, 3, nil)
	lb := env.lockbox(t, "laser")
	if _, err := lb.AddOutput(); err != nil {
		t.Fatalf("AddOutput failed: %v", err)
	}
	addStages(t, lb, []string{"A", "B"}, []float64{0, 0})

	kept := OutputSetting{LockOn: LockOn, Setpoint: 0.2, GainFactor: 2}
	if err := lb.ConfigureStage("A", 0, map[string]OutputSetting{"output1": kept}); err != nil {
		t.Fatalf("ConfigureStage failed: %v", err)
	}

	// Knock the slots out of sync: drop one, add one for an unknown output.
	lb.mu.Lock()
	for _, st := range lb.sequence.stages {
		delete(st.outputs, "output2")
		st.outputs["ghost"] = OutputSetting{LockOn: LockOn}
	}
	lb.mu.Unlock()

	if err := lb.UpdateOutputs(); err != nil {
		t.Fatalf("UpdateOutputs failed: %v", err)
	}

	want := map[string]map[string]OutputSetting{
		"A": {"output1": kept, "output2": DefaultOutputSetting()},
		"B": {"output1": DefaultOutputSetting(), "output2": DefaultOutputSetting()},
	}
	for stage, slots := range want {
		if got := stageSlots(t, lb, stage); !reflect.DeepEqual(got, slots) {
			t.Errorf("stage %s: slots = %+v, want %+v", stage, got, slots)
		}
	}
	for _, sc := range env.file.Section("laser").Stages() {
		if !reflect.DeepEqual(sc.Outputs, want[sc.Name]) {
			t.Errorf("stage %s: persisted slots = %+v, want %+v", sc.Name, sc.Outputs, want[sc.Name])
		}
	}

	lb.Close()
	if err := lb.UpdateOutputs(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRemoveOutputKeepsOne(t *testing.T) {
	env := newTestEnv(t, 3, nil)
	lb := env.lockbox(t, "laser")

	if err := lb.RemoveOutput("output1", false); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	if len(lb.Outputs()) != 1 {
		t.Fatalf("output was removed anyway")
	}
	if err := lb.RemoveOutput("nope", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := lb.RemoveOutput("output1", true); err != nil {
		t.Fatalf("RemoveOutput with allowRemoveLast failed: %v", err)
	}
	if len(lb.Outputs()) != 0 {
		t.Fatalf("expected no outputs")
	}
	if env.pool.Available() != 3 {
		t.Fatalf("expected every pid back in the pool, got %d", env.pool.Available())
	}
	if _, ok := env.file.Section("laser").Output("output1"); ok {
		t.Fatalf("persisted section of the removed output is still there")
	}
}

func TestRemoveAllOutputs(t *testing.T) {
	env := newTestEnv(t, 3, nil)
	lb := env.lockbox(t, "laser")
	if _, err := lb.AddOutput(); err != nil {
		t.Fatalf("AddOutput failed: %v", err)
	}
	addStages(t, lb, []string{"A"}, []float64{0})

	if err := lb.RemoveAllOutputs(); err != nil {
		t.Fatalf("RemoveAllOutputs failed: %v", err)
	}
	if len(lb.OutputNames()) != 0 || env.pool.Available() != 3 {
		t.Fatalf("outputs or pids left behind")
	}
	st, _ := lb.Stage("A")
	if len(st.Config().Outputs) != 0 {
		t.Fatalf("stage slots left behind: %v", st.Config().Outputs)
	}
}

func TestRenameOutput(t *testing.T) {
	env := newTestEnv(t, 3, nil)
	lb := env.lockbox(t, "laser")
	if _, err := lb.AddOutput(); err != nil {
		t.Fatalf("AddOutput failed: %v", err)
	}
	addStages(t, lb, []string{"A"}, []float64{0})
	err := lb.ConfigureStage("A", 0, map[string]OutputSetting{
		"output1": {LockOn: LockIgnore, GainFactor: 3},
	})
	if err != nil {
		t.Fatalf("ConfigureStage failed: %v", err)
	}

	if err := lb.RenameOutput("output1", "output2"); !errors.Is(err, ErrNameConflict) {
		t.Fatalf("expected ErrNameConflict, got %v", err)
	}
	if got := lb.OutputNames(); !reflect.DeepEqual(got, []string{"output1", "output2"}) {
		t.Fatalf("failed rename changed names: %v", got)
	}

	if err := lb.RenameOutput("output1", "piezo"); err != nil {
		t.Fatalf("RenameOutput failed: %v", err)
	}
	if got := lb.OutputNames(); !reflect.DeepEqual(got, []string{"piezo", "output2"}) {
		t.Fatalf("unexpected names %v", got)
	}
	if lb.DefaultSweepOutput() != "piezo" {
		t.Fatalf("default sweep output did not follow the rename")
	}
	if env.pool.Owners()["pid0"] != "laser.piezo" {
		t.Fatalf("pid owner not renamed: %v", env.pool.Owners())
	}
	st, _ := lb.Stage("A")
	if got := st.Setting("piezo"); got.LockOn != LockIgnore || got.GainFactor != 3 {
		t.Fatalf("stage slot not carried over: %+v", got)
	}
	if got := env.file.Section("laser").OutputNames(); !reflect.DeepEqual(got, []string{"piezo", "output2"}) {
		t.Fatalf("persisted sections not renamed: %v", got)
	}

	// Renaming to its own name is fine.
	if err := lb.RenameOutput("piezo", "piezo"); err != nil {
		t.Fatalf("self rename failed: %v", err)
	}
}

func TestConfigureOutput(t *testing.T) {
	env := newTestEnv(t, 3, nil)
	lb := env.lockbox(t, "laser")

	if err := lb.Sweep(); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	c := defaultOutputConfig("output1")
	c.SweepAmplitude = 0.5
	writes := env.dev.Writes()
	if err := lb.ConfigureOutput("output1", c); err != nil {
		t.Fatalf("ConfigureOutput failed: %v", err)
	}
	if env.dev.Writes() == writes {
		t.Fatalf("ConfigureOutput did not write the pid")
	}
	o, _ := lb.Output("output1")
	pc, err := o.pid.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if pc.Mode != fpga.ModeSweep || pc.SweepAmplitude != 0.5 {
		t.Fatalf("sweep not reapplied: %+v", pc)
	}

	tests := []struct {
		name     string
		min, max float64
	}{
		{"inverted", 1, -1},
		{"zero range", 0, 0},
		{"equal", 0.5, 0.5},
	}
	for _, tt := range tests {
		bad := c
		bad.MinVoltage, bad.MaxVoltage = tt.min, tt.max
		writes := env.dev.Writes()
		if err := lb.ConfigureOutput("output1", bad); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", tt.name, err)
		}
		if env.dev.Writes() != writes {
			t.Errorf("%s: rejected config was written to the pid", tt.name)
		}
	}
	if got := o.Config(); got.MinVoltage != -1 || got.MaxVoltage != 1 {
		t.Fatalf("rejected config was kept: %+v", got)
	}
	if err := lb.ConfigureOutput("output5", c); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestModelSwitch(t *testing.T) {
	env := newTestEnv(t, 3, nil)
	lb := env.lockbox(t, "cavity")
	if _, err := lb.AddOutput(); err != nil {
		t.Fatalf("AddOutput failed: %v", err)
	}
	addStages(t, lb, []string{"A", "B"}, []float64{1, 1})
	if err := lb.Lock(); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	timer := env.timers.pending()[0]

	if _, err := lb.SetClassname("NoSuchModel"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if lb.State() != "A" {
		t.Fatalf("unknown classname tore the lockbox down")
	}

	same, err := lb.SetClassname(DefaultModel)
	if err != nil || same != lb {
		t.Fatalf("switching to the same model should be a no-op, got %v", err)
	}

	next, err := lb.SetClassname("FabryPerot")
	if err != nil {
		t.Fatalf("SetClassname failed: %v", err)
	}
	if next == lb {
		t.Fatalf("expected a new instance")
	}
	if err := lb.Lock(); !errors.Is(err, ErrClosed) {
		t.Fatalf("old instance: expected ErrClosed, got %v", err)
	}
	timer.fire()

	if next.Classname() != "FabryPerot" || len(next.Inputs()) != 3 {
		t.Fatalf("unexpected new instance %s with %d inputs", next.Classname(), len(next.Inputs()))
	}
	if next.State() != StateUnlock {
		t.Fatalf("new instance starts in %s", next.State())
	}
	if got := next.OutputNames(); !reflect.DeepEqual(got, []string{"output1", "output2"}) {
		t.Fatalf("outputs not reloaded: %v", got)
	}
	if got := next.StageNames(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Fatalf("stages not reloaded: %v", got)
	}
	if env.pool.Available() != 1 {
		t.Fatalf("expected the old pids to be released and reacquired, %d free", env.pool.Available())
	}

	cur, err := env.inst.Lockbox("cavity")
	if err != nil || cur != next {
		t.Fatalf("instrument does not hold the new instance")
	}
	if env.file.Section("cavity").Classname() != "FabryPerot" {
		t.Fatalf("classname not persisted")
	}
	if env.notifier.count(events.ModelChanged) != 1 {
		t.Fatalf("expected one model changed event")
	}
}

func TestReloadFromStore(t *testing.T) {
	file := config.NewMemory()
	env := newTestEnv(t, 3, file)
	lb := env.lockbox(t, "laser")

	if _, err := lb.AddOutput(); err != nil {
		t.Fatalf("AddOutput failed: %v", err)
	}
	if err := lb.RenameOutput("output2", "piezo"); err != nil {
		t.Fatalf("RenameOutput failed: %v", err)
	}
	if err := lb.SetDefaultSweepOutput("piezo"); err != nil {
		t.Fatalf("SetDefaultSweepOutput failed: %v", err)
	}
	addStages(t, lb, []string{"coarse", "fine"}, []float64{0.5, 2})
	err := lb.ConfigureStage("fine", 2, map[string]OutputSetting{
		"piezo": {LockOn: LockOn, Setpoint: 0.1, GainFactor: 0.5},
	})
	if err != nil {
		t.Fatalf("ConfigureStage failed: %v", err)
	}
	if err := lb.SetAutoRelock(true); err != nil {
		t.Fatalf("SetAutoRelock failed: %v", err)
	}
	env.inst.Close()

	env2 := newTestEnv(t, 3, file)
	lb2 := env2.lockbox(t, "laser")

	if got := lb2.OutputNames(); !reflect.DeepEqual(got, []string{"output1", "piezo"}) {
		t.Fatalf("unexpected outputs %v", got)
	}
	if lb2.DefaultSweepOutput() != "piezo" || !lb2.AutoRelock() {
		t.Fatalf("scalar attributes not reloaded")
	}
	if got := lb2.StageNames(); !reflect.DeepEqual(got, []string{"coarse", "fine"}) {
		t.Fatalf("unexpected stages %v", got)
	}
	st, _ := lb2.Stage("fine")
	if st.Duration().Seconds() != 2 || st.Setting("piezo").Setpoint != 0.1 {
		t.Fatalf("stage not reloaded: %+v", st.Config())
	}
}

func TestReloadSkipsDuplicateOutputs(t *testing.T) {
	file := config.NewFileFromConfig(&config.RawFileConfig{
		Lockboxes: map[string]*config.RawLockboxConfig{
			"laser": {
				Outputs: []config.OutputConfig{
					{Name: "piezo", P: 0.3},
					{Name: "piezo", P: 0.9},
					{Name: ""},
				},
			},
		},
	}, "")
	env := newTestEnv(t, 3, file)
	lb := env.lockbox(t, "laser")

	if got := lb.OutputNames(); !reflect.DeepEqual(got, []string{"piezo"}) {
		t.Fatalf("unexpected outputs after reload: %v", got)
	}
	if env.pool.Available() != 2 {
		t.Fatalf("expected one pid in use, %d of 3 free", env.pool.Available())
	}
	o, err := lb.Output("piezo")
	if err != nil {
		t.Fatalf("Output failed: %v", err)
	}
	if o.Config().P != 0.3 {
		t.Fatalf("expected the first persisted piezo, got P=%v", o.Config().P)
	}
}

func TestUnknownPersistedClassnameFallsBack(t *testing.T) {
	env := newTestEnv(t, 3, nil)
	env.file.Section("laser").SetClassname("Gone")

	lb := env.lockbox(t, "laser")
	if lb.Classname() != DefaultModel {
		t.Fatalf("expected fallback to %s, got %s", DefaultModel, lb.Classname())
	}
}
