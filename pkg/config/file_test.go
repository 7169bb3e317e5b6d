package config

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestSectionOutputs(t *testing.T) {
	s := NewMemory().Section("lockbox")

	s.SetOutput("output1", OutputConfig{P: 1})
	s.SetOutput("output2", OutputConfig{P: 2})
	s.SetOutput("output3", OutputConfig{P: 3})

	if got, want := s.OutputNames(), []string{"output1", "output2", "output3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("OutputNames() = %v, want %v", got, want)
	}

	s.RenameOutput("output2", "piezo")
	if got, want := s.OutputNames(), []string{"output1", "piezo", "output3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("after rename OutputNames() = %v, want %v", got, want)
	}
	oc, ok := s.Output("piezo")
	if !ok || oc.P != 2 || oc.Name != "piezo" {
		t.Fatalf("renamed section lost its content: %+v %v", oc, ok)
	}

	s.DeleteOutput("output1")
	if got, want := s.OutputNames(), []string{"piezo", "output3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("after delete OutputNames() = %v, want %v", got, want)
	}
	if _, ok := s.Output("output1"); ok {
		t.Fatalf("deleted section still present")
	}
}

func TestSectionRenameOntoStaleSection(t *testing.T) {
	s := NewMemory().Section("lockbox")
	s.SetOutput("a", OutputConfig{P: 1})
	s.SetOutput("b", OutputConfig{P: 2})

	s.RenameOutput("a", "b")

	if got, want := s.OutputNames(), []string{"b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("OutputNames() = %v, want %v", got, want)
	}
	if oc, _ := s.Output("b"); oc.P != 1 {
		t.Fatalf("expected renamed section to win, got P=%v", oc.P)
	}
}

func TestSectionStagesAreCopied(t *testing.T) {
	s := NewMemory().Section("lockbox")
	stages := []StageConfig{{
		Name:     "coarse",
		Duration: 1,
		Outputs:  map[string]OutputSetting{"output1": {LockOn: "on", GainFactor: 1}},
	}}
	s.SetStages(stages)
	stages[0].Outputs["output1"] = OutputSetting{LockOn: "off"}

	got := s.Stages()
	if got[0].Outputs["output1"].LockOn != "on" {
		t.Fatalf("store shares the caller's map")
	}
	got[0].Outputs["output1"] = OutputSetting{LockOn: "ignore"}
	if s.Stages()[0].Outputs["output1"].LockOn != "on" {
		t.Fatalf("store exposes its internal map")
	}
}

func TestFileRoundTrip(t *testing.T) {
	for _, name := range []string{"state.json", "state.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			f, err := NewFile(path)
			if err != nil {
				t.Fatalf("NewFile failed: %v", err)
			}
			s := f.Section("cavity")
			s.SetClassname("FabryPerot")
			s.SetDefaultSweepOutput("piezo")
			s.SetAutoRelock(true)
			s.SetOutput("piezo", OutputConfig{Channel: "out1", P: 0.5, I: 100})
			s.SetInput("reflection", InputConfig{Calibration: &Calibration{Min: 0.1, Max: 1, At: time.Unix(100, 0).UTC()}})
			s.SetStages([]StageConfig{{Name: "stage1", Duration: 0.5, Outputs: map[string]OutputSetting{"piezo": {LockOn: "on"}}}})
			if err := s.Save(); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			g, err := NewFile(path)
			if err != nil {
				t.Fatalf("reload failed: %v", err)
			}
			r := g.Section("cavity")
			if r.Classname() != "FabryPerot" || r.DefaultSweepOutput() != "piezo" || !r.AutoRelock() {
				t.Fatalf("scalar attributes lost: %v %v %v", r.Classname(), r.DefaultSweepOutput(), r.AutoRelock())
			}
			if oc, ok := r.Output("piezo"); !ok || oc.I != 100 || oc.Channel != "out1" {
				t.Fatalf("output lost: %+v", oc)
			}
			if ic, ok := r.Input("reflection"); !ok || ic.Calibration == nil || ic.Calibration.Max != 1 {
				t.Fatalf("input lost: %+v", ic)
			}
			if st := r.Stages(); len(st) != 1 || st[0].Duration != 0.5 || st[0].Outputs["piezo"].LockOn != "on" {
				t.Fatalf("sequence lost: %+v", st)
			}
		})
	}
}

func TestFileMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()

	f, err := NewFile(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("missing file should load as empty config, got %v", err)
	}
	if f.Section("lockbox").Classname() != "" {
		t.Fatalf("expected empty section")
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte("  \n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(empty); err != nil {
		t.Fatalf("empty file should load as empty config, got %v", err)
	}

	broken := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(broken, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(broken); err == nil {
		t.Fatalf("expected error for malformed file")
	}
}

func TestFileConcurrentSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	a, b := f.Section("laser"), f.Section("cavity")

	for i := 0; i < 100; i++ {
		var wg sync.WaitGroup
		errs := make(chan error, 2)
		for _, s := range []Store{a, b} {
			wg.Add(1)
			go func(s Store) {
				defer wg.Done()
				s.SetAutoRelock(i%2 == 0)
				errs <- s.Save()
			}(s)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("round %d: Save failed: %v", i, err)
			}
		}
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}
	g, err := NewFile(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	names := g.Names()
	sort.Strings(names)
	if want := []string{"cavity", "laser"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
}

func TestSectionLogrusFields(t *testing.T) {
	s := NewMemory().Section("laser")
	s.SetClassname("PDH")
	s.SetOutput("piezo", OutputConfig{})
	s.SetStages([]StageConfig{{Name: "stage1"}})

	fields := s.LogrusFields()
	if fields["lockbox"] != "laser" || fields["classname"] != "PDH" || fields["stages"] != 1 {
		t.Fatalf("unexpected fields %v", fields)
	}
	if got := fields["outputs"]; !reflect.DeepEqual(got, []string{"piezo"}) {
		t.Fatalf("unexpected outputs field %v", got)
	}
}
