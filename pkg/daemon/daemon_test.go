package daemon

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/config"
)

func TestUnconfiguredSections(t *testing.T) {
	f := config.NewMemory()
	for _, name := range []string{"laser", "old", "cavity", "spare"} {
		f.Section(name).SetClassname("Generic")
	}

	got := unconfiguredSections(f, []string{"laser", "cavity"})
	if want := []string{"old", "spare"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("unconfiguredSections() = %v, want %v", got, want)
	}
	if got := unconfiguredSections(config.NewMemory(), []string{"laser"}); len(got) != 0 {
		t.Fatalf("expected nothing for an empty file, got %v", got)
	}
}

func TestSetupInstrument(t *testing.T) {
	logrus.SetLevel(logrus.WarnLevel)

	path := filepath.Join(t.TempDir(), "state.yaml")
	f, err := config.NewFile(path)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	f.Section("laser").SetOutput("piezo", config.OutputConfig{P: 0.4})
	f.Section("old").SetClassname("Generic")
	if err := f.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s := config.DefaultSettings()
	s.State = path
	s.Lockboxes = []string{"laser", "cavity"}
	if err := setupInstrument(s); err != nil {
		t.Fatalf("setupInstrument failed: %v", err)
	}
	t.Cleanup(func() {
		inst.Close()
		sseHub.Close()
		_ = device.Close()
	})

	lb, err := inst.Lockbox("laser")
	if err != nil {
		t.Fatalf("Lockbox failed: %v", err)
	}
	if got := lb.OutputNames(); !reflect.DeepEqual(got, []string{"piezo"}) {
		t.Fatalf("persisted outputs not loaded: %v", got)
	}
	if _, err := inst.Lockbox("cavity"); err != nil {
		t.Fatalf("configured lockbox missing: %v", err)
	}
	if _, err := inst.Lockbox("old"); err == nil {
		t.Fatalf("unconfigured section must not become a lockbox")
	}
	if pool.Available() != s.Device.PIDs-2 {
		t.Fatalf("expected two pids in use, %d of %d free", pool.Available(), s.Device.PIDs)
	}
}
