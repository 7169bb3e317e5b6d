package lockbox

import (
	"sync"
	"testing"
	"time"

	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/fpga"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fire runs the callback even if the timer was stopped, like a runtime timer
// that already expired when Stop was called.
func (t *fakeTimer) fire() {
	t.fired = true
	t.f()
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	t := &fakeTimer{d: d, f: f}
	ft.timers = append(ft.timers, t)
	return t
}

func (ft *fakeTimers) pending() []*fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	var ret []*fakeTimer
	for _, t := range ft.timers {
		if !t.stopped && !t.fired {
			ret = append(ret, t)
		}
	}
	return ret
}

type fakeNotifier struct {
	mu    sync.Mutex
	names []string
}

func (n *fakeNotifier) Publish(name string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.names = append(n.names, name)
}

func (n *fakeNotifier) count(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := 0
	for _, v := range n.names {
		if v == name {
			c++
		}
	}
	return c
}

type testEnv struct {
	dev      *fpga.Mock
	pool     *fpga.PIDPool
	file     *config.File
	timers   *fakeTimers
	notifier *fakeNotifier
	inst     *Instrument
}

func newTestEnv(t *testing.T, pids int, file *config.File) *testEnv {
	t.Helper()

	dev := fpga.NewMock(pids, nil)
	if err := dev.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if file == nil {
		file = config.NewMemory()
	}
	env := &testEnv{
		dev:      dev,
		pool:     fpga.NewPIDPool(dev),
		file:     file,
		timers:   &fakeTimers{},
		notifier: &fakeNotifier{},
	}
	env.inst = NewInstrument(InstrumentOptions{
		Pool:               env.pool,
		Acquirer:           dev,
		Store:              file,
		Notifier:           env.notifier,
		Timers:             env.timers,
		CalibrationSamples: 16,
	})
	return env
}

func (env *testEnv) lockbox(t *testing.T, name string) *Lockbox {
	t.Helper()

	lb, err := env.inst.AddLockbox(name)
	if err != nil {
		t.Fatalf("AddLockbox failed: %v", err)
	}
	return lb
}

// addStages appends stages with the given durations, named after names.
func addStages(t *testing.T, lb *Lockbox, names []string, durations []float64) {
	t.Helper()

	for i, name := range names {
		st, err := lb.AddStage()
		if err != nil {
			t.Fatalf("AddStage failed: %v", err)
		}
		if err := lb.RenameStage(st.Name(), name); err != nil {
			t.Fatalf("RenameStage failed: %v", err)
		}
		if err := lb.ConfigureStage(name, durations[i], nil); err != nil {
			t.Fatalf("ConfigureStage failed: %v", err)
		}
	}
}
